package parser

import (
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// ParseRemapSection reads a count followed by that many remap entries.
func ParseRemapSection(data []byte) ([]RemapEntry, error) {
	r := &reader{data: data}

	countBuf, err := r.take(4)
	if err != nil {
		return nil, errs.New("ParseRemapSection", errs.CodeInvalidBin, "truncated remap count")
	}
	count := le32(countBuf)

	entries := make([]RemapEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		buf, err := r.take(wire.RemapEntrySize)
		if err != nil {
			return nil, errs.New("ParseRemapSection", errs.CodeInvalidBin, "truncated remap entry")
		}
		var raw wire.RemapEntry
		if err := wire.UnmarshalRemapEntry(buf, &raw); err != nil {
			return nil, errs.New("ParseRemapSection", errs.CodeInvalidBin, err.Error())
		}
		entries = append(entries, RemapEntry(raw))
	}
	return entries, nil
}
