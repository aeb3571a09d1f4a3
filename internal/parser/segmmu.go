package parser

import (
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// SegMMUConfig is the normalized form of wire.SegMMUConfigRecord.
type SegMMUConfig struct {
	NumCores int
	Shared   bool
}

// ParseSegMMUSection reads a count followed by that many per-core
// segment-MMU configs.
func ParseSegMMUSection(data []byte) ([]SegMMUConfig, error) {
	r := &reader{data: data}

	countBuf, err := r.take(4)
	if err != nil {
		return nil, errs.New("ParseSegMMUSection", errs.CodeInvalidBin, "truncated segmmu count")
	}
	count := le32(countBuf)

	configs := make([]SegMMUConfig, 0, count)
	for i := uint32(0); i < count; i++ {
		buf, err := r.take(wire.SegMMUConfigRecordSize)
		if err != nil {
			return nil, errs.New("ParseSegMMUSection", errs.CodeInvalidBin, "truncated segmmu record")
		}
		var raw wire.SegMMUConfigRecord
		if err := wire.UnmarshalSegMMUConfigRecord(buf, &raw); err != nil {
			return nil, errs.New("ParseSegMMUSection", errs.CodeInvalidBin, err.Error())
		}
		configs = append(configs, SegMMUConfig{
			NumCores: int(raw.NumCores),
			Shared:   raw.Shared != 0,
		})
	}
	return configs, nil
}
