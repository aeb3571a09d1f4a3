package parser

import (
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// GMConfig is the normalized form of wire.GMConfigRecord.
type GMConfig struct {
	Enabled    bool
	SizeBytes  uint64
	NeedsRemap bool
	NeedsSync  bool
}

// ParseGMConfigSection reads a count followed by that many GM configs, one
// per subgraph group.
func ParseGMConfigSection(data []byte) ([]GMConfig, error) {
	r := &reader{data: data}

	countBuf, err := r.take(4)
	if err != nil {
		return nil, errs.New("ParseGMConfigSection", errs.CodeInvalidBin, "truncated gmconfig count")
	}
	count := le32(countBuf)

	configs := make([]GMConfig, 0, count)
	for i := uint32(0); i < count; i++ {
		buf, err := r.take(wire.GMConfigRecordSize)
		if err != nil {
			return nil, errs.New("ParseGMConfigSection", errs.CodeInvalidBin, "truncated gmconfig record")
		}
		var raw wire.GMConfigRecord
		if err := wire.UnmarshalGMConfigRecord(buf, &raw); err != nil {
			return nil, errs.New("ParseGMConfigSection", errs.CodeInvalidBin, err.Error())
		}
		configs = append(configs, GMConfig{
			Enabled:    raw.Flags&wire.GMFlagEnabled != 0,
			SizeBytes:  raw.SizeBytes(),
			NeedsRemap: raw.Flags&wire.GMFlagNeedsRemap != 0,
			NeedsSync:  raw.Flags&wire.GMFlagNeedsSync != 0,
		})
	}
	return configs, nil
}
