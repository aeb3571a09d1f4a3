package parser

import (
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// Subgraph is the normalized form of wire.SubgraphDesc plus its trailing
// precursor list and private-buffer tables.
type Subgraph struct {
	BSSIdx            int
	TextOffset        uint32
	TextSize          uint32
	RodataOffset      uint32
	RodataSize        uint32
	DCROffset         uint32
	DCRSize           uint32
	PrintfifoSize     uint32
	ProfilerBufSize   uint32
	PrivateDataSize   uint32
	WarmupLen         uint32
	PrecursorCnt      int32
	Precursors        []int
	PrivateBuffers    []uint32
	PrivateBuffersMap []uint32
}

// ParseSubgraphTable reads a count followed by that many SubgraphDesc
// records, each followed by its precursor id list (when PrecursorCnt is
// 1..4) and private-buffer size/offset tables.
func ParseSubgraphTable(data []byte) ([]Subgraph, error) {
	r := &reader{data: data}

	countBuf, err := r.take(4)
	if err != nil {
		return nil, errs.New("ParseSubgraphTable", errs.CodeInvalidBin, "truncated subgraph count")
	}
	count := le32(countBuf)

	subgraphs := make([]Subgraph, 0, count)
	for i := uint32(0); i < count; i++ {
		buf, err := r.take(wire.SubgraphDescSize)
		if err != nil {
			return nil, errs.New("ParseSubgraphTable", errs.CodeInvalidBin, "truncated subgraph descriptor")
		}
		var raw wire.SubgraphDesc
		if err := wire.UnmarshalSubgraphDesc(buf, &raw); err != nil {
			return nil, errs.New("ParseSubgraphTable", errs.CodeInvalidBin, err.Error())
		}

		sg := Subgraph{
			BSSIdx:          int(raw.BSSIdx),
			TextOffset:      raw.TextOffset,
			TextSize:        raw.TextSize,
			RodataOffset:    raw.RodataOffset,
			RodataSize:      raw.RodataSize,
			DCROffset:       raw.DCROffset,
			DCRSize:         raw.DCRSize,
			PrintfifoSize:   raw.PrintfifoSize,
			ProfilerBufSize: raw.ProfilerBufSize,
			PrivateDataSize: raw.PrivateDataSize,
			WarmupLen:       raw.WarmupLen,
			PrecursorCnt:    raw.PrecursorCnt,
		}

		switch {
		case raw.PrecursorCnt >= 1 && raw.PrecursorCnt <= 4:
			for j := int32(0); j < raw.PrecursorCnt; j++ {
				pbuf, err := r.take(4)
				if err != nil {
					return nil, errs.New("ParseSubgraphTable", errs.CodeInvalidBin, "truncated precursor list")
				}
				sg.Precursors = append(sg.Precursors, int(le32(pbuf)))
			}
		case raw.PrecursorCnt == 0, raw.PrecursorCnt == -1:
			// NONE or PRE_ALL carry no explicit precursor list.
		default:
			return nil, errs.New("ParseSubgraphTable", errs.CodeInvalidBin, "invalid precursor_cnt")
		}

		for j := uint32(0); j < raw.PrivateBufCnt; j++ {
			sbuf, err := r.take(4)
			if err != nil {
				return nil, errs.New("ParseSubgraphTable", errs.CodeInvalidBin, "truncated private buffer sizes")
			}
			sg.PrivateBuffers = append(sg.PrivateBuffers, le32(sbuf))
		}
		for j := uint32(0); j < raw.PrivateBufCnt; j++ {
			mbuf, err := r.take(4)
			if err != nil {
				return nil, errs.New("ParseSubgraphTable", errs.CodeInvalidBin, "truncated private buffer map")
			}
			sg.PrivateBuffersMap = append(sg.PrivateBuffersMap, le32(mbuf))
		}

		subgraphs = append(subgraphs, sg)
	}

	return subgraphs, nil
}
