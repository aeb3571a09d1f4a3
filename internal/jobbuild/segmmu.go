package jobbuild

import (
	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// SegMMUTable is the in-host mirror of the device's per-core segment-MMU
// control registers, addressed as [core][seg_idx][ctrl_idx].
type SegMMUTable struct {
	Cores [][constants.SegMMUMaxSeg][constants.SegMMUMaxCtrl]uint32
}

// Control returns the programmed control word for one core/seg/ctrl slot.
func (t *SegMMUTable) Control(core, seg, ctrl int) uint32 {
	if core < 0 || core >= len(t.Cores) {
		return 0
	}
	return t.Cores[core][seg][ctrl]
}

// setupSegMMU materializes the per-core control table and, for every
// tagged reuse buffer, patches its physical address into the selected
// cores' seg[seg_idx].control[ctrl_idx] slot.
func (j *Job) setupSegMMU(coreCount int) error {
	if len(j.graph.SegMMU) == 0 {
		return nil
	}

	j.segMMU = SegMMUTable{Cores: make([][constants.SegMMUMaxSeg][constants.SegMMUMaxCtrl]uint32, coreCount)}

	keys := globalReuseSections(j.graph)
	for globalIdx, rawID := range j.cfg.SegMMUTags {
		if globalIdx < 0 || globalIdx >= len(keys) {
			return errs.New("jobbuild.setupSegMMU", errs.CodeInvalidBin, "segmmu tag references unknown section")
		}
		key := keys[globalIdx]
		buf := j.ReuseBuffer(key.BSSIdx, key.SectionID)
		if buf == nil {
			return errs.New("jobbuild.setupSegMMU", errs.CodeInvalidBin, "segmmu tag references unallocated section")
		}

		tag := wire.DecodeSegMMUTag(rawID)
		if tag.SegIdx < 0 || tag.SegIdx >= constants.SegMMUMaxSeg {
			return errs.New("jobbuild.setupSegMMU", errs.CodeInvalidBin, "seg_idx out of range")
		}
		if tag.CtrlIdx < 0 || tag.CtrlIdx >= constants.SegMMUMaxCtrl {
			return errs.New("jobbuild.setupSegMMU", errs.CodeInvalidBin, "ctrl_idx out of range")
		}
		if tag.CoreMask == 0 {
			return errs.New("jobbuild.setupSegMMU", errs.CodeInvalidBin, "core_mask must be non-zero")
		}

		pa := wire.Lo(buf.Base)
		for core := 0; core < coreCount; core++ {
			if tag.CoreMask&(1<<uint(core)) == 0 {
				continue
			}
			slot := &j.segMMU.Cores[core][tag.SegIdx][tag.CtrlIdx]
			*slot = wire.PatchSegMMUControl(*slot, pa)
		}
	}

	return nil
}
