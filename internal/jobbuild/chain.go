package jobbuild

import (
	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/wire"
)

// chainLen returns 1 + S*(T+1): one GRID_INIT plus, per subgraph, one
// GROUP_INIT and TasksPerSubgraph TASKs.
func chainLen(subgraphCount int) int {
	return 1 + subgraphCount*(TasksPerSubgraph+1)
}

// buildChain assembles the job's full TCB chain as a sum-type slice, in
// the fixed layout:
//
//	[ GRID_INIT ]
//	[ GROUP_INIT_0 ][ TASK_0_0..3 ]
//	[ GROUP_INIT_1 ][ TASK_1_0..3 ]
//	...
func (j *Job) buildChain() ([]wire.TCB, error) {
	s := len(j.graph.Subgraphs)
	chain := make([]wire.TCB, 0, chainLen(s))

	chain = append(chain, j.buildGridInit(s))

	for i, sg := range j.graph.Subgraphs {
		groupInit, depType, err := j.buildGroupInit(sg, i)
		if err != nil {
			return nil, err
		}
		chain = append(chain, groupInit)

		for t := 0; t < TasksPerSubgraph; t++ {
			chain = append(chain, j.buildTask(sg, i, t, i == s-1, depType))
		}
	}

	return chain, nil
}

func (j *Job) buildGridInit(subgraphCount int) wire.TCB {
	flag := uint32(wire.TaskTypeGridInit) | wire.FlagL2DFlush
	f := &wire.GridInitFields{
		GroupNum:        uint32(subgraphCount),
		GridInterruptEn: wire.GridInterruptDone | wire.GridInterruptGMFault,
		GridGridID:      j.gridID,
		GridGroupID:     uint16(j.startGroupID),
	}

	if gm := j.gmConfig(); gm != nil && gm.Enabled && gm.NeedsRemap {
		f.GMCtrl = (((uint32(gm.SizeBytes>>18) - 1) & 0xFF) << 8) | wire.GMCtrlRemapEn
		f.GMAddrLow = wire.Lo(j.gmBase())
		f.GMAddrHigh = wire.Hi(j.gmBase())
		if gm.NeedsSync {
			f.GMSync = wire.GMSyncDDRToGM
		}
	}

	return wire.TCB{Flag: flag, GridInit: f}
}

// gmConfig returns the GM configuration associated with this job's grid, if
// the graph carries one.
func (j *Job) gmConfig() *graph.GMConfig {
	if len(j.graph.GMConfigs) == 0 {
		return nil
	}
	return &j.graph.GMConfigs[0]
}

// gmBase returns the graph's shared GM scratch region's physical base, or
// 0 if the graph carries no enabled GM config.
func (j *Job) gmBase() uint64 {
	if j.graph.GMBuf == nil {
		return 0
	}
	return j.graph.GMBuf.Base
}

func (j *Job) buildGroupInit(sg graph.Subgraph, i int) (wire.TCB, uint32, error) {
	flag := uint32(wire.TaskTypeGroupInit) | uint32(wire.TaskTypeGridInit)

	depType, groupDeps, err := j.encodeDependencies(sg)
	if err != nil {
		return wire.TCB{}, 0, err
	}
	flag |= depType

	f := &wire.GroupInitFields{
		GroupGridID:  j.gridID,
		GroupGroupID: uint16(j.startGroupID + i),
		GroupDeps:    groupDeps,
	}

	if len(j.graph.SegMMU) > 0 {
		f.SegMMUCtrl = wire.SegMMURemapShareEn | wire.SegMMUMemCtrlEn
		f.SegMMURemap = 0
	}

	asid0Base, _ := j.mm.GetASIDBase(constants.ASID0)
	f.Asid[0] = wire.AsidSlot{Base: wire.Lo(asid0Base), Perm: wire.AsidPermRD | wire.AsidPermWR}
	f.Asid[1] = wire.AsidSlot{Base: wire.Lo(asid0Base), Perm: wire.AsidPermRD | wire.AsidPermWR}

	wbBase := asid0Base
	if wb := j.graph.WeightBufferFor(sg.BSSIdx); wb != nil {
		wbBase = wb.ASIDBase
	} else if base, err := j.mm.GetASIDBase(constants.ASID1); err == nil {
		wbBase = base
	}
	f.Asid[2] = wire.AsidSlot{Base: wire.Lo(wbBase), Perm: wire.AsidPermRD | wire.AsidPermWR}
	f.Asid[3] = wire.AsidSlot{Base: wire.Lo(wbBase), Perm: wire.AsidPermRD | wire.AsidPermWR}

	return wire.TCB{Flag: flag, GroupInit: f}, depType, nil
}

// encodeDependencies turns precursor_cnt/precursors into the GROUP_INIT
// dependency flag and group_deps slots.
func (j *Job) encodeDependencies(sg graph.Subgraph) (uint32, [wire.MaxPrecursorSlots]uint32, error) {
	var deps [wire.MaxPrecursorSlots]uint32

	switch {
	case sg.PrecursorCnt == int32(graph.PrecursorNone):
		return wire.DepTypeNone, deps, nil

	case sg.PrecursorCnt == int32(graph.PrecursorAll):
		return wire.DepTypePreAll, deps, nil

	case sg.PrecursorCnt >= 1 && sg.PrecursorCnt <= constants.MaxPrecursors:
		for k, p := range sg.Precursors {
			resolved := p + j.startGroupID
			if resolved > wire.GroupDepMask {
				return 0, deps, errs.New("jobbuild.encodeDependencies", errs.CodeInvalidBin, "precursor group id exceeds 0x7FFF")
			}
			deps[k] = wire.EnGroupDepend | (uint32(resolved) & wire.GroupDepMask)
		}
		return wire.DepTypeGroup, deps, nil

	default:
		return 0, deps, errs.New("jobbuild.encodeDependencies", errs.CodeInvalidBin, "invalid precursor_cnt")
	}
}

func (j *Job) buildTask(sg graph.Subgraph, subgraphIdx, taskIdx int, lastSubgraph bool, depType uint32) wire.TCB {
	flag := uint32(wire.TaskTypeTask)
	if taskIdx == 0 {
		flag |= depType
	}
	if taskIdx == TasksPerSubgraph-1 {
		flag |= wire.EndTypeGroupEnd
		if lastSubgraph {
			flag |= wire.EndTypeGridEnd
		}
	}

	f := &wire.TaskFields{
		GroupID:      uint16(j.startGroupID + subgraphIdx),
		GridID:       j.gridID,
		TaskID:       uint8(taskIdx),
		GridDim:      [3]uint16{1, 1, 1},
		GroupDim:     [3]uint16{TasksPerSubgraph, 1, 1},
		GroupIDVec:   [3]uint16{1, 0, 0},
		TaskIDVec:    [3]uint16{uint16(taskIdx), 0, 0},
		InterruptEn:  wire.InterruptTECAll,
	}

	if j.graph.TextBuf != nil {
		f.SPC = j.graph.TextBuf.Base + uint64(sg.TextOffset)
	}

	if j.tcb != nil {
		index := 1 + subgraphIdx*(TasksPerSubgraph+1) + 1 + taskIdx
		f.TCBP = wire.Lo((j.tcb.Base - j.tcb.ASIDBase) + uint64(index)*constants.TCBSize)
	}

	// sp/pp/dp/cp: stack, rodata, private-data, descriptor (const-rodata).
	if buf := j.stackBufs[subgraphIdx]; buf != nil {
		f.SP = wire.Lo(buf.Base)
	}
	if j.rodata != nil {
		f.PP = wire.Lo(j.rodata.Base + uint64(sg.RodataOffset))
	}
	if buf := j.privBufs[subgraphIdx]; buf != nil {
		f.DP = wire.Lo(buf.Base)
	}
	if j.descriptor != nil {
		f.CP = wire.Lo(j.descriptor.Base + uint64(sg.DCROffset))
	}

	if sg.ProfilerBufSize > 0 {
		if buf := j.profileBufs[subgraphIdx]; buf != nil {
			f.PProfiler = wire.Lo(buf.Base)
		}
	}
	if sg.PrintfifoSize > 0 {
		if buf := j.printfBufs[subgraphIdx]; buf != nil {
			f.PPrint = wire.Lo(buf.Base)
			f.InterruptEn |= wire.InterruptTECSignal
		}
	}
	if j.cfg.InputShapes != nil && j.globalParam != nil {
		f.GlobalParam = wire.Lo(j.globalParam.Base)
	}

	f.ICAWarmupLen = sg.WarmupLen

	return wire.TCB{Flag: flag, Task: f}
}

// flushChain marshals chain into the job's TCB device buffer and keeps an
// in-host backup for replay. The backup's GRID_INIT has gm_sync cleared, so
// the DDR-to-GM sync is requested on the first run only.
func (j *Job) flushChain(chain []wire.TCB) error {
	buf := make([]byte, len(chain)*constants.TCBSize)
	for i := range chain {
		copy(buf[i*constants.TCBSize:], wire.Marshal(&chain[i]))
	}

	if err := j.mm.Write(j.tcb, 0, buf); err != nil {
		return errs.Wrap("jobbuild.flushChain", err)
	}

	j.backupTCB = buf
	if g := chain[0].GridInit; g != nil && g.GMSync != 0 {
		replay := *g
		replay.GMSync = 0
		backup := append([]byte(nil), buf...)
		copy(backup[:constants.TCBSize], wire.Marshal(&wire.TCB{Flag: chain[0].Flag, GridInit: &replay}))
		j.backupTCB = backup
	}
	return nil
}

// replayChain restores the device-side TCB chain from the in-host backup,
// undoing any mutation the NPU made to it during a previous run.
func (j *Job) replayChain() error {
	if j.backupTCB == nil {
		return errs.New("jobbuild.replayChain", errs.CodeInvalidOp, "no backup chain to replay")
	}
	return j.mm.Write(j.tcb, 0, j.backupTCB)
}
