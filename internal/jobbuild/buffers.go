package jobbuild

import (
	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/errs"
)

// allocateRodata gives the job its own private copy of the graph's rodata,
// descriptor, and global-param sections, then relocates and flushes them.
func (j *Job) allocateRodata(rs *releaseStack) error {
	rodata := append([]byte(nil), j.graph.Rodata...)
	descriptor := append([]byte(nil), j.graph.Descriptor...)

	if len(rodata) > 0 {
		buf, err := j.mm.Malloc(uint64(len(rodata)), 0, "job.rodata", -1)
		if err != nil {
			return errs.Wrap("jobbuild.allocateRodata", err)
		}
		rs.push(func() { j.mm.Free(buf) })
		j.rodata = buf
	}

	if len(descriptor) > 0 {
		buf, err := j.mm.Malloc(uint64(len(descriptor)), 0, "job.descriptor", -1)
		if err != nil {
			return errs.Wrap("jobbuild.allocateRodata", err)
		}
		rs.push(func() { j.mm.Free(buf) })
		j.descriptor = buf
	}

	if len(j.graph.GlobalParam) > 0 {
		buf, err := j.mm.Malloc(uint64(len(j.graph.GlobalParam)), 0, "job.globalparam", -1)
		if err != nil {
			return errs.Wrap("jobbuild.allocateRodata", err)
		}
		rs.push(func() { j.mm.Free(buf) })
		if err := j.mm.Write(buf, 0, j.graph.GlobalParam); err != nil {
			return errs.Wrap("jobbuild.allocateRodata", err)
		}
		j.globalParam = buf
	}

	if err := j.setupRodata(rodata, descriptor); err != nil {
		return err
	}

	return j.flushRodata(j.rodata, j.descriptor, rodata, descriptor)
}

// allocateTCBBuffer reserves device memory for the job's TCB chain: one
// GRID_INIT plus, per subgraph, one GROUP_INIT and TasksPerSubgraph TASKs.
func (j *Job) allocateTCBBuffer(rs *releaseStack) error {
	count := 1 + len(j.graph.Subgraphs)*(TasksPerSubgraph+1)
	buf, err := j.mm.Malloc(uint64(count)*constants.TCBSize, 0, "job.tcb", -1)
	if err != nil {
		return errs.Wrap("jobbuild.allocateTCBBuffer", err)
	}
	rs.push(func() { j.mm.Free(buf) })
	j.tcb = buf
	return nil
}
