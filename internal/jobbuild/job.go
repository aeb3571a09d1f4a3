package jobbuild

import (
	"time"

	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
)

// New allocates a job's working set, relocates its rodata, and constructs
// its TCB chain, but does not submit it. Every resource acquired is
// released on any failure.
func New(g *graph.Graph, mm *memmgr.Manager, dev device.Device, cfg Config) (*Job, error) {
	j := &Job{
		graph:         g,
		mm:            mm,
		dev:           dev,
		cfg:           cfg,
		subgraphCount: len(g.Subgraphs),
		state:         StateCreated,
	}

	rs := &releaseStack{}
	defer rs.unwind()

	j.gridID = dev.GetGridID()

	startGroupID, err := dev.GetStartGroupID(j.subgraphCount)
	if err != nil {
		return nil, errs.Wrap("jobbuild.New", err)
	}
	j.startGroupID = startGroupID
	rs.push(func() { dev.PutStartGroupID(startGroupID, j.subgraphCount) })

	if err := j.setupDMABufs(); err != nil {
		return nil, err
	}
	if err := j.allocate(rs); err != nil {
		return nil, err
	}
	if err := j.allocateRodata(rs); err != nil {
		return nil, err
	}
	if err := j.allocateTCBBuffer(rs); err != nil {
		return nil, err
	}
	if err := j.setupSegMMU(dev.GetCoreCount()); err != nil {
		return nil, err
	}
	if err := j.applyInputShapes(); err != nil {
		return nil, err
	}

	chain, err := j.buildChain()
	if err != nil {
		return nil, err
	}
	if err := j.flushChain(chain); err != nil {
		return nil, err
	}

	rs.disarm()
	j.state = StateBound
	return j, nil
}

// Schedule submits the job's chain to its device back end.
func (j *Job) Schedule() error {
	if j.state != StateBound {
		return errs.New("jobbuild.Schedule", errs.CodeInvalidOp, "job not in BOUND state")
	}

	desc := device.ChainDesc{
		GridID:    j.gridID,
		TCBAddr:   j.tcb.Base,
		TCBCount:  uint32(chainLen(j.subgraphCount)),
		Partition: j.cfg.Partition,
		QoS:       j.cfg.QoS,
	}

	handle, err := j.dev.Schedule(desc)
	if err != nil {
		j.state = StateException
		return errs.NewJobError("jobbuild.Schedule", uint64(j.gridID), errs.CodeJobException, err.Error())
	}

	j.handle = handle
	j.state = StateSched
	return nil
}

// PollStatus blocks up to timeout waiting for the job to complete.
func (j *Job) PollStatus(timeout time.Duration) (device.Status, error) {
	if j.state != StateSched && j.state != StateDone && j.state != StateException {
		return device.StatusPending, errs.New("jobbuild.PollStatus", errs.CodeInvalidOp, "job not scheduled")
	}

	status, err := j.dev.PollStatus(j.handle, timeout)
	if err != nil {
		return status, errs.Wrap("jobbuild.PollStatus", err)
	}

	switch status {
	case device.StatusDone:
		j.state = StateDone
	case device.StatusException:
		j.state = StateException
	}

	return status, nil
}

// Replay restores the TCB chain from its in-host backup and returns the
// job to BOUND, ready to be scheduled again. The device-side TCBs may have
// been mutated by the NPU during the previous run.
func (j *Job) Replay() error {
	if j.state != StateDone && j.state != StateException {
		return errs.New("jobbuild.Replay", errs.CodeInvalidOp, "job has no completed run to replay")
	}
	if err := j.replayChain(); err != nil {
		return err
	}
	j.state = StateBound
	return nil
}

// Destroy releases every device buffer owned by the job and its reserved
// group-id run. Only defined when no hardware dispatch is outstanding: the
// caller must have polled a SCHED job to completion first.
func (j *Job) Destroy() error {
	if j.state == StateSched {
		return errs.New("jobbuild.Destroy", errs.CodeInvalidOp, "job has an outstanding dispatch")
	}

	j.dev.PutStartGroupID(j.startGroupID, j.subgraphCount)
	j.releaseDMABufs()

	for _, buf := range j.reuseBufs {
		j.mm.Free(buf)
	}
	for _, buf := range j.privBufs {
		j.mm.Free(buf)
	}
	for _, buf := range j.stackBufs {
		j.mm.Free(buf)
	}
	for _, buf := range j.profileBufs {
		j.mm.Free(buf)
	}
	for _, buf := range j.printfBufs {
		j.mm.Free(buf)
	}
	j.mm.Free(j.centralizedReuse)
	j.mm.Free(j.centralizedPriv)
	j.mm.Free(j.rodata)
	j.mm.Free(j.descriptor)
	j.mm.Free(j.globalParam)
	j.mm.Free(j.tcb)

	return nil
}
