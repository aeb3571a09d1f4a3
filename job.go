package npu31

import (
	"time"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/jobbuild"
)

// JobConfig carries per-job overrides: pinned buffer placement, segment-MMU
// tagging, and the dynamic input shapes to patch before the chain is built.
type JobConfig struct {
	QoS int

	// PinnedSections forces specific reuse-section global indices onto a
	// named ASID region rather than the default placement.
	PinnedSections map[int]int
	// SegMMUTags maps a reuse section's global index to its packed
	// segment-MMU translation id.
	SegMMUTags map[int]uint32
	// InputShapes patches the model global-param buffer with per-job
	// input shapes before the chain is built, keyed by input tensor id
	// within BSS bucket 0.
	InputShapes map[int][]uint32
}

func (c JobConfig) toInternal(partition int) jobbuild.Config {
	return jobbuild.Config{
		Partition:      partition,
		QoS:            c.QoS,
		PinnedSections: c.PinnedSections,
		SegMMUTags:     c.SegMMUTags,
		InputShapes:    c.InputShapes,
	}
}

// State is a job's lifecycle stage.
type State = jobbuild.State

const (
	StateCreated   = jobbuild.StateCreated
	StateInit      = jobbuild.StateInit
	StateBound     = jobbuild.StateBound
	StateSched     = jobbuild.StateSched
	StateDone      = jobbuild.StateDone
	StateException = jobbuild.StateException
)

// Job owns every device buffer allocated for one run of a Graph and the
// TCB chain built from it.
type Job struct {
	inner    *jobbuild.Job
	observer Observer
}

// CreateJob allocates job's working set against g, relocates its rodata,
// and builds its TCB chain on dev, but does not submit it.
func CreateJob(g *Graph, dev *Device, cfg JobConfig) (*Job, error) {
	j, err := jobbuild.New(g.inner, g.mm, dev.back, cfg.toInternal(0))
	if err != nil {
		return nil, errs.Wrap("npu31.CreateJob", err)
	}
	out := &Job{inner: j, observer: dev.Observer()}
	dev.trackJob(out)
	return out, nil
}

// State returns the job's current lifecycle stage.
func (j *Job) State() State { return j.inner.State() }

// GridID returns the grid id assigned to this job.
func (j *Job) GridID() uint16 { return j.inner.GridID() }

// Schedule submits the job's TCB chain to its device, observing latency
// and success through the owning Device's Observer.
func (j *Job) Schedule() error {
	start := time.Now()
	err := j.inner.Schedule()
	j.observer.ObserveSchedule(uint64(time.Since(start)), err == nil)
	return err
}

// PollStatus polls for completion, observing latency and success.
func (j *Job) PollStatus(timeout time.Duration) (Status, error) {
	start := time.Now()
	status, err := j.inner.PollStatus(timeout)
	j.observer.ObservePoll(uint64(time.Since(start)), err == nil)
	return status, err
}

// Replay restores the TCB chain from the job's in-host backup so the job
// can be resubmitted after a device-side mutation.
func (j *Job) Replay() error {
	start := time.Now()
	err := j.inner.Replay()
	j.observer.ObserveRelocate(uint64(time.Since(start)), err == nil)
	return err
}

// Destroy releases every buffer and id this job holds.
func (j *Job) Destroy() error {
	return j.inner.Destroy()
}

// PatchInputShape overrides one input's shape in the job's global-param
// buffer. Idempotent: a later call for the same input replaces the dims
// written by an earlier one.
func (j *Job) PatchInputShape(bssIdx, inputID int, shape []uint32) error {
	return j.inner.PatchInputShape(bssIdx, inputID, shape)
}

// ResolveOutputShapes reads back every output tensor's shape section and
// computes its byte size. Call after Schedule/PollStatus reports
// completion and before Dump or any output readback.
func (j *Job) ResolveOutputShapes() error {
	return j.inner.ResolveOutputShapes()
}

// OutputSize returns the resolved byte size for one output tensor, and
// whether ResolveOutputShapes has run successfully since the job's last
// shape-affecting mutation.
func (j *Job) OutputSize(bssIdx, outputIdx int) (uint32, bool) {
	return j.inner.OutputSize(bssIdx, outputIdx)
}

// Dump writes dir/runtime.cfg and dir/metadata.txt describing this job's
// full device-memory image, for offline replay without live hardware.
func (j *Job) Dump(dir string) error {
	return j.inner.Dump(dir)
}
