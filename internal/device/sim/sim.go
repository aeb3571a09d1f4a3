// Package sim implements the in-process simulator device back end: a
// submit queue, a per-grid commit map, and a condition-variable-fed
// completion path standing in for the opaque instruction simulator's
// AIPU_EV_GRID_END callback.
package sim

import (
	"sync"
	"time"

	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/ids"
	"github.com/npu31/umd/internal/wire"
)

// Engine is the black-box instruction-accurate simulator core. Only the
// surface this driver depends on is modeled: register read/write, memory,
// and a completion callback.
type Engine interface {
	// WriteReg models one MMIO register write into the command-pool
	// block the engine exposes. Schedule drives the CREATE then
	// DISPATCH TSM_CMD_SCHED_CTRL sequence through this before calling
	// Dispatch.
	WriteReg(offset, value uint32)

	// Dispatch returns once the (simulated) hardware has accepted the
	// chain. The actual grid execution happens asynchronously; onDone is
	// invoked from the engine's own goroutine when the grid completes.
	Dispatch(desc device.ChainDesc, onDone func(gridID uint16))
}

// queuedJob is one entry in the submit queue awaiting dispatch.
type queuedJob struct {
	desc device.ChainDesc
}

// Device is the simulator back end.
// Only one DISPATCH_CMD_POOL may be outstanding per (partition, qos) pool
// at a time — an observed behavior of the source preserved verbatim
// rather than exposed as a tuning knob.
type Device struct {
	coreCount      int
	partitionCount int
	clusterID      int

	grid   ids.GridAllocator
	groups *ids.GroupAllocator
	pools  *ids.PoolTable

	engine Engine

	mu sync.RWMutex // write-locked for schedule/poll sections

	queueMu   sync.Mutex
	queue     []queuedJob
	commitMap map[uint16]queuedJob
	poolOf    map[uint16]ids.PoolKey

	cond        *sync.Cond
	condMu      sync.Mutex
	doneGridSet map[uint16]bool
	doneSet     map[uint16]bool
}

// Config configures a simulator device instance.
type Config struct {
	CoreCount      int
	PartitionCount int
	ClusterID      int
	PoolsPerQos    int
	Engine         Engine
}

// New constructs a simulator back end. Engine may be nil, in which case a
// deterministic in-process stub engine is used (suitable for tests).
func New(cfg Config) *Device {
	engine := cfg.Engine
	if engine == nil {
		engine = &stubEngine{}
	}
	poolsPerQos := cfg.PoolsPerQos
	if poolsPerQos == 0 {
		poolsPerQos = 1
	}

	d := &Device{
		coreCount:      cfg.CoreCount,
		partitionCount: cfg.PartitionCount,
		clusterID:      cfg.ClusterID,
		groups:         ids.NewGroupAllocator(),
		pools:          ids.NewPoolTable(poolsPerQos),
		engine:         engine,
		commitMap:      map[uint16]queuedJob{},
		poolOf:         map[uint16]ids.PoolKey{},
		doneGridSet:    map[uint16]bool{},
		doneSet:        map[uint16]bool{},
	}
	d.cond = sync.NewCond(&d.condMu)
	return d
}

func (d *Device) GetCoreCount() int      { return d.coreCount }
func (d *Device) GetPartitionCount() int { return d.partitionCount }
func (d *Device) GetClusterID() int      { return d.clusterID }
func (d *Device) GetGridID() uint16      { return d.grid.Next() }

func (d *Device) GetStartGroupID(count int) (int, error) { return d.groups.GetStartGroupID(count) }
func (d *Device) PutStartGroupID(start, count int)       { d.groups.PutStartGroupID(start, count) }

// Schedule pushes the chain onto the submit queue, then dispatches it
// immediately if a command pool for its (partition, qos) is free.
func (d *Device) Schedule(desc device.ChainDesc) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queueMu.Lock()
	d.queue = append(d.queue, queuedJob{desc: desc})
	d.fillCommitQueue()
	pool := -1
	if key, ok := d.poolOf[desc.GridID]; ok {
		pool = key.Pool
	}
	d.queueMu.Unlock()

	return device.Handle{GridID: desc.GridID, Pool: pool}, nil
}

// fillCommitQueue pops and dispatches queued jobs while a command pool for
// their (partition, qos) level is free. Callers must hold queueMu.
func (d *Device) fillCommitQueue() {
	remaining := d.queue[:0]
	for _, job := range d.queue {
		key, err := d.pools.Acquire(job.desc.Partition, job.desc.QoS)
		if err != nil {
			remaining = append(remaining, job)
			continue
		}
		d.commitMap[job.desc.GridID] = job
		d.poolOf[job.desc.GridID] = key

		d.engine.WriteReg(wire.RegSchedCtrl, wire.SchedCtrl(key.Partition, key.Pool, key.QoS, true, false))
		d.engine.WriteReg(wire.RegSchedCtrl, wire.SchedCtrl(key.Partition, key.Pool, key.QoS, false, true))
		d.engine.Dispatch(job.desc, d.onGridEnd)
	}
	d.queue = remaining
}

// onGridEnd is the completion callback; it runs on the engine's own
// goroutine and only publishes completion, never blocks.
func (d *Device) onGridEnd(gridID uint16) {
	d.condMu.Lock()
	d.doneGridSet[gridID] = true
	d.cond.Broadcast()
	d.condMu.Unlock()
}

// drainDoneGridSet moves completed grid ids from commitMap into doneSet,
// clears their pool's busy flag, and refills the submit queue.
func (d *Device) drainDoneGridSet() {
	d.condMu.Lock()
	completed := make([]uint16, 0, len(d.doneGridSet))
	for gridID := range d.doneGridSet {
		completed = append(completed, gridID)
		delete(d.doneGridSet, gridID)
	}
	d.condMu.Unlock()

	if len(completed) == 0 {
		return
	}

	d.queueMu.Lock()
	for _, gridID := range completed {
		if _, ok := d.commitMap[gridID]; !ok {
			continue
		}
		delete(d.commitMap, gridID)
		if key, ok := d.poolOf[gridID]; ok {
			d.pools.Release(key)
			delete(d.poolOf, gridID)
		}
	}
	d.fillCommitQueue()
	d.queueMu.Unlock()

	d.condMu.Lock()
	for _, gridID := range completed {
		d.doneSet[gridID] = true
	}
	d.condMu.Unlock()
}

// PollStatus blocks on d.cond until handle's grid completes or the
// timeout elapses. A zero timeout uses constants.DefaultPollTimeout.
func (d *Device) PollStatus(handle device.Handle, timeout time.Duration) (device.Status, error) {
	if timeout == 0 {
		timeout = constants.DefaultPollTimeout
	}

	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		d.condMu.Lock()
		timedOut = true
		d.cond.Broadcast()
		d.condMu.Unlock()
	})
	defer timer.Stop()

	d.condMu.Lock()
	for !d.doneSet[handle.GridID] && !d.doneGridSet[handle.GridID] && !timedOut {
		d.cond.Wait()
	}
	done := d.doneSet[handle.GridID] || d.doneGridSet[handle.GridID]
	d.condMu.Unlock()

	if !done {
		return device.StatusTimeout, nil
	}

	d.drainDoneGridSet()
	return device.StatusDone, nil
}

// IoctlCmd is unsupported by the simulator back end; dma-buf import and
// tick-counter control are kernel-back-end-only operations.
func (d *Device) IoctlCmd(op device.IoctlOp, payload []byte) ([]byte, error) {
	return nil, errs.New("sim.IoctlCmd", errs.CodeInvalidOp, "unsupported by simulator back end")
}

func (d *Device) Close() error { return nil }

// stubEngine is a deterministic engine used when no Engine is supplied:
// it completes every dispatched grid almost immediately.
type stubEngine struct{}

func (stubEngine) WriteReg(offset, value uint32) {}

func (stubEngine) Dispatch(desc device.ChainDesc, onDone func(gridID uint16)) {
	go func() {
		time.Sleep(time.Millisecond)
		onDone(desc.GridID)
	}()
}
