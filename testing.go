package npu31

import (
	"sync"
	"time"

	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/errs"
)

// MockDevice is a minimal, deterministic device.Device implementation for
// unit tests that build Jobs without a real simulator or kernel back end.
// Every Schedule call completes immediately as StatusDone; call
// FailNextSchedule/FailNextPoll to exercise error paths.
type MockDevice struct {
	CoreCountVal      int
	PartitionCountVal int
	ClusterIDVal      int

	mu         sync.Mutex
	nextGrid   uint16
	nextGroup  int
	scheduled  []device.ChainDesc
	closed     bool

	failSchedule bool
	failPoll     bool
}

// NewMockDevice returns a MockDevice reporting the given topology.
func NewMockDevice(coreCount, partitionCount, clusterID int) *MockDevice {
	return &MockDevice{
		CoreCountVal:      coreCount,
		PartitionCountVal: partitionCount,
		ClusterIDVal:      clusterID,
	}
}

func (m *MockDevice) GetCoreCount() int      { return m.CoreCountVal }
func (m *MockDevice) GetPartitionCount() int { return m.PartitionCountVal }
func (m *MockDevice) GetClusterID() int      { return m.ClusterIDVal }

func (m *MockDevice) GetGridID() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextGrid
	m.nextGrid++
	return id
}

func (m *MockDevice) GetStartGroupID(count int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := m.nextGroup
	m.nextGroup += count
	return start, nil
}

func (m *MockDevice) PutStartGroupID(start, count int) {}

// FailNextSchedule makes the next Schedule call return an error.
func (m *MockDevice) FailNextSchedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSchedule = true
}

// FailNextPoll makes the next PollStatus call return an error.
func (m *MockDevice) FailNextPoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPoll = true
}

// Scheduled returns every ChainDesc submitted so far, for assertions.
func (m *MockDevice) Scheduled() []device.ChainDesc {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.ChainDesc, len(m.scheduled))
	copy(out, m.scheduled)
	return out
}

func (m *MockDevice) Schedule(desc device.ChainDesc) (device.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return device.Handle{}, errs.New("MockDevice.Schedule", errs.CodeJobException, "device closed")
	}
	if m.failSchedule {
		m.failSchedule = false
		return device.Handle{}, errs.New("MockDevice.Schedule", errs.CodeJobException, "forced failure")
	}
	m.scheduled = append(m.scheduled, desc)
	return device.Handle{GridID: desc.GridID}, nil
}

func (m *MockDevice) PollStatus(handle device.Handle, timeout time.Duration) (device.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPoll {
		m.failPoll = false
		return device.StatusException, errs.New("MockDevice.PollStatus", errs.CodeJobException, "forced failure")
	}
	return device.StatusDone, nil
}

func (m *MockDevice) IoctlCmd(op device.IoctlOp, payload []byte) ([]byte, error) {
	return nil, nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ device.Device = (*MockDevice)(nil)
