package ids

import (
	"sync"

	"github.com/npu31/umd/internal/errs"
)

// PoolKey identifies one hardware command pool within a partition/QoS
// level.
type PoolKey struct {
	Partition int
	QoS       int
	Pool      int
}

// PoolTable tracks the finite set of command pools available per
// partition/QoS level and which are currently busy (a dispatch is
// outstanding).
type PoolTable struct {
	mu        sync.Mutex
	poolCount int
	busy      map[PoolKey]bool
}

// NewPoolTable constructs a table with poolsPerPartitionQoS pools
// available for every (partition, qos) pair.
func NewPoolTable(poolsPerPartitionQoS int) *PoolTable {
	return &PoolTable{poolCount: poolsPerPartitionQoS, busy: map[PoolKey]bool{}}
}

// Acquire finds a free pool for (partition, qos) and marks it busy.
func (t *PoolTable) Acquire(partition, qos int) (PoolKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for pool := 0; pool < t.poolCount; pool++ {
		key := PoolKey{Partition: partition, QoS: qos, Pool: pool}
		if !t.busy[key] {
			t.busy[key] = true
			return key, nil
		}
	}
	return PoolKey{}, errs.New("Acquire", errs.CodeTargetNotFound, "no free command pool")
}

// Release marks a command pool free again.
func (t *PoolTable) Release(key PoolKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.busy, key)
}
