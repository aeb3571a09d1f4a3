package memmgr

import "sync"

// shardSize is the granularity of the sharded-lock device memory backing
// store, sized for reasonable parallelism without excessive lock count.
const shardSize = 64 * 1024

// deviceMemory is a host byte slice standing in for a physical ASID
// region's device-visible bytes, with per-shard locking so concurrent
// jobs touching disjoint ranges don't serialize on one mutex.
type deviceMemory struct {
	data   []byte
	shards []sync.RWMutex
}

func newDeviceMemory(size uint64) *deviceMemory {
	numShards := (size + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &deviceMemory{
		data:   make([]byte, size),
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *deviceMemory) shardRange(off, length uint64) (int, int) {
	start := int(off / shardSize)
	end := int((off + length - 1) / shardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

func (m *deviceMemory) readAt(dst []byte, off uint64) {
	start, end := m.shardRange(off, uint64(len(dst)))
	for i := start; i <= end; i++ {
		m.shards[i].RLock()
	}
	copy(dst, m.data[off:off+uint64(len(dst))])
	for i := start; i <= end; i++ {
		m.shards[i].RUnlock()
	}
}

func (m *deviceMemory) writeAt(src []byte, off uint64) {
	start, end := m.shardRange(off, uint64(len(src)))
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	copy(m.data[off:off+uint64(len(src))], src)
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
}

func (m *deviceMemory) zero(off, size uint64) {
	start, end := m.shardRange(off, size)
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	for i := off; i < off+size; i++ {
		m.data[i] = 0
	}
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
}
