// Package ids implements the process-wide grid-id counter, the group-id
// bitmap run allocator, and the per-partition/per-QoS command-pool id
// table.
package ids

import "sync/atomic"

// GridAllocator hands out monotonically increasing 16-bit grid ids.
type GridAllocator struct {
	next uint32
}

// Next returns the next grid id.
func (g *GridAllocator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.next, 1) - 1)
}
