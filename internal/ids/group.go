package ids

import (
	"sync"

	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/errs"
)

// GroupAllocator bitmap-allocates contiguous runs of group ids, capacity
// MaxGroupID.
type GroupAllocator struct {
	mu  sync.Mutex
	bit []bool
}

// NewGroupAllocator constructs an allocator over [0, constants.MaxGroupID).
func NewGroupAllocator() *GroupAllocator {
	return &GroupAllocator{bit: make([]bool, constants.MaxGroupID)}
}

// GetStartGroupID searches for and reserves a contiguous run of `count`
// free ids, returning the first id of the run.
func (g *GroupAllocator) GetStartGroupID(count int) (int, error) {
	if count <= 0 || count > constants.MaxGroupID {
		return 0, errs.New("GetStartGroupID", errs.CodeAllocGroupID, "invalid run length")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	run := 0
	start := -1
	for i := 0; i < len(g.bit); i++ {
		if g.bit[i] {
			run = 0
			start = -1
			continue
		}
		if start == -1 {
			start = i
		}
		run++
		if run == count {
			for j := start; j < start+count; j++ {
				g.bit[j] = true
			}
			return start, nil
		}
	}

	return 0, errs.New("GetStartGroupID", errs.CodeAllocGroupID, "group id space exhausted")
}

// PutStartGroupID releases a previously reserved run.
func (g *GroupAllocator) PutStartGroupID(start, count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := start; i < start+count && i < len(g.bit); i++ {
		g.bit[i] = false
	}
}
