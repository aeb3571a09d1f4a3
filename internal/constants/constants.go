// Package constants holds fixed sizing and timing constants for the NPU v3.1
// job-construction and submission engine.
package constants

import "time"

// TCB layout.
const (
	// TCBSize is the fixed size in bytes of one device-format task control block.
	TCBSize = 128

	// TasksPerSubgraph is fixed at 4 for the v3.1 TCB layout.
	TasksPerSubgraph = 4
)

// Address space identifiers.
const (
	// ASID0 is the feature-map/shared address space.
	ASID0 = 0
	// ASID1 is the weight address space.
	ASID1 = 1
	// ASIDMax bounds the number of configurable address spaces.
	ASIDMax = 8
)

// ID allocation limits.
const (
	// MaxGroupID bounds the group-ID bitmap capacity.
	MaxGroupID = 4096

	// MaxPrecursors is the maximum explicit dependency count per subgraph.
	MaxPrecursors = 4

	// PrecursorNone and PrecursorAll are the sentinel precursor_cnt values.
	PrecursorNone = 0
	PrecursorAll  = -1

	// GroupDepMask masks a resolved group id into the 15-bit group_deps field.
	GroupDepMask = 0x7FFF
)

// Dynamic-shape layout.
const (
	// MaxShapeDims bounds the rank of a patched input or resolved output
	// shape; each input's slot in the global-param buffer reserves this
	// many 4-byte dimension slots.
	MaxShapeDims = 8
)

// SegMMU limits.
const (
	SegMMUMaxSeg  = 4
	SegMMUMaxCtrl = 2
)

// Default allocation/device parameters.
const (
	// DefaultQueueDepth is the io_uring queue depth used when a ring-backed
	// device is opened with a zero QueueDepth.
	DefaultQueueDepth = 128

	// PageSize is the default alignment granularity for ALIGN_PAGE.
	PageSize = 4096

	// AutoAssignDeviceID indicates the backend should auto-assign a device id.
	AutoAssignDeviceID = -1
)

// Timing constants for device lifecycle and polling.
//
// These mirror the ublk driver's startup-delay reasoning: a real accelerator
// (or the simulator's completion callback) needs time to process a dispatch
// before a poller should expect a completion event.
const (
	// SchedulePollInterval is not referenced by any back end: the
	// simulator's PollStatus blocks on its condition variable until the
	// grid completes or the timeout fires.
	SchedulePollInterval = 5 * time.Millisecond

	// DefaultPollTimeout is used when a caller passes a zero timeout to
	// PollStatus, meaning "use a sane default" rather than "block forever".
	DefaultPollTimeout = 30 * time.Second
)
