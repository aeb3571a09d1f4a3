// Package jobbuild allocates a job's device-memory working set from a
// parsed graph, performs rodata relocation, and constructs the TCB chain
// submitted to a device back end.
package jobbuild

import (
	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
)

// TasksPerSubgraph is fixed at 4 for the v3.1 TCB layout.
const TasksPerSubgraph = constants.TasksPerSubgraph

// State is a job's lifecycle stage.
type State int

const (
	StateCreated State = iota
	StateInit
	StateBound
	StateSched
	StateDone
	StateException
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInit:
		return "INIT"
	case StateBound:
		return "BOUND"
	case StateSched:
		return "SCHED"
	case StateDone:
		return "DONE"
	case StateException:
		return "EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// Config carries per-job overrides. Zero value uses every default.
type Config struct {
	Partition int
	QoS       int

	// PinnedSections forces specific reuse-section global indices onto a
	// named ASID region rather than the default centralized/scatter
	// placement (the "fm_idxes"/"fm_mem_region" override).
	PinnedSections map[int]int

	// InputShapes, when non-nil, patches the model global-param buffer
	// with per-job input shapes before the chain is built. Keyed by input
	// tensor id within BSS bucket 0.
	InputShapes map[int][]uint32

	// SegMMUTags maps a reuse section's global index (the same indexing
	// space as PinnedSections) to its packed {ctrl_idx,seg_idx,core_mask}
	// id, for buffers that require segment-MMU translation.
	SegMMUTags map[int]uint32

	// DMABufImports maps a reuse section's global index (the same
	// indexing space as PinnedSections) to an externally-owned dma-buf
	// that overrides the section's on-device allocation: relocations
	// pointing at it patch in the imported physical address instead of
	// an allocated buffer's base.
	DMABufImports map[int]DMABufImport
}

// DMABufImport describes one externally-imported dma-buf input override.
type DMABufImport struct {
	FD   int
	Size uint64
}

// reuseKey identifies one reuse section across the whole graph.
type reuseKey struct {
	BSSIdx    int
	SectionID int
}

// Job owns every device buffer allocated for one run of a graph and the
// TCB chain built from it.
type Job struct {
	graph *graph.Graph
	mm    *memmgr.Manager
	dev   device.Device
	cfg   Config

	gridID        uint16
	startGroupID  int
	subgraphCount int

	rodata      *memmgr.Buffer
	descriptor  *memmgr.Buffer
	globalParam *memmgr.Buffer
	tcb         *memmgr.Buffer
	backupTCB   []byte

	reuseBufs  map[reuseKey]*memmgr.Buffer
	privBufs   []*memmgr.Buffer // indexed by subgraph position
	stackBufs  []*memmgr.Buffer // indexed by subgraph position
	profileBufs []*memmgr.Buffer // indexed by subgraph position
	printfBufs  []*memmgr.Buffer // indexed by subgraph position

	segMMU SegMMUTable

	// outputSizes holds each BSS bucket's resolved output-tensor byte
	// sizes after ResolveOutputShapes, indexed [bssIdx][outputIdx].
	outputSizes [][]uint32

	centralizedReuse *memmgr.Buffer
	centralizedPriv  *memmgr.Buffer

	// dmaBufKeys/dmaBufPAs/dmaBufFDs track externally-imported dma-buf
	// overrides: which reuse sections are marked dma-buf, their resolved
	// physical addresses (imported lazily, once, on first relocation),
	// and the fds to release on Destroy.
	dmaBufKeys map[reuseKey]DMABufImport
	dmaBufPAs  map[reuseKey]uint64
	dmaBufFDs  []int

	state  State
	handle device.Handle
}

// State returns the job's current lifecycle stage.
func (j *Job) State() State { return j.state }

// GridID returns the grid id assigned to this job.
func (j *Job) GridID() uint16 { return j.gridID }

// Rodata returns the job's private rodata copy (post-relocation).
func (j *Job) Rodata() *memmgr.Buffer { return j.rodata }

// TCBBuffer returns the device buffer backing this job's TCB chain.
func (j *Job) TCBBuffer() *memmgr.Buffer { return j.tcb }

// ReuseBuffer returns the buffer backing a reuse section, if allocated.
func (j *Job) ReuseBuffer(bssIdx, sectionID int) *memmgr.Buffer {
	return j.reuseBufs[reuseKey{BSSIdx: bssIdx, SectionID: sectionID}]
}
