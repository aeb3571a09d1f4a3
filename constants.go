// Package npu31 is a user-mode driver for the NPU v3.1 neural-processing
// accelerator: it parses a compiled graph binary, lays out and relocates
// its device-memory working set, builds the resulting TCB chain, and
// submits it to either a real command-pool-backed device or an in-process
// simulator.
package npu31

import "github.com/npu31/umd/internal/constants"

// Re-exported sizing constants every caller building a Config or
// inspecting a job's layout needs, without reaching into internal/.
const (
	TCBSize          = constants.TCBSize
	TasksPerSubgraph = constants.TasksPerSubgraph

	ASID0    = constants.ASID0
	ASID1    = constants.ASID1
	ASIDMax  = constants.ASIDMax

	MaxGroupID    = constants.MaxGroupID
	MaxPrecursors = constants.MaxPrecursors
	MaxShapeDims  = constants.MaxShapeDims

	DefaultQueueDepth   = constants.DefaultQueueDepth
	PageSize            = constants.PageSize
	AutoAssignDeviceID  = constants.AutoAssignDeviceID
)
