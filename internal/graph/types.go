// Package graph holds the normalized, in-memory representation of a parsed
// NPU v3.1 graph binary: its sections, subgraph list, GM/SegMMU
// configuration, and the weight buffers shared by every job created from
// it.
package graph

import (
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/parser"
)

// HardwareInfo identifies the target device encoded in the graph header.
type HardwareInfo struct {
	Arch     uint32
	Version  uint32
	Config   uint32
	Revision uint32
}

// PrecursorCount encodes a subgraph's dependency arity.
type PrecursorCount int32

const (
	PrecursorNone PrecursorCount = 0
	PrecursorAll  PrecursorCount = -1
)

// Subgraph is a normalized compiler-produced unit of work within a job:
// parser.Subgraph plus its resolved position in the graph's subgraph list.
type Subgraph struct {
	ID int
	parser.Subgraph
}

// GMConfig is the graph-memory configuration for one subgraph group.
type GMConfig struct {
	Enabled    bool
	SizeBytes  uint64
	NeedsRemap bool
	NeedsSync  bool
}

// SegMMUConfig is one core's segment-MMU configuration.
type SegMMUConfig struct {
	NumCores int
	Shared   bool
}

// WeightBuffer is one BSS's loaded static/weight data, shared read-only
// across every job created from the owning graph.
type WeightBuffer struct {
	BSSIdx       int
	Buf          *memmgr.Buffer
	ZeroCopyBuf  *memmgr.Buffer // optional
}

// Graph is the normalized in-memory form of a parsed graph binary. It owns
// its parsed byte views and the weight buffers loaded once and shared
// across all jobs.
type Graph struct {
	Hardware HardwareInfo

	Text    []byte
	Rodata  []byte
	Descriptor []byte
	GlobalParam []byte

	BSSList    []*parser.BSS
	Subgraphs  []Subgraph
	GMConfigs  []GMConfig
	SegMMU     []SegMMUConfig
	Remaps     []parser.RemapEntry

	Weights []WeightBuffer

	// TextBuf holds the graph's instruction text, loaded once into device
	// memory and shared read-only across every job.
	TextBuf *memmgr.Buffer
	// GMBuf holds the graph-memory scratch region sized from GMConfigs,
	// shared across every job the same way TextBuf is.
	GMBuf *memmgr.Buffer

	mm *memmgr.Manager
}
