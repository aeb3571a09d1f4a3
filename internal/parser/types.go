// Package parser walks a graph binary's BSS and remap sections into the
// normalized in-memory types consumed by the graph/job-builder layers.
package parser

import "github.com/npu31/umd/internal/wire"

// LoadType distinguishes a relocation's origin bucket.
type LoadType int

const (
	LoadStatic LoadType = iota
	LoadReuse
)

// SectionDesc is a normalized compiler-produced region.
type SectionDesc struct {
	Size          uint32
	AlignInPage   uint32
	OffsetInFile  uint32
	Type          wire.SectionType
	RelativeAddr  uint32
	HasLoadSrc    bool
	LoadSrc       uint32 // offset into the original file, static sections only
	SubSections   []SubSectionDesc
	SlotIndex     int
}

// SubSectionDesc mirrors wire.SubSectionDesc with the normalized fields a
// consumer needs, plus the relocation offsets that followed it on disk.
type SubSectionDesc struct {
	Type              wire.SectionType
	Size              uint32
	ID                uint32
	OffsetInSection   uint32
	AddrMask          uint32
	Scale             float32
	ZeroPoint         int32
	DataType          uint32
	RelocOffsetsInRO  []uint32
}

// IOTensor is a normalized I/O tensor descriptor.
type IOTensor struct {
	ID              uint32
	Size            uint32
	RefSectionIter  int // index into the reuse-section list
	OffsetInSection uint32
	Scale           float32
	ZeroPoint       int32
	DataType        uint32
}

// Reloc is a normalized parameter-relocation entry.
type Reloc struct {
	OffsetInRO      uint32
	LoadType        LoadType
	SubType         wire.SectionType
	BufIndex        int
	SubIndex        int
	OffsetInSection uint32
	AddrMask        uint32
}

// BSS is the normalized sibling container for one BSS bucket.
type BSS struct {
	StackSize       uint32
	StackAlignBytes uint32

	StaticSections []SectionDesc
	ReuseSections  []SectionDesc

	Inputs       []IOTensor
	Outputs      []IOTensor
	InterDumps   []IOTensor
	OutputShapes []IOTensor

	Relocs []Reloc
}

// RemapEntry is a normalized `.remap` section entry.
type RemapEntry struct {
	SrcOffset uint32
	DstOffset uint32
	Size      uint32
}
