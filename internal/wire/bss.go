package wire

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Section types carried in a SubSectionDesc.
type SectionType uint32

const (
	SectionStaticWeight SectionType = iota
	SectionZeroCopyConst
	SectionReuseInput
	SectionReuseOutput
	SectionInterDump
	SectionProfiler
	SectionPrintf
	SectionLayerCounter
	SectionErrorCode
	SectionSegMMU
	SectionOutputShape
)

// IsIOType reports whether t is one of the four I/O-tensor-bearing types
// that feed inputs/outputs/inter-dumps/output-shape lists during BSS walk.
func (t SectionType) IsIOType() bool {
	switch t {
	case SectionReuseInput, SectionReuseOutput, SectionInterDump, SectionOutputShape:
		return true
	default:
		return false
	}
}

// BSSHeader is the fixed header preceding a BSS bucket's section tables.
type BSSHeader struct {
	StackSize            uint32
	StackAlignBytes       uint32
	StaticSectionDescCnt  uint32
	ReuseSectionDescCnt   uint32
}

const BSSHeaderSize = 4 * 4

var _ [BSSHeaderSize]byte = [unsafe.Sizeof(BSSHeader{})]byte{}

func MarshalBSSHeader(h *BSSHeader) []byte {
	buf := make([]byte, BSSHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.StackSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.StackAlignBytes)
	binary.LittleEndian.PutUint32(buf[8:12], h.StaticSectionDescCnt)
	binary.LittleEndian.PutUint32(buf[12:16], h.ReuseSectionDescCnt)
	return buf
}

func UnmarshalBSSHeader(data []byte, h *BSSHeader) error {
	if len(data) < BSSHeaderSize {
		return ErrShortBuffer
	}
	h.StackSize = binary.LittleEndian.Uint32(data[0:4])
	h.StackAlignBytes = binary.LittleEndian.Uint32(data[4:8])
	h.StaticSectionDescCnt = binary.LittleEndian.Uint32(data[8:12])
	h.ReuseSectionDescCnt = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// SectionDesc precedes a run of SubSectionDesc records.
type SectionDesc struct {
	Size          uint32
	AlignBytes    uint32
	OffsetInFile  uint32
	SubSectionCnt uint32
}

const SectionDescSize = 4 * 4

var _ [SectionDescSize]byte = [unsafe.Sizeof(SectionDesc{})]byte{}

func MarshalSectionDesc(d *SectionDesc) []byte {
	buf := make([]byte, SectionDescSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Size)
	binary.LittleEndian.PutUint32(buf[4:8], d.AlignBytes)
	binary.LittleEndian.PutUint32(buf[8:12], d.OffsetInFile)
	binary.LittleEndian.PutUint32(buf[12:16], d.SubSectionCnt)
	return buf
}

func UnmarshalSectionDesc(data []byte, d *SectionDesc) error {
	if len(data) < SectionDescSize {
		return ErrShortBuffer
	}
	d.Size = binary.LittleEndian.Uint32(data[0:4])
	d.AlignBytes = binary.LittleEndian.Uint32(data[4:8])
	d.OffsetInFile = binary.LittleEndian.Uint32(data[8:12])
	d.SubSectionCnt = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// SubSectionDesc describes one I/O tensor or static const within a
// SectionDesc, followed in the file by OffsetInROCnt u32 relocation
// offsets.
type SubSectionDesc struct {
	Type               SectionType
	Size               uint32
	ID                 uint32
	OffsetInSectionExec uint32
	AddrMask           uint32
	OffsetInROCnt      uint32
	Scale              float32
	ZeroPoint          int32
	DataType           uint32
}

const SubSectionDescSize = 4 * 9

var _ [SubSectionDescSize]byte = [unsafe.Sizeof(SubSectionDesc{})]byte{}

func MarshalSubSectionDesc(d *SubSectionDesc) []byte {
	buf := make([]byte, SubSectionDescSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.Type))
	binary.LittleEndian.PutUint32(buf[4:8], d.Size)
	binary.LittleEndian.PutUint32(buf[8:12], d.ID)
	binary.LittleEndian.PutUint32(buf[12:16], d.OffsetInSectionExec)
	binary.LittleEndian.PutUint32(buf[16:20], d.AddrMask)
	binary.LittleEndian.PutUint32(buf[20:24], d.OffsetInROCnt)
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(d.Scale))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(d.ZeroPoint))
	binary.LittleEndian.PutUint32(buf[32:36], d.DataType)
	return buf
}

func UnmarshalSubSectionDesc(data []byte, d *SubSectionDesc) error {
	if len(data) < SubSectionDescSize {
		return ErrShortBuffer
	}
	d.Type = SectionType(binary.LittleEndian.Uint32(data[0:4]))
	d.Size = binary.LittleEndian.Uint32(data[4:8])
	d.ID = binary.LittleEndian.Uint32(data[8:12])
	d.OffsetInSectionExec = binary.LittleEndian.Uint32(data[12:16])
	d.AddrMask = binary.LittleEndian.Uint32(data[16:20])
	d.OffsetInROCnt = binary.LittleEndian.Uint32(data[20:24])
	d.Scale = math.Float32frombits(binary.LittleEndian.Uint32(data[24:28]))
	d.ZeroPoint = int32(binary.LittleEndian.Uint32(data[28:32]))
	d.DataType = binary.LittleEndian.Uint32(data[32:36])
	return nil
}

// RemapEntry is one entry of the `.remap` section.
type RemapEntry struct {
	SrcOffset uint32
	DstOffset uint32
	Size      uint32
}

const RemapEntrySize = 4 * 3

var _ [RemapEntrySize]byte = [unsafe.Sizeof(RemapEntry{})]byte{}

func MarshalRemapEntry(e *RemapEntry) []byte {
	buf := make([]byte, RemapEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.SrcOffset)
	binary.LittleEndian.PutUint32(buf[4:8], e.DstOffset)
	binary.LittleEndian.PutUint32(buf[8:12], e.Size)
	return buf
}

func UnmarshalRemapEntry(data []byte, e *RemapEntry) error {
	if len(data) < RemapEntrySize {
		return ErrShortBuffer
	}
	e.SrcOffset = binary.LittleEndian.Uint32(data[0:4])
	e.DstOffset = binary.LittleEndian.Uint32(data[4:8])
	e.Size = binary.LittleEndian.Uint32(data[8:12])
	return nil
}
