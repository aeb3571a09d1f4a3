package wire

import (
	"encoding/binary"
)

// TCBSize is the fixed size of one device-format task control block.
const TCBSize = 128

// TaskType occupies the low nibble of a TCB's flag word.
type TaskType uint32

const (
	TaskTypeGridInit TaskType = iota
	TaskTypeGroupInit
	TaskTypeTask
)

const taskTypeMask = 0xF

// Flag bits beyond the task-type nibble.
const (
	FlagL2DFlush = 1 << 16

	depTypeShift = 4
	depTypeMask  = 0x3 << depTypeShift

	DepTypeNone   = 0 << depTypeShift
	DepTypeGroup  = 1 << depTypeShift
	DepTypePreAll = 2 << depTypeShift

	endTypeShift    = 6
	EndTypeGroupEnd = 1 << endTypeShift
	EndTypeGridEnd  = 1 << (endTypeShift + 1)

	GridInterruptDone    = 1 << 0
	GridInterruptGMFault = 1 << 1

	InterruptTECAll    = 1 << 0
	InterruptTECSignal = 1 << 1

	GMCtrlRemapEn = 1 << 0
	GMSyncDDRToGM = 1
)

// EnGroupDepend marks a populated group_deps slot.
const EnGroupDepend = 1 << 15

// GroupDepMask masks a resolved group id into the 15-bit group_deps field.
const GroupDepMask = 0x7FFF

// AsidSlotCount is the fixed number of ASID slots in a GROUP_INIT record.
const AsidSlotCount = 8

// AsidPerm bits for a GROUP_INIT ASID slot.
const (
	AsidPermRD = 1 << 0
	AsidPermWR = 1 << 1
)

// AsidSlot is one of the 8 fixed ASID base/permission pairs in a
// GROUP_INIT record.
type AsidSlot struct {
	Base uint32
	Perm uint32
}

// GridInitFields holds the GRID_INIT-specific portion of a TCB.
type GridInitFields struct {
	GroupNum        uint32
	GridInterruptEn uint32
	GridGridID      uint16
	GridGroupID     uint16
	GMCtrl          uint32
	GMAddrLow       uint32
	GMAddrHigh      uint32
	GMSync          uint32
}

// GroupInitFields holds the GROUP_INIT-specific portion of a TCB.
type GroupInitFields struct {
	GroupGridID  uint16
	GroupGroupID uint16
	SegMMUCtrl   uint32
	SegMMURemap  uint32
	GroupDeps    [MaxPrecursorSlots]uint32
	Asid         [AsidSlotCount]AsidSlot
}

// MaxPrecursorSlots bounds the explicit group_deps array.
const MaxPrecursorSlots = 4

// TaskFields holds the TASK-specific portion of a TCB.
type TaskFields struct {
	SPC          uint64
	GroupID      uint16
	GridID       uint16
	TaskID       uint8
	ICAWarmupLen uint32
	GridDim      [3]uint16
	GroupDim     [3]uint16
	GroupIDVec   [3]uint16
	TaskIDVec    [3]uint16
	TCBP         uint32
	SP           uint32
	PP           uint32
	DP           uint32
	CP           uint32
	PProfiler    uint32
	PPrint       uint32
	GlobalParam  uint32
	InterruptEn  uint32
}

// TCB is the sum type over {GRID_INIT, GROUP_INIT, TASK}, each serialized
// into a fixed 128-byte record.
type TCB struct {
	Flag      uint32
	GridInit  *GridInitFields
	GroupInit *GroupInitFields
	Task      *TaskFields
}

// Type returns the TCB's task type from the low nibble of Flag.
func (t *TCB) Type() TaskType { return TaskType(t.Flag & taskTypeMask) }

// Marshal writes t into a TCBSize-byte little-endian record. Only the
// fields belonging to t.Type() are consulted.
func Marshal(t *TCB) []byte {
	buf := make([]byte, TCBSize)
	binary.LittleEndian.PutUint32(buf[0:4], t.Flag)

	switch t.Type() {
	case TaskTypeGridInit:
		f := t.GridInit
		binary.LittleEndian.PutUint32(buf[4:8], f.GroupNum)
		binary.LittleEndian.PutUint32(buf[8:12], f.GridInterruptEn)
		binary.LittleEndian.PutUint16(buf[12:14], f.GridGridID)
		binary.LittleEndian.PutUint16(buf[14:16], f.GridGroupID)
		binary.LittleEndian.PutUint32(buf[16:20], f.GMCtrl)
		binary.LittleEndian.PutUint32(buf[20:24], f.GMAddrLow)
		binary.LittleEndian.PutUint32(buf[24:28], f.GMAddrHigh)
		binary.LittleEndian.PutUint32(buf[28:32], f.GMSync)

	case TaskTypeGroupInit:
		f := t.GroupInit
		binary.LittleEndian.PutUint16(buf[4:6], f.GroupGridID)
		binary.LittleEndian.PutUint16(buf[6:8], f.GroupGroupID)
		binary.LittleEndian.PutUint32(buf[8:12], f.SegMMUCtrl)
		binary.LittleEndian.PutUint32(buf[12:16], f.SegMMURemap)
		off := 16
		for i := 0; i < MaxPrecursorSlots; i++ {
			binary.LittleEndian.PutUint32(buf[off:off+4], f.GroupDeps[i])
			off += 4
		}
		for i := 0; i < AsidSlotCount; i++ {
			binary.LittleEndian.PutUint32(buf[off:off+4], f.Asid[i].Base)
			off += 4
			binary.LittleEndian.PutUint32(buf[off:off+4], f.Asid[i].Perm)
			off += 4
		}

	case TaskTypeTask:
		f := t.Task
		binary.LittleEndian.PutUint64(buf[4:12], f.SPC)
		binary.LittleEndian.PutUint16(buf[12:14], f.GroupID)
		binary.LittleEndian.PutUint16(buf[14:16], f.GridID)
		buf[16] = f.TaskID
		binary.LittleEndian.PutUint32(buf[20:24], f.ICAWarmupLen)
		off := 24
		for _, v := range f.GridDim {
			binary.LittleEndian.PutUint16(buf[off:off+2], v)
			off += 2
		}
		for _, v := range f.GroupDim {
			binary.LittleEndian.PutUint16(buf[off:off+2], v)
			off += 2
		}
		for _, v := range f.GroupIDVec {
			binary.LittleEndian.PutUint16(buf[off:off+2], v)
			off += 2
		}
		for _, v := range f.TaskIDVec {
			binary.LittleEndian.PutUint16(buf[off:off+2], v)
			off += 2
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], f.TCBP)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.SP)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.PP)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.DP)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.CP)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.PProfiler)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.PPrint)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.GlobalParam)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], f.InterruptEn)
	}

	return buf
}

// Unmarshal decodes a TCBSize-byte record into t, allocating the variant
// struct selected by the record's flag nibble.
func Unmarshal(data []byte, t *TCB) error {
	if len(data) < TCBSize {
		return ErrShortBuffer
	}
	t.Flag = binary.LittleEndian.Uint32(data[0:4])

	switch t.Type() {
	case TaskTypeGridInit:
		f := &GridInitFields{}
		f.GroupNum = binary.LittleEndian.Uint32(data[4:8])
		f.GridInterruptEn = binary.LittleEndian.Uint32(data[8:12])
		f.GridGridID = binary.LittleEndian.Uint16(data[12:14])
		f.GridGroupID = binary.LittleEndian.Uint16(data[14:16])
		f.GMCtrl = binary.LittleEndian.Uint32(data[16:20])
		f.GMAddrLow = binary.LittleEndian.Uint32(data[20:24])
		f.GMAddrHigh = binary.LittleEndian.Uint32(data[24:28])
		f.GMSync = binary.LittleEndian.Uint32(data[28:32])
		t.GridInit = f

	case TaskTypeGroupInit:
		f := &GroupInitFields{}
		f.GroupGridID = binary.LittleEndian.Uint16(data[4:6])
		f.GroupGroupID = binary.LittleEndian.Uint16(data[6:8])
		f.SegMMUCtrl = binary.LittleEndian.Uint32(data[8:12])
		f.SegMMURemap = binary.LittleEndian.Uint32(data[12:16])
		off := 16
		for i := 0; i < MaxPrecursorSlots; i++ {
			f.GroupDeps[i] = binary.LittleEndian.Uint32(data[off : off+4])
			off += 4
		}
		for i := 0; i < AsidSlotCount; i++ {
			f.Asid[i].Base = binary.LittleEndian.Uint32(data[off : off+4])
			off += 4
			f.Asid[i].Perm = binary.LittleEndian.Uint32(data[off : off+4])
			off += 4
		}
		t.GroupInit = f

	case TaskTypeTask:
		f := &TaskFields{}
		f.SPC = binary.LittleEndian.Uint64(data[4:12])
		f.GroupID = binary.LittleEndian.Uint16(data[12:14])
		f.GridID = binary.LittleEndian.Uint16(data[14:16])
		f.TaskID = data[16]
		f.ICAWarmupLen = binary.LittleEndian.Uint32(data[20:24])
		off := 24
		for i := range f.GridDim {
			f.GridDim[i] = binary.LittleEndian.Uint16(data[off : off+2])
			off += 2
		}
		for i := range f.GroupDim {
			f.GroupDim[i] = binary.LittleEndian.Uint16(data[off : off+2])
			off += 2
		}
		for i := range f.GroupIDVec {
			f.GroupIDVec[i] = binary.LittleEndian.Uint16(data[off : off+2])
			off += 2
		}
		for i := range f.TaskIDVec {
			f.TaskIDVec[i] = binary.LittleEndian.Uint16(data[off : off+2])
			off += 2
		}
		f.TCBP = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.SP = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.PP = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.DP = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.CP = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.PProfiler = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.PPrint = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.GlobalParam = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.InterruptEn = binary.LittleEndian.Uint32(data[off : off+4])
		t.Task = f
	}

	return nil
}

// Hi returns the upper 32 bits of a 64-bit device address.
func Hi(addr uint64) uint32 { return uint32(addr >> 32) }

// Lo returns the lower 32 bits of a 64-bit device address.
func Lo(addr uint64) uint32 { return uint32(addr) }
