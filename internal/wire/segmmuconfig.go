package wire

import (
	"encoding/binary"
	"unsafe"
)

// SegMMUConfigRecord is one core's segment-MMU configuration, as stored
// in the .note.aipu.segmmu section.
type SegMMUConfigRecord struct {
	NumCores uint32
	Shared   uint32
}

// SegMMUConfigRecordSize is the marshaled size of SegMMUConfigRecord in
// bytes.
const SegMMUConfigRecordSize = 4 * 2

var _ [SegMMUConfigRecordSize]byte = [unsafe.Sizeof(SegMMUConfigRecord{})]byte{}

func MarshalSegMMUConfigRecord(r *SegMMUConfigRecord) []byte {
	buf := make([]byte, SegMMUConfigRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.NumCores)
	binary.LittleEndian.PutUint32(buf[4:8], r.Shared)
	return buf
}

func UnmarshalSegMMUConfigRecord(data []byte, r *SegMMUConfigRecord) error {
	if len(data) < SegMMUConfigRecordSize {
		return ErrShortBuffer
	}
	r.NumCores = binary.LittleEndian.Uint32(data[0:4])
	r.Shared = binary.LittleEndian.Uint32(data[4:8])
	return nil
}
