package wire

import "encoding/binary"

// SubgraphDesc is the on-disk record for one compiler-emitted subgraph:
// its text/rodata/dcr views within the graph binary, auxiliary buffer
// sizing, and its dependency list.
type SubgraphDesc struct {
	BSSIdx          uint32
	TextOffset      uint32
	TextSize        uint32
	RodataOffset    uint32
	RodataSize      uint32
	DCROffset       uint32
	DCRSize         uint32
	PrintfifoSize   uint32
	ProfilerBufSize uint32
	PrivateDataSize uint32
	WarmupLen       uint32
	PrecursorCnt    int32 // 0=NONE, 1..4=explicit count, -1=PRE_ALL
	PrivateBufCnt   uint32
}

const SubgraphDescSize = 4 * 13

func MarshalSubgraphDesc(d *SubgraphDesc) []byte {
	buf := make([]byte, SubgraphDescSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.BSSIdx)
	binary.LittleEndian.PutUint32(buf[4:8], d.TextOffset)
	binary.LittleEndian.PutUint32(buf[8:12], d.TextSize)
	binary.LittleEndian.PutUint32(buf[12:16], d.RodataOffset)
	binary.LittleEndian.PutUint32(buf[16:20], d.RodataSize)
	binary.LittleEndian.PutUint32(buf[20:24], d.DCROffset)
	binary.LittleEndian.PutUint32(buf[24:28], d.DCRSize)
	binary.LittleEndian.PutUint32(buf[28:32], d.PrintfifoSize)
	binary.LittleEndian.PutUint32(buf[32:36], d.ProfilerBufSize)
	binary.LittleEndian.PutUint32(buf[36:40], d.PrivateDataSize)
	binary.LittleEndian.PutUint32(buf[40:44], d.WarmupLen)
	binary.LittleEndian.PutUint32(buf[44:48], uint32(d.PrecursorCnt))
	binary.LittleEndian.PutUint32(buf[48:52], d.PrivateBufCnt)
	return buf
}

func UnmarshalSubgraphDesc(data []byte, d *SubgraphDesc) error {
	if len(data) < SubgraphDescSize {
		return ErrShortBuffer
	}
	d.BSSIdx = binary.LittleEndian.Uint32(data[0:4])
	d.TextOffset = binary.LittleEndian.Uint32(data[4:8])
	d.TextSize = binary.LittleEndian.Uint32(data[8:12])
	d.RodataOffset = binary.LittleEndian.Uint32(data[12:16])
	d.RodataSize = binary.LittleEndian.Uint32(data[16:20])
	d.DCROffset = binary.LittleEndian.Uint32(data[20:24])
	d.DCRSize = binary.LittleEndian.Uint32(data[24:28])
	d.PrintfifoSize = binary.LittleEndian.Uint32(data[28:32])
	d.ProfilerBufSize = binary.LittleEndian.Uint32(data[32:36])
	d.PrivateDataSize = binary.LittleEndian.Uint32(data[36:40])
	d.WarmupLen = binary.LittleEndian.Uint32(data[40:44])
	d.PrecursorCnt = int32(binary.LittleEndian.Uint32(data[44:48]))
	d.PrivateBufCnt = binary.LittleEndian.Uint32(data[48:52])
	return nil
}
