// Package wire defines the on-disk and on-device binary layouts for the
// NPU v3.1 graph binary and task control block chain, with explicit
// little-endian marshal/unmarshal functions for every record type.
package wire

import (
	"encoding/binary"
	"unsafe"
)

// MagicV0005 is the text magic identifying a v3.1 graph binary.
var MagicV0005 = [8]byte{'A', 'I', 'P', 'U', 'V', '0', '0', '5'}

// ELFIdentifier is the first 4 bytes of the ELF identifier magic, used for
// the alternate ELF_V0 graph encoding.
var ELFIdentifier = [4]byte{0x7f, 'E', 'L', 'F'}

// Graph version codes.
type GraphVersion uint32

const (
	GraphVersionUnknown GraphVersion = 0
	GraphVersionV0005   GraphVersion = 1
	GraphVersionELFV0   GraphVersion = 2
)

// Header flag bits.
const (
	FlagASIDMask  = 0x0000000F // bits 0..3
	FlagASIDEn    = 1 << 4
	FlagRemapEn   = 1 << 8
	FlagSRAMEn    = 1 << 12
)

// HeaderVersionShift/Mask decode the graph version carried in the high
// bits of Header.Version.
const (
	HeaderVersionShift = 16
	HeaderVersionMask  = 0xFFFF0000
)

// Header is the fixed graph-binary top header.
type Header struct {
	Magic        [8]byte
	Device       uint32 // packed arch/version/config/revision
	Version      uint32 // graph version in the high bits
	BuildVersion uint32
	HeaderSize   uint32
	FileSize     uint32
	Type         uint32
	Flag         uint32
}

// HeaderSize is the marshaled size of Header in bytes.
const HeaderSize = 8 + 4*7

var _ [HeaderSize]byte = [unsafe.Sizeof(Header{})]byte{}

// MarshalHeader encodes h into a HeaderSize-byte little-endian buffer.
func MarshalHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Device)
	binary.LittleEndian.PutUint32(buf[12:16], h.Version)
	binary.LittleEndian.PutUint32(buf[16:20], h.BuildVersion)
	binary.LittleEndian.PutUint32(buf[20:24], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[24:28], h.FileSize)
	binary.LittleEndian.PutUint32(buf[28:32], h.Type)
	binary.LittleEndian.PutUint32(buf[32:36], h.Flag)
	return buf
}

// UnmarshalHeader decodes a HeaderSize-byte buffer into h.
func UnmarshalHeader(data []byte, h *Header) error {
	if len(data) < HeaderSize {
		return ErrShortBuffer
	}
	copy(h.Magic[:], data[0:8])
	h.Device = binary.LittleEndian.Uint32(data[8:12])
	h.Version = binary.LittleEndian.Uint32(data[12:16])
	h.BuildVersion = binary.LittleEndian.Uint32(data[16:20])
	h.HeaderSize = binary.LittleEndian.Uint32(data[20:24])
	h.FileSize = binary.LittleEndian.Uint32(data[24:28])
	h.Type = binary.LittleEndian.Uint32(data[28:32])
	h.Flag = binary.LittleEndian.Uint32(data[32:36])
	return nil
}

// ASIDFlag returns the header's low ASID selector bits.
func (h *Header) ASIDFlag() uint32 { return h.Flag & FlagASIDMask }

// ASIDEnabled reports whether ASID remapping is enabled.
func (h *Header) ASIDEnabled() bool { return h.Flag&FlagASIDEn != 0 }

// RemapEnabled reports whether the remap section is present/active.
func (h *Header) RemapEnabled() bool { return h.Flag&FlagRemapEn != 0 }

// SRAMEnabled reports whether on-chip SRAM backing is enabled.
func (h *Header) SRAMEnabled() bool { return h.Flag&FlagSRAMEn != 0 }

// ErrShortBuffer is returned by Unmarshal* functions given too few bytes.
var ErrShortBuffer = shortBufferError{}

type shortBufferError struct{}

func (shortBufferError) Error() string { return "wire: buffer too short" }
