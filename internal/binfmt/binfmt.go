// Package binfmt implements the NPU v3.1 graph binary reader: magic/version
// detection, header decode, and named section views bound to a seekable
// backing store.
package binfmt

import (
	"encoding/binary"
	"io"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// Well-known section names.
const (
	SectionText        = ".text"
	SectionRodata      = ".rodata"
	SectionDCR         = ".dcr"
	SectionBSS         = ".bss"
	SectionRemap       = ".remap"
	SectionGMConfig    = ".note.aipu.gmconfig"
	SectionSegMMU      = ".note.aipu.segmmu"
	SectionGlobalParam = ".note.aipu.globalparam"
)

// WeightSection returns the section name for the n-th weight section
// (.weight0, .weight1, ...).
func WeightSection(n int) string {
	return ".weight" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// sectionTableEntrySize is the on-disk size of one section-table record:
// a fixed 32-byte name field plus offset/size u32s.
const sectionTableEntrySize = 32 + 4 + 4

// Section is a named byte range within the backing file.
type Section struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Image is a parsed, not-yet-walked view over a graph binary: its header
// and named section table, bound to the backing reader for lazy byte
// access.
type Image struct {
	Header   wire.Header
	Version  wire.GraphVersion
	Sections map[string]Section

	r io.ReaderAt
}

// Open reads and validates a graph binary's identifier, header, and
// section table from r.
func Open(r io.ReaderAt) (*Image, error) {
	ident := make([]byte, 16)
	if _, err := r.ReadAt(ident, 0); err != nil {
		return nil, errs.Wrap("binfmt.Open", err)
	}

	var version wire.GraphVersion
	switch {
	case string(ident[:8]) == string(wire.MagicV0005[:]):
		version = wire.GraphVersionV0005
	case ident[0] == wire.ELFIdentifier[0] && ident[1] == wire.ELFIdentifier[1] &&
		ident[2] == wire.ELFIdentifier[2] && ident[3] == wire.ELFIdentifier[3]:
		version = wire.GraphVersionELFV0
	default:
		return nil, errs.New("binfmt.Open", errs.CodeInvalidBin, "unrecognized graph identifier")
	}

	hdrBuf := make([]byte, wire.HeaderSize)
	if _, err := r.ReadAt(hdrBuf, 0); err != nil {
		return nil, errs.Wrap("binfmt.Open", err)
	}
	var hdr wire.Header
	if err := wire.UnmarshalHeader(hdrBuf, &hdr); err != nil {
		return nil, errs.Wrap("binfmt.Open", err)
	}

	if !validGraphVersion(&hdr, version) {
		return nil, errs.New("binfmt.Open", errs.CodeGVersionUnsupported,
			"unsupported graph version")
	}

	img := &Image{Header: hdr, Version: version, Sections: map[string]Section{}, r: r}
	if err := img.readSectionTable(); err != nil {
		return nil, err
	}
	return img, nil
}

// validGraphVersion accepts only V0005 and ELF_V0, and requires the graph
// version encoded in the header's own Version field (high bits) to agree
// with the version the magic identified.
func validGraphVersion(hdr *wire.Header, version wire.GraphVersion) bool {
	switch version {
	case wire.GraphVersionV0005, wire.GraphVersionELFV0:
	default:
		return false
	}
	encoded := wire.GraphVersion((hdr.Version & wire.HeaderVersionMask) >> wire.HeaderVersionShift)
	return encoded == version
}

func (img *Image) readSectionTable() error {
	countBuf := make([]byte, 4)
	if _, err := img.r.ReadAt(countBuf, int64(img.Header.HeaderSize)); err != nil {
		return errs.Wrap("binfmt.readSectionTable", err)
	}
	count := binary.LittleEndian.Uint32(countBuf)

	base := int64(img.Header.HeaderSize) + 4
	entry := make([]byte, sectionTableEntrySize)
	for i := uint32(0); i < count; i++ {
		off := base + int64(i)*sectionTableEntrySize
		if _, err := img.r.ReadAt(entry, off); err != nil {
			return errs.Wrap("binfmt.readSectionTable", err)
		}
		name := cstring(entry[:32])
		secOff := binary.LittleEndian.Uint32(entry[32:36])
		secSize := binary.LittleEndian.Uint32(entry[36:40])
		img.Sections[name] = Section{Name: name, Offset: secOff, Size: secSize}
	}
	return nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Bytes reads the full contents of the named section.
func (img *Image) Bytes(name string) ([]byte, error) {
	sec, ok := img.Sections[name]
	if !ok {
		return nil, errs.New("binfmt.Bytes", errs.CodeTargetNotFound, "section not present: "+name)
	}
	buf := make([]byte, sec.Size)
	if sec.Size == 0 {
		return buf, nil
	}
	if _, err := img.r.ReadAt(buf, int64(sec.Offset)); err != nil {
		return nil, errs.Wrap("binfmt.Bytes", err)
	}
	return buf, nil
}

// Has reports whether the named section is present.
func (img *Image) Has(name string) bool {
	_, ok := img.Sections[name]
	return ok
}
