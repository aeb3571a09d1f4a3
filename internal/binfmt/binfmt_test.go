package binfmt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// buildGraph assembles a minimal valid graph binary: header, section count,
// one section table entry per element of sections, and their bytes.
func buildGraph(t *testing.T, sections map[string][]byte) []byte {
	t.Helper()

	hdr := &wire.Header{
		Magic:      wire.MagicV0005,
		Version:    uint32(wire.GraphVersionV0005) << wire.HeaderVersionShift,
		HeaderSize: wire.HeaderSize,
		Flag:       wire.FlagASIDEn,
	}

	var buf bytes.Buffer
	buf.Write(wire.MarshalHeader(hdr))

	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(sections)))
	buf.Write(countBuf)

	tableOff := buf.Len()
	entrySize := 40
	dataOff := tableOff + len(sections)*entrySize

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}

	entries := make([]byte, 0, len(sections)*entrySize)
	cursor := dataOff
	var payload bytes.Buffer
	for _, name := range names {
		data := sections[name]
		entry := make([]byte, entrySize)
		copy(entry[:32], name)
		binary.LittleEndian.PutUint32(entry[32:36], uint32(cursor))
		binary.LittleEndian.PutUint32(entry[36:40], uint32(len(data)))
		entries = append(entries, entry...)
		payload.Write(data)
		cursor += len(data)
	}
	buf.Write(entries)
	buf.Write(payload.Bytes())

	hdr.FileSize = uint32(buf.Len())
	out := buf.Bytes()
	copy(out[:wire.HeaderSize], wire.MarshalHeader(hdr))
	return out
}

func TestOpenValidGraph(t *testing.T) {
	raw := buildGraph(t, map[string][]byte{
		SectionText:   {1, 2, 3, 4},
		SectionRodata: {5, 6, 7, 8, 9},
	})

	img, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.Version != wire.GraphVersionV0005 {
		t.Errorf("expected V0005, got %v", img.Version)
	}
	if !img.Header.ASIDEnabled() {
		t.Errorf("expected ASID enabled")
	}

	text, err := img.Bytes(SectionText)
	if err != nil {
		t.Fatalf("Bytes(.text): %v", err)
	}
	if !bytes.Equal(text, []byte{1, 2, 3, 4}) {
		t.Errorf("unexpected .text contents: %v", text)
	}
}

func TestOpenRejectsUnknownMagic(t *testing.T) {
	raw := make([]byte, 64)
	copy(raw, []byte("NOTVALID"))

	_, err := Open(bytes.NewReader(raw))
	if !errs.IsCode(err, errs.CodeInvalidBin) {
		t.Fatalf("expected CodeInvalidBin, got %v", err)
	}
}

func TestOpenRejectsMismatchedGraphVersion(t *testing.T) {
	raw := buildGraph(t, map[string][]byte{SectionText: {1}})
	// Corrupt the embedded graph-version field so it no longer agrees
	// with the magic-derived version.
	binary.LittleEndian.PutUint32(raw[12:16], 0xBEEF0000)

	_, err := Open(bytes.NewReader(raw))
	if !errs.IsCode(err, errs.CodeGVersionUnsupported) {
		t.Fatalf("expected CodeGVersionUnsupported, got %v", err)
	}
}

func TestBytesMissingSection(t *testing.T) {
	raw := buildGraph(t, map[string][]byte{SectionText: {1}})
	img, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := img.Bytes(SectionRemap); !errs.IsCode(err, errs.CodeTargetNotFound) {
		t.Errorf("expected CodeTargetNotFound, got %v", err)
	}
}
