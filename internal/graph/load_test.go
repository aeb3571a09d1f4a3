package graph

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/npu31/umd/internal/binfmt"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/wire"
)

func buildMinimalGraph(t *testing.T, sections map[string][]byte) []byte {
	t.Helper()

	hdr := &wire.Header{
		Magic:      wire.MagicV0005,
		Device:     (0x01 << 24) | (0x02 << 16),
		Version:    uint32(wire.GraphVersionV0005) << wire.HeaderVersionShift,
		HeaderSize: wire.HeaderSize,
		Flag:       0,
	}

	var buf bytes.Buffer
	buf.Write(wire.MarshalHeader(hdr))

	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(sections)))
	buf.Write(countBuf)

	entrySize := 40
	tableOff := buf.Len()
	dataOff := tableOff + len(sections)*entrySize

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}

	var entries bytes.Buffer
	var payload bytes.Buffer
	cursor := dataOff
	for _, name := range names {
		data := sections[name]
		entry := make([]byte, entrySize)
		copy(entry[:32], name)
		binary.LittleEndian.PutUint32(entry[32:36], uint32(cursor))
		binary.LittleEndian.PutUint32(entry[36:40], uint32(len(data)))
		entries.Write(entry)
		payload.Write(data)
		cursor += len(data)
	}
	buf.Write(entries.Bytes())
	buf.Write(payload.Bytes())

	hdr.FileSize = uint32(buf.Len())
	out := buf.Bytes()
	copy(out[:wire.HeaderSize], wire.MarshalHeader(hdr))
	return out
}

func newTestMM() *memmgr.Manager {
	return memmgr.NewManager(0x1000, 1<<24, 0x10000000, 1<<24)
}

func TestLoadGraphBasicSections(t *testing.T) {
	bssHdr := &wire.BSSHeader{StackSize: 4096, StackAlignBytes: 16}
	raw := buildMinimalGraph(t, map[string][]byte{
		".text":   {1, 2, 3},
		".rodata": {4, 5, 6, 7},
		".bss":    wire.MarshalBSSHeader(bssHdr),
	})

	g, err := Load(bytes.NewReader(raw), newTestMM())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(g.Text, []byte{1, 2, 3}) {
		t.Errorf("unexpected text: %v", g.Text)
	}
	if len(g.BSSList) != 1 {
		t.Fatalf("expected 1 BSS bucket, got %d", len(g.BSSList))
	}
	if g.Hardware.Arch != 0x01 || g.Hardware.Version != 0x02 {
		t.Errorf("unexpected hardware info: %+v", g.Hardware)
	}
}

func TestLoadGraphWithWeights(t *testing.T) {
	bssHdr := &wire.BSSHeader{StaticSectionDescCnt: 1}
	var bssBytes bytes.Buffer
	bssBytes.Write(wire.MarshalBSSHeader(bssHdr))
	sd := &wire.SectionDesc{Size: 256, AlignBytes: 16, SubSectionCnt: 1}
	bssBytes.Write(wire.MarshalSectionDesc(sd))
	sub := &wire.SubSectionDesc{Type: wire.SectionStaticWeight, Size: 256}
	bssBytes.Write(wire.MarshalSubSectionDesc(sub))

	raw := buildMinimalGraph(t, map[string][]byte{".bss": bssBytes.Bytes()})

	g, err := Load(bytes.NewReader(raw), newTestMM())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g.Weights) != 1 {
		t.Fatalf("expected 1 weight buffer, got %d", len(g.Weights))
	}
	wb := g.WeightBufferFor(0)
	if wb == nil || wb.ASIDBase != 0x10000000 {
		t.Errorf("expected weight buffer in ASID1, got %+v", wb)
	}
}

func TestLoadGraphParsesGMConfigAndSegMMU(t *testing.T) {
	var gmBytes bytes.Buffer
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, 1)
	gmBytes.Write(countBuf)
	gmBytes.Write(wire.MarshalGMConfigRecord(&wire.GMConfigRecord{
		Flags:       wire.GMFlagEnabled | wire.GMFlagNeedsRemap,
		SizeBytesLo: 1 << 20,
	}))

	var segBytes bytes.Buffer
	binary.LittleEndian.PutUint32(countBuf, 1)
	segBytes.Write(countBuf)
	segBytes.Write(wire.MarshalSegMMUConfigRecord(&wire.SegMMUConfigRecord{NumCores: 4, Shared: 1}))

	raw := buildMinimalGraph(t, map[string][]byte{
		binfmt.SectionGMConfig: gmBytes.Bytes(),
		binfmt.SectionSegMMU:   segBytes.Bytes(),
	})

	g, err := Load(bytes.NewReader(raw), newTestMM())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g.GMConfigs) != 1 || !g.GMConfigs[0].Enabled || g.GMConfigs[0].SizeBytes != 1<<20 {
		t.Fatalf("unexpected GMConfigs: %+v", g.GMConfigs)
	}
	if len(g.SegMMU) != 1 || g.SegMMU[0].NumCores != 4 || !g.SegMMU[0].Shared {
		t.Fatalf("unexpected SegMMU: %+v", g.SegMMU)
	}
	if g.GMBuf == nil || g.GMBuf.Size != 1<<20 {
		t.Fatalf("expected GM buffer of size 1<<20, got %+v", g.GMBuf)
	}
}
