package parser

import (
	"testing"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

func buildBSS(t *testing.T, staticSubs int, reuseSubsByType []wire.SectionType) []byte {
	t.Helper()
	var buf []byte

	hdr := &wire.BSSHeader{
		StackSize:            4096,
		StackAlignBytes:       64,
		StaticSectionDescCnt: 0,
		ReuseSectionDescCnt:  0,
	}
	if staticSubs > 0 {
		hdr.StaticSectionDescCnt = 1
	}
	if len(reuseSubsByType) > 0 {
		hdr.ReuseSectionDescCnt = 1
	}
	buf = append(buf, wire.MarshalBSSHeader(hdr)...)

	if staticSubs > 0 {
		sd := &wire.SectionDesc{Size: 128, AlignBytes: 16, SubSectionCnt: uint32(staticSubs)}
		buf = append(buf, wire.MarshalSectionDesc(sd)...)
		for i := 0; i < staticSubs; i++ {
			sub := &wire.SubSectionDesc{Type: wire.SectionStaticWeight, Size: 32, ID: uint32(i)}
			buf = append(buf, wire.MarshalSubSectionDesc(sub)...)
		}
	}

	if len(reuseSubsByType) > 0 {
		sd := &wire.SectionDesc{Size: 256, AlignBytes: 16, SubSectionCnt: uint32(len(reuseSubsByType))}
		buf = append(buf, wire.MarshalSectionDesc(sd)...)
		for i, ty := range reuseSubsByType {
			sub := &wire.SubSectionDesc{Type: ty, Size: 64, ID: uint32(i)}
			buf = append(buf, wire.MarshalSubSectionDesc(sub)...)
		}
	}

	return buf
}

func TestParseBSSSectionBasic(t *testing.T) {
	data := buildBSS(t, 2, []wire.SectionType{wire.SectionReuseInput, wire.SectionReuseInput})

	bss, err := ParseBSSSection(data, 0)
	if err != nil {
		t.Fatalf("ParseBSSSection: %v", err)
	}
	if len(bss.StaticSections) != 1 || len(bss.StaticSections[0].SubSections) != 2 {
		t.Fatalf("unexpected static sections: %+v", bss.StaticSections)
	}
	if len(bss.Inputs) != 2 {
		t.Fatalf("expected 2 input tensors, got %d", len(bss.Inputs))
	}
	for i, in := range bss.Inputs {
		if in.ID != uint32(i) {
			t.Errorf("sortIO invariant violated: tensors[%d].id = %d", i, in.ID)
		}
	}
}

func TestSortIORejectsOutOfRangeID(t *testing.T) {
	tensors := []IOTensor{{ID: 0}, {ID: 5}}
	if err := sortIO(tensors); !errs.IsCode(err, errs.CodeInvalidBin) {
		t.Fatalf("expected CodeInvalidBin, got %v", err)
	}
}

func TestSortIOPermutesToIdentity(t *testing.T) {
	tensors := []IOTensor{{ID: 2}, {ID: 0}, {ID: 1}}
	if err := sortIO(tensors); err != nil {
		t.Fatalf("sortIO: %v", err)
	}
	for i, tensor := range tensors {
		if tensor.ID != uint32(i) {
			t.Errorf("tensors[%d].id = %d, want %d", i, tensor.ID, i)
		}
	}
}

func TestParseRemapSection(t *testing.T) {
	var buf []byte
	countBuf := make([]byte, 4)
	countBuf[0] = 2
	buf = append(buf, countBuf...)
	buf = append(buf, wire.MarshalRemapEntry(&wire.RemapEntry{SrcOffset: 1, DstOffset: 2, Size: 3})...)
	buf = append(buf, wire.MarshalRemapEntry(&wire.RemapEntry{SrcOffset: 4, DstOffset: 5, Size: 6})...)

	entries, err := ParseRemapSection(buf)
	if err != nil {
		t.Fatalf("ParseRemapSection: %v", err)
	}
	if len(entries) != 2 || entries[1].SrcOffset != 4 {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestParseRemapSectionTruncated(t *testing.T) {
	buf := []byte{2, 0, 0, 0}
	if _, err := ParseRemapSection(buf); !errs.IsCode(err, errs.CodeInvalidBin) {
		t.Fatalf("expected CodeInvalidBin for truncated remap, got %v", err)
	}
}
