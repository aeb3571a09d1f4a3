package parser

import (
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// cursor is a bump allocator for a single output bucket (const_start or
// zerocpy_const_start), advancing as sections are placed.
type cursor struct{ offset uint32 }

func (c *cursor) place(size, align uint32) uint32 {
	if align == 0 {
		align = 1
	}
	aligned := alignUp(c.offset, align)
	c.offset = aligned + size
	return aligned
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

// ParseBSSSection walks one BSS bucket's static and reuse section tables,
// producing normalized section descriptors, I/O tensor lists, and
// parameter-relocation entries.
func ParseBSSSection(data []byte, bssID int) (*BSS, error) {
	r := &reader{data: data}

	var hdr wire.BSSHeader
	hdrBuf, err := r.take(wire.BSSHeaderSize)
	if err != nil {
		return nil, errs.New("ParseBSSSection", errs.CodeInvalidBin, "truncated BSS header")
	}
	if err := wire.UnmarshalBSSHeader(hdrBuf, &hdr); err != nil {
		return nil, errs.New("ParseBSSSection", errs.CodeInvalidBin, err.Error())
	}

	bss := &BSS{StackSize: hdr.StackSize, StackAlignBytes: hdr.StackAlignBytes}

	constCursor := &cursor{}
	zerocpyCursor := &cursor{}

	for i := uint32(0); i < hdr.StaticSectionDescCnt; i++ {
		sd, err := walkSection(r, len(bss.StaticSections))
		if err != nil {
			return nil, err
		}

		target := constCursor
		if len(sd.SubSections) > 0 && sd.SubSections[0].Type == wire.SectionZeroCopyConst {
			target = zerocpyCursor
		}
		sd.RelativeAddr = target.place(sd.Size, sd.AlignInPage)
		sd.HasLoadSrc = true
		sd.LoadSrc = sd.OffsetInFile

		for _, sub := range sd.SubSections {
			for _, off := range sub.RelocOffsetsInRO {
				bss.Relocs = append(bss.Relocs, Reloc{
					OffsetInRO:      off,
					LoadType:        LoadStatic,
					SubType:         sub.Type,
					BufIndex:        len(bss.StaticSections),
					SubIndex:        0,
					OffsetInSection: sub.OffsetInSection,
					AddrMask:        sub.AddrMask,
				})
			}
		}

		bss.StaticSections = append(bss.StaticSections, *sd)
	}

	for i := uint32(0); i < hdr.ReuseSectionDescCnt; i++ {
		sd, err := walkSection(r, len(bss.ReuseSections))
		if err != nil {
			return nil, err
		}
		sd.SlotIndex = len(bss.ReuseSections)

		for subIdx, sub := range sd.SubSections {
			if sub.Type.IsIOType() {
				tensor := IOTensor{
					ID:              sub.ID,
					Size:            sub.Size,
					RefSectionIter:  sd.SlotIndex,
					OffsetInSection: sub.OffsetInSection,
					Scale:           sub.Scale,
					ZeroPoint:       sub.ZeroPoint,
					DataType:        sub.DataType,
				}
				switch sub.Type {
				case wire.SectionReuseInput:
					bss.Inputs = append(bss.Inputs, tensor)
				case wire.SectionReuseOutput:
					bss.Outputs = append(bss.Outputs, tensor)
				case wire.SectionInterDump:
					bss.InterDumps = append(bss.InterDumps, tensor)
				case wire.SectionOutputShape:
					bss.OutputShapes = append(bss.OutputShapes, tensor)
				}
			}

			for _, off := range sub.RelocOffsetsInRO {
				bss.Relocs = append(bss.Relocs, Reloc{
					OffsetInRO:      off,
					LoadType:        LoadReuse,
					SubType:         sub.Type,
					BufIndex:        sd.SlotIndex,
					SubIndex:        subIdx,
					OffsetInSection: sub.OffsetInSection,
					AddrMask:        sub.AddrMask,
				})
			}
		}

		bss.ReuseSections = append(bss.ReuseSections, *sd)
	}

	if err := sortIO(bss.Inputs); err != nil {
		return nil, err
	}
	if err := sortIO(bss.Outputs); err != nil {
		return nil, err
	}
	if err := sortIO(bss.InterDumps); err != nil {
		return nil, err
	}
	if err := sortIO(bss.OutputShapes); err != nil {
		return nil, err
	}

	return bss, nil
}

func walkSection(r *reader, index int) (*SectionDesc, error) {
	var raw wire.SectionDesc
	buf, err := r.take(wire.SectionDescSize)
	if err != nil {
		return nil, errs.New("ParseBSSSection", errs.CodeInvalidBin, "truncated section descriptor")
	}
	if err := wire.UnmarshalSectionDesc(buf, &raw); err != nil {
		return nil, errs.New("ParseBSSSection", errs.CodeInvalidBin, err.Error())
	}

	sd := &SectionDesc{
		Size:         raw.Size,
		AlignInPage:  raw.AlignBytes,
		OffsetInFile: raw.OffsetInFile,
	}

	for i := uint32(0); i < raw.SubSectionCnt; i++ {
		subBuf, err := r.take(wire.SubSectionDescSize)
		if err != nil {
			return nil, errs.New("ParseBSSSection", errs.CodeInvalidBin, "truncated sub-section descriptor")
		}
		var rawSub wire.SubSectionDesc
		if err := wire.UnmarshalSubSectionDesc(subBuf, &rawSub); err != nil {
			return nil, errs.New("ParseBSSSection", errs.CodeInvalidBin, err.Error())
		}

		sub := SubSectionDesc{
			Type:            rawSub.Type,
			Size:            rawSub.Size,
			ID:              rawSub.ID,
			OffsetInSection: rawSub.OffsetInSectionExec,
			AddrMask:        rawSub.AddrMask,
			Scale:           rawSub.Scale,
			ZeroPoint:       rawSub.ZeroPoint,
			DataType:        rawSub.DataType,
		}

		for j := uint32(0); j < rawSub.OffsetInROCnt; j++ {
			offBuf, err := r.take(4)
			if err != nil {
				return nil, errs.New("ParseBSSSection", errs.CodeInvalidBin, "truncated relocation offset")
			}
			sub.RelocOffsetsInRO = append(sub.RelocOffsetsInRO, le32(offBuf))
		}

		sd.SubSections = append(sd.SubSections, sub)
	}

	if len(sd.SubSections) > 0 {
		sd.Type = sd.SubSections[0].Type
	}

	return sd, nil
}

// sortIO enforces the compiler-declared tensor order: after sorting, each
// descriptor's id must equal its position.
func sortIO(tensors []IOTensor) error {
	n := len(tensors)
	for i := range tensors {
		for tensors[i].ID != uint32(i) {
			target := tensors[i].ID
			if target >= uint32(n) {
				return errs.New("sortIO", errs.CodeInvalidBin, "tensor id out of range")
			}
			if tensors[target].ID == target {
				return errs.New("sortIO", errs.CodeInvalidBin, "duplicate tensor id")
			}
			tensors[i], tensors[target] = tensors[target], tensors[i]
		}
	}
	return nil
}
