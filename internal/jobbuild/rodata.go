package jobbuild

import (
	"encoding/binary"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/parser"
)

// resolveRelocAddr computes the physical address a single parameter
// relocation must patch in: a static reloc points at the subgraph's shared
// weight buffer, a reuse reloc points at the allocated reuse-section buffer.
func (j *Job) resolveRelocAddr(bssIdx int, reloc parser.Reloc) (uint64, error) {
	switch reloc.LoadType {
	case parser.LoadStatic:
		weights := j.graph.WeightBufferFor(bssIdx)
		if weights == nil {
			return 0, errs.New("jobbuild.resolveRelocAddr", errs.CodeInvalidBin, "missing weight buffer")
		}
		bss := j.graph.BSSList[bssIdx]
		if reloc.BufIndex < 0 || reloc.BufIndex >= len(bss.StaticSections) {
			return 0, errs.New("jobbuild.resolveRelocAddr", errs.CodeInvalidBin, "static section index out of range")
		}
		sd := bss.StaticSections[reloc.BufIndex]
		return weights.Base + uint64(sd.RelativeAddr) + uint64(reloc.OffsetInSection), nil

	case parser.LoadReuse:
		key := reuseKey{BSSIdx: bssIdx, SectionID: reloc.BufIndex}
		if pa, marked, err := j.dmaBufPA(key); marked {
			if err != nil {
				return 0, errs.Wrap("jobbuild.resolveRelocAddr", err)
			}
			return pa + uint64(reloc.OffsetInSection), nil
		}

		buf := j.ReuseBuffer(bssIdx, reloc.BufIndex)
		if buf == nil {
			return 0, errs.New("jobbuild.resolveRelocAddr", errs.CodeInvalidBin, "missing reuse buffer")
		}
		return buf.Base + uint64(reloc.OffsetInSection), nil

	default:
		return 0, errs.New("jobbuild.resolveRelocAddr", errs.CodeInvalidBin, "unknown load type")
	}
}

// patchWord rewrites the 4 bytes at offset within buf, preserving every bit
// outside addrMask from what was already there: (pa & mask) | (existing &
// ~mask).
func patchWord(buf []byte, offset uint32, pa uint64, mask uint32) error {
	if uint64(offset)+4 > uint64(len(buf)) {
		return errs.New("jobbuild.patchWord", errs.CodeInvalidBin, "relocation offset out of range")
	}
	existing := binary.LittleEndian.Uint32(buf[offset : offset+4])
	patched := (uint32(pa) & mask) | (existing &^ mask)
	binary.LittleEndian.PutUint32(buf[offset:offset+4], patched)
	return nil
}

// setupRodata walks every subgraph's relocation list and patches the
// resolved physical address of each static/reuse reference into the job's
// private rodata copy (and descriptor copy, when the subgraph carries one),
// then patches in each subgraph's own private-buffer addresses via its
// private_buffers_map.
func (j *Job) setupRodata(rodata, descriptor []byte) error {
	for _, sg := range j.graph.Subgraphs {
		bss := j.graph.BSSList[sg.BSSIdx]
		for _, reloc := range bss.Relocs {
			pa, err := j.resolveRelocAddr(sg.BSSIdx, reloc)
			if err != nil {
				return errs.Wrap("jobbuild.setupRodata", err)
			}

			roOff := sg.RodataOffset + reloc.OffsetInRO
			if roOff < sg.RodataOffset+sg.RodataSize {
				if err := patchWord(rodata, roOff, pa, reloc.AddrMask); err != nil {
					return errs.Wrap("jobbuild.setupRodata", err)
				}
			}

			if sg.DCRSize > 0 {
				dcrOff := sg.DCROffset + reloc.OffsetInRO
				if dcrOff < sg.DCROffset+sg.DCRSize {
					if err := patchWord(descriptor, dcrOff, pa, reloc.AddrMask); err != nil {
						return errs.Wrap("jobbuild.setupRodata", err)
					}
				}
			}
		}

		if err := j.patchPrivateBuffers(sg, rodata); err != nil {
			return err
		}
	}

	return nil
}

// patchPrivateBuffers writes each subgraph's allocated private-buffer base
// address into the rodata slot named by the matching private_buffers_map
// entry.
func (j *Job) patchPrivateBuffers(sg graph.Subgraph, rodata []byte) error {
	buf := j.privBufs[sg.ID]
	if buf == nil {
		return nil
	}
	for _, slot := range sg.PrivateBuffersMap {
		off := sg.RodataOffset + slot
		if err := patchWord(rodata, off, buf.Base, 0xFFFFFFFF); err != nil {
			return errs.Wrap("jobbuild.patchPrivateBuffers", err)
		}
	}
	return nil
}

// flushRodata writes the relocated rodata/descriptor copies back into their
// device buffers.
func (j *Job) flushRodata(rodataBuf, descriptorBuf *memmgr.Buffer, rodata, descriptor []byte) error {
	if rodataBuf != nil {
		if err := j.mm.Write(rodataBuf, 0, rodata); err != nil {
			return errs.Wrap("jobbuild.flushRodata", err)
		}
	}
	if descriptorBuf != nil {
		if err := j.mm.Write(descriptorBuf, 0, descriptor); err != nil {
			return errs.Wrap("jobbuild.flushRodata", err)
		}
	}
	return nil
}
