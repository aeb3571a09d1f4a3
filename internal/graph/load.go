package graph

import (
	"io"

	"github.com/npu31/umd/internal/binfmt"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/parser"
)

// deviceWordMasks decode the packed arch/version/config/revision word in
// the graph header's Device field.
const (
	deviceArchMask     = 0xFF000000
	deviceArchShift    = 24
	deviceVersionMask  = 0x00FF0000
	deviceVersionShift = 16
	deviceConfigMask   = 0x0000FF00
	deviceConfigShift  = 8
	deviceRevisionMask = 0x000000FF
)

// subgraphTableSection is this driver's own name for the subgraph
// metadata table (see internal/wire/subgraph.go). The graph binary format
// leaves this table's encoding unspecified, so this section name and
// layout are an addition rather than a mandated one.
const subgraphTableSection = ".note.aipu.subgraph"

// Load opens and fully parses a graph binary, loading its weight buffers
// into mm, and returns the normalized Graph.
func Load(r io.ReaderAt, mm *memmgr.Manager) (*Graph, error) {
	img, err := binfmt.Open(r)
	if err != nil {
		return nil, errs.Wrap("graph.Load", err)
	}

	g := &Graph{mm: mm}
	g.Hardware = HardwareInfo{
		Arch:     (img.Header.Device & deviceArchMask) >> deviceArchShift,
		Version:  (img.Header.Device & deviceVersionMask) >> deviceVersionShift,
		Config:   (img.Header.Device & deviceConfigMask) >> deviceConfigShift,
		Revision: img.Header.Device & deviceRevisionMask,
	}

	if g.Text, err = sectionOrEmpty(img, binfmt.SectionText); err != nil {
		return nil, err
	}
	if g.Rodata, err = sectionOrEmpty(img, binfmt.SectionRodata); err != nil {
		return nil, err
	}
	if g.Descriptor, err = sectionOrEmpty(img, binfmt.SectionDCR); err != nil {
		return nil, err
	}
	if img.Has(binfmt.SectionGlobalParam) {
		if g.GlobalParam, err = img.Bytes(binfmt.SectionGlobalParam); err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
	}

	bssBytes, err := sectionOrEmpty(img, binfmt.SectionBSS)
	if err != nil {
		return nil, err
	}
	if len(bssBytes) > 0 {
		bss, err := parser.ParseBSSSection(bssBytes, 0)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		g.BSSList = append(g.BSSList, bss)
	}

	if img.Has(binfmt.SectionRemap) {
		remapBytes, err := img.Bytes(binfmt.SectionRemap)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		remaps, err := parser.ParseRemapSection(remapBytes)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		g.Remaps = remaps
	}

	if img.Has(binfmt.SectionGMConfig) {
		gmBytes, err := img.Bytes(binfmt.SectionGMConfig)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		parsed, err := parser.ParseGMConfigSection(gmBytes)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		for _, c := range parsed {
			g.GMConfigs = append(g.GMConfigs, GMConfig(c))
		}
	}

	if img.Has(binfmt.SectionSegMMU) {
		segBytes, err := img.Bytes(binfmt.SectionSegMMU)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		parsed, err := parser.ParseSegMMUSection(segBytes)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		for _, c := range parsed {
			g.SegMMU = append(g.SegMMU, SegMMUConfig(c))
		}
	}

	if img.Has(subgraphTableSection) {
		sgBytes, err := img.Bytes(subgraphTableSection)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		parsed, err := parser.ParseSubgraphTable(sgBytes)
		if err != nil {
			return nil, errs.Wrap("graph.Load", err)
		}
		for i, sg := range parsed {
			g.Subgraphs = append(g.Subgraphs, Subgraph{ID: i, Subgraph: sg})
		}
	}

	if err := g.loadWeights(); err != nil {
		return nil, err
	}
	if err := g.loadText(); err != nil {
		return nil, err
	}
	if err := g.loadGM(); err != nil {
		return nil, err
	}

	return g, nil
}

// loadGM allocates the graph-memory scratch region described by the
// first enabled GMConfig, shared read-write across every job the same way
// the text buffer is shared read-only.
func (g *Graph) loadGM() error {
	var size uint64
	for _, gm := range g.GMConfigs {
		if gm.Enabled && gm.SizeBytes > size {
			size = gm.SizeBytes
		}
	}
	if size == 0 {
		return nil
	}
	buf, err := g.mm.Malloc(size, 0, "gm", 0)
	if err != nil {
		return errs.Wrap("graph.loadGM", err)
	}
	g.GMBuf = buf
	return nil
}

// loadText copies the graph's instruction text into device memory once;
// every job's TASK records point their spc field at this shared buffer.
func (g *Graph) loadText() error {
	if len(g.Text) == 0 {
		return nil
	}
	buf, err := g.mm.Malloc(uint64(len(g.Text)), 0, "text", 1)
	if err != nil {
		return errs.Wrap("graph.loadText", err)
	}
	if err := g.mm.Write(buf, 0, g.Text); err != nil {
		return errs.Wrap("graph.loadText", err)
	}
	g.TextBuf = buf
	return nil
}

func sectionOrEmpty(img *binfmt.Image, name string) ([]byte, error) {
	if !img.Has(name) {
		return nil, nil
	}
	b, err := img.Bytes(name)
	if err != nil {
		return nil, errs.Wrap("graph.Load", err)
	}
	return b, nil
}

// loadWeights allocates one weight buffer in ASID1 per BSS bucket that has
// static sections, sized to the highest RelativeAddr+Size among them. The
// sections' bytes are not copied into it, and no separate zero-copy-const
// buffer is allocated.
func (g *Graph) loadWeights() error {
	for i, bss := range g.BSSList {
		var size uint64
		for _, sd := range bss.StaticSections {
			if end := uint64(sd.RelativeAddr) + uint64(sd.Size); end > size {
				size = end
			}
		}
		if size == 0 {
			continue
		}

		buf, err := g.mm.Malloc(size, 0, "weight", 1)
		if err != nil {
			return errs.Wrap("graph.loadWeights", err)
		}
		g.Weights = append(g.Weights, WeightBuffer{BSSIdx: i, Buf: buf})
	}
	return nil
}

// WeightBufferFor returns the weight buffer for the given BSS index, if
// any was loaded.
func (g *Graph) WeightBufferFor(bssIdx int) *memmgr.Buffer {
	for _, w := range g.Weights {
		if w.BSSIdx == bssIdx {
			return w.Buf
		}
	}
	return nil
}
