package npu31

import (
	"io"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
)

// Graph is a parsed graph binary: its sections, subgraph list, and the
// weight buffers shared by every Job created from it. Load it once per
// binary and build as many Jobs from it as needed.
type Graph struct {
	inner *graph.Graph
	mm    *memmgr.Manager
}

// LoadGraph parses a graph binary read through r, loading its weight
// buffers into device memory carved from opts' ASID layout.
func LoadGraph(r io.ReaderAt, opts Options) (*Graph, error) {
	mm := memmgr.NewManager(opts.ASID0Base, opts.ASID0Size, opts.ASID1Base, opts.ASID1Size)
	g, err := graph.Load(r, mm)
	if err != nil {
		return nil, errs.Wrap("npu31.LoadGraph", err)
	}
	return &Graph{inner: g, mm: mm}, nil
}

// Arch returns the target architecture code encoded in the graph header.
func (g *Graph) Arch() uint32 {
	return g.inner.Hardware.Arch
}

// SubgraphCount returns the number of subgraphs the graph's chain builds.
func (g *Graph) SubgraphCount() int {
	return len(g.inner.Subgraphs)
}
