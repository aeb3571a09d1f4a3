package jobbuild

import (
	"encoding/binary"
	"testing"

	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/device/sim"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/parser"
	"github.com/stretchr/testify/require"
)

// dmaBufSimDevice wraps the simulator back end with a fake dma-buf import
// that hands back a fixed imported physical address.
type dmaBufSimDevice struct {
	*sim.Device
	importedPA uint64
}

func (d *dmaBufSimDevice) IoctlCmd(op device.IoctlOp, payload []byte) ([]byte, error) {
	switch op {
	case device.IoctlDMABufImport:
		binary.LittleEndian.PutUint64(payload[16:24], d.importedPA)
		return payload, nil
	case device.IoctlDMABufRelease:
		return payload, nil
	default:
		return nil, errs.New("dmaBufSimDevice.IoctlCmd", errs.CodeInvalidOp, "unsupported")
	}
}

func newDMABufTestGraph(t *testing.T) (*graph.Graph, *memmgr.Manager) {
	t.Helper()
	g, mm := newTestGraph(t, []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrecursorCnt: int32(graph.PrecursorNone)}},
	})
	g.BSSList[0].Relocs = []parser.Reloc{
		{LoadType: parser.LoadReuse, BufIndex: 0, OffsetInRO: 0, AddrMask: 0xFFFFFFFF},
	}
	g.Subgraphs[0].RodataSize = 4
	return g, mm
}

func TestResolveRelocAddrUsesImportedDMABufPA(t *testing.T) {
	g, mm := newDMABufTestGraph(t)
	dev := &dmaBufSimDevice{Device: newTestDevice(), importedPA: 0xDEADBEEF000}

	j, err := New(g, mm, dev, Config{DMABufImports: map[int]DMABufImport{0: {FD: 7, Size: 4096}}})
	require.NoError(t, err)

	pa, err := j.resolveRelocAddr(0, parser.Reloc{LoadType: parser.LoadReuse, BufIndex: 0})
	require.NoError(t, err)
	require.Equal(t, uint64(0xDEADBEEF000), pa)

	require.NoError(t, j.Destroy())
}

func TestSetupDMABufsRejectsSharedIO(t *testing.T) {
	g, mm := newDMABufTestGraph(t)
	g.BSSList[0].Outputs = []parser.IOTensor{{ID: 0, RefSectionIter: 0}}
	dev := &dmaBufSimDevice{Device: newTestDevice(), importedPA: 0x1000}

	_, err := New(g, mm, dev, Config{DMABufImports: map[int]DMABufImport{0: {FD: 7, Size: 4096}}})
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeDMABufSharedIO))
}
