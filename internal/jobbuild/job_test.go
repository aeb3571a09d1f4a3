package jobbuild

import (
	"testing"
	"time"

	"github.com/npu31/umd/internal/device/sim"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/parser"
	"github.com/npu31/umd/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, subgraphs []graph.Subgraph) (*graph.Graph, *memmgr.Manager) {
	t.Helper()
	mm := memmgr.NewManager(0x1000, 1<<20, 0x10000000, 1<<20)

	bss := &parser.BSS{
		StackSize:       4096,
		StackAlignBytes: 16,
		ReuseSections: []parser.SectionDesc{
			{Size: 64, Type: wire.SectionReuseInput},
		},
	}

	g := &graph.Graph{
		BSSList:   []*parser.BSS{bss},
		Subgraphs: subgraphs,
		Text:      []byte{0xAA, 0xBB, 0xCC, 0xDD},
	}

	textBuf, err := mm.Malloc(uint64(len(g.Text)), 0, "text", 1)
	require.NoError(t, err)
	require.NoError(t, mm.Write(textBuf, 0, g.Text))
	g.TextBuf = textBuf

	return g, mm
}

func newTestDevice() *sim.Device {
	return sim.New(sim.Config{CoreCount: 4, PartitionCount: 1, ClusterID: 0})
}

func TestNewJobBuildsFullChain(t *testing.T) {
	subgraphs := []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrivateDataSize: 128, PrecursorCnt: int32(graph.PrecursorNone)}},
		{ID: 1, Subgraph: parser.Subgraph{BSSIdx: 0, PrivateDataSize: 128, PrecursorCnt: 1, Precursors: []int{0}}},
	}
	g, mm := newTestGraph(t, subgraphs)
	dev := newTestDevice()

	j, err := New(g, mm, dev, Config{})
	require.NoError(t, err)
	require.Equal(t, StateBound, j.State())

	wantCount := chainLen(len(subgraphs))
	require.Equal(t, wantCount, len(j.backupTCB)/wire.TCBSize)

	var first wire.TCB
	require.NoError(t, wire.Unmarshal(j.backupTCB[:wire.TCBSize], &first))
	require.Equal(t, wire.TaskTypeGridInit, first.Type())
	require.Equal(t, uint32(len(subgraphs)), first.GridInit.GroupNum)

	var group1 wire.TCB
	group1Off := (1 + (TasksPerSubgraph + 1)) * wire.TCBSize
	require.NoError(t, wire.Unmarshal(j.backupTCB[group1Off:group1Off+wire.TCBSize], &group1))
	require.Equal(t, wire.TaskTypeGroupInit, group1.Type())
	require.NotZero(t, group1.GroupInit.GroupDeps[0]&wire.EnGroupDepend)
}

func TestLastTaskCarriesGridEnd(t *testing.T) {
	subgraphs := []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrecursorCnt: int32(graph.PrecursorNone)}},
	}
	g, mm := newTestGraph(t, subgraphs)
	dev := newTestDevice()

	j, err := New(g, mm, dev, Config{})
	require.NoError(t, err)

	lastTaskOff := (1 + 1 + (TasksPerSubgraph - 1)) * wire.TCBSize
	var last wire.TCB
	require.NoError(t, wire.Unmarshal(j.backupTCB[lastTaskOff:lastTaskOff+wire.TCBSize], &last))
	require.NotZero(t, last.Flag&wire.EndTypeGroupEnd)
	require.NotZero(t, last.Flag&wire.EndTypeGridEnd)
}

func TestPreAllResetsPrivateBufferAccumulator(t *testing.T) {
	subgraphs := []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrivateDataSize: 4096, PrecursorCnt: int32(graph.PrecursorNone)}},
		{ID: 1, Subgraph: parser.Subgraph{BSSIdx: 0, PrivateDataSize: 4096, PrecursorCnt: int32(graph.PrecursorAll)}},
		{ID: 2, Subgraph: parser.Subgraph{BSSIdx: 0, PrivateDataSize: 4096, PrecursorCnt: int32(graph.PrecursorAll)}},
	}
	plan := buildAllocationPlan((&graph.Graph{BSSList: []*parser.BSS{{}}, Subgraphs: subgraphs}), Config{})
	require.Equal(t, uint64(0), plan.privOffsets[0])
	require.Equal(t, uint64(4096), plan.privOffsets[1])
	require.Equal(t, uint64(0), plan.privOffsets[2])
}

func TestInvalidPrecursorCountFails(t *testing.T) {
	subgraphs := []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrecursorCnt: 5}},
	}
	g, mm := newTestGraph(t, subgraphs)
	dev := newTestDevice()

	_, err := New(g, mm, dev, Config{})
	require.True(t, errs.IsCode(err, errs.CodeInvalidBin))
}

func TestScheduleAndPollRoundTrip(t *testing.T) {
	subgraphs := []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrecursorCnt: int32(graph.PrecursorNone)}},
	}
	g, mm := newTestGraph(t, subgraphs)
	dev := newTestDevice()

	j, err := New(g, mm, dev, Config{})
	require.NoError(t, err)

	require.NoError(t, j.Schedule())
	require.Equal(t, StateSched, j.State())

	status, err := j.PollStatus(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, StateDone, j.State())
	_ = status

	require.NoError(t, j.Destroy())
}

func TestReplayRestoresBackupAfterDeviceMutation(t *testing.T) {
	subgraphs := []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrecursorCnt: int32(graph.PrecursorNone)}},
	}
	g, mm := newTestGraph(t, subgraphs)
	dev := newTestDevice()

	j, err := New(g, mm, dev, Config{})
	require.NoError(t, err)
	require.NoError(t, j.Schedule())
	_, err = j.PollStatus(2 * time.Second)
	require.NoError(t, err)

	corrupt := make([]byte, len(j.backupTCB))
	require.NoError(t, mm.Write(j.tcb, 0, corrupt))

	require.NoError(t, j.Replay())
	require.Equal(t, StateBound, j.State())

	readBack := make([]byte, len(j.backupTCB))
	require.NoError(t, mm.Read(j.tcb, 0, readBack))
	require.Equal(t, j.backupTCB, readBack)
}

func TestDestroyRejectsOutstandingDispatch(t *testing.T) {
	subgraphs := []graph.Subgraph{
		{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrecursorCnt: int32(graph.PrecursorNone)}},
	}
	g, mm := newTestGraph(t, subgraphs)
	dev := newTestDevice()

	j, err := New(g, mm, dev, Config{})
	require.NoError(t, err)
	require.NoError(t, j.Schedule())

	err = j.Destroy()
	require.True(t, errs.IsCode(err, errs.CodeInvalidOp))

	_, err = j.PollStatus(2 * time.Second)
	require.NoError(t, err)
	require.NoError(t, j.Destroy())
}
