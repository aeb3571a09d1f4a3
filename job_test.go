package npu31

import (
	"testing"
	"time"

	"github.com/npu31/umd/internal/device/sim"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/parser"
	"github.com/npu31/umd/internal/wire"
)

func newFacadeTestGraph(t *testing.T) *Graph {
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
		BSSList: []*parser.BSS{bss},
		Subgraphs: []graph.Subgraph{
			{ID: 0, Subgraph: parser.Subgraph{BSSIdx: 0, PrecursorCnt: int32(graph.PrecursorNone)}},
		},
		Text: []byte{0xAA, 0xBB, 0xCC, 0xDD},
	}

	textBuf, err := mm.Malloc(uint64(len(g.Text)), 0, "text", 1)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if err := mm.Write(textBuf, 0, g.Text); err != nil {
		t.Fatalf("Write: %v", err)
	}
	g.TextBuf = textBuf

	return &Graph{inner: g, mm: mm}
}

func newFacadeTestDevice(observer Observer) *Device {
	back := sim.New(sim.Config{CoreCount: 4, PartitionCount: 1, ClusterID: 0})
	if observer == nil {
		observer = NoOpObserver{}
	}
	return &Device{back: back, observer: observer}
}

func TestCreateJobScheduleAndPollRoundTrip(t *testing.T) {
	m := NewMetrics()
	dev := newFacadeTestDevice(NewMetricsObserver(m))
	g := newFacadeTestGraph(t)

	j, err := CreateJob(g, dev, JobConfig{})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.State() != StateBound {
		t.Fatalf("State = %v, want StateBound", j.State())
	}

	if err := j.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if j.State() != StateSched {
		t.Fatalf("State after Schedule = %v, want StateSched", j.State())
	}

	status, err := j.PollStatus(2 * time.Second)
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if j.State() != StateDone {
		t.Fatalf("State after poll = %v, want StateDone", j.State())
	}

	if err := j.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	snap := m.Snapshot()
	if snap.ScheduleOps != 1 {
		t.Fatalf("ScheduleOps = %d, want 1", snap.ScheduleOps)
	}
	if snap.PollOps != 1 {
		t.Fatalf("PollOps = %d, want 1", snap.PollOps)
	}
}

func TestCreateJobDumpWritesRuntimeCfg(t *testing.T) {
	dev := newFacadeTestDevice(nil)
	g := newFacadeTestGraph(t)

	j, err := CreateJob(g, dev, JobConfig{})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	dir := t.TempDir()
	if err := j.Dump(dir); err != nil {
		t.Fatalf("Dump: %v", err)
	}
}

func TestDeviceDumpAllWritesOneSubdirPerJob(t *testing.T) {
	dev := newFacadeTestDevice(nil)
	g := newFacadeTestGraph(t)

	j, err := CreateJob(g, dev, JobConfig{})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := j.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := j.PollStatus(time.Second); err != nil {
		t.Fatalf("PollStatus: %v", err)
	}

	dir := t.TempDir()
	if err := dev.DumpAll(dir); err != nil {
		t.Fatalf("DumpAll: %v", err)
	}
	if err := dev.DumpAll(dir); err != nil {
		t.Fatalf("second DumpAll: %v", err)
	}
}

func TestMockDeviceSchedulePollRoundTrip(t *testing.T) {
	dev := NewMockDevice(4, 1, 0)
	back := &Device{back: dev, observer: NoOpObserver{}}
	g := newFacadeTestGraph(t)

	j, err := CreateJob(g, back, JobConfig{})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := j.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	status, err := j.PollStatus(time.Second)
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if status != StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
	if len(dev.Scheduled()) != 1 {
		t.Fatalf("Scheduled() len = %d, want 1", len(dev.Scheduled()))
	}
}

func TestOptionsApplyEnvOverridesASIDBaseAndPartMode(t *testing.T) {
	t.Setenv("UMD_ASID_BASE", "0x50000000")
	t.Setenv("UMD_PART_MODE", "2")
	t.Setenv("UMD_LOG_LEVEL", "debug")

	opts := DefaultOptions()
	if opts.ASID0Base != 0x50000000 {
		t.Fatalf("ASID0Base = %#x, want 0x50000000", opts.ASID0Base)
	}
	if opts.PartMode != PartMode2 {
		t.Fatalf("PartMode = %v, want PartMode2", opts.PartMode)
	}
	if opts.partitionCountFor() != 4 {
		t.Fatalf("partitionCountFor() = %d, want 4", opts.partitionCountFor())
	}
}
