package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Magic:        MagicV0005,
		Device:       0x01020304,
		Version:      1,
		BuildVersion: 7,
		HeaderSize:   HeaderSize,
		FileSize:     4096,
		Type:         0,
		Flag:         FlagASIDEn | FlagRemapEn,
	}

	buf := MarshalHeader(h)
	if len(buf) != HeaderSize {
		t.Fatalf("unexpected marshaled size %d", len(buf))
	}

	got := &Header{}
	if err := UnmarshalHeader(buf, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if *got != *h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
	if !got.ASIDEnabled() || !got.RemapEnabled() || got.SRAMEnabled() {
		t.Errorf("unexpected flag decode: %+v", got)
	}
}

func TestTCBGridInitRoundTrip(t *testing.T) {
	tcb := &TCB{
		Flag: uint32(TaskTypeGridInit) | FlagL2DFlush,
		GridInit: &GridInitFields{
			GroupNum:        3,
			GridInterruptEn: GridInterruptDone | GridInterruptGMFault,
			GridGridID:      5,
			GridGroupID:     10,
		},
	}

	buf := Marshal(tcb)
	if len(buf) != TCBSize {
		t.Fatalf("unexpected TCB size %d", len(buf))
	}

	got := &TCB{}
	if err := Unmarshal(buf, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type() != TaskTypeGridInit {
		t.Fatalf("expected GRID_INIT, got %v", got.Type())
	}
	if got.GridInit.GroupNum != 3 || got.GridInit.GridGridID != 5 || got.GridInit.GridGroupID != 10 {
		t.Errorf("unexpected GridInit fields: %+v", got.GridInit)
	}
}

func TestTCBTaskRoundTrip(t *testing.T) {
	tcb := &TCB{
		Flag: uint32(TaskTypeTask) | EndTypeGroupEnd,
		Task: &TaskFields{
			SPC:         0xDEADBEEFCAFE,
			GroupID:     2,
			GridID:      1,
			TaskID:      3,
			GridDim:     [3]uint16{1, 1, 1},
			GroupDim:    [3]uint16{4, 1, 1},
			InterruptEn: InterruptTECAll,
		},
	}

	buf := Marshal(tcb)
	got := &TCB{}
	if err := Unmarshal(buf, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Task.SPC != tcb.Task.SPC || got.Task.TaskID != 3 || got.Task.GroupDim[0] != 4 {
		t.Errorf("unexpected Task fields: %+v", got.Task)
	}
	if got.Flag&EndTypeGroupEnd == 0 {
		t.Errorf("expected EndTypeGroupEnd bit preserved")
	}
}

func TestSchedCtrlPacking(t *testing.T) {
	v := SchedCtrl(1, 2, 3, true, true)
	if v&CtrlCreateCmdPool == 0 || v&CtrlDispatchCmdPool == 0 {
		t.Errorf("expected both create and dispatch bits set: %#x", v)
	}
}

func TestMaxCmdPoolCount(t *testing.T) {
	if got := MaxCmdPoolCount(4 << BuildInfoMaxCmdPoolShift); got != 5 {
		t.Errorf("expected 5 pools, got %d", got)
	}
}
