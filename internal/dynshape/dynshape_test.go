package dynshape

import (
	"encoding/binary"
	"testing"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/wire"
)

func newTestManager() *memmgr.Manager {
	return memmgr.NewManager(0x1000, 1<<20, 0x10000000, 1<<20)
}

func TestPatchInputShapeWritesDimsAtOffset(t *testing.T) {
	m := newTestManager()
	buf, err := m.Malloc(256, 0, "global-param", 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}

	if err := PatchInputShape(m, buf, 32, []uint32{1, 3, 224, 224}); err != nil {
		t.Fatalf("PatchInputShape: %v", err)
	}

	dst := make([]byte, 16)
	if err := m.Read(buf, 32, dst); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []uint32{1, 3, 224, 224}
	for i, w := range want {
		got := binary.LittleEndian.Uint32(dst[i*4 : i*4+4])
		if got != w {
			t.Errorf("dim %d: got %d, want %d", i, got, w)
		}
	}
}

func TestPatchInputShapeFailsWithoutGlobalParamBuffer(t *testing.T) {
	m := newTestManager()
	err := PatchInputShape(m, nil, 0, []uint32{1})
	if !errs.IsCode(err, errs.CodeNotConfigShape) {
		t.Fatalf("expected CodeNotConfigShape, got %v", err)
	}
}

func TestResolveOutputShapesComputesByteSize(t *testing.T) {
	m := newTestManager()
	buf, err := m.Malloc(64, 0, "output-shape", 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:4], 1)
	binary.LittleEndian.PutUint32(raw[4:8], 1000)
	if err := m.Write(buf, 0, raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sizes, err := ResolveOutputShapes(m, []OutputShapeSource{
		{Buf: buf, Offset: 0, NumDims: 2, DataType: wire.DataTypeF32},
	})
	if err != nil {
		t.Fatalf("ResolveOutputShapes: %v", err)
	}
	if len(sizes) != 1 || sizes[0] != 4000 {
		t.Fatalf("expected [4000], got %v", sizes)
	}
}

func TestResolveOutputShapesRejectsZeroDim(t *testing.T) {
	m := newTestManager()
	buf, err := m.Malloc(64, 0, "output-shape", 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:4], 0)
	binary.LittleEndian.PutUint32(raw[4:8], 1000)
	if err := m.Write(buf, 0, raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err = ResolveOutputShapes(m, []OutputShapeSource{
		{Buf: buf, Offset: 0, NumDims: 2, DataType: wire.DataTypeF32},
	})
	if !errs.IsCode(err, errs.CodeZeroTensorSize) {
		t.Fatalf("expected CodeZeroTensorSize, got %v", err)
	}
}

func TestResolveOutputShapesRejectsUnknownDataType(t *testing.T) {
	m := newTestManager()
	buf, err := m.Malloc(64, 0, "output-shape", 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw[0:4], 10)
	if err := m.Write(buf, 0, raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err = ResolveOutputShapes(m, []OutputShapeSource{
		{Buf: buf, Offset: 0, NumDims: 1, DataType: wire.DataType(99)},
	})
	if !errs.IsCode(err, errs.CodeInvalidTensorType) {
		t.Fatalf("expected CodeInvalidTensorType, got %v", err)
	}
}
