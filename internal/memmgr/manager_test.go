package memmgr

import (
	"sync"
	"testing"

	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/errs"
)

func newTestManager() *Manager {
	return NewManager(0x1000, 1<<20, 0x10000000, 1<<20)
}

func TestMallocRespectsAlignmentAndBounds(t *testing.T) {
	m := newTestManager()
	buf, err := m.Malloc(100, 256, "tensor0", constants.ASID0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if buf.Base%256 != 0 {
		t.Errorf("expected 256-byte alignment, got base %#x", buf.Base)
	}
	if buf.Base < buf.ASIDBase || buf.Base+buf.Size > buf.ASIDBase+(1<<20) {
		t.Errorf("buffer escapes its region: %+v", buf)
	}
}

func TestMallocExhaustion(t *testing.T) {
	m := newTestManager()
	_, err := m.Malloc(1<<21, 0, "too-big", constants.ASID0)
	if !errs.IsCode(err, errs.CodeBufAllocFail) {
		t.Fatalf("expected CodeBufAllocFail, got %v", err)
	}
}

func TestFreeThenReallocCoalesces(t *testing.T) {
	m := newTestManager()
	buf, err := m.Malloc(1<<19, 0, "a", constants.ASID0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if err := m.Free(buf); err != nil {
		t.Fatalf("Free: %v", err)
	}
	// Should be able to allocate the full region again after the free.
	if _, err := m.Malloc(1<<20, 0, "b", constants.ASID0); err != nil {
		t.Fatalf("Malloc after free: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := newTestManager()
	buf, err := m.Malloc(64, 0, "scratch", constants.ASID0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	src := []byte("hello world, this is device memory")
	if err := m.Write(buf, 0, src); err != nil {
		t.Fatalf("Write: %v", err)
	}
	dst := make([]byte, len(src))
	if err := m.Read(buf, 0, dst); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(dst) != string(src) {
		t.Errorf("round trip mismatch: got %q", dst)
	}
}

func TestZeroizeClearsBytes(t *testing.T) {
	m := newTestManager()
	buf, _ := m.Malloc(16, 0, "z", constants.ASID0)
	_ = m.Write(buf, 0, []byte("12345678"))
	if err := m.Zeroize(buf, 0, 8); err != nil {
		t.Fatalf("Zeroize: %v", err)
	}
	dst := make([]byte, 8)
	_ = m.Read(buf, 0, dst)
	for _, b := range dst {
		if b != 0 {
			t.Errorf("expected zeroed bytes, got %v", dst)
		}
	}
}

func TestConcurrentAllocationsDoNotOverlap(t *testing.T) {
	m := newTestManager()
	const n = 64
	bufs := make([]*Buffer, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf, err := m.Malloc(4096, 0, "", constants.ASID0)
			if err != nil {
				return
			}
			mu.Lock()
			bufs[i] = buf
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, b := range bufs {
		if b == nil {
			continue
		}
		for off := b.Base; off < b.Base+b.Size; off++ {
			if seen[off] {
				t.Fatalf("overlapping allocation at %#x", off)
			}
			seen[off] = true
		}
	}
}

func TestResetASIDBaseRejectsAfterAllocation(t *testing.T) {
	m := newTestManager()
	if _, err := m.Malloc(16, 0, "x", constants.ASID0); err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if err := m.ResetASIDBase(constants.ASID0, 0x5000); err == nil {
		t.Errorf("expected ResetASIDBase to reject a region with live allocations")
	}
}
