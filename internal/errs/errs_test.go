package errs

import (
	"errors"
	"syscall"
	"testing"
)

func TestErrorStringIncludesContext(t *testing.T) {
	e := NewQueueError("BuildJob", 7, 2, CodeAllocGroupID, "no free group ids")
	got := e.Error()
	if got != "npu31: no free group ids (op=BuildJob)" {
		t.Errorf("unexpected Error() string: %s", got)
	}
}

func TestErrorIsCode(t *testing.T) {
	e := New("ParseGraph", CodeInvalidBin, "bad magic")
	if !errors.Is(e, CodeInvalidBin) {
		t.Error("expected errors.Is to match Code")
	}
	if errors.Is(e, CodeUnknownBin) {
		t.Error("did not expect errors.Is to match a different Code")
	}
}

func TestWrapPreservesStructuredError(t *testing.T) {
	inner := New("ParseGraph", CodeGVersionUnsupported, "v9999 unsupported")
	wrapped := Wrap("LoadGraph", inner)
	if wrapped.Op != "LoadGraph" {
		t.Errorf("expected Op to be overwritten, got %s", wrapped.Op)
	}
	if wrapped.Code != CodeGVersionUnsupported {
		t.Errorf("expected Code to be preserved, got %s", wrapped.Code)
	}
}

func TestWrapMapsErrno(t *testing.T) {
	wrapped := Wrap("Malloc", syscall.ENOMEM)
	if wrapped.Code != CodeBufAllocFail {
		t.Errorf("expected ENOMEM to map to CodeBufAllocFail, got %s", wrapped.Code)
	}
}

func TestIsCode(t *testing.T) {
	var err error = New("op", CodeTargetNotFound, "missing")
	if !IsCode(err, CodeTargetNotFound) {
		t.Error("expected IsCode to match")
	}
	if IsCode(err, CodeInvalidOp) {
		t.Error("did not expect IsCode to match a different code")
	}
}
