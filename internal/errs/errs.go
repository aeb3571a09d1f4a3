// Package errs provides the structured error type used across the NPU
// user-mode driver, mapping binary/job-construction failures onto a fixed
// set of high-level error categories.
package errs

import (
	"errors"
	"fmt"
	"syscall"
)

// Code represents a high-level error category.
type Code string

const (
	CodeInvalidBin          Code = "INVALID_BIN"
	CodeUnknownBin          Code = "UNKNOWN_BIN"
	CodeGVersionUnsupported Code = "GVERSION_UNSUPPORTED"
	CodeInvalidTensorID     Code = "INVALID_TENSOR_ID"
	CodeInvalidTensorType   Code = "INVALID_TENSOR_TYPE"
	CodeInvalidPartitionID  Code = "INVALID_PARTITION_ID"
	CodeInvalidOp           Code = "INVALID_OP"
	CodeNotConfigShape      Code = "NOT_CONFIG_SHAPE"
	CodeUnmatchOutShape     Code = "UNMATCH_OUT_SHAPE"
	CodeZeroTensorSize      Code = "ZERO_TENSOR_SIZE"
	CodeDMABufSharedIO      Code = "DMABUF_SHARED_IO"
	CodeBufAllocFail        Code = "BUF_ALLOC_FAIL"
	CodeAllocGridID         Code = "ALLOC_GRID_ID"
	CodeAllocGroupID        Code = "ALLOC_GROUP_ID"
	CodeTargetNotFound      Code = "TARGET_NOT_FOUND"
	CodeJobException        Code = "JOB_EXCEPTION"
	CodeSetShapeFailed      Code = "SET_SHAPE_FAILED"
	CodeOpenFileFail        Code = "OPEN_FILE_FAIL"
)

// Error is a structured driver error carrying the failing operation, job
// and queue context, a high-level category, an optional kernel errno, and
// the wrapped cause.
type Error struct {
	Op    string // operation that failed, e.g. "ParseGraph", "BuildJob"
	JobID uint64 // job id, 0 if not applicable
	Queue int    // command-pool queue number, -1 if not applicable
	Code  Code
	Errno syscall.Errno // kernel errno, 0 if not applicable
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.JobID != 0 {
		parts = append(parts, fmt.Sprintf("job=%d", e.JobID))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("npu31: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("npu31: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Error makes a bare Code usable as an errors.Is target.
func (c Code) Error() string { return string(c) }

// Is supports comparing against a bare Code as well as another *Error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New creates a structured error with no job/queue context.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Queue: -1}
}

// NewWithErrno creates a structured error from a kernel errno.
func NewWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Queue: -1}
}

// NewJobError creates a structured error scoped to a job.
func NewJobError(op string, jobID uint64, code Code, msg string) *Error {
	return &Error{Op: op, JobID: jobID, Code: code, Msg: msg, Queue: -1}
}

// NewQueueError creates a structured error scoped to a job and queue.
func NewQueueError(op string, jobID uint64, queue int, code Code, msg string) *Error {
	return &Error{Op: op, JobID: jobID, Queue: queue, Code: code, Msg: msg}
}

// Wrap attaches op context to an existing error, mapping syscall errnos to
// categories and preserving structured errors as-is aside from the op.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if e, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			JobID: e.JobID,
			Queue: e.Queue,
			Code:  e.Code,
			Errno: e.Errno,
			Msg:   e.Msg,
			Inner: e.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
			Queue: -1,
		}
	}

	return &Error{Op: op, Code: CodeJobException, Msg: inner.Error(), Inner: inner, Queue: -1}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return CodeOpenFileFail
	case syscall.ENOMEM, syscall.ENOSPC:
		return CodeBufAllocFail
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidBin
	default:
		return CodeJobException
	}
}

// IsCode reports whether err (or something it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
