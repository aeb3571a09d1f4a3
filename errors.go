package npu31

import "github.com/npu31/umd/internal/errs"

// Error is a structured driver error carrying the failing operation, job
// context, a high-level category, an optional kernel errno, and the
// wrapped cause. It is an alias of the internal error type so that errors
// returned from any package in this module compare equal across the
// internal/public boundary.
type Error = errs.Error

// Code is a high-level error category attached to every Error.
type Code = errs.Code

// Error categories surfaced to callers. These mirror the device/graph
// firmware's own error enumeration rather than being invented here.
const (
	CodeInvalidBin          = errs.CodeInvalidBin
	CodeUnknownBin          = errs.CodeUnknownBin
	CodeGVersionUnsupported = errs.CodeGVersionUnsupported
	CodeInvalidTensorID     = errs.CodeInvalidTensorID
	CodeInvalidTensorType   = errs.CodeInvalidTensorType
	CodeInvalidPartitionID  = errs.CodeInvalidPartitionID
	CodeInvalidOp           = errs.CodeInvalidOp
	CodeNotConfigShape      = errs.CodeNotConfigShape
	CodeUnmatchOutShape     = errs.CodeUnmatchOutShape
	CodeZeroTensorSize      = errs.CodeZeroTensorSize
	CodeDMABufSharedIO      = errs.CodeDMABufSharedIO
	CodeBufAllocFail        = errs.CodeBufAllocFail
	CodeAllocGridID         = errs.CodeAllocGridID
	CodeAllocGroupID        = errs.CodeAllocGroupID
	CodeTargetNotFound      = errs.CodeTargetNotFound
	CodeJobException        = errs.CodeJobException
	CodeSetShapeFailed      = errs.CodeSetShapeFailed
	CodeOpenFileFail        = errs.CodeOpenFileFail
)

// IsCode reports whether err (or anything it wraps) carries code.
func IsCode(err error, code Code) bool {
	return errs.IsCode(err, code)
}
