package jobbuild

import (
	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/dynshape"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// applyInputShapes patches every cfg.InputShapes entry into the
// global-param buffer, keyed by input id within BSS bucket 0. Called once
// during New, before the chain is built.
func (j *Job) applyInputShapes() error {
	if len(j.cfg.InputShapes) == 0 {
		return nil
	}
	for inputID, shape := range j.cfg.InputShapes {
		if err := j.PatchInputShape(0, inputID, shape); err != nil {
			return errs.Wrap("jobbuild.applyInputShapes", err)
		}
	}
	return nil
}

// PatchInputShape writes a user-provided input shape into the job's
// model-global-param buffer, at a fixed MaxShapeDims-wide slot per input
// id. Call before Schedule.
func (j *Job) PatchInputShape(bssIdx, inputID int, shape []uint32) error {
	if bssIdx < 0 || bssIdx >= len(j.graph.BSSList) {
		return errs.New("jobbuild.PatchInputShape", errs.CodeInvalidTensorID, "bss index out of range")
	}
	bss := j.graph.BSSList[bssIdx]
	if inputID < 0 || inputID >= len(bss.Inputs) {
		return errs.New("jobbuild.PatchInputShape", errs.CodeInvalidTensorID, "input id out of range")
	}
	if len(shape) > constants.MaxShapeDims {
		return errs.New("jobbuild.PatchInputShape", errs.CodeInvalidBin, "shape rank exceeds MaxShapeDims")
	}

	offset := uint32(inputID) * constants.MaxShapeDims * 4
	return dynshape.PatchInputShape(j.mm, j.globalParam, offset, shape)
}

// ResolveOutputShapes reads the actual output-tensor dimensions the NPU
// wrote during the run, computes each output's byte size, and records it
// per job. Any failure clears the previously recorded sizes so a retry
// starts from a clean slate.
func (j *Job) ResolveOutputShapes() error {
	sizes := make([][]uint32, len(j.graph.BSSList))

	for bssIdx, bss := range j.graph.BSSList {
		if len(bss.OutputShapes) == 0 {
			continue
		}
		if len(bss.OutputShapes) != len(bss.Outputs) {
			j.outputSizes = nil
			return errs.New("jobbuild.ResolveOutputShapes", errs.CodeUnmatchOutShape, "output-shape count does not match output count")
		}

		sources := make([]dynshape.OutputShapeSource, len(bss.OutputShapes))
		for i, shapeTensor := range bss.OutputShapes {
			buf := j.ReuseBuffer(bssIdx, shapeTensor.RefSectionIter)
			if buf == nil {
				j.outputSizes = nil
				return errs.New("jobbuild.ResolveOutputShapes", errs.CodeInvalidOp, "missing output-shape buffer")
			}
			sources[i] = dynshape.OutputShapeSource{
				Buf:      buf,
				Offset:   shapeTensor.OffsetInSection,
				NumDims:  int(shapeTensor.Size / 4),
				DataType: wire.DataType(bss.Outputs[i].DataType),
			}
		}

		resolved, err := dynshape.ResolveOutputShapes(j.mm, sources)
		if err != nil {
			j.outputSizes = nil
			return err
		}
		sizes[bssIdx] = resolved
	}

	j.outputSizes = sizes
	return nil
}

// OutputSize returns the resolved byte size of the given output tensor,
// after a successful ResolveOutputShapes.
func (j *Job) OutputSize(bssIdx, outputIdx int) (uint32, bool) {
	if bssIdx < 0 || bssIdx >= len(j.outputSizes) {
		return 0, false
	}
	sizes := j.outputSizes[bssIdx]
	if outputIdx < 0 || outputIdx >= len(sizes) {
		return 0, false
	}
	return sizes[outputIdx], true
}
