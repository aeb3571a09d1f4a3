// Package dynshape patches per-job input tensor shapes into a graph's
// model-global-param buffer and resolves an NPU's actual output tensor
// sizes once a job completes.
package dynshape

import (
	"encoding/binary"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/wire"
)

// PatchInputShape writes shape's dimensions into buf at
// offset + k*4 for k in [0, len(shape)). buf must be the job's
// model-global-param buffer; a nil buf means the graph carries no dynamic
// shape configuration.
func PatchInputShape(mm *memmgr.Manager, buf *memmgr.Buffer, offset uint32, shape []uint32) error {
	if buf == nil {
		return errs.New("dynshape.PatchInputShape", errs.CodeNotConfigShape, "no global-param buffer configured")
	}

	raw := make([]byte, len(shape)*4)
	for k, dim := range shape {
		binary.LittleEndian.PutUint32(raw[k*4:k*4+4], dim)
	}
	if err := mm.Write(buf, uint64(offset), raw); err != nil {
		return errs.Wrap("dynshape.PatchInputShape", err)
	}
	return nil
}

// OutputShapeSource locates one output-shape tensor's device-resident
// dimension array and the data type of the output tensor it describes.
type OutputShapeSource struct {
	Buf      *memmgr.Buffer
	Offset   uint32
	NumDims  int
	DataType wire.DataType
}

// ResolveOutputShapes reads each source's dimension array from device
// memory, computes the corresponding output tensor's byte size, and
// returns one resolved size per source in order. A zero dimension or an
// unrecognized data type fails the whole batch; the caller is responsible
// for discarding any partial result on error, keeping the resolution
// idempotent on retry.
func ResolveOutputShapes(mm *memmgr.Manager, sources []OutputShapeSource) ([]uint32, error) {
	sizes := make([]uint32, len(sources))

	for i, src := range sources {
		raw := make([]byte, src.NumDims*4)
		if err := mm.Read(src.Buf, uint64(src.Offset), raw); err != nil {
			return nil, errs.Wrap("dynshape.ResolveOutputShapes", err)
		}

		elements := uint64(1)
		for k := 0; k < src.NumDims; k++ {
			dim := binary.LittleEndian.Uint32(raw[k*4 : k*4+4])
			if dim == 0 {
				return nil, errs.New("dynshape.ResolveOutputShapes", errs.CodeZeroTensorSize, "resolved output dimension is zero")
			}
			elements *= uint64(dim)
		}

		bpe := src.DataType.BytesPerElement()
		if bpe == 0 {
			return nil, errs.New("dynshape.ResolveOutputShapes", errs.CodeInvalidTensorType, "unrecognized output data type")
		}

		sizes[i] = uint32(elements * uint64(bpe))
	}

	return sizes, nil
}
