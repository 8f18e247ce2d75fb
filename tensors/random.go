// Package tensors generates concrete input tensors from signature tensor descriptions.
package tensors

import (
	"errors"
	"fmt"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/util/safeconv"
)

var (
	ErrInvalidShape    = errors.New("invalid shape")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupportedType = errors.New("unsupported data type")
)

// maxRandomInt is the exclusive upper bound of generated integer values.
const maxRandomInt = 128

// ConcreteShape resolves shape into fixed dimensions. Only the leading (batch) dimension
// may be dynamic, in which case batchSize replaces it; a batchSize of zero means none was given.
func ConcreteShape(shape savedmodel.Shape, batchSize int) ([]int, error) {
	if shape.UnknownRank {
		return nil, fmt.Errorf("%w: cannot generate random tensors for unknown rank", ErrInvalidShape)
	}
	if shape.Rank() == 0 {
		return nil, fmt.Errorf("%w: the tensor cannot have a rank of 0", ErrInvalidShape)
	}
	dims := safeconv.Int64SliceToIntSlice(shape.Dims)
	if dims[0] < 0 {
		if batchSize <= 0 {
			return nil, fmt.Errorf("%w: must provide a valid batch size as the tensor has a dynamic batch size", ErrInvalidArgument)
		}
		dims[0] = batchSize
	}
	for _, dim := range dims[1:] {
		if dim < 0 {
			return nil, fmt.Errorf("%w: cannot have dynamic dimensions except for batch size, got %s", ErrInvalidShape, shape)
		}
	}
	return dims, nil
}

// Random returns a tensor shaped after info with values drawn uniformly: [0,1) for
// floating point types, [0,128) for integer types and true/false for booleans.
func Random(info savedmodel.TensorInfo, batchSize int, rng *rand.Rand) (tensor.Tensor, error) {
	dims, err := ConcreteShape(info.Shape, batchSize)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", info.Name, err)
	}
	size := 1
	for _, dim := range dims {
		size *= dim
	}

	var backing any
	switch info.DataType {
	case onnx.TensorProto_FLOAT:
		backing = fill(size, rng.Float32)
	case onnx.TensorProto_DOUBLE:
		backing = fill(size, rng.Float64)
	case onnx.TensorProto_INT8:
		backing = fill(size, func() int8 { return int8(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_INT16:
		backing = fill(size, func() int16 { return int16(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_INT32:
		backing = fill(size, func() int32 { return int32(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_INT64:
		backing = fill(size, func() int64 { return int64(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_UINT8:
		backing = fill(size, func() uint8 { return uint8(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_UINT16:
		backing = fill(size, func() uint16 { return uint16(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_UINT32:
		backing = fill(size, func() uint32 { return uint32(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_UINT64:
		backing = fill(size, func() uint64 { return uint64(rng.Intn(maxRandomInt)) })
	case onnx.TensorProto_BOOL:
		backing = fill(size, func() bool { return rng.Intn(2) == 1 })
	default:
		return nil, fmt.Errorf("tensor %s: %w: %s", info.Name, ErrUnsupportedType, info.DataType)
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing)), nil
}

func fill[T any](size int, next func() T) []T {
	values := make([]T, size)
	for i := range values {
		values[i] = next()
	}
	return values
}

// Dtype maps an ONNX element type to the tensor package's type.
func Dtype(dataType onnx.TensorProto_DataType) (tensor.Dtype, error) {
	switch dataType {
	case onnx.TensorProto_FLOAT:
		return tensor.Float32, nil
	case onnx.TensorProto_DOUBLE:
		return tensor.Float64, nil
	case onnx.TensorProto_INT8:
		return tensor.Int8, nil
	case onnx.TensorProto_INT16:
		return tensor.Int16, nil
	case onnx.TensorProto_INT32:
		return tensor.Int32, nil
	case onnx.TensorProto_INT64:
		return tensor.Int64, nil
	case onnx.TensorProto_UINT8:
		return tensor.Uint8, nil
	case onnx.TensorProto_UINT16:
		return tensor.Uint16, nil
	case onnx.TensorProto_UINT32:
		return tensor.Uint32, nil
	case onnx.TensorProto_UINT64:
		return tensor.Uint64, nil
	case onnx.TensorProto_BOOL:
		return tensor.Bool, nil
	default:
		return tensor.Dtype{}, fmt.Errorf("%w: %s", ErrUnsupportedType, dataType)
	}
}

// NewRand returns a generator seeded with seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
