package tensors

import (
	"testing"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/savedmodel"
)

func TestRandomStaticShape(t *testing.T) {
	rng := NewRand(42)
	cases := []struct {
		dataType onnx.TensorProto_DataType
		dtype    tensor.Dtype
	}{
		{onnx.TensorProto_FLOAT, tensor.Float32},
		{onnx.TensorProto_DOUBLE, tensor.Float64},
		{onnx.TensorProto_INT32, tensor.Int32},
		{onnx.TensorProto_INT64, tensor.Int64},
		{onnx.TensorProto_UINT8, tensor.Uint8},
		{onnx.TensorProto_BOOL, tensor.Bool},
	}
	for _, c := range cases {
		t.Run(c.dataType.String(), func(t *testing.T) {
			info := savedmodel.TensorInfo{Name: "x", DataType: c.dataType, Shape: savedmodel.NewShape(4, 3)}
			generated, err := Random(info, 0, rng)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{4, 3}, generated.Shape())
			assert.Equal(t, c.dtype, generated.Dtype())
		})
	}
}

func TestRandomFloatRange(t *testing.T) {
	info := savedmodel.TensorInfo{Name: "x", DataType: onnx.TensorProto_FLOAT, Shape: savedmodel.NewShape(16, 16)}
	generated, err := Random(info, 0, NewRand(7))
	require.NoError(t, err)
	for _, v := range generated.Data().([]float32) {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestRandomDynamicBatch(t *testing.T) {
	info := savedmodel.TensorInfo{Name: "x", DataType: onnx.TensorProto_FLOAT, Shape: savedmodel.NewShape(-1, 8)}
	for _, batchSize := range []int{1, 3, 17} {
		generated, err := Random(info, batchSize, NewRand(1))
		require.NoError(t, err)
		assert.Equal(t, batchSize, generated.Shape()[0])
		assert.Equal(t, 8, generated.Shape()[1])
	}
}

func TestRandomInvalid(t *testing.T) {
	rng := NewRand(1)
	cases := []struct {
		name      string
		shape     savedmodel.Shape
		batchSize int
		expected  error
	}{
		{"unknown rank", savedmodel.UnknownShape(), 4, ErrInvalidShape},
		{"rank zero", savedmodel.NewShape(), 4, ErrInvalidShape},
		{"dynamic inner dimension", savedmodel.NewShape(2, -1), 4, ErrInvalidShape},
		{"missing batch size", savedmodel.NewShape(-1, 2), 0, ErrInvalidArgument},
		{"negative batch size", savedmodel.NewShape(-1, 2), -3, ErrInvalidArgument},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			info := savedmodel.TensorInfo{Name: "x", DataType: onnx.TensorProto_FLOAT, Shape: c.shape}
			_, err := Random(info, c.batchSize, rng)
			assert.ErrorIs(t, err, c.expected)
		})
	}
}

func TestRandomUnsupportedType(t *testing.T) {
	info := savedmodel.TensorInfo{Name: "s", DataType: onnx.TensorProto_STRING, Shape: savedmodel.NewShape(2)}
	_, err := Random(info, 0, NewRand(1))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestRandomIsSeeded(t *testing.T) {
	info := savedmodel.TensorInfo{Name: "x", DataType: onnx.TensorProto_FLOAT, Shape: savedmodel.NewShape(5)}
	first, err := Random(info, 0, NewRand(99))
	require.NoError(t, err)
	second, err := Random(info, 0, NewRand(99))
	require.NoError(t, err)
	assert.Equal(t, first.Data(), second.Data())
}
