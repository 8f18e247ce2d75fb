package savedmodel

import (
	"fmt"

	"github.com/advancedclimatesystems/gonnx/onnx"
)

// Shape describes the declared dimensions of a tensor. A negative dimension is dynamic.
type Shape struct {
	Dims        []int64
	UnknownRank bool
}

// NewShape returns a Shape of known rank with the given dimensions.
func NewShape(dimensions ...int64) Shape {
	return Shape{Dims: dimensions}
}

// UnknownShape returns a Shape whose rank is not known.
func UnknownShape() Shape {
	return Shape{UnknownRank: true}
}

func (s Shape) Rank() int {
	return len(s.Dims)
}

func (s Shape) String() string {
	if s.UnknownRank {
		return "<unknown>"
	}
	return fmt.Sprintf("%v", s.Dims)
}

// TensorInfo describes one tensor of a signature.
type TensorInfo struct {
	Name     string
	DataType onnx.TensorProto_DataType
	Shape    Shape
}

func (t TensorInfo) String() string {
	return fmt.Sprintf("%s %s %s", t.Name, t.DataType, t.Shape)
}

func tensorInfoFromValueInfo(valueInfo *onnx.ValueInfoProto) TensorInfo {
	info := TensorInfo{Name: valueInfo.GetName()}
	tensorType := valueInfo.GetType().GetTensorType()
	info.DataType = onnx.TensorProto_DataType(tensorType.GetElemType())

	shape := tensorType.GetShape()
	if shape == nil {
		info.Shape = UnknownShape()
		return info
	}
	dims := make([]int64, 0, len(shape.GetDim()))
	for _, dim := range shape.GetDim() {
		if _, ok := dim.GetValue().(*onnx.TensorShapeProto_Dimension_DimValue); ok {
			dims = append(dims, dim.GetDimValue())
		} else {
			// symbolic or missing dimensions are dynamic
			dims = append(dims, -1)
		}
	}
	info.Shape = NewShape(dims...)
	return info
}
