// Package testcases builds small ONNX saved models used across the test suites.
package testcases

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"google.golang.org/protobuf/proto"

	"github.com/knights-analytics/accelbench/savedmodel"
)

const opsetVersion = 13

// ValueInfo returns a float tensor description. A nil dims slice leaves the rank unknown,
// negative entries are dynamic.
func ValueInfo(name string, elemType onnx.TensorProto_DataType, dims []int64) *onnx.ValueInfoProto {
	tensorType := &onnx.TypeProto_Tensor{ElemType: int32(elemType)}
	if dims != nil {
		shape := &onnx.TensorShapeProto{}
		for _, dim := range dims {
			if dim < 0 {
				shape.Dim = append(shape.Dim, &onnx.TensorShapeProto_Dimension{
					Value: &onnx.TensorShapeProto_Dimension_DimParam{DimParam: "batch"},
				})
				continue
			}
			shape.Dim = append(shape.Dim, &onnx.TensorShapeProto_Dimension{
				Value: &onnx.TensorShapeProto_Dimension_DimValue{DimValue: dim},
			})
		}
		tensorType.Shape = shape
	}
	return &onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{Value: &onnx.TypeProto_TensorType{TensorType: tensorType}},
	}
}

func newModel(graph *onnx.GraphProto) *onnx.ModelProto {
	return &onnx.ModelProto{
		IrVersion:   7,
		OpsetImport: []*onnx.OperatorSetIdProto{{Domain: "", Version: opsetVersion}},
		Graph:       graph,
	}
}

// ReluModel returns x -> Relu -> y with x and y of the given shape.
func ReluModel(dims ...int64) *onnx.ModelProto {
	return newModel(&onnx.GraphProto{
		Name:   "relu",
		Node:   []*onnx.NodeProto{{Name: "relu", OpType: "Relu", Input: []string{"x"}, Output: []string{"y"}}},
		Input:  []*onnx.ValueInfoProto{ValueInfo("x", onnx.TensorProto_FLOAT, dims)},
		Output: []*onnx.ValueInfoProto{ValueInfo("y", onnx.TensorProto_FLOAT, dims)},
	})
}

// VariableModel returns y = Relu(x + w) where w is an initializer still listed as a graph
// input, plus a dead branch z = Relu(x) that does not feed y.
func VariableModel() *onnx.ModelProto {
	weights := &onnx.TensorProto{
		Name:      "w",
		DataType:  int32(onnx.TensorProto_FLOAT),
		Dims:      []int64{2},
		FloatData: []float32{1, -1},
	}
	return newModel(&onnx.GraphProto{
		Name: "variables",
		Node: []*onnx.NodeProto{
			{Name: "add", OpType: "Add", Input: []string{"x", "w"}, Output: []string{"sum"}},
			{Name: "dead", OpType: "Relu", Input: []string{"x"}, Output: []string{"z"}},
			{Name: "relu", OpType: "Relu", Input: []string{"sum"}, Output: []string{"y"}},
		},
		Initializer: []*onnx.TensorProto{weights},
		Input: []*onnx.ValueInfoProto{
			ValueInfo("x", onnx.TensorProto_FLOAT, []int64{-1, 2}),
			ValueInfo("w", onnx.TensorProto_FLOAT, []int64{2}),
		},
		Output: []*onnx.ValueInfoProto{
			ValueInfo("y", onnx.TensorProto_FLOAT, []int64{-1, 2}),
			ValueInfo("z", onnx.TensorProto_FLOAT, []int64{-1, 2}),
		},
	})
}

// EngineModel returns a graph whose only compute node is an EPContext node.
func EngineModel() *onnx.ModelProto {
	return newModel(&onnx.GraphProto{
		Name: "engine",
		Node: []*onnx.NodeProto{
			{Name: "engine_0", OpType: "EPContext", Domain: "com.microsoft", Input: []string{"x"}, Output: []string{"y/trt_guard"}},
			{Name: "y/trt_guard_identity", OpType: "Identity", Input: []string{"y/trt_guard"}, Output: []string{"y"}},
		},
		Input:  []*onnx.ValueInfoProto{ValueInfo("x", onnx.TensorProto_FLOAT, []int64{4, 4})},
		Output: []*onnx.ValueInfoProto{ValueInfo("y", onnx.TensorProto_FLOAT, []int64{4, 4})},
	})
}

// ExternalEngineModel returns x -> EPContext -> ... -> y with one EPContext node per engine,
// each loading its engine from the given path instead of embedding it.
func ExternalEngineModel(engines ...string) *onnx.ModelProto {
	var nodes []*onnx.NodeProto
	input := "x"
	for i, engine := range engines {
		output := fmt.Sprintf("engine_%d_out", i)
		if i == len(engines)-1 {
			output = "y/trt_guard"
		}
		nodes = append(nodes, &onnx.NodeProto{
			Name:   fmt.Sprintf("engine_%d", i),
			OpType: "EPContext",
			Domain: "com.microsoft",
			Input:  []string{input},
			Output: []string{output},
			Attribute: []*onnx.AttributeProto{
				{Name: "embed_mode", Type: onnx.AttributeProto_INT, I: 0},
				{Name: "ep_cache_context", Type: onnx.AttributeProto_STRING, S: []byte(engine)},
			},
		})
		input = output
	}
	nodes = append(nodes, &onnx.NodeProto{Name: "y/trt_guard_identity", OpType: "Identity", Input: []string{input}, Output: []string{"y"}})
	return newModel(&onnx.GraphProto{
		Name:   "engines",
		Node:   nodes,
		Input:  []*onnx.ValueInfoProto{ValueInfo("x", onnx.TensorProto_FLOAT, []int64{4, 4})},
		Output: []*onnx.ValueInfoProto{ValueInfo("y", onnx.TensorProto_FLOAT, []int64{4, 4})},
	})
}

// ServingDef returns a serving meta graph definition with one x -> y signature.
func ServingDef() savedmodel.MetaGraphDef {
	return savedmodel.MetaGraphDef{
		Tags:      savedmodel.DefaultTags(),
		ModelFile: "model.onnx",
		SignatureDefs: map[string]savedmodel.SignatureDef{
			savedmodel.DefaultSignatureKey: {
				Inputs:  map[string]string{"x": "x"},
				Outputs: map[string]string{"y": "y"},
			},
		},
	}
}

// WriteSavedModel writes model and its manifest into dir.
func WriteSavedModel(dir string, def savedmodel.MetaGraphDef, model *onnx.ModelProto) error {
	modelBytes, err := proto.Marshal(model)
	if err != nil {
		return err
	}
	return savedmodel.Write(dir, def, modelBytes)
}

// WriteBareModel writes model as the only .onnx file of dir, without a manifest.
func WriteBareModel(dir string, model *onnx.ModelProto) error {
	modelBytes, err := proto.Marshal(model)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "model.onnx"), modelBytes, 0o644)
}
