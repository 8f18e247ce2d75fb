package converter

import (
	"fmt"
	"slices"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"google.golang.org/protobuf/proto"
)

const (
	guardSuffix  = "/trt_guard"
	guardOpType  = "Identity"
	guardNodeTag = "_identity"
)

// defaultExcludedOpTypes are the op types TensorRT leaves to other providers by default.
var defaultExcludedOpTypes = []string{"NonMaxSuppression", "NonZero", "RoiAlign"}

// GuardOutputs returns a copy of model in which every tensor in denylist is produced by an
// Identity node. Identity is excluded from TensorRT, so the denylisted tensors keep being
// computed outside any engine and the graph's signature is unchanged.
func GuardOutputs(model *onnx.ModelProto, denylist []string) (*onnx.ModelProto, error) {
	guarded := proto.Clone(model).(*onnx.ModelProto)
	graph := guarded.GetGraph()
	if graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}

	for _, name := range denylist {
		producer := -1
		for i, node := range graph.GetNode() {
			if slices.Contains(node.GetOutput(), name) {
				producer = i
				break
			}
		}
		if producer < 0 {
			// graph inputs and constants never end up in an engine
			continue
		}
		if graph.GetNode()[producer].GetOpType() == guardOpType {
			continue
		}

		renamed := name + guardSuffix
		for _, node := range graph.GetNode() {
			for i, output := range node.Output {
				if output == name {
					node.Output[i] = renamed
				}
			}
			for i, input := range node.Input {
				if input == name {
					node.Input[i] = renamed
				}
			}
		}
		graph.Node = append(graph.Node, &onnx.NodeProto{
			Name:   renamed + guardNodeTag,
			OpType: guardOpType,
			Input:  []string{renamed},
			Output: []string{name},
		})
	}
	return guarded, nil
}
