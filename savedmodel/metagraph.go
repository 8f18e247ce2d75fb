package savedmodel

import (
	"fmt"
	"slices"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"google.golang.org/protobuf/proto"

	"github.com/knights-analytics/accelbench/util/fileutil"
)

// MetaGraph is a tagged variant of a saved model with its graph frozen for inference.
type MetaGraph struct {
	Location  Location
	Def       MetaGraphDef
	Signature SignatureDef
	// Graph holds only the nodes needed to compute the signature outputs, with every
	// variable folded into a constant initializer.
	Graph   *onnx.ModelProto
	inputs  []TensorInfo
	outputs []TensorInfo
	raw     []byte
}

// Inputs returns the signature inputs in signature order.
func (m *MetaGraph) Inputs() []TensorInfo {
	return m.inputs
}

// Outputs returns the signature outputs in signature order.
func (m *MetaGraph) Outputs() []TensorInfo {
	return m.outputs
}

func (m *MetaGraph) InputNames() []string {
	return tensorNames(m.inputs)
}

func (m *MetaGraph) OutputNames() []string {
	return tensorNames(m.outputs)
}

// Bytes returns the serialised frozen graph.
func (m *MetaGraph) Bytes() []byte {
	return m.raw
}

func tensorNames(infos []TensorInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// readMetaGraph reads and freezes the meta graph identified by loc. It always touches storage.
func readMetaGraph(loc Location) (*MetaGraph, error) {
	manifest, err := ReadManifest(loc.Dir)
	if err != nil {
		return nil, err
	}

	var def *MetaGraphDef
	for i := range manifest.MetaGraphs {
		if manifest.MetaGraphs[i].matches(loc.Tags) {
			def = &manifest.MetaGraphs[i]
			break
		}
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %v at %s", ErrTagsNotFound, loc.Tags, loc.Dir)
	}

	modelBytes, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(loc.Dir, def.ModelFile))
	if err != nil {
		return nil, err
	}
	model := &onnx.ModelProto{}
	if err = proto.Unmarshal(modelBytes, model); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", def.ModelFile, err)
	}
	if model.GetGraph() == nil {
		return nil, fmt.Errorf("model %s has no graph", def.ModelFile)
	}

	signature, ok := def.SignatureDefs[loc.SignatureKey]
	if !ok {
		if def.SignatureDefs != nil || loc.SignatureKey != DefaultSignatureKey {
			return nil, fmt.Errorf("%w: %s at %s", ErrSignatureNotFound, loc.SignatureKey, loc.Dir)
		}
		signature = signatureFromGraph(model.GetGraph())
	}

	frozen, err := Freeze(model, signature.OutputTensorNames())
	if err != nil {
		return nil, err
	}
	raw, err := proto.Marshal(frozen)
	if err != nil {
		return nil, err
	}

	meta := &MetaGraph{
		Location:  loc,
		Def:       *def,
		Signature: signature,
		Graph:     frozen,
		raw:       raw,
	}
	valueInfos := collectValueInfos(frozen.GetGraph())
	for _, name := range signature.InputTensorNames() {
		meta.inputs = append(meta.inputs, lookupTensorInfo(valueInfos, name))
	}
	for _, name := range signature.OutputTensorNames() {
		meta.outputs = append(meta.outputs, lookupTensorInfo(valueInfos, name))
	}
	return meta, nil
}

func signatureFromGraph(graph *onnx.GraphProto) SignatureDef {
	initializers := initializerNames(graph)
	signature := SignatureDef{Inputs: map[string]string{}, Outputs: map[string]string{}}
	for _, input := range graph.GetInput() {
		if _, isVariable := initializers[input.GetName()]; !isVariable {
			signature.Inputs[input.GetName()] = input.GetName()
		}
	}
	for _, output := range graph.GetOutput() {
		signature.Outputs[output.GetName()] = output.GetName()
	}
	return signature
}

func initializerNames(graph *onnx.GraphProto) map[string]struct{} {
	names := make(map[string]struct{}, len(graph.GetInitializer()))
	for _, initializer := range graph.GetInitializer() {
		names[initializer.GetName()] = struct{}{}
	}
	return names
}

func collectValueInfos(graph *onnx.GraphProto) map[string]*onnx.ValueInfoProto {
	infos := map[string]*onnx.ValueInfoProto{}
	for _, group := range [][]*onnx.ValueInfoProto{graph.GetValueInfo(), graph.GetOutput(), graph.GetInput()} {
		for _, info := range group {
			infos[info.GetName()] = info
		}
	}
	return infos
}

func lookupTensorInfo(infos map[string]*onnx.ValueInfoProto, name string) TensorInfo {
	if info, ok := infos[name]; ok {
		return tensorInfoFromValueInfo(info)
	}
	return TensorInfo{Name: name, Shape: UnknownShape()}
}

// Freeze returns a copy of model prepared for inference of outputs: graph inputs backed by
// initializers become plain constants, nodes and initializers that do not contribute to
// outputs are dropped, and the graph outputs are exactly outputs.
func Freeze(model *onnx.ModelProto, outputs []string) (*onnx.ModelProto, error) {
	frozen := proto.Clone(model).(*onnx.ModelProto)
	graph := frozen.GetGraph()
	initializers := initializerNames(graph)

	producers := map[string]int{}
	for i, node := range graph.GetNode() {
		for _, output := range node.GetOutput() {
			producers[output] = i
		}
	}
	feeds := map[string]struct{}{}
	for _, input := range graph.GetInput() {
		feeds[input.GetName()] = struct{}{}
	}

	keep := make([]bool, len(graph.GetNode()))
	used := map[string]struct{}{}
	pending := slices.Clone(outputs)
	for _, output := range outputs {
		_, produced := producers[output]
		_, isFeed := feeds[output]
		_, isConstant := initializers[output]
		if !produced && !isFeed && !isConstant {
			return nil, fmt.Errorf("output %s is not produced by the graph", output)
		}
	}
	for len(pending) > 0 {
		name := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, seen := used[name]; seen {
			continue
		}
		used[name] = struct{}{}
		nodeIndex, ok := producers[name]
		if !ok || keep[nodeIndex] {
			continue
		}
		keep[nodeIndex] = true
		for _, input := range graph.GetNode()[nodeIndex].GetInput() {
			if input != "" {
				pending = append(pending, input)
			}
		}
	}

	nodes := make([]*onnx.NodeProto, 0, len(graph.GetNode()))
	for i, node := range graph.GetNode() {
		if keep[i] {
			nodes = append(nodes, node)
		}
	}
	graph.Node = nodes

	constants := make([]*onnx.TensorProto, 0, len(graph.GetInitializer()))
	for _, initializer := range graph.GetInitializer() {
		if _, ok := used[initializer.GetName()]; ok {
			constants = append(constants, initializer)
		}
	}
	graph.Initializer = constants

	inputs := make([]*onnx.ValueInfoProto, 0, len(graph.GetInput()))
	for _, input := range graph.GetInput() {
		if _, isVariable := initializers[input.GetName()]; !isVariable {
			inputs = append(inputs, input)
		}
	}
	graph.Input = inputs

	valueInfos := collectValueInfos(graph)
	graphOutputs := make([]*onnx.ValueInfoProto, 0, len(outputs))
	for _, output := range outputs {
		info, ok := valueInfos[output]
		if !ok {
			info = &onnx.ValueInfoProto{Name: output}
		}
		graphOutputs = append(graphOutputs, info)
	}
	graph.Output = graphOutputs
	return frozen, nil
}
