// Package converter rewrites graphs so that eligible subgraphs run as TensorRT engines.
package converter

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"

	"github.com/advancedclimatesystems/gonnx/onnx"

	"github.com/knights-analytics/accelbench/backends"
	"github.com/knights-analytics/accelbench/options"
	"github.com/knights-analytics/accelbench/savedmodel"
)

// EngineOpType is the op type of nodes that execute a prebuilt accelerator engine.
const EngineOpType = "EPContext"

const (
	engineEmbedModeAttribute = "embed_mode"
	engineContextAttribute   = "ep_cache_context"
)

// Converter converts one saved model.
type Converter interface {
	// Convert returns the converted graph.
	Convert() (*onnx.ModelProto, error)
	// Save persists the converted graph as a saved model in dir.
	Save(dir string) error
	// Destroy releases intermediate artifacts.
	Destroy() error
}

// Config is what a converter needs to convert one model.
type Config struct {
	Location savedmodel.Location
	Meta     *savedmodel.MetaGraph
	// NodesDenylist names tensors whose producing nodes must stay out of the engines.
	NodesDenylist []string
	Params        Params
	Options       *options.Options
	// Executor builds the engines. When nil one is created from Options.
	Executor backends.Executor
}

// Factory creates converters, NewTensorRT being the production one.
type Factory func(cfg Config) (Converter, error)

// ContainsEngineNode reports whether graph has at least one engine node.
func ContainsEngineNode(graph *onnx.ModelProto) bool {
	for _, node := range graph.GetGraph().GetNode() {
		if node.GetOpType() == EngineOpType {
			return true
		}
	}
	return false
}

// EngineReferences lists the engine files that engine nodes of graph load from outside the
// graph, as slash separated paths relative to the graph file.
func EngineReferences(graph *onnx.ModelProto) ([]string, error) {
	var references []string
	for _, node := range graph.GetGraph().GetNode() {
		if node.GetOpType() != EngineOpType {
			continue
		}
		embedded := true
		var reference string
		for _, attribute := range node.GetAttribute() {
			switch attribute.GetName() {
			case engineEmbedModeAttribute:
				embedded = attribute.GetI() != 0
			case engineContextAttribute:
				reference = string(attribute.GetS())
			}
		}
		if embedded || reference == "" {
			continue
		}
		reference = path.Clean(filepath.ToSlash(reference))
		if !filepath.IsLocal(filepath.FromSlash(reference)) {
			return nil, fmt.Errorf("engine node %s references %s outside the model directory", node.GetName(), reference)
		}
		if !slices.Contains(references, reference) {
			references = append(references, reference)
		}
	}
	return references, nil
}
