package savedmodel

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/accelbench/util/fileutil"
)

// ManifestFilename is the file describing the tagged variants of a saved model.
const ManifestFilename = "saved_model.json"

var (
	ErrModelNotFound     = errors.New("saved model not found")
	ErrTagsNotFound      = errors.New("no meta graph with the requested tags")
	ErrSignatureNotFound = errors.New("signature not found")
)

// Manifest is the content of saved_model.json.
type Manifest struct {
	MetaGraphs []MetaGraphDef `json:"meta_graphs"`
}

// MetaGraphDef describes one tagged variant of the model.
type MetaGraphDef struct {
	Tags          []string                `json:"tags"`
	ModelFile     string                  `json:"model_file"`
	SignatureDefs map[string]SignatureDef `json:"signature_defs,omitempty"`
}

// SignatureDef maps logical input and output names to graph tensor names.
type SignatureDef struct {
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
}

// InputTensorNames returns the graph tensor names of the inputs ordered by logical name.
func (s SignatureDef) InputTensorNames() []string {
	return orderedValues(s.Inputs)
}

// OutputTensorNames returns the graph tensor names of the outputs ordered by logical name.
func (s SignatureDef) OutputTensorNames() []string {
	return orderedValues(s.Outputs)
}

func orderedValues(m map[string]string) []string {
	values := make([]string, 0, len(m))
	for _, key := range slices.Sorted(maps.Keys(m)) {
		values = append(values, m[key])
	}
	return values
}

func (d MetaGraphDef) matches(tags []string) bool {
	if len(d.Tags) != len(tags) {
		return false
	}
	for _, tag := range tags {
		if !slices.Contains(d.Tags, tag) {
			return false
		}
	}
	return true
}

// ReadManifest reads saved_model.json from dir. A directory holding exactly one .onnx
// file and no manifest is read as a single serving variant whose signature is derived
// from the graph.
func ReadManifest(dir string) (*Manifest, error) {
	exists, err := fileutil.FileExists(dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, dir)
	}

	manifestPath := fileutil.PathJoinSafe(dir, ManifestFilename)
	exists, err = fileutil.FileExists(manifestPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return inferManifest(dir)
	}

	manifestBytes, err := fileutil.ReadFileBytes(manifestPath)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{}
	if err = jsoniter.Unmarshal(manifestBytes, manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	return manifest, nil
}

func inferManifest(dir string) (*Manifest, error) {
	onnxFiles, err := getOnnxFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(onnxFiles) == 0 {
		return nil, fmt.Errorf("%w: no %s and no .onnx file at %s", ErrModelNotFound, ManifestFilename, dir)
	}
	if len(onnxFiles) > 1 {
		return nil, fmt.Errorf("multiple .onnx files detected at %s and no %s", dir, ManifestFilename)
	}
	return &Manifest{MetaGraphs: []MetaGraphDef{{
		Tags:      DefaultTags(),
		ModelFile: onnxFiles[0],
	}}}, nil
}

func getOnnxFiles(path string) ([]string, error) {
	files, err := fileutil.ListFiles(path)
	if err != nil {
		return nil, err
	}
	var onnxFiles []string
	for _, name := range files {
		if strings.HasSuffix(name, ".onnx") {
			onnxFiles = append(onnxFiles, name)
		}
	}
	return onnxFiles, nil
}

// Write persists a saved model made of a single meta graph to dir.
func Write(dir string, def MetaGraphDef, modelBytes []byte) error {
	if def.ModelFile == "" {
		def.ModelFile = "model.onnx"
	}
	manifestBytes, err := jsoniter.MarshalIndent(Manifest{MetaGraphs: []MetaGraphDef{def}}, "", "  ")
	if err != nil {
		return err
	}
	if err = fileutil.WriteFileBytes(fileutil.PathJoinSafe(dir, def.ModelFile), modelBytes); err != nil {
		return err
	}
	return fileutil.WriteFileBytes(fileutil.PathJoinSafe(dir, ManifestFilename), manifestBytes)
}
