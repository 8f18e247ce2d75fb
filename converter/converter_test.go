package converter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/backends"
	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/testcases"
)

type nopSession struct{}

func (nopSession) Run(map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	return map[string]tensor.Tensor{}, nil
}

func (nopSession) Destroy() error { return nil }

// engineBuilder mimics the TensorRT provider dumping a context graph and its engines.
type engineBuilder struct {
	engines int
	// referenced engines are written and named by the dumped graph
	referenced []string
	skip       bool
	devices    []backends.Device
}

func (b *engineBuilder) Import(_ []byte, _, _ []string, device backends.Device) (backends.Session, error) {
	b.devices = append(b.devices, device)
	if b.skip {
		return nopSession{}, nil
	}
	providerOptions := device.Providers[0].Options
	contextModel := testcases.EngineModel()
	if len(b.referenced) > 0 {
		contextModel = testcases.ExternalEngineModel(b.referenced...)
	}
	contextBytes, err := proto.Marshal(contextModel)
	if err != nil {
		return nil, err
	}
	contextPath := providerOptions["trt_ep_context_file_path"]
	if err = os.WriteFile(contextPath, contextBytes, 0o644); err != nil {
		return nil, err
	}
	cacheDir := providerOptions["trt_engine_cache_path"]
	if err = os.MkdirAll(cacheDir, os.ModePerm); err != nil {
		return nil, err
	}
	for _, reference := range b.referenced {
		if err = os.WriteFile(filepath.Join(filepath.Dir(contextPath), filepath.FromSlash(reference)), []byte(reference), 0o644); err != nil {
			return nil, err
		}
	}
	for i := range b.engines {
		name := filepath.Join(cacheDir, "engine_"+string(rune('a'+i))+engineFileSuffix)
		if err = os.WriteFile(name, []byte("engine"), 0o644); err != nil {
			return nil, err
		}
	}
	return nopSession{}, nil
}

func loadRelu(t *testing.T) (savedmodel.Location, *savedmodel.MetaGraph) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, testcases.WriteSavedModel(dir, testcases.ServingDef(), testcases.ReluModel(4, 4)))
	loc := savedmodel.NewLocation(dir)
	meta, err := savedmodel.NewLoader(1).Load(loc)
	require.NoError(t, err)
	return loc, meta
}

func TestParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, "Params(max_batch_size=1, max_workspace_size_bytes=1073741824, precision_mode=FP32, minimum_segment_size=3, is_dynamic_op=true, maximum_cached_engines=1, use_calibration=true)", p.String())

	invalid := []func(p *Params){
		func(p *Params) { p.PrecisionMode = "FP8" },
		func(p *Params) { p.MaxBatchSize = -1 },
		func(p *Params) { p.MaxWorkspaceSizeBytes = 0 },
		func(p *Params) { p.MinimumSegmentSize = 0 },
		func(p *Params) { p.MaximumCachedEngines = 0 },
	}
	for _, mutate := range invalid {
		p := DefaultParams()
		mutate(&p)
		assert.Error(t, p.Validate())
	}
}

func TestGuardOutputs(t *testing.T) {
	model := testcases.VariableModel()
	guarded, err := GuardOutputs(model, []string{"y", "x"})
	require.NoError(t, err)

	nodes := guarded.GetGraph().GetNode()
	require.Len(t, nodes, 4)
	assert.Equal(t, []string{"y/trt_guard"}, nodes[2].GetOutput())
	guard := nodes[3]
	assert.Equal(t, "Identity", guard.GetOpType())
	assert.Equal(t, []string{"y/trt_guard"}, guard.GetInput())
	assert.Equal(t, []string{"y"}, guard.GetOutput())

	// the source graph is untouched
	assert.Len(t, model.GetGraph().GetNode(), 3)

	again, err := GuardOutputs(guarded, []string{"y"})
	require.NoError(t, err)
	assert.Len(t, again.GetGraph().GetNode(), 4)
}

func TestProviderOptions(t *testing.T) {
	inputs := []savedmodel.TensorInfo{{Name: "x", Shape: savedmodel.NewShape(-1, 3, 8)}}
	p := DefaultParams()
	p.MaxBatchSize = 16
	p.PrecisionMode = PrecisionINT8

	providerOptions := ProviderOptions(p, inputs, "/work")
	assert.Equal(t, "1073741824", providerOptions["trt_max_workspace_size"])
	assert.Equal(t, "3", providerOptions["trt_min_subgraph_size"])
	assert.Equal(t, "1", providerOptions["trt_int8_enable"])
	assert.Equal(t, CalibrationTableFile, providerOptions["trt_int8_calibration_table_name"])
	assert.NotContains(t, providerOptions, "trt_fp16_enable")
	assert.Equal(t, "/work/trt_cache", providerOptions["trt_engine_cache_path"])
	assert.Equal(t, "1", providerOptions["trt_dump_ep_context_model"])
	assert.Equal(t, "/work/model_ctx.onnx", providerOptions["trt_ep_context_file_path"])
	assert.Equal(t, "0", providerOptions["trt_ep_context_embed_mode"])
	assert.Equal(t, "x:1x3x8", providerOptions["trt_profile_min_shapes"])
	assert.Equal(t, "x:16x3x8", providerOptions["trt_profile_max_shapes"])
	assert.True(t, strings.HasSuffix(providerOptions["trt_op_types_to_exclude"], ",Identity"))

	p.IsDynamicOp = false
	assert.Equal(t, "1", ProviderOptions(p, inputs, "/work")["trt_ep_context_embed_mode"])

	runtimeOptions := RuntimeProviderOptions(DefaultParams(), []savedmodel.TensorInfo{{Name: "x", Shape: savedmodel.UnknownShape()}}, "/saved")
	assert.NotContains(t, runtimeOptions, "trt_dump_ep_context_model")
	assert.NotContains(t, runtimeOptions, "trt_profile_min_shapes")
	assert.Equal(t, "/saved/trt_cache", runtimeOptions["trt_engine_cache_path"])
	// engines referenced by a graph loaded from memory resolve against the saved graph
	assert.Equal(t, "/saved/model_ctx.onnx", runtimeOptions["trt_ep_context_file_path"])
}

func TestContainsEngineNode(t *testing.T) {
	assert.True(t, ContainsEngineNode(testcases.EngineModel()))
	assert.False(t, ContainsEngineNode(testcases.ReluModel(4, 4)))
}

func TestEngineReferences(t *testing.T) {
	references, err := EngineReferences(testcases.EngineModel())
	require.NoError(t, err)
	assert.Empty(t, references)

	references, err = EngineReferences(testcases.ExternalEngineModel("trt_cache/a.engine", "./trt_cache/b.engine", "trt_cache/a.engine"))
	require.NoError(t, err)
	assert.Equal(t, []string{"trt_cache/a.engine", "trt_cache/b.engine"}, references)

	_, err = EngineReferences(testcases.ExternalEngineModel("../a.engine"))
	assert.Error(t, err)
}

func TestTensorRTConvertAndSave(t *testing.T) {
	loc, meta := loadRelu(t)
	builder := &engineBuilder{engines: 3}
	params := DefaultParams()
	params.MaximumCachedEngines = 2

	c, err := NewTensorRT(Config{Location: loc, Meta: meta, NodesDenylist: meta.OutputNames(), Params: params, Executor: builder})
	require.NoError(t, err)
	workDir := c.(*TensorRT).WorkDir()

	converted, err := c.Convert()
	require.NoError(t, err)
	assert.True(t, ContainsEngineNode(converted))
	require.Len(t, builder.devices, 1)
	assert.True(t, builder.devices[0].AllowAccelerator)
	assert.Equal(t, backends.TensorRTProvider, builder.devices[0].Providers[0].Name)

	// conversion happens once
	_, err = c.Convert()
	require.NoError(t, err)
	assert.Len(t, builder.devices, 1)

	out := t.TempDir()
	require.NoError(t, c.Save(out))
	engines, err := filepath.Glob(filepath.Join(out, EngineCacheDir, "*"+engineFileSuffix))
	require.NoError(t, err)
	// unreferenced cached engines are capped
	assert.Len(t, engines, 2)

	saved, err := savedmodel.NewLoader(1).Load(savedmodel.NewLocation(out))
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, saved.InputNames())
	assert.Equal(t, []string{"y"}, saved.OutputNames())
	assert.True(t, ContainsEngineNode(saved.Graph))

	require.NoError(t, c.Destroy())
	_, err = os.Stat(workDir)
	assert.True(t, os.IsNotExist(err))
}

func TestTensorRTWithoutEngines(t *testing.T) {
	loc, meta := loadRelu(t)
	c, err := NewTensorRT(Config{Location: loc, Meta: meta, NodesDenylist: meta.OutputNames(), Params: DefaultParams(), Executor: &engineBuilder{skip: true}})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Destroy())
	}()

	converted, err := c.Convert()
	require.NoError(t, err)
	assert.False(t, ContainsEngineNode(converted))
}

func TestNewTensorRTRequiresORT(t *testing.T) {
	loc, meta := loadRelu(t)
	_, err := NewTensorRT(Config{Location: loc, Meta: meta, Params: DefaultParams()})
	assert.Error(t, err)

	params := DefaultParams()
	params.PrecisionMode = "FP8"
	_, err = NewTensorRT(Config{Location: loc, Meta: meta, Params: params, Executor: &engineBuilder{}})
	assert.Error(t, err)
}

func TestTensorRTSaveKeepsReferencedEngines(t *testing.T) {
	loc, meta := loadRelu(t)
	builder := &engineBuilder{engines: 2, referenced: []string{"trt_cache/a.engine", "trt_cache/b.engine"}}
	params := DefaultParams()
	require.Equal(t, 1, params.MaximumCachedEngines)

	c, err := NewTensorRT(Config{Location: loc, Meta: meta, NodesDenylist: meta.OutputNames(), Params: params, Executor: builder})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Destroy())
	}()

	out := t.TempDir()
	require.NoError(t, c.Save(out))

	saved, err := savedmodel.NewLoader(1).Load(savedmodel.NewLocation(out))
	require.NoError(t, err)
	references, err := EngineReferences(saved.Graph)
	require.NoError(t, err)
	require.Len(t, references, 2)
	for _, reference := range references {
		content, readErr := os.ReadFile(filepath.Join(out, filepath.FromSlash(reference)))
		require.NoError(t, readErr, reference)
		assert.Equal(t, reference, string(content))
	}
	// the cap is already used by the referenced engines
	engines, err := filepath.Glob(filepath.Join(out, EngineCacheDir, "*"+engineFileSuffix))
	require.NoError(t, err)
	assert.Len(t, engines, 2)
}

func TestTensorRTSaveMissingReferencedEngine(t *testing.T) {
	loc, meta := loadRelu(t)
	builder := &engineBuilder{referenced: []string{"trt_cache/a.engine"}}
	c, err := NewTensorRT(Config{Location: loc, Meta: meta, NodesDenylist: meta.OutputNames(), Params: DefaultParams(), Executor: builder})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Destroy())
	}()
	_, err = c.Convert()
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(c.(*TensorRT).WorkDir(), EngineCacheDir, "a.engine")))

	assert.Error(t, c.Save(t.TempDir()))
}
