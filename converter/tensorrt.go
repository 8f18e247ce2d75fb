package converter

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"github.com/phuslu/log"
	"google.golang.org/protobuf/proto"

	"github.com/knights-analytics/accelbench/backends"
	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/util/fileutil"
)

const engineFileSuffix = ".engine"

// TensorRT converts a model by letting the onnxruntime TensorRT provider build engines and
// dump the graph that references them.
type TensorRT struct {
	cfg      Config
	executor backends.Executor
	workDir  string

	converted      *onnx.ModelProto
	convertedBytes []byte
}

// NewTensorRT returns a converter for cfg. Intermediate artifacts live in a temporary
// directory until Destroy is called.
func NewTensorRT(cfg Config) (Converter, error) {
	if cfg.Meta == nil {
		return nil, errors.New("no meta graph to convert")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	executor := cfg.Executor
	if executor == nil {
		if cfg.Options == nil || cfg.Options.Backend != "ORT" {
			return nil, errors.New("TensorRT conversion requires the ORT backend")
		}
		var err error
		if executor, err = backends.NewExecutor(cfg.Options); err != nil {
			return nil, err
		}
	}
	workDir, err := fileutil.TempDir("accelbench-trt-*")
	if err != nil {
		return nil, err
	}
	return &TensorRT{cfg: cfg, executor: executor, workDir: workDir}, nil
}

// WorkDir is where engines and the context graph are built.
func (c *TensorRT) WorkDir() string {
	return c.workDir
}

func (c *TensorRT) Convert() (*onnx.ModelProto, error) {
	if c.converted != nil {
		return c.converted, nil
	}

	guarded, err := GuardOutputs(c.cfg.Meta.Graph, c.cfg.NodesDenylist)
	if err != nil {
		return nil, err
	}
	guardedBytes, err := proto.Marshal(guarded)
	if err != nil {
		return nil, err
	}
	if err = c.stageCalibrationTable(); err != nil {
		return nil, err
	}

	providerOptions := ProviderOptions(c.cfg.Params, c.cfg.Meta.Inputs(), c.workDir)
	if c.cfg.Options != nil && c.cfg.Options.ORTOptions != nil {
		providerOptions = WithUserOptions(c.cfg.Options.ORTOptions.TensorRTOptions, providerOptions)
	}
	device := backends.Device{
		AllowAccelerator: true,
		Providers:        []backends.Provider{{Name: backends.TensorRTProvider, Options: providerOptions}},
	}
	// engines are built and the context graph dumped while the session is created
	session, err := c.executor.Import(guardedBytes, c.cfg.Meta.InputNames(), c.cfg.Meta.OutputNames(), device)
	if err != nil {
		return nil, err
	}
	if err = session.Destroy(); err != nil {
		return nil, err
	}

	contextPath := fileutil.PathJoinSafe(c.workDir, ContextModelFile)
	exists, err := fileutil.FileExists(contextPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Warn().Str("location", c.cfg.Location.String()).Msg("No TensorRT engine was built, keeping the guarded graph")
		c.converted, c.convertedBytes = guarded, guardedBytes
		return c.converted, nil
	}
	contextBytes, err := fileutil.ReadFileBytes(contextPath)
	if err != nil {
		return nil, err
	}
	converted := &onnx.ModelProto{}
	if err = proto.Unmarshal(contextBytes, converted); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", contextPath, err)
	}
	c.converted, c.convertedBytes = converted, contextBytes
	return c.converted, nil
}

// stageCalibrationTable copies the calibration table shipped with an INT8 model to where
// TensorRT looks for it.
func (c *TensorRT) stageCalibrationTable() error {
	p := c.cfg.Params
	if p.PrecisionMode != PrecisionINT8 || !p.UseCalibration {
		return nil
	}
	table := fileutil.PathJoinSafe(c.cfg.Location.Dir, CalibrationTableFile)
	exists, err := fileutil.FileExists(table)
	if err != nil || !exists {
		return err
	}
	return fileutil.CopyFile(context.Background(), table, fileutil.PathJoinSafe(c.workDir, EngineCacheDir, CalibrationTableFile))
}

// Save writes the converted graph under the source signature, with the engines it
// references. Other cached engines are copied while fewer than MaximumCachedEngines
// engines have been saved.
func (c *TensorRT) Save(dir string) error {
	if _, err := c.Convert(); err != nil {
		return err
	}
	references, err := EngineReferences(c.converted)
	if err != nil {
		return err
	}
	loc := c.cfg.Location.WithDefaults()
	def := savedmodel.MetaGraphDef{
		Tags:          loc.Tags,
		ModelFile:     ContextModelFile,
		SignatureDefs: map[string]savedmodel.SignatureDef{loc.SignatureKey: c.cfg.Meta.Signature},
	}
	if err = savedmodel.Write(dir, def, c.convertedBytes); err != nil {
		return err
	}
	for _, reference := range references {
		from := fileutil.PathJoinSafe(c.workDir, filepath.FromSlash(reference))
		exists, existsErr := fileutil.FileExists(from)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return fmt.Errorf("engine %s referenced by the converted graph was not built", reference)
		}
		if err = fileutil.CopyFile(context.Background(), from, fileutil.PathJoinSafe(dir, filepath.FromSlash(reference))); err != nil {
			return fmt.Errorf("copying %s: %w", reference, err)
		}
	}
	return c.copyEngineCache(dir, references)
}

func (c *TensorRT) copyEngineCache(dir string, references []string) error {
	cacheDir := fileutil.PathJoinSafe(c.workDir, EngineCacheDir)
	exists, err := fileutil.FileExists(cacheDir)
	if err != nil || !exists {
		return err
	}
	files, err := fileutil.ListFiles(cacheDir)
	if err != nil {
		return err
	}
	slices.Sort(files)
	engines := len(references)
	for _, name := range files {
		if slices.Contains(references, path.Join(EngineCacheDir, name)) {
			continue
		}
		if strings.HasSuffix(name, engineFileSuffix) {
			if engines >= c.cfg.Params.MaximumCachedEngines {
				log.Debug().Str("engine", name).Msg("Maximum cached engines reached, skipping")
				continue
			}
			engines++
		}
		from := fileutil.PathJoinSafe(cacheDir, name)
		to := fileutil.PathJoinSafe(dir, EngineCacheDir, name)
		if err = fileutil.CopyFile(context.Background(), from, to); err != nil {
			return fmt.Errorf("copying %s: %w", name, err)
		}
	}
	return nil
}

func (c *TensorRT) Destroy() error {
	return fileutil.DeleteFile(c.workDir)
}
