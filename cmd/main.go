package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/accelbench"
	"github.com/knights-analytics/accelbench/converter"
	"github.com/knights-analytics/accelbench/handlers"
	"github.com/knights-analytics/accelbench/options"
	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/util/checks"
	"github.com/knights-analytics/accelbench/util/fileutil"
)

const resultFilename = "result.jsonl"

var modelPath string
var tags cli.StringSlice
var signatureKey string
var backend string
var sharedLibraryPath string
var outputPath string
var saveDir string
var warmupIterations int
var benchmarkIterations int
var batchSize int
var seed uint64
var allowAccelerator bool
var useCuda bool
var useTensorRT bool
var dropOutputs bool
var precisionMode string
var maxWorkspaceSize int64
var minSegmentSize int
var maxCachedEngines int
var maxBatchSize int

var modelFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "model",
		Usage:       "Path to the saved model directory",
		Aliases:     []string{"m"},
		Destination: &modelPath,
		Required:    true,
	},
	&cli.StringSliceFlag{
		Name:        "tags",
		Usage:       "Tags of the meta graph to load",
		Destination: &tags,
	},
	&cli.StringFlag{
		Name:        "signature",
		Usage:       "Signature key to serve",
		Destination: &signatureKey,
		Value:       savedmodel.DefaultSignatureKey,
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Benchmark a saved model, optionally after converting it to TensorRT",
	Description: `Run loads the model, generates random inputs for its signature and reports the latency of every
				benchmark iteration. With --trt the model is converted first and run on TensorRT engines.
				`,
	Flags: append(modelFlags,
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Inference backend, ORT or GO",
			Destination: &backend,
			Value:       "ORT",
		},
		&cli.StringFlag{
			Name:        "onnxruntimeSharedLibrary",
			Usage:       "Path to libonnxruntime.so",
			Aliases:     []string{"s"},
			Destination: &sharedLibraryPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Folder where to write result.jsonl. If omitted, results are printed",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "save",
			Usage:       "Folder where to save the converted model. Defaults to a temporary folder",
			Destination: &saveDir,
		},
		&cli.IntFlag{
			Name:        "warmup",
			Usage:       "Untimed iterations before benchmarking",
			Destination: &warmupIterations,
			Value:       handlers.DefaultRunOptions().WarmupIterations,
		},
		&cli.IntFlag{
			Name:        "iterations",
			Usage:       "Timed iterations",
			Aliases:     []string{"n"},
			Destination: &benchmarkIterations,
			Value:       handlers.DefaultRunOptions().BenchmarkIterations,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Batch size replacing dynamic batch dimensions",
			Aliases:     []string{"b"},
			Destination: &batchSize,
		},
		&cli.Uint64Flag{
			Name:        "seed",
			Usage:       "Seed for the generated inputs, 0 for a random one",
			Destination: &seed,
		},
		&cli.BoolFlag{
			Name:        "accelerator",
			Usage:       "Allow accelerator providers for unconverted models",
			Destination: &allowAccelerator,
		},
		&cli.BoolFlag{
			Name:        "cuda",
			Usage:       "Register the CUDA provider for runs that allow an accelerator",
			Destination: &useCuda,
		},
		&cli.BoolFlag{
			Name:        "dropOutputs",
			Usage:       "Do not report output shapes",
			Destination: &dropOutputs,
		},
		&cli.BoolFlag{
			Name:        "trt",
			Usage:       "Convert the model to TensorRT before running it",
			Destination: &useTensorRT,
		},
		&cli.StringFlag{
			Name:        "precision",
			Usage:       "TensorRT precision mode: FP32, FP16 or INT8",
			Destination: &precisionMode,
			Value:       string(converter.DefaultParams().PrecisionMode),
		},
		&cli.Int64Flag{
			Name:        "workspace",
			Usage:       "TensorRT builder workspace in bytes",
			Destination: &maxWorkspaceSize,
			Value:       converter.DefaultParams().MaxWorkspaceSizeBytes,
		},
		&cli.IntFlag{
			Name:        "minSegment",
			Usage:       "Smallest subgraph converted to an engine",
			Destination: &minSegmentSize,
			Value:       converter.DefaultParams().MinimumSegmentSize,
		},
		&cli.IntFlag{
			Name:        "maxCachedEngines",
			Usage:       "Engines kept with the converted model",
			Destination: &maxCachedEngines,
			Value:       converter.DefaultParams().MaximumCachedEngines,
		},
		&cli.IntFlag{
			Name:        "maxBatchSize",
			Usage:       "Largest batch the engines are built for",
			Destination: &maxBatchSize,
			Value:       converter.DefaultParams().MaxBatchSize,
		},
	),
	Action: func(ctx *cli.Context) (err error) {
		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		loc := location()
		var handler handlers.Handler = session.NewStandardHandler(loc)
		if useTensorRT {
			accelerated, trtErr := session.NewAcceleratedHandler(conversionParams(), loc)
			if trtErr != nil {
				return trtErr
			}
			if saveDir != "" {
				if err = accelerated.Save(saveDir, true); err != nil {
					return err
				}
			}
			handler = accelerated
		}

		runOptions := session.DefaultRunOptions()
		runOptions.WarmupIterations = warmupIterations
		runOptions.BenchmarkIterations = benchmarkIterations
		runOptions.BatchSize = batchSize
		runOptions.AllowAccelerator = allowAccelerator
		runOptions.DropOutputsForGeneratedInputs = dropOutputs
		if seed != 0 {
			runOptions.Seed = seed
		}
		result, err := handler.Run(ctx.Context, runOptions)
		if err != nil {
			return err
		}
		return writeResult(ctx.App.Writer, newRunRecord(handler, result))
	},
}

var inspectCommand = &cli.Command{
	Name:  "inspect",
	Usage: "Print the signature of a saved model",
	Flags: modelFlags,
	Action: func(ctx *cli.Context) error {
		meta, err := savedmodel.LoadMetaGraph(location())
		if err != nil {
			return err
		}
		var infos []tensorRecord
		for _, info := range meta.Inputs() {
			infos = append(infos, newTensorRecord("input", info))
		}
		for _, info := range meta.Outputs() {
			infos = append(infos, newTensorRecord("output", info))
		}

		if isTerminal(ctx.App.Writer) {
			table := tablewriter.NewWriter(ctx.App.Writer)
			table.SetHeader([]string{"kind", "name", "type", "shape"})
			for _, info := range infos {
				table.Append([]string{info.Kind, info.Name, info.Type, info.Shape})
			}
			table.Render()
			return nil
		}
		for _, info := range infos {
			if err = writeJSONLine(ctx.App.Writer, info); err != nil {
				return err
			}
		}
		return nil
	},
}

func newSession() (*accelbench.Session, error) {
	switch backend {
	case "GO":
		return accelbench.NewGoSession()
	case "ORT":
		return accelbench.NewORTSession(ortOptions()...)
	default:
		return nil, fmt.Errorf("backend %s not implemented", backend)
	}
}

func ortOptions() []options.WithOption {
	var opts []options.WithOption
	if sharedLibraryPath != "" {
		opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryPath))
	} else if homeDir, err := os.UserHomeDir(); err == nil {
		candidate := fileutil.PathJoinSafe(homeDir, "lib", "accelbench", "libonnxruntime.so")
		if exists, existsErr := fileutil.FileExists(candidate); existsErr == nil && exists {
			opts = append(opts, options.WithOnnxLibraryPath(candidate))
		}
	}
	// --accelerator alone permits providers, CUDA is only registered on request
	if useCuda {
		opts = append(opts, options.WithCuda(nil))
	}
	return opts
}

func location() savedmodel.Location {
	return savedmodel.Location{Dir: modelPath, Tags: tags.Value(), SignatureKey: signatureKey}.WithDefaults()
}

func conversionParams() converter.Params {
	params := converter.DefaultParams()
	params.PrecisionMode = converter.PrecisionMode(precisionMode)
	params.MaxWorkspaceSizeBytes = maxWorkspaceSize
	params.MinimumSegmentSize = minSegmentSize
	params.MaximumCachedEngines = maxCachedEngines
	params.MaxBatchSize = maxBatchSize
	return params
}

func main() {
	app := &cli.App{
		Name:     "accelbench",
		Usage:    "Benchmark saved models with and without TensorRT conversion",
		Commands: []*cli.Command{runCommand, inspectCommand},
	}
	checks.Check(app.Run(os.Args), "accelbench failed")
}

type runRecord struct {
	Handler          string            `json:"handler"`
	ConversionParams *converter.Params `json:"conversion_params,omitempty"`
	Iterations       int               `json:"iterations"`
	MeanMs           float64           `json:"mean_ms"`
	StdDevMs         float64           `json:"stddev_ms"`
	MinMs            float64           `json:"min_ms"`
	P50Ms            float64           `json:"p50_ms"`
	P90Ms            float64           `json:"p90_ms"`
	P99Ms            float64           `json:"p99_ms"`
	MaxMs            float64           `json:"max_ms"`
	OutputShapes     map[string][]int  `json:"output_shapes,omitempty"`
}

func newRunRecord(handler handlers.Handler, result *handlers.TestResult) runRecord {
	summary := result.Summary()
	record := runRecord{
		Handler:          handler.String(),
		ConversionParams: result.ConversionParams,
		Iterations:       summary.Iterations,
		MeanMs:           float64(summary.Mean.Microseconds()) / 1000,
		StdDevMs:         float64(summary.StdDev.Microseconds()) / 1000,
		MinMs:            float64(summary.Min.Microseconds()) / 1000,
		P50Ms:            float64(summary.P50.Microseconds()) / 1000,
		P90Ms:            float64(summary.P90.Microseconds()) / 1000,
		P99Ms:            float64(summary.P99.Microseconds()) / 1000,
		MaxMs:            float64(summary.Max.Microseconds()) / 1000,
	}
	if len(result.Outputs) > 0 {
		record.OutputShapes = map[string][]int{}
		for name, output := range result.Outputs {
			record.OutputShapes[name] = output.Shape()
		}
	}
	return record
}

func writeResult(stdout io.Writer, record runRecord) (err error) {
	if outputPath != "" {
		writer, writerErr := fileutil.NewFileWriter(fileutil.PathJoinSafe(outputPath, resultFilename))
		if writerErr != nil {
			return writerErr
		}
		defer func() {
			err = errors.Join(err, writer.Close())
		}()
		return writeJSONLine(writer, record)
	}

	if !isTerminal(stdout) {
		return writeJSONLine(stdout, record)
	}
	table := tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"iterations", "mean ms", "stddev ms", "min ms", "p50 ms", "p90 ms", "p99 ms", "max ms"})
	table.SetCaption(true, record.Handler)
	table.Append([]string{
		strconv.Itoa(record.Iterations),
		formatMs(record.MeanMs),
		formatMs(record.StdDevMs),
		formatMs(record.MinMs),
		formatMs(record.P50Ms),
		formatMs(record.P90Ms),
		formatMs(record.P99Ms),
		formatMs(record.MaxMs),
	})
	table.Render()
	return nil
}

type tensorRecord struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Shape string `json:"shape"`
}

func newTensorRecord(kind string, info savedmodel.TensorInfo) tensorRecord {
	return tensorRecord{Kind: kind, Name: info.Name, Type: info.DataType.String(), Shape: info.Shape.String()}
}

func writeJSONLine(w io.Writer, value any) error {
	line, err := jsoniter.Marshal(value)
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func formatMs(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 3, 64)
}
