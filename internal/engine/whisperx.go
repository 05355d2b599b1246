package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"scribe/internal/config"
	"scribe/internal/language"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// WhisperX invocation constants.
const (
	defaultModel      = "large-v3"
	cudaIndexURL      = "https://download.pytorch.org/whl/cu128"
	pypiIndexURL      = "https://pypi.org/simple"
	batchSize         = "4"
	chunkSize         = "15"
	beamSize          = "10"
	bestOf            = "10"
	temperature       = "0.0"
	patience          = "1.0"
	segmentResolution = "sentence"
	outputFormat      = "all"
	cpuDevice         = "cpu"
	cudaDevice        = "cuda"
	cpuComputeType    = "float32"
)

// WhisperX invokes the whisperx CLI through uvx and parses its output files.
type WhisperX struct {
	binary      string
	model       string
	cudaEnabled bool
	logger      *slog.Logger

	// commandRunner is swapped in tests to avoid spawning real processes.
	// stderr receives the child's diagnostic stream for progress parsing.
	commandRunner func(ctx context.Context, stderr io.Writer, name string, args ...string) error
}

// NewWhisperX builds the engine client from configuration.
func NewWhisperX(cfg *config.Config, logger *slog.Logger) *WhisperX {
	if logger == nil {
		logger = logging.NewNop()
	}
	binary := cfg.Engine.Binary
	if binary == "" {
		binary = "uvx"
	}
	return &WhisperX{
		binary:      binary,
		model:       cfg.Engine.Model,
		cudaEnabled: cfg.Engine.CUDAEnabled,
		logger:      logger.With(logging.String(logging.FieldComponent, "engine")),
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (w *WhisperX) WithCommandRunner(runner func(ctx context.Context, stderr io.Writer, name string, args ...string) error) {
	w.commandRunner = runner
}

// Transcribe runs whisperx over the source file and collects its outputs.
// Errors are tagged so callers can map them to the right terminal status:
// a process that never started, a run cut off by its deadline, and an
// engine that exited non-zero are distinct failures.
func (w *WhisperX) Transcribe(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if req.SourcePath == "" {
		return nil, services.Wrap(services.ErrValidation, "engine", "transcribe", "source path required", nil)
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(req.SourcePath)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "engine", "transcribe", "ensure output dir", err)
	}

	args := w.buildArgs(req, outputDir)
	w.logger.Info("starting transcription",
		logging.String("source", req.SourcePath),
		logging.String("model", w.resolveModel(req.Model)))

	stderr := newProgressParser(progress)
	if err := w.run(ctx, stderr, args); err != nil {
		return nil, w.classifyRunError(ctx, err)
	}

	baseName := strings.TrimSuffix(filepath.Base(req.SourcePath), filepath.Ext(req.SourcePath))
	jsonPath := filepath.Join(outputDir, baseName+".json")
	srtPath := filepath.Join(outputDir, baseName+".srt")

	segments, err := LoadSegments(jsonPath)
	if err != nil {
		return nil, services.Wrap(services.ErrEngine, "engine", "transcribe", "load engine output", err)
	}
	segmentsJSON, err := MarshalSegments(segments)
	if err != nil {
		return nil, services.Wrap(services.ErrEngine, "engine", "transcribe", "encode segments", err)
	}
	if _, err := os.Stat(srtPath); err != nil {
		srtPath = ""
	}

	return &Result{
		Text:         FlattenText(segments),
		Segments:     segments,
		SegmentsJSON: segmentsJSON,
		SRTPath:      srtPath,
	}, nil
}

func (w *WhisperX) run(ctx context.Context, stderr io.Writer, args []string) error {
	if w.commandRunner != nil {
		return w.commandRunner(ctx, stderr, w.binary, args...)
	}

	cmd := exec.CommandContext(ctx, w.binary, args...) //nolint:gosec
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	// Torch 2.6 changed torch.load default to weights_only=true, breaking
	// WhisperX checkpoint loading. Force legacy behavior.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if err := cmd.Start(); err != nil {
		return &startError{err: err}
	}
	return cmd.Wait()
}

type startError struct {
	err error
}

func (e *startError) Error() string { return e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

func (w *WhisperX) classifyRunError(ctx context.Context, err error) error {
	var start *startError
	switch {
	case errors.As(err, &start), errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrLaunch, "engine", "transcribe", w.binary, err)
	case ctx.Err() != nil:
		return services.Wrap(services.ErrTimeout, "engine", "transcribe", "run exceeded deadline", err)
	default:
		return services.Wrap(services.ErrEngine, "engine", "transcribe", "engine exited", err)
	}
}

func (w *WhisperX) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	if w.model != "" {
		return w.model
	}
	return defaultModel
}

func (w *WhisperX) buildArgs(req Request, outputDir string) []string {
	args := make([]string, 0, 32)

	if w.cudaEnabled {
		args = append(args,
			"--index-url", cudaIndexURL,
			"--extra-index-url", pypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", pypiIndexURL)
	}

	args = append(args,
		"whisperx",
		req.SourcePath,
		"--model", w.resolveModel(req.Model),
		"--batch_size", batchSize,
		"--output_dir", outputDir,
		"--output_format", outputFormat,
		"--segment_resolution", segmentResolution,
		"--chunk_size", chunkSize,
		"--beam_size", beamSize,
		"--best_of", bestOf,
		"--temperature", temperature,
		"--patience", patience,
		"--print_progress", "True",
	)

	if lang := language.ToISO2(req.Language); lang != "" {
		args = append(args, "--language", lang)
	}

	if w.cudaEnabled {
		args = append(args, "--device", cudaDevice)
	} else {
		args = append(args, "--device", cpuDevice, "--compute_type", cpuComputeType)
	}

	return args
}

type enginePayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a whisperx JSON output file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload enginePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse engine json: %w", err)
	}
	return payload.Segments, nil
}
