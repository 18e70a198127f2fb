package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

// minSamples16K is 200ms at the 16kHz target rate. Anything shorter is
// treated as no-speech without touching the engine.
const minSamples16K = 3200

// Result is the outcome of one transcription. Empty Text means no speech
// was detected; errors are reserved for real failures.
type Result struct {
	Text     string
	EngineMS int64
	Stats    audio.SignalStats
}

// Worker runs transcriptions. Engines are opened lazily per model path and
// cached for reuse across utterances.
type Worker struct {
	cfg  config.TranscribeConfig
	log  *slog.Logger
	open OpenEngine

	mu      sync.Mutex
	engines map[string]Engine
}

// NewWorker builds a Worker for the configured engine mode.
func NewWorker(cfg config.TranscribeConfig, log *slog.Logger) (*Worker, error) {
	open, err := OpenerFor(cfg)
	if err != nil {
		return nil, err
	}
	return newWorker(cfg, log, open), nil
}

func newWorker(cfg config.TranscribeConfig, log *slog.Logger, open OpenEngine) *Worker {
	return &Worker{
		cfg:     cfg,
		log:     log,
		open:    open,
		engines: make(map[string]Engine),
	}
}

// Transcribe resamples, preprocesses, and decodes the captured samples.
// Returns an empty-text Result for no-speech conditions and ErrCancelled
// when the shared flag was observed set.
func (w *Worker) Transcribe(ctx context.Context, modelPath string, samples []float32, sourceRate int, cancel *atomic.Bool) (Result, error) {
	if len(samples) == 0 {
		return Result{}, nil
	}
	if _, err := os.Stat(modelPath); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
	}

	// The weak-signal thresholds describe the capture as recorded, so the
	// stats must come from the pre-gain samples.
	resampled := audio.ResampleTo16K(samples, sourceRate)
	stats := audio.AnalyzeSignal(resampled)
	processed := audio.Preprocess(resampled)
	if len(processed) < minSamples16K {
		w.log.Debug("capture below minimum decode length",
			slog.Int("samples", len(processed)))
		return Result{Stats: stats}, nil
	}

	abort := func() bool { return cancel != nil && cancel.Load() }

	engine, err := w.engine(modelPath)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	sawTransient := false
	for _, attempt := range Ladder(w.cfg.Language, w.threads()) {
		if abort() {
			return Result{Stats: stats}, ErrCancelled
		}

		decoded, err := engine.Decode(ctx, processed, attempt, abort)
		if err != nil {
			var engErr *EngineError
			if errors.As(err, &engErr) && engErr.Transient() {
				sawTransient = true
				w.log.Warn("transient decode failure, trying next attempt",
					slog.Int("code", engErr.Code),
					slog.String("language", attempt.Language),
					slog.Int("best_of", attempt.BestOf))
				continue
			}
			return Result{}, fmt.Errorf("decode: %w", err)
		}
		if abort() {
			return Result{Stats: stats}, ErrCancelled
		}

		text := decoded.Text()
		if text == "" {
			continue
		}

		elapsed := time.Since(start).Milliseconds()
		if rejectHallucination(text, stats, decoded.AvgTokenP()) {
			w.log.Info("discarding likely hallucination",
				slog.String("text", text),
				slog.Float64("rms", float64(stats.RMS)),
				slog.Float64("active_ratio", float64(stats.ActiveRatio)),
				slog.Float64("avg_token_p", float64(decoded.AvgTokenP())))
			return Result{EngineMS: elapsed, Stats: stats}, nil
		}
		return Result{Text: text, EngineMS: elapsed, Stats: stats}, nil
	}

	if sawTransient {
		w.log.Warn("decode produced only transient failures across all attempts")
	}
	return Result{EngineMS: time.Since(start).Milliseconds(), Stats: stats}, nil
}

// threads caps decode parallelism at the configured maximum.
func (w *Worker) threads() int {
	n := runtime.NumCPU()
	if max := w.cfg.MaxThreads; max > 0 && n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (w *Worker) engine(modelPath string) (Engine, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if eng, ok := w.engines[modelPath]; ok {
		return eng, nil
	}
	eng, err := w.open(modelPath)
	if err != nil {
		return nil, fmt.Errorf("open engine for %s: %w", modelPath, err)
	}
	w.engines[modelPath] = eng
	return eng, nil
}

// Close releases all cached engines.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var first error
	for path, eng := range w.engines {
		if err := eng.Close(); err != nil && first == nil {
			first = fmt.Errorf("close engine for %s: %w", path, err)
		}
		delete(w.engines, path)
	}
	return first
}
