package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-test.bin")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return path
}

func speechSamples(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.2
	}
	return out
}

func testWorker(engine Engine) *Worker {
	cfg := config.TranscribeConfig{Mode: "mock", Language: "en", MaxThreads: 6}
	return newWorker(cfg, testLogger(), func(string) (Engine, error) { return engine, nil })
}

func TestTranscribeHappyPath(t *testing.T) {
	engine := &MockEngine{}
	w := testWorker(engine)
	model := writeModelFile(t)

	res, err := w.Transcribe(context.Background(), model, speechSamples(16000), 16000, nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "mock transcript" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Stats.RMS == 0 {
		t.Fatal("expected signal stats")
	}
	if calls := engine.Calls(); len(calls) != 1 {
		t.Fatalf("decode calls = %d, want 1", len(calls))
	}
}

func TestTranscribeEmptySamples(t *testing.T) {
	engine := &MockEngine{}
	w := testWorker(engine)
	model := writeModelFile(t)

	res, err := w.Transcribe(context.Background(), model, nil, 16000, nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("text = %q, want empty", res.Text)
	}
	if len(engine.Calls()) != 0 {
		t.Fatal("engine should not run on empty input")
	}
}

func TestTranscribeMissingModel(t *testing.T) {
	w := testWorker(&MockEngine{})

	_, err := w.Transcribe(context.Background(), "/nonexistent/model.bin", speechSamples(16000), 16000, nil)
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}

func TestTranscribeShortAudioSkipsEngine(t *testing.T) {
	engine := &MockEngine{}
	w := testWorker(engine)
	model := writeModelFile(t)

	// 100ms at 16kHz, below the 200ms decode minimum.
	res, err := w.Transcribe(context.Background(), model, speechSamples(1600), 16000, nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("text = %q, want empty", res.Text)
	}
	if len(engine.Calls()) != 0 {
		t.Fatal("engine should not run below the minimum length")
	}
}

func TestTranscribeLadderAbsorbsTransientErrors(t *testing.T) {
	call := 0
	engine := &MockEngine{
		DecodeFn: func(attempt DecodeAttempt, abort func() bool) (DecodeResult, error) {
			call++
			switch call {
			case 1:
				return DecodeResult{}, &EngineError{Code: -7}
			case 2:
				return DecodeResult{}, &EngineError{Code: -6}
			default:
				return DecodeResult{Segments: []Segment{{
					Text:   "recovered",
					Tokens: []Token{{Text: "recovered", P: 0.8}},
				}}}, nil
			}
		},
	}
	w := testWorker(engine)
	model := writeModelFile(t)

	res, err := w.Transcribe(context.Background(), model, speechSamples(16000), 16000, nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "recovered" {
		t.Fatalf("text = %q, want recovered", res.Text)
	}
	if call != 3 {
		t.Fatalf("decode calls = %d, want 3", call)
	}
}

func TestTranscribeFatalEngineError(t *testing.T) {
	wantErr := errors.New("model corrupted")
	engine := &MockEngine{
		DecodeFn: func(DecodeAttempt, func() bool) (DecodeResult, error) {
			return DecodeResult{}, wantErr
		},
	}
	w := testWorker(engine)
	model := writeModelFile(t)

	_, err := w.Transcribe(context.Background(), model, speechSamples(16000), 16000, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestTranscribeAllAttemptsEmpty(t *testing.T) {
	calls := 0
	engine := &MockEngine{
		DecodeFn: func(DecodeAttempt, func() bool) (DecodeResult, error) {
			calls++
			return DecodeResult{}, nil
		},
	}
	w := testWorker(engine)
	model := writeModelFile(t)

	res, err := w.Transcribe(context.Background(), model, speechSamples(16000), 16000, nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("text = %q, want empty", res.Text)
	}
	if calls != 3 {
		t.Fatalf("decode calls = %d, want full ladder of 3", calls)
	}
}

func TestTranscribeQuietCaptureDiscardsCannedPhrase(t *testing.T) {
	engine := &MockEngine{
		DecodeFn: func(DecodeAttempt, func() bool) (DecodeResult, error) {
			return DecodeResult{Segments: []Segment{{
				Text:   "Thank you.",
				Tokens: []Token{{Text: "Thank you.", P: 0.10}},
			}}}, nil
		},
	}
	w := testWorker(engine)
	model := writeModelFile(t)

	// Quiet enough that the gain stage would lift it well past the filter
	// thresholds if the stats were taken after preprocessing.
	quiet := make([]float32, 16000)
	for i := range quiet {
		quiet[i] = 0.002
	}

	res, err := w.Transcribe(context.Background(), model, quiet, 16000, nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("text = %q, want empty for a quiet low-confidence canned phrase", res.Text)
	}
	if res.Stats.RMS > 0.0025 {
		t.Fatalf("stats rms = %v, want the pre-gain value", res.Stats.RMS)
	}
	if res.Stats.ActiveRatio != 0 {
		t.Fatalf("stats active ratio = %v, want 0", res.Stats.ActiveRatio)
	}
}

func TestTranscribeCancelled(t *testing.T) {
	engine := &MockEngine{}
	w := testWorker(engine)
	model := writeModelFile(t)

	cancel := &atomic.Bool{}
	cancel.Store(true)

	_, err := w.Transcribe(context.Background(), model, speechSamples(16000), 16000, cancel)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if len(engine.Calls()) != 0 {
		t.Fatal("engine should not run after cancellation")
	}
}

func TestLadderShape(t *testing.T) {
	attempts := Ladder("en", 6)
	if len(attempts) != 3 {
		t.Fatalf("ladder length = %d, want 3", len(attempts))
	}
	if attempts[0].Language != "en" || attempts[0].BestOf != 2 || attempts[0].Threads != 6 {
		t.Fatalf("attempt 1 = %+v", attempts[0])
	}
	if attempts[1].Language != "en" || attempts[1].BestOf != 1 || attempts[1].Threads != 3 {
		t.Fatalf("attempt 2 = %+v", attempts[1])
	}
	if attempts[2].Language != "auto" || attempts[2].BestOf != 1 || attempts[2].Threads != 3 {
		t.Fatalf("attempt 3 = %+v", attempts[2])
	}
}

func TestDecodeResultText(t *testing.T) {
	r := DecodeResult{Segments: []Segment{
		{Text: "  hello  "},
		{Text: ""},
		{Text: "   "},
		{Text: "world"},
	}}
	if got := r.Text(); got != "hello world" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestWorkerCachesEngines(t *testing.T) {
	opens := 0
	engine := &MockEngine{}
	cfg := config.TranscribeConfig{Mode: "mock", Language: "en", MaxThreads: 6}
	w := newWorker(cfg, testLogger(), func(string) (Engine, error) {
		opens++
		return engine, nil
	})
	model := writeModelFile(t)

	for i := 0; i < 3; i++ {
		if _, err := w.Transcribe(context.Background(), model, speechSamples(16000), 16000, nil); err != nil {
			t.Fatalf("Transcribe %d: %v", i, err)
		}
	}
	if opens != 1 {
		t.Fatalf("engine opened %d times, want 1", opens)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !engine.Closed() {
		t.Fatal("engine not closed")
	}
}
