// Package transcribe turns captured audio into text. It wraps an inference
// engine behind a small interface, retries transient decode failures through
// a ladder of progressively simpler settings, and filters out canned
// hallucinations on near-silent input.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// DecodeAttempt is one rung of the decode ladder.
type DecodeAttempt struct {
	// Language is a whisper language code, or "auto" for detection.
	Language string
	BestOf   int
	Threads  int
}

// Token is one decoded token with its probability.
type Token struct {
	Text string
	P    float32
}

// Segment is one decoded span of text.
type Segment struct {
	Text   string
	Tokens []Token
}

// DecodeResult is the raw output of one engine decode.
type DecodeResult struct {
	Segments []Segment
}

// Text assembles the transcript: segments trimmed and joined by single
// spaces, empty segments dropped.
func (r DecodeResult) Text() string {
	var b strings.Builder
	for _, seg := range r.Segments {
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}

// AvgTokenP is the mean token probability across all segments. Results
// without token data report full confidence so they are never filtered on
// confidence alone.
func (r DecodeResult) AvgTokenP() float32 {
	var sum float64
	n := 0
	for _, seg := range r.Segments {
		for _, tok := range seg.Tokens {
			sum += float64(tok.P)
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return float32(sum / float64(n))
}

// EngineError is a decode failure reported by the inference engine with a
// numeric code.
type EngineError struct {
	Code int
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine decode failed with code %d", e.Code)
}

// Transient reports whether the code is one of the known recoverable decode
// failures that warrant trying the next ladder attempt. Anything else is
// fatal for the whole transcription.
func (e *EngineError) Transient() bool {
	return e.Code == -6 || e.Code == -7
}

var (
	// ErrModelNotFound means the model file is missing at the configured path.
	ErrModelNotFound = errors.New("model file not found")

	// ErrCancelled means the shared cancellation flag was observed set.
	ErrCancelled = errors.New("transcription cancelled")
)

// Engine decodes preprocessed 16kHz mono samples. The abort predicate is
// polled during decoding; when it returns true the engine stops as soon as
// it can and the attempt yields whatever was decoded so far.
type Engine interface {
	Decode(ctx context.Context, samples []float32, attempt DecodeAttempt, abort func() bool) (DecodeResult, error)
	Close() error
}

// OpenEngine constructs an Engine for one model file.
type OpenEngine func(modelPath string) (Engine, error)

// OpenerFor selects the engine implementation named by config.
func OpenerFor(cfg config.TranscribeConfig) (OpenEngine, error) {
	switch cfg.Mode {
	case "mock":
		return func(string) (Engine, error) { return &MockEngine{}, nil }, nil
	case "exec":
		return execOpener(cfg.Command)
	case "whispercpp":
		return openWhisperCPP, nil
	default:
		return nil, fmt.Errorf("unknown transcribe mode %q", cfg.Mode)
	}
}

// Ladder builds the decode attempts in fallback order: widest search first,
// then a narrower retry, then narrow with language auto-detection.
func Ladder(language string, threads int) []DecodeAttempt {
	fewer := threads
	if fewer > 3 {
		fewer = 3
	}
	if fewer < 1 {
		fewer = 1
	}
	return []DecodeAttempt{
		{Language: language, BestOf: 2, Threads: threads},
		{Language: language, BestOf: 1, Threads: fewer},
		{Language: "auto", BestOf: 1, Threads: fewer},
	}
}
