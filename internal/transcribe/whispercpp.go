//go:build whisper_cpp

package transcribe

import (
	"context"
	"fmt"
	"io"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperCPPEngine decodes through the whisper.cpp cgo bindings. Built only
// with the whisper_cpp tag; the default build uses the stub opener.
type whisperCPPEngine struct {
	model whisperpkg.Model
	mu    sync.Mutex
}

func openWhisperCPP(modelPath string) (Engine, error) {
	model, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &whisperCPPEngine{model: model}, nil
}

func (e *whisperCPPEngine) Decode(_ context.Context, samples []float32, attempt DecodeAttempt, abort func() bool) (DecodeResult, error) {
	// whisper.cpp contexts are not safe for concurrent use on one model.
	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return DecodeResult{}, fmt.Errorf("create context: %w", err)
	}

	wctx.SetThreads(uint(attempt.Threads))
	if err := wctx.SetLanguage(attempt.Language); err != nil {
		return DecodeResult{}, fmt.Errorf("set language %q: %w", attempt.Language, err)
	}
	wctx.SetTranslate(false)
	wctx.SetTokenTimestamps(false)
	wctx.SetTemperature(0)
	// No prompt carryover between decode attempts.
	wctx.SetMaxContext(0)

	encoderBegin := func() bool {
		return abort == nil || !abort()
	}
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		if abort != nil && abort() {
			return DecodeResult{}, nil
		}
		return DecodeResult{}, fmt.Errorf("process audio: %w", err)
	}

	var result DecodeResult
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return DecodeResult{}, fmt.Errorf("read segment: %w", err)
		}
		out := Segment{Text: seg.Text}
		for _, tok := range seg.Tokens {
			out.Tokens = append(out.Tokens, Token{Text: tok.Text, P: tok.P})
		}
		result.Segments = append(result.Segments, out)
	}
	return result, nil
}

func (e *whisperCPPEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
