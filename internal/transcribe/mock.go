package transcribe

import (
	"context"
	"sync"
)

// MockEngine is an in-memory Engine for tests and the "mock" config mode.
// DecodeFn, when set, scripts each call; otherwise every decode yields a
// fixed high-confidence transcript.
type MockEngine struct {
	DecodeFn func(attempt DecodeAttempt, abort func() bool) (DecodeResult, error)

	mu     sync.Mutex
	calls  []DecodeAttempt
	closed bool
}

func (m *MockEngine) Decode(_ context.Context, _ []float32, attempt DecodeAttempt, abort func() bool) (DecodeResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, attempt)
	m.mu.Unlock()

	if m.DecodeFn != nil {
		return m.DecodeFn(attempt, abort)
	}
	if abort != nil && abort() {
		return DecodeResult{}, nil
	}
	return DecodeResult{Segments: []Segment{{
		Text:   "mock transcript",
		Tokens: []Token{{Text: "mock", P: 0.95}, {Text: "transcript", P: 0.95}},
	}}}, nil
}

func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the decode attempts seen so far.
func (m *MockEngine) Calls() []DecodeAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DecodeAttempt, len(m.calls))
	copy(out, m.calls)
	return out
}

// Closed reports whether Close was called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
