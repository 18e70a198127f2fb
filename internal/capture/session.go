package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CapturedAudio is the final product of a capture session: mono float32
// samples at the device's native rate.
type CapturedAudio struct {
	Samples    []float32
	SampleRate int
	DurationMS int64
	Truncated  bool
}

// Session is one in-flight recording. It owns a capture goroutine that
// drains the stream into a bounded buffer until Stop is called or the
// buffer fills.
type Session struct {
	id         string
	sampleRate int
	maxSamples int
	startedAt  time.Time
	log        *slog.Logger

	mu        sync.Mutex
	samples   []float32
	truncated bool

	stream   Stream
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Start opens the host's default input device and begins capturing.
// It returns once the stream delivers frames or fails to start.
func Start(h Host, maxSeconds int, log *slog.Logger) (*Session, error) {
	dev, err := h.DefaultInput()
	if err != nil {
		return nil, &DeviceError{Err: err}
	}

	cfg, err := dev.Config()
	if err != nil {
		return nil, &DeviceError{Err: fmt.Errorf("query %s: %w", dev.Name(), err)}
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, &DeviceError{Err: fmt.Errorf("unusable config for %s: rate=%d channels=%d", dev.Name(), cfg.SampleRate, cfg.Channels)}
	}

	stream, err := dev.Open(cfg)
	if err != nil {
		return nil, &StreamError{Err: fmt.Errorf("open %s: %w", dev.Name(), err)}
	}

	if maxSeconds <= 0 {
		maxSeconds = 30
	}
	sess := &Session{
		id:         uuid.NewString(),
		sampleRate: cfg.SampleRate,
		maxSamples: cfg.SampleRate * maxSeconds,
		startedAt:  time.Now(),
		log:        log,
		samples:    make([]float32, 0, cfg.SampleRate*maxSeconds),
		stream:     stream,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go sess.run(cfg)

	log.Info("capture started",
		slog.String("session_id", sess.id),
		slog.String("device", dev.Name()),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("channels", cfg.Channels),
		slog.String("format", cfg.Format.String()))
	return sess, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SampleRate returns the native rate of the captured audio.
func (s *Session) SampleRate() int { return s.sampleRate }

func (s *Session) run(cfg StreamConfig) {
	defer close(s.done)

	blocks := s.stream.Blocks()
	for {
		select {
		case <-s.stop:
			if err := s.stream.Close(); err != nil {
				s.log.Warn("capture stream close failed", slog.String("error", err.Error()))
			}
			// Drain what the backend already buffered so the tail of the
			// utterance is not lost.
			for block := range blocks {
				s.append(block, cfg)
			}
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			s.append(block, cfg)
		}
	}
}

// append folds one block of interleaved frames into the mono buffer.
// Only full frames are consumed; a trailing partial frame is dropped.
func (s *Session) append(b Block, cfg StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := cfg.Channels
	room := s.maxSamples - len(s.samples)
	if room <= 0 {
		s.markTruncatedLocked()
		return
	}

	switch cfg.Format {
	case FormatF32:
		frames := len(b.F32) / ch
		for i := 0; i < frames; i++ {
			if room == 0 {
				s.markTruncatedLocked()
				return
			}
			var sum float32
			for c := 0; c < ch; c++ {
				sum += b.F32[i*ch+c]
			}
			s.samples = append(s.samples, sum/float32(ch))
			room--
		}
	case FormatS16:
		frames := len(b.S16) / ch
		for i := 0; i < frames; i++ {
			if room == 0 {
				s.markTruncatedLocked()
				return
			}
			var sum float32
			for c := 0; c < ch; c++ {
				sum += float32(b.S16[i*ch+c]) / 32767.0
			}
			s.samples = append(s.samples, sum/float32(ch))
			room--
		}
	case FormatU16:
		frames := len(b.U16) / ch
		for i := 0; i < frames; i++ {
			if room == 0 {
				s.markTruncatedLocked()
				return
			}
			var sum float32
			for c := 0; c < ch; c++ {
				sum += (float32(b.U16[i*ch+c]) - 32768.0) / 32768.0
			}
			s.samples = append(s.samples, sum/float32(ch))
			room--
		}
	}
}

func (s *Session) markTruncatedLocked() {
	if !s.truncated {
		s.truncated = true
		s.log.Warn("capture buffer full, truncating",
			slog.String("session_id", s.id),
			slog.Int("max_samples", s.maxSamples))
	}
}

// Stop ends the session and returns everything captured so far.
// Safe to call more than once; later calls return the same audio.
func (s *Session) Stop() CapturedAudio {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	out := CapturedAudio{
		Samples:    make([]float32, len(s.samples)),
		SampleRate: s.sampleRate,
		DurationMS: time.Since(s.startedAt).Milliseconds(),
		Truncated:  s.truncated,
	}
	copy(out.Samples, s.samples)
	return out
}
