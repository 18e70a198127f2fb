// Package pipeline orchestrates one dictation cycle: capture on start,
// transcribe on stop, persist the result, and report progress on the bus.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/capture"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/models"
	"github.com/murmurlabs/murmur-core/internal/notify"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/state"
	"github.com/murmurlabs/murmur-core/internal/transcribe"
)

// minCaptureMS is the shortest capture worth sending to the engine.
const minCaptureMS = 200

// slowTranscribeMS triggers the model-size advisory.
const slowTranscribeMS = 15000

// Transcriber is the slice of the transcription worker the pipeline needs.
type Transcriber interface {
	Transcribe(ctx context.Context, modelPath string, samples []float32, sourceRate int, cancel *atomic.Bool) (transcribe.Result, error)
}

// History is the slice of the history store the pipeline needs.
type History interface {
	Insert(ctx context.Context, text string, durationMS int64, model string) (int64, error)
}

// Service ties the capture session, state machine, worker, and store
// together behind the bus control subjects.
type Service struct {
	cfg     config.Config
	log     *slog.Logger
	conn    *nats.Conn
	machine *state.Machine
	host    capture.Host
	worker  Transcriber
	history History
	notify  notify.Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

// New builds a Service. conn may be nil for setups without a bus; control
// then happens through direct method calls only.
func New(cfg config.Config, log *slog.Logger, conn *nats.Conn, machine *state.Machine, host capture.Host, worker Transcriber, history History, sink notify.Sink) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		conn:    conn,
		machine: machine,
		host:    host,
		worker:  worker,
		history: history,
		notify:  sink,
	}
}

// Start subscribes to the control subjects.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.conn == nil {
		s.log.Warn("pipeline running without a bus connection, control subjects disabled")
		return nil
	}

	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectControlStart, func(*nats.Msg) { s.logControlErr("start", s.StartRecording()) }},
		{protocol.SubjectControlStop, func(*nats.Msg) { s.logControlErr("stop", s.StopRecording()) }},
		{protocol.SubjectControlToggle, func(*nats.Msg) { s.logControlErr("toggle", s.ToggleRecording()) }},
		{protocol.SubjectControlCancel, func(*nats.Msg) { s.logControlErr("cancel", s.CancelTranscription()) }},
	}
	for _, h := range handlers {
		sub, err := s.conn.Subscribe(h.subject, h.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.log.Info("pipeline control subjects ready")
	return nil
}

func (s *Service) logControlErr(op string, err error) {
	if err != nil {
		s.log.Warn("control request rejected",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}

// Status returns the current session state.
func (s *Service) Status() state.Status {
	return s.machine.Status()
}

// InputStatus reports on the default input device.
func (s *Service) InputStatus() capture.InputStatus {
	return capture.Status(s.host)
}

// StartRecording opens a capture session and moves to recording.
func (s *Service) StartRecording() error {
	sess, err := capture.Start(s.host, s.cfg.Capture.MaxSeconds, s.log)
	if err != nil {
		s.notify.Error("", err.Error())
		return err
	}
	if err := s.machine.SetRecording(sess); err != nil {
		// Lost the race against another start; drop the stray session.
		go sess.Stop()
		return err
	}
	s.publishState(state.StatusRecording, sess.ID())
	return nil
}

// StopRecording detaches the capture session and finalizes it off the
// caller's goroutine.
func (s *Service) StopRecording() error {
	sess, cancelFlag, err := s.machine.TakeRecording()
	if err != nil {
		return err
	}
	s.publishState(state.StatusProcessing, sess.ID())

	s.wg.Add(1)
	go s.finalize(sess, cancelFlag)
	return nil
}

// ToggleRecording starts when idle, stops when recording, and advises the
// user when a transcription is still running.
func (s *Service) ToggleRecording() error {
	switch s.machine.Status() {
	case state.StatusIdle:
		return s.StartRecording()
	case state.StatusRecording:
		return s.StopRecording()
	default:
		s.notify.Notice("Transcription is still running. Please wait.")
		return nil
	}
}

// CancelTranscription flags the in-flight transcription for abort.
func (s *Service) CancelTranscription() error {
	initiated, err := s.machine.RequestCancel()
	if err != nil {
		return err
	}
	if initiated {
		s.publishState(state.StatusCancelling, "")
		s.notify.Notice("Cancelling transcription...")
	}
	return nil
}

// finalize turns a stopped capture session into a persisted transcription.
// Always returns the machine to idle, whatever happens along the way.
func (s *Service) finalize(sess *capture.Session, cancelFlag *atomic.Bool) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("finalize panicked", slog.Any("panic", r))
		}
		s.machine.SetIdle()
		s.publishState(state.StatusIdle, "")
	}()

	// Finalization races runtime shutdown: the parent context may already
	// be cancelled while Close waits for this goroutine, and a finished
	// transcription must still reach the store. Cancellation of the decode
	// itself travels through cancelFlag, not the context.
	ctx := context.WithoutCancel(s.ctx)

	captured := sess.Stop()
	s.dumpCapture(sess.ID(), captured)

	if captured.Truncated {
		s.notify.Notice(fmt.Sprintf(
			"Recording exceeded %d seconds. Only the first %d seconds were transcribed.",
			s.cfg.Capture.MaxSeconds, s.cfg.Capture.MaxSeconds))
	}
	if captured.DurationMS < minCaptureMS {
		s.notify.Error(sess.ID(), "Recording too short")
		return
	}

	modelName, modelPath, err := s.resolveModel()
	if err != nil {
		s.notify.Error(sess.ID(), err.Error())
		return
	}

	started := time.Now()
	result, err := s.worker.Transcribe(ctx, modelPath, captured.Samples, captured.SampleRate, cancelFlag)
	if errors.Is(err, transcribe.ErrCancelled) || cancelFlag.Load() {
		s.notify.Notice("Transcription cancelled.")
		return
	}
	if err != nil {
		s.notify.Error(sess.ID(), err.Error())
		return
	}

	if result.Text == "" {
		s.notify.Notice("No speech detected.")
		return
	}

	id, err := s.history.Insert(ctx, result.Text, captured.DurationMS, modelName)
	if err != nil {
		s.notify.Error(sess.ID(), err.Error())
		return
	}

	if elapsed := time.Since(started).Milliseconds(); elapsed > slowTranscribeMS {
		s.notify.Notice(fmt.Sprintf(
			"Transcription took %.1fs. Consider a smaller model for faster response.",
			float64(elapsed)/1000.0))
	}

	s.publish(protocol.SubjectTranscriptionComplete, protocol.TranscriptionComplete{
		ID:         id,
		SessionID:  sess.ID(),
		Text:       result.Text,
		DurationMS: captured.DurationMS,
		Model:      modelName,
		EngineMS:   result.EngineMS,
		Truncated:  captured.Truncated,
		Stats: protocol.SignalStats{
			RMS:         result.Stats.RMS,
			Peak:        result.Stats.Peak,
			ActiveRatio: result.Stats.ActiveRatio,
		},
		Timestamp: time.Now().UTC(),
	})
	s.log.Info("transcription complete",
		slog.Int64("id", id),
		slog.String("session_id", sess.ID()),
		slog.Int64("duration_ms", captured.DurationMS),
		slog.Int64("engine_ms", result.EngineMS),
		slog.String("model", modelName))
}

// resolveModel returns the configured model, falling back to the best
// installed one when the configured file is missing.
func (s *Service) resolveModel() (name, path string, err error) {
	name = s.cfg.Transcribe.Model
	path = filepath.Join(s.cfg.Transcribe.ModelsDir, name)
	if _, statErr := os.Stat(path); statErr == nil {
		return name, path, nil
	}

	fallback := models.PickDefault(s.cfg.Transcribe.ModelsDir)
	fallbackPath := filepath.Join(s.cfg.Transcribe.ModelsDir, fallback)
	if _, statErr := os.Stat(fallbackPath); statErr == nil {
		if fallback != name {
			s.notify.Notice(fmt.Sprintf(
				"Active model '%s' is missing. Switched to '%s'.", name, fallback))
		}
		return fallback, fallbackPath, nil
	}
	return "", "", errors.New("no installed model available; download a model or add a .bin file to the models directory")
}

// dumpCapture writes the raw capture to the configured dump directory.
// Diagnostics only; failures never interrupt the pipeline.
func (s *Service) dumpCapture(sessionID string, captured capture.CapturedAudio) {
	dir := s.cfg.Capture.DumpDir
	if dir == "" || len(captured.Samples) == 0 {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("create capture dump dir failed", slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("capture_%s.wav", sessionID))
	if err := audio.WriteWAV16(path, captured.Samples, captured.SampleRate); err != nil {
		s.log.Warn("write capture dump failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	s.log.Debug("capture dumped", slog.String("path", path))
}

func (s *Service) publishState(status state.Status, sessionID string) {
	s.publish(protocol.SubjectStateChanged, protocol.StateChanged{
		Status:    string(status),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publish(subject string, payload any) {
	if s.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("encode event failed", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := s.conn.Publish(subject, data); err != nil {
		s.log.Warn("publish event failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

// Wait blocks until all in-flight finalizations complete.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close unsubscribes and waits for in-flight work.
func (s *Service) Close() error {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.log.Warn("unsubscribe failed", slog.String("error", err.Error()))
		}
	}
	s.subs = nil
	// Drain in-flight finalizations; they run on a detached context and
	// persist their result even when the parent is already cancelled.
	s.wg.Wait()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
