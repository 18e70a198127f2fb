// Package notify delivers user-facing advisories from the pipeline.
// Delivery is best-effort; a dead bus never blocks a transcription.
package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/murmurlabs/murmur-core/internal/protocol"
)

// Sink receives short human-readable messages for the user.
type Sink interface {
	Notice(message string)
	Error(sessionID, message string)
}

// BusSink publishes notices on the message bus. A nil connection turns it
// into a no-op apart from logging, which keeps headless setups working.
type BusSink struct {
	conn *nats.Conn
	log  *slog.Logger
}

func NewBusSink(conn *nats.Conn, log *slog.Logger) *BusSink {
	return &BusSink{conn: conn, log: log}
}

func (s *BusSink) Notice(message string) {
	s.log.Info("notice", slog.String("message", message))
	s.publish(protocol.SubjectNotice, protocol.Notice{
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (s *BusSink) Error(sessionID, message string) {
	s.log.Error("transcription error", slog.String("session_id", sessionID), slog.String("message", message))
	s.publish(protocol.SubjectTranscriptionError, protocol.TranscriptionError{
		SessionID: sessionID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (s *BusSink) publish(subject string, payload any) {
	if s.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("encode notice failed", slog.String("error", err.Error()))
		return
	}
	if err := s.conn.Publish(subject, data); err != nil {
		s.log.Warn("publish notice failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
