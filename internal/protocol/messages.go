package protocol

import "time"

// StateChanged announces a session state machine transition.
type StateChanged struct {
	Status    string    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice is a fire-and-forget user-facing message.
type Notice struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SignalStats summarizes the captured signal for a completed transcription.
type SignalStats struct {
	RMS         float32 `json:"rms"`
	Peak        float32 `json:"peak"`
	ActiveRatio float32 `json:"active_ratio"`
}

// TranscriptionComplete is published after a result has been persisted.
type TranscriptionComplete struct {
	ID         int64       `json:"id"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	DurationMS int64       `json:"duration_ms"`
	Model      string      `json:"model"`
	EngineMS   int64       `json:"engine_ms"`
	Truncated  bool        `json:"truncated"`
	Stats      SignalStats `json:"stats"`
	Timestamp  time.Time   `json:"timestamp"`
}

// TranscriptionError reports a failed capture or transcription attempt.
type TranscriptionError struct {
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectControlStart  = "murmur.control.start"
	SubjectControlStop   = "murmur.control.stop"
	SubjectControlToggle = "murmur.control.toggle"
	SubjectControlCancel = "murmur.control.cancel"

	SubjectStateChanged          = "murmur.state.changed"
	SubjectNotice                = "murmur.notice"
	SubjectTranscriptionComplete = "murmur.transcription.complete"
	SubjectTranscriptionError    = "murmur.transcription.error"
)
