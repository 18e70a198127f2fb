// Package state tracks the dictation session lifecycle. Exactly one
// recording or transcription is in flight at a time; every transition is
// validated against the current status.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/murmurlabs/murmur-core/internal/capture"
)

// Status is the externally visible session state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCancelling Status = "cancelling"
)

var (
	ErrNotIdle       = errors.New("a session is already in progress")
	ErrNotRecording  = errors.New("no recording in progress")
	ErrNotProcessing = errors.New("no transcription in progress")
	ErrNoActiveTask  = errors.New("no cancellable task installed")
)

// Machine serializes state transitions and owns the handoff of the capture
// session from the recording phase to the processing phase.
type Machine struct {
	mu      sync.Mutex
	status  Status
	session *capture.Session
	cancel  *atomic.Bool
}

func NewMachine() *Machine {
	return &Machine{status: StatusIdle}
}

// Status returns the current state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetRecording installs a live capture session. Only valid from idle.
func (m *Machine) SetRecording(sess *capture.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusIdle {
		return fmt.Errorf("%w: currently %s", ErrNotIdle, m.status)
	}
	m.status = StatusRecording
	m.session = sess
	m.cancel = nil
	return nil
}

// TakeRecording moves recording to processing, handing the capture session
// and a fresh cancellation flag to the caller. Only valid from recording.
func (m *Machine) TakeRecording() (*capture.Session, *atomic.Bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusRecording {
		return nil, nil, fmt.Errorf("%w: currently %s", ErrNotRecording, m.status)
	}
	sess := m.session
	m.session = nil
	m.cancel = &atomic.Bool{}
	m.status = StatusProcessing
	return sess, m.cancel, nil
}

// RequestCancel asks the in-flight transcription to stop. Returns true when
// this call initiated the cancel, false when one was already pending.
func (m *Machine) RequestCancel() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusProcessing:
		if m.cancel == nil {
			return false, ErrNoActiveTask
		}
		m.cancel.Store(true)
		m.status = StatusCancelling
		return true, nil
	case StatusCancelling:
		return false, nil
	default:
		return false, fmt.Errorf("%w: currently %s", ErrNotProcessing, m.status)
	}
}

// SetIdle returns to idle unconditionally and clears any session handles.
// Called when a pipeline run finishes, fails, or is cancelled.
func (m *Machine) SetIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusIdle
	m.session = nil
	m.cancel = nil
}
