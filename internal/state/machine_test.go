package state

import (
	"errors"
	"testing"
)

func TestInitialStatusIsIdle(t *testing.T) {
	m := NewMachine()
	if got := m.Status(); got != StatusIdle {
		t.Fatalf("status = %s, want idle", got)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	m := NewMachine()

	if err := m.SetRecording(nil); err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	if got := m.Status(); got != StatusRecording {
		t.Fatalf("status = %s, want recording", got)
	}

	_, cancel, err := m.TakeRecording()
	if err != nil {
		t.Fatalf("TakeRecording: %v", err)
	}
	if cancel == nil {
		t.Fatal("TakeRecording returned nil cancel flag")
	}
	if cancel.Load() {
		t.Fatal("cancel flag set at handoff")
	}
	if got := m.Status(); got != StatusProcessing {
		t.Fatalf("status = %s, want processing", got)
	}

	m.SetIdle()
	if got := m.Status(); got != StatusIdle {
		t.Fatalf("status = %s, want idle", got)
	}
}

func TestSetRecordingRejectedWhenBusy(t *testing.T) {
	m := NewMachine()
	if err := m.SetRecording(nil); err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	err := m.SetRecording(nil)
	if !errors.Is(err, ErrNotIdle) {
		t.Fatalf("err = %v, want ErrNotIdle", err)
	}
}

func TestTakeRecordingRequiresRecording(t *testing.T) {
	m := NewMachine()
	if _, _, err := m.TakeRecording(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
}

func TestRequestCancel(t *testing.T) {
	m := NewMachine()
	if err := m.SetRecording(nil); err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	_, cancel, err := m.TakeRecording()
	if err != nil {
		t.Fatalf("TakeRecording: %v", err)
	}

	initiated, err := m.RequestCancel()
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !initiated {
		t.Fatal("first cancel should report initiated")
	}
	if !cancel.Load() {
		t.Fatal("cancel flag not set")
	}
	if got := m.Status(); got != StatusCancelling {
		t.Fatalf("status = %s, want cancelling", got)
	}

	// Second cancel is a no-op, not an error.
	initiated, err = m.RequestCancel()
	if err != nil {
		t.Fatalf("second RequestCancel: %v", err)
	}
	if initiated {
		t.Fatal("second cancel should not report initiated")
	}
}

func TestRequestCancelRequiresProcessing(t *testing.T) {
	m := NewMachine()
	if _, err := m.RequestCancel(); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("err = %v, want ErrNotProcessing", err)
	}

	if err := m.SetRecording(nil); err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	if _, err := m.RequestCancel(); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("err while recording = %v, want ErrNotProcessing", err)
	}
}
