// Package capture owns the microphone capture session: device selection,
// the capture goroutine, and the bounded sample buffer it fills.
package capture

import (
	"errors"
	"fmt"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// Format identifies the sample encoding delivered by an input stream.
type Format int

const (
	FormatF32 Format = iota
	FormatS16
	FormatU16
)

func (f Format) String() string {
	switch f {
	case FormatF32:
		return "f32"
	case FormatS16:
		return "s16"
	case FormatU16:
		return "u16"
	default:
		return "unknown"
	}
}

// StreamConfig is the native configuration of an input device.
type StreamConfig struct {
	SampleRate int
	Channels   int
	Format     Format
}

// Block carries one batch of interleaved frames from an input stream.
// Exactly one slice is populated, matching the stream format.
type Block struct {
	F32 []float32
	S16 []int16
	U16 []uint16
}

// Stream is a live audio input stream. Blocks returns the bounded channel
// the backend delivers frames on; it is closed after Close tears the native
// stream down.
type Stream interface {
	Blocks() <-chan Block
	Close() error
}

// Device is one audio input device.
type Device interface {
	Name() string
	Config() (StreamConfig, error)
	Open(cfg StreamConfig) (Stream, error)
}

// Host enumerates audio input devices.
type Host interface {
	DefaultInput() (Device, error)
	InputCount() int
}

// DeviceError reports a missing input device or a failed device query.
// Fatal to the start attempt, recoverable by user retry.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return "input device: " + e.Err.Error() }
func (e *DeviceError) Unwrap() error { return e.Err }

// StreamError reports a stream that could not be built or started.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return "input stream: " + e.Err.Error() }
func (e *StreamError) Unwrap() error { return e.Err }

// ErrNoInputDevice is returned (wrapped in DeviceError) when the host has no
// default input device.
var ErrNoInputDevice = errors.New("no default input device found")

// NewHost constructs the capture backend selected by config.
func NewHost(cfg config.CaptureConfig) (Host, error) {
	switch cfg.Backend {
	case "portaudio":
		return newPortAudioHost(cfg.BlockFrames)
	case "synthetic":
		return &SyntheticHost{BlockFrames: cfg.BlockFrames, Realtime: true}, nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}
}

// InputStatus reports whether a usable default input device exists.
type InputStatus struct {
	AvailableInputs   int    `json:"available_inputs"`
	DefaultInput      string `json:"default_input,omitempty"`
	DefaultSampleRate int    `json:"default_sample_rate,omitempty"`
	OK                bool   `json:"ok"`
	Message           string `json:"message,omitempty"`
}

// Status queries the host for the default input device and its native
// configuration. Failures are reported in the status, never as an error.
func Status(h Host) InputStatus {
	status := InputStatus{AvailableInputs: h.InputCount()}

	dev, err := h.DefaultInput()
	if err != nil {
		status.Message = "No default microphone detected. Check the system input settings."
		return status
	}
	status.DefaultInput = dev.Name()

	cfg, err := dev.Config()
	if err != nil {
		status.Message = fmt.Sprintf("Failed to read microphone configuration: %v", err)
		return status
	}
	status.DefaultSampleRate = cfg.SampleRate
	status.OK = true
	return status
}
