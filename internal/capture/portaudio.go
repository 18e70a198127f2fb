//go:build portaudio

package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// portAudioHost drives real microphones through PortAudio. Built only with
// the portaudio tag so the default build has no cgo requirement.
type portAudioHost struct {
	blockFrames int
}

func newPortAudioHost(blockFrames int) (Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	if blockFrames <= 0 {
		blockFrames = 480
	}
	return &portAudioHost{blockFrames: blockFrames}, nil
}

func (h *portAudioHost) InputCount() int {
	devices, err := portaudio.Devices()
	if err != nil {
		return 0
	}
	count := 0
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			count++
		}
	}
	return count
}

func (h *portAudioHost) DefaultInput() (Device, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil {
		return nil, ErrNoInputDevice
	}
	return &portAudioDevice{info: info, blockFrames: h.blockFrames}, nil
}

type portAudioDevice struct {
	info        *portaudio.DeviceInfo
	blockFrames int
}

func (d *portAudioDevice) Name() string { return d.info.Name }

func (d *portAudioDevice) Config() (StreamConfig, error) {
	channels := d.info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	return StreamConfig{
		SampleRate: int(d.info.DefaultSampleRate),
		Channels:   channels,
		Format:     FormatF32,
	}, nil
}

func (d *portAudioDevice) Open(cfg StreamConfig) (Stream, error) {
	st := &portAudioStream{
		buf:    make([]float32, d.blockFrames*cfg.Channels),
		blocks: make(chan Block, 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: cfg.Channels,
			Latency:  d.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: d.blockFrames,
	}
	stream, err := portaudio.OpenStream(params, st.buf)
	if err != nil {
		return nil, fmt.Errorf("open stream on %s: %w", d.info.Name, err)
	}
	st.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start stream on %s: %w", d.info.Name, err)
	}

	go st.run()
	return st, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []float32
	blocks chan Block
	quit   chan struct{}
	done   chan struct{}
}

func (st *portAudioStream) Blocks() <-chan Block { return st.blocks }

func (st *portAudioStream) run() {
	defer close(st.done)
	defer close(st.blocks)

	for {
		select {
		case <-st.quit:
			return
		default:
		}
		if err := st.stream.Read(); err != nil {
			// Overflow means frames were dropped, not that the stream died.
			if err == portaudio.InputOverflowed {
				continue
			}
			return
		}
		out := make([]float32, len(st.buf))
		copy(out, st.buf)
		select {
		case <-st.quit:
			return
		case st.blocks <- Block{F32: out}:
		}
	}
}

func (st *portAudioStream) Close() error {
	close(st.quit)
	err := st.stream.Stop()
	<-st.done
	if cerr := st.stream.Close(); err == nil {
		err = cerr
	}
	return err
}
