package capture

import (
	"math"
	"time"
)

// SyntheticHost is an in-process capture backend that generates audio
// instead of reading a device. It backs the "synthetic" config backend
// for headless development and the package tests.
type SyntheticHost struct {
	// Rate, Channels and Format default to 48kHz stereo f32 when zero.
	Rate     int
	Channels int
	Format   Format

	// BlockFrames is the block size handed to the stream; defaults to 480.
	BlockFrames int

	// Realtime paces block delivery at the sample rate. Tests leave it
	// false to deliver as fast as the consumer drains.
	Realtime bool

	// MaxFrames stops generation after that many frames; 0 means unbounded.
	MaxFrames int

	// Gen produces the mono sample for frame n. Defaults to a 440Hz tone.
	Gen func(n int) float32

	// Missing simulates a machine with no input device.
	Missing bool
}

func (h *SyntheticHost) InputCount() int {
	if h.Missing {
		return 0
	}
	return 1
}

func (h *SyntheticHost) DefaultInput() (Device, error) {
	if h.Missing {
		return nil, ErrNoInputDevice
	}
	return &syntheticDevice{host: h}, nil
}

type syntheticDevice struct {
	host *SyntheticHost
}

func (d *syntheticDevice) Name() string { return "synthetic" }

func (d *syntheticDevice) Config() (StreamConfig, error) {
	cfg := StreamConfig{
		SampleRate: d.host.Rate,
		Channels:   d.host.Channels,
		Format:     d.host.Format,
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	return cfg, nil
}

func (d *syntheticDevice) Open(cfg StreamConfig) (Stream, error) {
	blockFrames := d.host.BlockFrames
	if blockFrames <= 0 {
		blockFrames = 480
	}
	st := &syntheticStream{
		blocks: make(chan Block, 8),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go st.run(d.host, cfg, blockFrames)
	return st, nil
}

type syntheticStream struct {
	blocks chan Block
	quit   chan struct{}
	done   chan struct{}
}

func (st *syntheticStream) Blocks() <-chan Block { return st.blocks }

func (st *syntheticStream) Close() error {
	close(st.quit)
	<-st.done
	return nil
}

func (st *syntheticStream) run(h *SyntheticHost, cfg StreamConfig, blockFrames int) {
	defer close(st.done)
	defer close(st.blocks)

	gen := h.Gen
	if gen == nil {
		gen = func(n int) float32 {
			return float32(0.2 * math.Sin(2*math.Pi*440*float64(n)/float64(cfg.SampleRate)))
		}
	}

	var ticker *time.Ticker
	if h.Realtime {
		ticker = time.NewTicker(time.Duration(blockFrames) * time.Second / time.Duration(cfg.SampleRate))
		defer ticker.Stop()
	}

	frame := 0
	for {
		if h.MaxFrames > 0 && frame >= h.MaxFrames {
			return
		}
		n := blockFrames
		if h.MaxFrames > 0 && frame+n > h.MaxFrames {
			n = h.MaxFrames - frame
		}

		block := makeBlock(cfg, n, frame, gen)
		frame += n

		if ticker != nil {
			select {
			case <-st.quit:
				return
			case <-ticker.C:
			}
		}
		// Prefer delivering while the channel has room so short generated
		// clips arrive whole even when Close races the last blocks.
		select {
		case st.blocks <- block:
		default:
			select {
			case <-st.quit:
				return
			case st.blocks <- block:
			}
		}
	}
}

func makeBlock(cfg StreamConfig, frames, firstFrame int, gen func(int) float32) Block {
	switch cfg.Format {
	case FormatS16:
		out := make([]int16, frames*cfg.Channels)
		for i := 0; i < frames; i++ {
			v := int16(gen(firstFrame+i) * 32767)
			for c := 0; c < cfg.Channels; c++ {
				out[i*cfg.Channels+c] = v
			}
		}
		return Block{S16: out}
	case FormatU16:
		out := make([]uint16, frames*cfg.Channels)
		for i := 0; i < frames; i++ {
			v := uint16(gen(firstFrame+i)*32768 + 32768)
			for c := 0; c < cfg.Channels; c++ {
				out[i*cfg.Channels+c] = v
			}
		}
		return Block{U16: out}
	default:
		out := make([]float32, frames*cfg.Channels)
		for i := 0; i < frames; i++ {
			v := gen(firstFrame + i)
			for c := 0; c < cfg.Channels; c++ {
				out[i*cfg.Channels+c] = v
			}
		}
		return Block{F32: out}
	}
}
