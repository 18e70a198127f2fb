package audio

import (
	"math"
	"testing"
)

func TestResampleIdentityAt16K(t *testing.T) {
	input := []float32{0.1, -0.2, 0.3, -0.4, 0.5}
	out := ResampleTo16K(input, TargetRate)
	if len(out) != len(input) {
		t.Fatalf("expected identical length, got %d", len(out))
	}
	for i := range input {
		if out[i] != input[i] {
			t.Fatalf("sample %d changed: %v != %v", i, out[i], input[i])
		}
	}
	// Must be a copy, not an alias.
	out[0] = 99
	if input[0] == 99 {
		t.Fatal("resampled output aliases the input")
	}
}

func TestResampleLengthLaw(t *testing.T) {
	cases := []struct {
		rate   int
		length int
	}{
		{8000, 800},
		{22050, 2205},
		{44100, 44100},
		{48000, 4800},
		{96000, 9600},
		{11025, 5000},
	}
	for _, tc := range cases {
		input := make([]float32, tc.length)
		out := ResampleTo16K(input, tc.rate)
		want := int(math.Floor(float64(tc.length) * float64(TargetRate) / float64(tc.rate)))
		if len(out) != want {
			t.Fatalf("rate %d len %d: expected %d output samples, got %d", tc.rate, tc.length, want, len(out))
		}
	}
}

func TestResampleInvalidInput(t *testing.T) {
	if out := ResampleTo16K(nil, 48000); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
	if out := ResampleTo16K([]float32{1, 2, 3}, 0); out != nil {
		t.Fatalf("expected nil for zero rate, got %v", out)
	}
}

func TestResampleInterpolates(t *testing.T) {
	// Downsampling 2:1 should land every output sample on an even input index.
	input := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	out := ResampleTo16K(input, 32000)
	if len(out) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out))
	}
	for i, want := range []float32{0, 2, 4, 6} {
		if out[i] != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, out[i])
		}
	}
}

func TestPreprocessClampsAndCleans(t *testing.T) {
	input := []float32{2.5, -3.0, float32(math.NaN()), float32(math.Inf(1)), 0.5}
	out := Preprocess(input)
	want := []float32{1, -1, 0, 0, 0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestPreprocessBoostsQuietSignal(t *testing.T) {
	input := make([]float32, 1600)
	for i := range input {
		input[i] = 0.005 // rms 0.005, inside the quiet band
	}
	out := Preprocess(input)
	if out[0] <= input[0] {
		t.Fatalf("expected gain applied, got %v", out[0])
	}
	gain := out[0] / input[0]
	if gain < 1 || gain > maxGain+0.01 {
		t.Fatalf("gain %v outside bounds", gain)
	}
}

func TestPreprocessSkipsSilence(t *testing.T) {
	input := make([]float32, 1600) // all zero, rms below the quiet floor
	out := Preprocess(input)
	for i, sample := range out {
		if sample != 0 {
			t.Fatalf("sample %d: silence was amplified to %v", i, sample)
		}
	}
}

func TestPreprocessSkipsLoudSignal(t *testing.T) {
	input := make([]float32, 1600)
	for i := range input {
		input[i] = 0.5
	}
	out := Preprocess(input)
	if out[0] != 0.5 {
		t.Fatalf("loud signal should pass through, got %v", out[0])
	}
}

func TestAnalyzeSignal(t *testing.T) {
	stats := AnalyzeSignal(nil)
	if stats.RMS != 0 || stats.Peak != 0 || stats.ActiveRatio != 0 {
		t.Fatalf("expected zero stats for empty input, got %+v", stats)
	}

	stats = AnalyzeSignal([]float32{0.5, -0.5, 0.001, -0.001})
	if stats.Peak != 0.5 {
		t.Fatalf("expected peak 0.5, got %v", stats.Peak)
	}
	if stats.ActiveRatio != 0.5 {
		t.Fatalf("expected active ratio 0.5, got %v", stats.ActiveRatio)
	}
	wantRMS := float32(math.Sqrt((0.25 + 0.25 + 0.000001 + 0.000001) / 4))
	if diff := stats.RMS - wantRMS; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected rms %v, got %v", wantRMS, stats.RMS)
	}
}
