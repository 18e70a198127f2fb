// Package audio holds the pure signal-processing helpers shared by the
// capture and transcription paths: resampling to the 16kHz mono rate the
// inference engine expects, preprocessing of raw captures, and cheap
// signal statistics.
package audio

import "math"

// TargetRate is the sample rate the inference engine operates at.
const TargetRate = 16000

// ResampleTo16K converts a mono signal at sourceRate to 16kHz using linear
// interpolation. A signal already at 16kHz is returned as a copy, unchanged
// sample for sample. Output length is floor(len(input) * 16000 / sourceRate).
func ResampleTo16K(input []float32, sourceRate int) []float32 {
	if sourceRate == TargetRate {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}
	if sourceRate <= 0 || len(input) == 0 {
		return nil
	}

	ratio := float64(sourceRate) / float64(TargetRate)
	outputLen := int(math.Floor(float64(len(input)) / ratio))

	output := make([]float32, 0, outputLen)
	for n := 0; n < outputLen; n++ {
		srcPos := float64(n) * ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))

		a := sampleAt(input, idx)
		b := sampleAt(input, idx+1)
		output = append(output, a+(b-a)*frac)
	}
	return output
}

// sampleAt clamps reads past the end to the last sample.
func sampleAt(input []float32, idx int) float32 {
	if idx >= len(input) {
		idx = len(input) - 1
	}
	return input[idx]
}

const (
	quietRMSFloor   = 0.0005
	quietRMSCeiling = 0.035
	targetRMS       = 0.05
	maxGain         = 12.0
	minUsefulGain   = 1.05
)

// Preprocess clamps every sample to [-1, 1], zeroes non-finite values, and
// applies a bounded automatic gain to quiet-but-not-silent captures to reduce
// false no-speech results. Gain is skipped entirely for near-silent input so
// the noise floor is not amplified.
func Preprocess(samples []float32) []float32 {
	if len(samples) == 0 {
		return nil
	}

	out := make([]float32, 0, len(samples))
	var sumSq float64
	for _, sample := range samples {
		cleaned := sample
		if math.IsNaN(float64(sample)) || math.IsInf(float64(sample), 0) {
			cleaned = 0
		} else if cleaned > 1 {
			cleaned = 1
		} else if cleaned < -1 {
			cleaned = -1
		}
		out = append(out, cleaned)
		sumSq += float64(cleaned) * float64(cleaned)
	}

	rms := float32(math.Sqrt(sumSq / float64(len(out))))
	if rms > quietRMSFloor && rms < quietRMSCeiling {
		gain := targetRMS / rms
		if gain < 1 {
			gain = 1
		} else if gain > maxGain {
			gain = maxGain
		}
		if gain > minUsefulGain {
			for i, sample := range out {
				boosted := sample * gain
				if boosted > 1 {
					boosted = 1
				} else if boosted < -1 {
					boosted = -1
				}
				out[i] = boosted
			}
		}
	}

	return out
}

// SignalStats summarizes a captured signal's energy.
type SignalStats struct {
	RMS         float32
	Peak        float32
	ActiveRatio float32
}

// activeThreshold is the absolute amplitude above which a sample counts as
// active for the ActiveRatio statistic.
const activeThreshold = 0.01

// AnalyzeSignal computes RMS, peak amplitude, and the fraction of samples
// above the activity threshold.
func AnalyzeSignal(samples []float32) SignalStats {
	if len(samples) == 0 {
		return SignalStats{}
	}

	var sumSq float64
	var peak float32
	active := 0
	for _, sample := range samples {
		abs := sample
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
		if abs > activeThreshold {
			active++
		}
		sumSq += float64(sample) * float64(sample)
	}

	return SignalStats{
		RMS:         float32(math.Sqrt(sumSq / float64(len(samples)))),
		Peak:        peak,
		ActiveRatio: float32(active) / float32(len(samples)),
	}
}
