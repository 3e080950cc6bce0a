// Package pcm implements the transforms applied to interleaved signed 16-bit
// samples between the capture callback and the output file: channel downmix
// and sample-rate conversion.
package pcm

import "math"

// Downmix folds interleaved multi-channel samples into mono by averaging the
// channels of each frame. The average is rounded half away from zero and
// clamped to the 16-bit range after rounding. A trailing partial frame is
// dropped. Mono input is returned as a copy.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += int(samples[base+c])
		}
		out[i] = clamp(math.Round(float64(sum) / float64(channels)))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate by linear
// interpolation. Each output sample i is read at position i*srcRate/dstRate
// in the input and interpolated between the two neighbouring input samples,
// with the right neighbour clamped to the final sample at the end of the
// buffer. Values are rounded half away from zero and clamped to the 16-bit
// range after rounding. Equal rates return a copy of the input.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		left := int(pos)
		right := left + 1
		if right >= len(samples) {
			right = len(samples) - 1
		}
		frac := pos - float64(left)
		v := float64(samples[left])*(1-frac) + float64(samples[right])*frac
		out[i] = clamp(math.Round(v))
	}
	return out
}

func clamp(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
