package audio

import (
	"encoding/binary"
	"math"
)

// Int16ToLE converts int16 samples to raw little-endian bytes.
func Int16ToLE(samples []int16) []byte {
	out := make([]byte, len(samples)*SampleSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*SampleSize:], uint16(s))
	}
	return out
}

// LEToInt16 converts raw little-endian bytes back to int16 samples.
// A trailing odd byte is ignored.
func LEToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/SampleSize)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*SampleSize:]))
	}
	return out
}

// Float64ToSamples narrows DSP output to wire samples, clamping to [-1, 1].
func Float64ToSamples(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(max(-1, min(1, v)))
	}
	return out
}

// RMS returns the root mean square of the samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
