// Package audio holds the voice wire format: 16-bit little-endian mono PCM at
// 48 kHz, and the conversions between it and normalized float samples.
package audio

import "time"

// Format constants shared by the relay, the denoiser and the client.
const (
	SampleRate = 48_000 // Hz
	Channels   = 1      // mono
	SampleSize = 2      // bytes per int16 sample

	// SubFrameSamples is the 10 ms unit the suppression model works on.
	SubFrameSamples = 480
	SubFrameBytes   = SubFrameSamples * SampleSize
)

// FrameDuration returns the playback duration of n samples.
func FrameDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// SamplesIn returns the sample count closest to d. It inverts FrameDuration
// exactly.
func SamplesIn(d time.Duration) int {
	return int((d*SampleRate + time.Second/2) / time.Second)
}
