// Package device opens microphone and speaker streams for the voice client.
package device

import "errors"

// ErrNoDevice is returned when no suitable audio device is available.
var ErrNoDevice = errors.New("no audio device")

// Stream is a running capture or playback stream.
type Stream interface {
	Close() error
}

// Backend opens audio streams. Callbacks run on the audio thread and must
// not block.
type Backend interface {
	// OpenCapture starts delivering microphone samples to onSamples. The
	// slice is reused after the callback returns.
	OpenCapture(onSamples func(samples []float32)) (Stream, error)
	// OpenPlayback starts pulling speaker samples from fill, which must
	// write len(out) samples.
	OpenPlayback(fill func(out []float32)) (Stream, error)
	Close() error
}
