package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedFrame is returned for PCM payloads that cannot be a valid frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Encode converts normalized samples to little-endian int16 PCM.
// Samples are clamped to [-1, 1] and scaled by 32768 in both directions, so
// Encode inverts Decode exactly; +1.0 saturates to the positive edge 32767.
// Encoders that scale positive samples by 32767 produce values up to one LSB
// lower for the same input, which decode within 2/32768 of it.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*SampleSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*SampleSize:], uint16(quantize(s)))
	}
	return out
}

// Decode converts little-endian int16 PCM to samples in [-1, 1).
func Decode(pcm []byte) ([]float32, error) {
	if len(pcm)%SampleSize != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrMalformedFrame, len(pcm))
	}

	out := make([]float32, len(pcm)/SampleSize)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*SampleSize:]))) / 32768.0
	}
	return out, nil
}

// ValidateFrame checks a payload before it enters the pipeline. Odd lengths are
// always rejected; with requireAligned, so is anything that is not a whole
// number of 10 ms sub-frames.
func ValidateFrame(pcm []byte, requireAligned bool) error {
	if len(pcm)%SampleSize != 0 {
		return fmt.Errorf("%w: odd byte length %d", ErrMalformedFrame, len(pcm))
	}
	if requireAligned && len(pcm)%SubFrameBytes != 0 {
		return fmt.Errorf("%w: length %d is not a multiple of %d bytes", ErrMalformedFrame, len(pcm), SubFrameBytes)
	}
	return nil
}

func quantize(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	s = max(-1, min(1, s))
	v := int32(s * 32768) // truncates toward zero
	if v > 32767 {
		v = 32767
	}
	return int16(v)
}
