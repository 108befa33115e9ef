package voice

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wagaya/voicerelay/pkg/audio"
)

// recording collects a session's denoised output for a debug WAV dump.
// It is only touched while the session's slot is locked.
type recording struct {
	samples []int16
	limit   int
}

func newRecording(maxDuration time.Duration) *recording {
	return &recording{limit: audio.SamplesIn(maxDuration)}
}

func (r *recording) append(pcm []byte) {
	room := r.limit - len(r.samples)
	if room <= 0 {
		return
	}
	samples := audio.LEToInt16(pcm)
	if len(samples) > room {
		samples = samples[:room]
	}
	r.samples = append(r.samples, samples...)
}

// saveDebugWAV writes samples as a mono 16-bit WAV file under dir and
// returns its path.
func saveDebugWAV(dir, connID, channelID string, samples []int16) (string, error) {
	if len(samples) == 0 {
		return "", errors.New("saveDebugWAV: empty sample slice")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("debug dir: %w", err)
	}
	filename := filepath.Join(dir,
		fmt.Sprintf("%s_%s_%s.wav",
			filepath.Base(channelID), connID, time.Now().Format("20060102_150405")))

	if err := os.WriteFile(filename, encodeWAV(samples), 0o644); err != nil {
		return "", fmt.Errorf("write wav: %w", err)
	}
	return filename, nil
}

// encodeWAV prepends a canonical 44-byte RIFF header to the samples.
func encodeWAV(samples []int16) []byte {
	const bitsPerSample = 16
	pcm := audio.Int16ToLE(samples)
	dataSize := uint32(len(pcm))

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	write := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	write(dataSize + 36)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	write(uint32(16)) // PCM header size
	write(uint16(1))  // PCM format
	write(uint16(audio.Channels))
	write(uint32(audio.SampleRate))
	write(uint32(audio.SampleRate * audio.Channels * bitsPerSample / 8))
	write(uint16(audio.Channels * bitsPerSample / 8))
	write(uint16(bitsPerSample))

	buf.WriteString("data")
	write(dataSize)
	buf.Write(pcm)
	return buf.Bytes()
}
