package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/pkg/audio"
)

const (
	sampleFormat   = malgo.FormatF32
	bytesPerSample = 4
	periodMs       = 10
)

// Malgo is a Backend built on miniaudio.
type Malgo struct {
	logger *zap.Logger
	ctx    *malgo.AllocatedContext
}

// NewMalgo initializes the platform audio context.
func NewMalgo(logger *zap.Logger) (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing device context: %w", err)
	}
	return &Malgo{logger: logger, ctx: ctx}, nil
}

func (m *Malgo) deviceConfig(kind malgo.DeviceType) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.SampleRate = audio.SampleRate
	cfg.PeriodSizeInMilliseconds = periodMs
	switch kind {
	case malgo.Capture:
		cfg.Capture.Format = sampleFormat
		cfg.Capture.Channels = audio.Channels
	case malgo.Playback:
		cfg.Playback.Format = sampleFormat
		cfg.Playback.Channels = audio.Channels
		cfg.Alsa.NoMMap = 1
	}
	return cfg
}

// OpenCapture starts the default microphone.
func (m *Malgo) OpenCapture(onSamples func([]float32)) (Stream, error) {
	var buf []float32
	onData := func(_, input []byte, frameCount uint32) {
		n := int(frameCount) * audio.Channels
		if cap(buf) < n {
			buf = make([]float32, n)
		}
		buf = buf[:n]
		bytesToFloat32(input, buf)
		onSamples(buf)
	}
	return m.start(malgo.Capture, onData)
}

// OpenPlayback starts the default speaker.
func (m *Malgo) OpenPlayback(fill func([]float32)) (Stream, error) {
	var buf []float32
	onData := func(output, _ []byte, frameCount uint32) {
		n := int(frameCount) * audio.Channels
		if cap(buf) < n {
			buf = make([]float32, n)
		}
		buf = buf[:n]
		fill(buf)
		float32ToBytes(buf, output)
	}
	return m.start(malgo.Playback, onData)
}

func (m *Malgo) start(kind malgo.DeviceType, onData malgo.DataProc) (Stream, error) {
	dev, err := malgo.InitDevice(m.ctx.Context, m.deviceConfig(kind), malgo.DeviceCallbacks{
		Data: onData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: error creating %s device: %w", ErrNoDevice, kindName(kind), err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("error starting %s device: %w", kindName(kind), err)
	}
	return &malgoStream{dev: dev}, nil
}

// Close releases the audio context. Streams must be closed first.
func (m *Malgo) Close() error {
	if err := m.ctx.Uninit(); err != nil {
		return fmt.Errorf("error uninitializing device context: %w", err)
	}
	m.ctx.Free()
	return nil
}

type malgoStream struct {
	dev  *malgo.Device
	once sync.Once
}

func (s *malgoStream) Close() error {
	s.once.Do(func() {
		_ = s.dev.Stop()
		s.dev.Uninit()
	})
	return nil
}

func kindName(kind malgo.DeviceType) string {
	if kind == malgo.Capture {
		return "capture"
	}
	return "playback"
}

func bytesToFloat32(b []byte, dst []float32) {
	for i := range dst {
		if (i+1)*bytesPerSample > len(b) {
			dst[i] = 0
			continue
		}
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*bytesPerSample:]))
	}
}

func float32ToBytes(src []float32, b []byte) {
	for i, s := range src {
		if (i+1)*bytesPerSample > len(b) {
			return
		}
		binary.LittleEndian.PutUint32(b[i*bytesPerSample:], math.Float32bits(s))
	}
}
