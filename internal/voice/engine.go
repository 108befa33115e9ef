package voice

import (
	"fmt"

	"github.com/wagaya/voicerelay/internal/config"
)

// Engine suppresses noise in a stream of PCM frames. An Engine keeps
// history between calls and must only be used by one session.
type Engine interface {
	// Process returns a frame of exactly len(pcm) bytes.
	Process(pcm []byte) ([]byte, error)
	// Close releases the engine. It is safe to call more than once.
	Close() error
}

// EngineFactory builds a fresh Engine for a new session.
type EngineFactory func() (Engine, error)

// NewEngineFactory returns a factory producing spectral denoisers tuned by
// the voice configuration.
func NewEngineFactory(cfg *config.Config) EngineFactory {
	dc := cfg.Voice.Denoiser
	return func() (Engine, error) {
		if err := validateDenoiserConfig(dc); err != nil {
			return nil, err
		}
		return newSpectralDenoiser(dc), nil
	}
}

func validateDenoiserConfig(c config.DenoiserConfig) error {
	switch {
	case c.OverSubtraction <= 0:
		return fmt.Errorf("over_subtraction must be positive, got %v", c.OverSubtraction)
	case c.SpectralFloor < 0 || c.SpectralFloor > 1:
		return fmt.Errorf("spectral_floor must be within [0, 1], got %v", c.SpectralFloor)
	case c.GainSmoothing < 0 || c.GainSmoothing >= 1:
		return fmt.Errorf("gain_smoothing must be within [0, 1), got %v", c.GainSmoothing)
	case c.NoiseRiseRate <= 0 || c.NoiseRiseRate > 1:
		return fmt.Errorf("noise_rise_rate must be within (0, 1], got %v", c.NoiseRiseRate)
	case c.NoiseFallRate <= 0 || c.NoiseFallRate > 1:
		return fmt.Errorf("noise_fall_rate must be within (0, 1], got %v", c.NoiseFallRate)
	case c.WarmupFrames < 0:
		return fmt.Errorf("warmup_frames must not be negative, got %d", c.WarmupFrames)
	}
	return nil
}
