package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when VOICERELAY_CONFIG is not set.
const DefaultPath = "config.yaml"

// ServerConfig stores relay transport settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	Path            string        `yaml:"path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	OutboxSize      int           `yaml:"outbox_size"`       // queued messages per connection
	MaxMessageBytes int64         `yaml:"max_message_bytes"` // websocket read limit
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DenoiserConfig tunes the spectral noise suppressor.
type DenoiserConfig struct {
	OverSubtraction float64 `yaml:"over_subtraction"`
	SpectralFloor   float64 `yaml:"spectral_floor"` // minimum per-bin gain
	GainSmoothing   float64 `yaml:"gain_smoothing"` // weight of the previous gain, 0..1
	NoiseRiseRate   float64 `yaml:"noise_rise_rate"`
	NoiseFallRate   float64 `yaml:"noise_fall_rate"`
	WarmupFrames    int     `yaml:"warmup_frames"`
}

// VoiceConfig stores session registry settings.
type VoiceConfig struct {
	MaxSessions          int            `yaml:"max_sessions"` // 0 means unlimited
	StrictFrameAlignment bool           `yaml:"strict_frame_alignment"`
	WarnCacheSize        int            `yaml:"warn_cache_size"`
	Denoiser             DenoiserConfig `yaml:"denoiser"`

	// DebugAudioDir, when set, receives a WAV of each session's denoised
	// output, capped at DebugMaxDuration.
	DebugAudioDir    string        `yaml:"debug_audio_dir"`
	DebugMaxDuration time.Duration `yaml:"debug_max_duration"`
}

// MetricsConfig stores the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// ClientConfig stores voice client settings.
type ClientConfig struct {
	ServerURL    string        `yaml:"server_url"`
	FrameSamples int           `yaml:"frame_samples"`
	SendQueue    int           `yaml:"send_queue"`
	MaxBuffered  time.Duration `yaml:"max_buffered"`
	Prebuffer    time.Duration `yaml:"prebuffer"`
	Lookahead    time.Duration `yaml:"lookahead"`
	CommitAhead  time.Duration `yaml:"commit_ahead"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
	PumpInterval time.Duration `yaml:"pump_interval"`
}

// Config stores the application configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Server   ServerConfig  `yaml:"server"`
	Voice    VoiceConfig   `yaml:"voice"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Client   ClientConfig  `yaml:"client"`
}

// LoadConfig loads the configuration from the given file path and fills in
// defaults for everything left unset.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	// Keys absent from the file keep their defaults, so an explicit zero
	// survives where zero is a valid setting.
	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Voice: VoiceConfig{
			Denoiser: DenoiserConfig{
				SpectralFloor: 0.1,
				GainSmoothing: 0.5,
				WarmupFrames:  10,
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ResolvePath loads an optional .env file and returns the config path from
// VOICERELAY_CONFIG, falling back to DefaultPath.
func ResolvePath() string {
	_ = godotenv.Load()

	if p := os.Getenv("VOICERELAY_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// ApplyDefaults fills zero values with working defaults. Settings where
// zero is meaningful (spectral_floor, gain_smoothing, warmup_frames) only
// get their defaults from Default.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.Path == "" {
		s.Path = "/voice"
	}
	if s.OutboxSize <= 0 {
		s.OutboxSize = 256
	}
	if s.MaxMessageBytes <= 0 {
		s.MaxMessageBytes = 1 << 20
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 10 * time.Second
	}

	v := &c.Voice
	if v.WarnCacheSize <= 0 {
		v.WarnCacheSize = 1024
	}
	if v.DebugMaxDuration <= 0 {
		v.DebugMaxDuration = time.Minute
	}
	d := &v.Denoiser
	if d.OverSubtraction <= 0 {
		d.OverSubtraction = 1.5
	}
	if d.NoiseRiseRate <= 0 {
		d.NoiseRiseRate = 0.002
	}
	if d.NoiseFallRate <= 0 {
		d.NoiseFallRate = 0.1
	}

	m := &c.Metrics
	if m.ListenAddr == "" {
		m.ListenAddr = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}

	cl := &c.Client
	if cl.ServerURL == "" {
		cl.ServerURL = "ws://localhost:8080/voice"
	}
	if cl.FrameSamples <= 0 {
		cl.FrameSamples = 480
	}
	if cl.SendQueue <= 0 {
		cl.SendQueue = 32
	}
	if cl.MaxBuffered <= 0 {
		cl.MaxBuffered = 500 * time.Millisecond
	}
	if cl.Prebuffer <= 0 {
		cl.Prebuffer = 40 * time.Millisecond
	}
	if cl.Lookahead <= 0 {
		cl.Lookahead = 40 * time.Millisecond
	}
	if cl.CommitAhead <= 0 {
		cl.CommitAhead = 30 * time.Millisecond
	}
	if cl.StallTimeout <= 0 {
		cl.StallTimeout = 200 * time.Millisecond
	}
	if cl.PumpInterval <= 0 {
		cl.PumpInterval = 10 * time.Millisecond
	}
}
