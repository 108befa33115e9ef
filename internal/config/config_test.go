package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagaya/voicerelay/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  listen_addr: ":7000"
  outbox_size: 64
voice:
  max_sessions: 50
  strict_frame_alignment: true
  denoiser:
    spectral_floor: 0.2
client:
  max_buffered: 250ms
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, 64, cfg.Server.OutboxSize)
	assert.Equal(t, 50, cfg.Voice.MaxSessions)
	assert.True(t, cfg.Voice.StrictFrameAlignment)
	assert.Equal(t, 0.2, cfg.Voice.Denoiser.SpectralFloor)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.MaxBuffered)

	// Unset values get defaults.
	assert.Equal(t, "/voice", cfg.Server.Path)
	assert.Equal(t, 1.5, cfg.Voice.Denoiser.OverSubtraction)
	assert.Equal(t, 480, cfg.Client.FrameSamples)
}

func TestLoadConfig_KeepsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `
voice:
  denoiser:
    spectral_floor: 0
    gain_smoothing: 0
    warmup_frames: 0
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	d := cfg.Voice.Denoiser
	assert.Zero(t, d.SpectralFloor)
	assert.Zero(t, d.GainSmoothing)
	assert.Zero(t, d.WarmupFrames)
	assert.Equal(t, 1.5, d.OverSubtraction)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid_yaml", func(t *testing.T) {
		_, err := config.LoadConfig(writeConfig(t, "server: [unterminated"))
		assert.Error(t, err)
	})
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.MaxBuffered)
	assert.Equal(t, 10, cfg.Voice.Denoiser.WarmupFrames)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestResolvePath(t *testing.T) {
	t.Setenv("VOICERELAY_CONFIG", "/etc/voicerelay/config.yaml")
	assert.Equal(t, "/etc/voicerelay/config.yaml", config.ResolvePath())

	t.Setenv("VOICERELAY_CONFIG", "")
	assert.Equal(t, config.DefaultPath, config.ResolvePath())
}
