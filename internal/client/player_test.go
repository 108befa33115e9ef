package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/pkg/audio"
)

func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	cfg := config.Default().Client
	cfg.Prebuffer = 20 * time.Millisecond
	cfg.Lookahead = 40 * time.Millisecond
	cfg.CommitAhead = 30 * time.Millisecond
	cfg.StallTimeout = 50 * time.Millisecond

	p := NewPlayer(cfg, zaptest.NewLogger(t))
	t.Cleanup(p.Close)
	return p
}

func TestPlayer_IgnoresAudioUntilStarted(t *testing.T) {
	p := newTestPlayer(t)

	require.NoError(t, p.Push("a", audio.Encode(constant(0.5, 480))))
	assert.Empty(t, p.Speakers())
}

func TestPlayer_PlaysBufferedAudio(t *testing.T) {
	p := newTestPlayer(t)
	p.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Push("a", audio.Encode(constant(0.5, 480))))
	}
	p.Tick()
	assert.Equal(t, map[string]State{"a": StatePlaying}, p.Speakers())

	out := make([]float32, 1440)
	p.Fill(out)
	for i, s := range out {
		require.InDelta(t, 0.5, s, 1.0/32768, "sample %d", i)
	}
}

func TestPlayer_MixesSpeakers(t *testing.T) {
	p := newTestPlayer(t)
	p.Start()

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Push("a", audio.Encode(constant(0.25, 480))))
		require.NoError(t, p.Push("b", audio.Encode(constant(0.25, 480))))
	}
	p.Tick()
	assert.Len(t, p.Speakers(), 2)

	out := make([]float32, 960)
	p.Fill(out)
	for i, s := range out {
		require.InDelta(t, 0.5, s, 2.0/32768, "sample %d", i)
	}
}

func TestPlayer_ResetForgetsSpeakers(t *testing.T) {
	p := newTestPlayer(t)
	p.Start()
	require.NoError(t, p.Push("a", audio.Encode(constant(0.5, 480))))

	p.Reset()
	assert.Empty(t, p.Speakers())

	require.NoError(t, p.Push("a", audio.Encode(constant(0.5, 480))))
	assert.Empty(t, p.Speakers())
}

func TestPlayer_StallForgetsDrainedSpeakers(t *testing.T) {
	p := newTestPlayer(t)
	p.Start()

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Push("a", audio.Encode(constant(0.5, 480))))
	}
	p.Tick()
	require.Equal(t, StatePlaying, p.Speakers()["a"])

	select {
	case <-p.StallC():
		p.Stall()
	case <-time.After(time.Second):
		t.Fatal("stall timer did not fire")
	}
	assert.Empty(t, p.Speakers())

	// A returning speaker starts buffering again.
	require.NoError(t, p.Push("a", audio.Encode(constant(0.5, 480))))
	assert.Equal(t, map[string]State{"a": StateBuffering}, p.Speakers())
}

func TestPlayer_StallKeepsSpeakerWithQueuedAudio(t *testing.T) {
	p := newTestPlayer(t)
	p.Start()

	// 100 ms queued, only the lookahead worth is scheduled.
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Push("a", audio.Encode(constant(0.5, 480))))
	}
	p.Tick()

	select {
	case <-p.StallC():
		p.Stall()
	case <-time.After(time.Second):
		t.Fatal("stall timer did not fire")
	}
	assert.Equal(t, map[string]State{"a": StatePlaying}, p.Speakers())
}

func TestPlayer_ForgetsDepartedSpeakerWhileOthersTalk(t *testing.T) {
	p := newTestPlayer(t)
	p.Start()

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Push("a", audio.Encode(constant(0.25, 480))))
		require.NoError(t, p.Push("b", audio.Encode(constant(0.25, 480))))
	}
	p.Tick()
	require.Len(t, p.Speakers(), 2)

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, p.Push("b", audio.Encode(constant(0.25, 480))))
	p.Tick()

	speakers := p.Speakers()
	assert.NotContains(t, speakers, "a")
	assert.Contains(t, speakers, "b")
}
