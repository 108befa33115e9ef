package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagaya/voicerelay/pkg/audio"
)

func constant(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTimeline_CommitFillsAheadOfDevice(t *testing.T) {
	tl := NewTimeline(time.Second, 30*time.Millisecond)
	assert.Zero(t, tl.Now())

	tl.Schedule(0, constant(0.5, 480))
	tl.Commit()
	assert.Equal(t, int64(1440), tl.Now())

	out := make([]float32, 960)
	tl.Read(out)
	assert.Equal(t, constant(0.5, 480), out[:480])
	assert.Equal(t, make([]float32, 480), out[480:])

	// Committing again tops the ring back up to 30 ms past the device.
	tl.Commit()
	assert.Equal(t, int64(2400), tl.Now())
}

func TestTimeline_MixesOverlappingSpeakers(t *testing.T) {
	tl := NewTimeline(time.Second, 20*time.Millisecond)

	tl.Schedule(0, constant(0.25, 480))
	tl.Schedule(240, constant(0.5, 480))
	tl.Commit()

	out := make([]float32, 960)
	tl.Read(out)
	assert.Equal(t, constant(0.25, 240), out[:240])
	assert.Equal(t, constant(0.75, 240), out[240:480])
	assert.Equal(t, constant(0.5, 240), out[480:720])
}

func TestTimeline_LateAudioIsDropped(t *testing.T) {
	tl := NewTimeline(time.Second, 20*time.Millisecond)
	tl.Commit()

	tl.Schedule(480, constant(0.5, 960))
	assert.Equal(t, 480, tl.LateSamples())
}

func TestTimeline_DeviceUnderrunMovesClock(t *testing.T) {
	tl := NewTimeline(time.Second, 20*time.Millisecond)

	// The device plays 50 ms before anything was committed.
	out := make([]float32, audio.SamplesIn(50*time.Millisecond))
	tl.Read(out)
	assert.Equal(t, int64(2400), tl.Now())

	tl.Schedule(tl.Now(), constant(0.5, 480))
	tl.Commit()

	out = make([]float32, 480)
	tl.Read(out)
	require.Equal(t, constant(0.5, 480), out)
}

func TestTimeline_ClearDropsUncommittedAudio(t *testing.T) {
	tl := NewTimeline(time.Second, 10*time.Millisecond)

	tl.Schedule(0, constant(0.5, 960))
	tl.Commit()
	tl.Clear()
	tl.Commit()

	out := make([]float32, 960)
	tl.Read(out)
	assert.Equal(t, constant(0.5, 480), out[:480])
	assert.Equal(t, make([]float32, 480), out[480:])
}
