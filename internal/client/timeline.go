package client

import (
	"time"

	"github.com/wagaya/voicerelay/pkg/audio"
)

// Timeline is the Sink and Clock shared by every speaker's Scheduler. It
// mixes scheduled segments and commits them into a ring that the playback
// device drains without locking.
//
// The clock is the ring's write head: the earliest position that can still
// be changed. Everything before it is committed, silence included.
type Timeline struct {
	mixer       *audio.Mixer
	ring        *RingBuffer
	commitAhead int
	late        int
}

// NewTimeline creates a timeline whose ring holds capacity of audio and is
// kept filled commitAhead beyond the device position.
func NewTimeline(capacity, commitAhead time.Duration) *Timeline {
	size := max(audio.SamplesIn(capacity), audio.SamplesIn(commitAhead)+audio.SubFrameSamples)
	return &Timeline{
		mixer:       audio.NewMixer(),
		ring:        NewRingBuffer(size),
		commitAhead: audio.SamplesIn(commitAhead),
	}
}

// Now returns the committed position in samples.
func (t *Timeline) Now() int64 {
	return t.ring.Head()
}

// Schedule mixes samples in at the sample position start.
func (t *Timeline) Schedule(start int64, samples []float32) {
	t.late += t.mixer.Add(start, samples)
}

// Commit moves mixed audio into the ring until it reaches commitAhead past
// the device position.
func (t *Timeline) Commit() {
	head := t.ring.Head()
	if pos := t.mixer.Position(); pos < head {
		// The device ran ahead of us; that audio is too late to play.
		t.mixer.Drain(int(head - pos))
	}

	n := min(int(t.ring.Consumed()+int64(t.commitAhead)-head), t.ring.Free())
	if n <= 0 {
		return
	}
	t.ring.Write(t.mixer.Drain(n))
}

// Clear drops mixed audio that has not been committed.
func (t *Timeline) Clear() {
	t.mixer.Clear()
}

// Read fills out for the playback device. It never blocks.
func (t *Timeline) Read(out []float32) {
	t.ring.Read(out)
}

// LateSamples returns how many scheduled samples arrived after their slot
// was committed.
func (t *Timeline) LateSamples() int {
	return t.late
}
