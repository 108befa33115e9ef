package client

import (
	"fmt"
	"time"

	"github.com/wagaya/voicerelay/pkg/audio"
)

// State is the playback state of one remote speaker.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Clock reports the local playback position in samples.
type Clock interface {
	Now() int64
}

// Sink plays samples starting at a sample position on the playback clock.
type Sink interface {
	Schedule(start int64, samples []float32)
}

// SchedulerConfig bounds buffering and scheduling.
type SchedulerConfig struct {
	MaxBuffered time.Duration // queue cap, oldest frames dropped past it
	Prebuffer   time.Duration // queued audio needed before playback starts
	Lookahead   time.Duration // how far ahead of the clock frames are scheduled
}

// Scheduler turns one speaker's frames into gapless, non-overlapping
// segments on the playback clock. Positions are counted in samples so the
// cursor never drifts. It is not safe for concurrent use.
type Scheduler struct {
	clock Clock
	sink  Sink

	maxBuffered int
	prebuffer   int
	lookahead   int64

	state     State
	queue     [][]float32
	buffered  int
	nextStart int64
	dropped   int
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(cfg SchedulerConfig, clock Clock, sink Sink) *Scheduler {
	return &Scheduler{
		clock:       clock,
		sink:        sink,
		maxBuffered: audio.SamplesIn(cfg.MaxBuffered),
		prebuffer:   audio.SamplesIn(cfg.Prebuffer),
		lookahead:   int64(audio.SamplesIn(cfg.Lookahead)),
	}
}

// Start begins buffering. It has no effect unless the scheduler is idle.
func (s *Scheduler) Start() {
	if s.state == StateIdle {
		s.state = StateBuffering
	}
}

// Reset drops all queued audio and returns to idle.
func (s *Scheduler) Reset() {
	s.state = StateIdle
	s.queue = nil
	s.buffered = 0
	s.nextStart = 0
}

// Push decodes a frame and queues it. Frames pushed while idle are ignored.
func (s *Scheduler) Push(payload []byte) error {
	if s.state == StateIdle {
		return nil
	}
	samples, err := audio.Decode(payload)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	s.queue = append(s.queue, samples)
	s.buffered += len(samples)
	for s.buffered > s.maxBuffered && len(s.queue) > 1 {
		s.buffered -= len(s.queue[0])
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.dropped++
	}
	return nil
}

// Pump hands queued frames to the sink while they start within the
// lookahead window.
func (s *Scheduler) Pump() {
	switch s.state {
	case StateIdle:
		return
	case StateBuffering:
		if s.buffered < s.prebuffer || len(s.queue) == 0 {
			return
		}
		// nextStart is kept so a talk spurt after a stall cannot overlap
		// audio scheduled before it.
		s.state = StatePlaying
	}

	for len(s.queue) > 0 {
		now := s.clock.Now()
		if s.nextStart < now {
			// Starved: restart at the clock, leaving a gap rather than
			// overlapping audio already played.
			s.nextStart = now
		}
		if s.nextStart >= now+s.lookahead {
			return
		}

		frame := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.buffered -= len(frame)

		s.sink.Schedule(s.nextStart, frame)
		s.nextStart += int64(len(frame))
	}
}

// Stall returns a playing scheduler with nothing queued to buffering, so
// the next talk spurt is prebuffered again.
func (s *Scheduler) Stall() {
	if s.state == StatePlaying && len(s.queue) == 0 {
		s.state = StateBuffering
	}
}

// Drained reports whether the scheduler is not playing, has nothing queued
// and everything it scheduled lies behind the clock.
func (s *Scheduler) Drained() bool {
	return s.state != StatePlaying && len(s.queue) == 0 && s.nextStart <= s.clock.Now()
}

// State returns the current state.
func (s *Scheduler) State() State {
	return s.state
}

// Buffered returns the queued duration.
func (s *Scheduler) Buffered() time.Duration {
	return audio.FrameDuration(s.buffered)
}

// Dropped returns how many frames were discarded on overflow.
func (s *Scheduler) Dropped() int {
	return s.dropped
}
