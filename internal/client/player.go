package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/pkg/util"
)

// Player schedules every remote speaker of the current channel onto one
// Timeline. Push, Tick and Stall run on client goroutines; Fill runs on the
// audio thread and never takes the lock.
type Player struct {
	logger       *zap.Logger
	cfg          SchedulerConfig
	timeline     *Timeline
	stall        *util.Debouncer
	stallTimeout time.Duration

	mu       sync.Mutex
	active   bool
	streams  map[string]*Scheduler
	lastPush map[string]time.Time
}

// NewPlayer creates an inactive Player.
func NewPlayer(cfg config.ClientConfig, logger *zap.Logger) *Player {
	return &Player{
		logger: logger.Named("player"),
		cfg: SchedulerConfig{
			MaxBuffered: cfg.MaxBuffered,
			Prebuffer:   cfg.Prebuffer,
			Lookahead:   cfg.Lookahead,
		},
		timeline:     NewTimeline(cfg.MaxBuffered+cfg.Lookahead+cfg.CommitAhead, cfg.CommitAhead),
		stall:        util.NewDebouncer(cfg.StallTimeout),
		stallTimeout: cfg.StallTimeout,
		streams:      make(map[string]*Scheduler),
		lastPush:     make(map[string]time.Time),
	}
}

// Start accepts audio for a newly joined channel.
func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = true
}

// Reset drops every speaker and ignores audio until the next Start.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = false
	for sender, s := range p.streams {
		s.Reset()
		delete(p.streams, sender)
		delete(p.lastPush, sender)
	}
	p.timeline.Clear()
	p.stall.Disarm()
}

// Push queues a frame from sender.
func (p *Player) Push(sender string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return nil
	}
	s, ok := p.streams[sender]
	if !ok {
		s = NewScheduler(p.cfg, p.timeline, p.timeline)
		s.Start()
		p.streams[sender] = s
		p.logger.Debug("New speaker", zap.String("sender_id", sender))
	}
	if err := s.Push(payload); err != nil {
		return err
	}
	p.lastPush[sender] = time.Now()
	p.stall.Reset()
	return nil
}

// Tick schedules due frames and commits the mix for the device.
func (p *Player) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.streams {
		s.Pump()
	}
	p.timeline.Commit()
	p.prune(time.Now())
}

// Stall moves drained speakers back to buffering.
func (p *Player) Stall() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.streams {
		s.Stall()
	}
	p.prune(time.Now())
}

// prune stalls speakers silent for the stall timeout and forgets the ones
// with nothing left to play. The caller holds mu.
func (p *Player) prune(now time.Time) {
	for sender, s := range p.streams {
		if now.Sub(p.lastPush[sender]) < p.stallTimeout {
			continue
		}
		s.Stall()
		if s.Drained() {
			delete(p.streams, sender)
			delete(p.lastPush, sender)
			p.logger.Debug("Speaker gone", zap.String("sender_id", sender))
		}
	}
}

// StallC fires when no frame has arrived for the stall timeout.
func (p *Player) StallC() <-chan time.Time {
	return p.stall.C()
}

// Fill is the playback device callback.
func (p *Player) Fill(out []float32) {
	p.timeline.Read(out)
}

// Speakers returns the state of each known speaker.
func (p *Player) Speakers() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]State, len(p.streams))
	for sender, s := range p.streams {
		out[sender] = s.State()
	}
	return out
}

// Close stops the stall timer.
func (p *Player) Close() {
	p.stall.Stop()
}
