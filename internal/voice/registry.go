package voice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/internal/observe"
	"github.com/wagaya/voicerelay/pkg/audio"
)

// slot holds the voice state of one connection. Operations on the same
// connection serialize on mu; a closed slot has been removed from the
// registry and must not be used.
type slot struct {
	mu      sync.Mutex
	session *VoiceSession
	closed  bool
}

// Registry maps connections to their voice sessions and routes inbound
// frames to each session's own Engine.
type Registry struct {
	logger    *zap.Logger
	cfg       *config.VoiceConfig
	relay     GroupRelay
	newEngine EngineFactory
	metrics   *observe.Metrics
	warned    *WarnCache

	slots    sync.Map // map[string]*slot
	sessions atomic.Int64
}

// RegistryParams holds the dependencies for creating a Registry.
type RegistryParams struct {
	fx.In
	Logger  *zap.Logger
	Config  *config.Config
	Relay   GroupRelay
	Factory EngineFactory
	Metrics *observe.Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(p RegistryParams) (*Registry, error) {
	warned, err := NewWarnCache(p.Config.Voice.WarnCacheSize)
	if err != nil {
		return nil, fmt.Errorf("warn cache: %w", err)
	}

	metrics := p.Metrics
	if metrics == nil {
		metrics = observe.Nop()
	}

	return &Registry{
		logger:    p.Logger.Named("registry"),
		cfg:       &p.Config.Voice,
		relay:     p.Relay,
		newEngine: p.Factory,
		metrics:   metrics,
		warned:    warned,
	}, nil
}

// Join puts connID into channelID with a fresh Engine. Joining the channel
// the connection is already in returns the existing session. A session in
// another channel is left first.
func (r *Registry) Join(ctx context.Context, connID, channelID string) (*VoiceSession, error) {
	s := r.acquire(connID)
	defer r.release(connID, s)

	if cur := s.session; cur != nil {
		if cur.ChannelID == channelID {
			return cur, nil
		}
		r.logger.Info("Superseding voice session",
			zap.String("connection_id", connID),
			zap.String("from_channel_id", cur.ChannelID),
			zap.String("to_channel_id", channelID))
		r.leaveLocked(ctx, s)
	}

	if !r.reserve() {
		return nil, ErrMaxSessionsReached
	}

	engine, err := r.newEngine()
	if err != nil {
		r.sessions.Add(-1)
		r.metrics.EngineInitFailures.Add(ctx, 1)
		r.logger.Error("Failed to create noise suppression engine",
			zap.String("connection_id", connID),
			zap.String("channel_id", channelID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEngineInitFailed, err)
	}

	if err := r.relay.AddToGroup(ctx, connID, channelID); err != nil {
		r.sessions.Add(-1)
		_ = engine.Close()
		return nil, fmt.Errorf("add to group %s: %w", channelID, err)
	}

	session := newVoiceSession(connID, channelID, engine)
	if r.cfg.DebugAudioDir != "" {
		session.rec = newRecording(r.cfg.DebugMaxDuration)
	}
	s.session = session
	r.metrics.ActiveSessions.Add(ctx, 1)

	r.logger.Info("Voice session created",
		zap.String("connection_id", connID),
		zap.String("channel_id", channelID))

	return session, nil
}

// Leave ends connID's session in channelID. The Engine is released before
// Leave returns. Leaving a channel the connection is not in is a no-op.
func (r *Registry) Leave(ctx context.Context, connID, channelID string) error {
	s := r.lookup(connID)
	if s == nil {
		return nil
	}
	defer r.release(connID, s)

	if s.session == nil || s.session.ChannelID != channelID {
		return nil
	}
	return r.leaveLocked(ctx, s)
}

// Disconnect ends whatever session connID holds. It is called when the
// connection drops.
func (r *Registry) Disconnect(ctx context.Context, connID string) {
	s := r.lookup(connID)
	if s == nil {
		return
	}
	defer r.release(connID, s)

	if s.session != nil {
		r.logger.Debug("Connection lost, ending voice session",
			zap.String("connection_id", connID),
			zap.String("channel_id", s.session.ChannelID))
		_ = r.leaveLocked(ctx, s)
	}
	r.warned.Remove(connID)
}

// RouteFrame runs frame through the Engine of connID's session in
// channelID and returns the processed frame for broadcasting. It returns
// ErrNoActiveSession when there is no such session.
func (r *Registry) RouteFrame(ctx context.Context, connID, channelID string, frame []byte) ([]byte, error) {
	s := r.lookup(connID)
	if s == nil {
		r.noSession(ctx, connID, channelID)
		return nil, ErrNoActiveSession
	}
	defer r.release(connID, s)

	session := s.session
	if session == nil || session.ChannelID != channelID {
		r.noSession(ctx, connID, channelID)
		return nil, ErrNoActiveSession
	}

	if err := audio.ValidateFrame(frame, r.cfg.StrictFrameAlignment); err != nil {
		r.metrics.RecordDrop(ctx, observe.DropMalformed)
		return nil, err
	}

	start := time.Now()
	out, err := session.engine.Process(frame)
	r.metrics.DenoiseDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordDrop(ctx, observe.DropEngineError)
		return nil, fmt.Errorf("process frame: %w", err)
	}

	session.markFrame()
	if session.rec != nil {
		session.rec.append(out)
	}
	r.metrics.FramesRouted.Add(ctx, 1)
	return out, nil
}

// Status returns the state of connID's session.
func (r *Registry) Status(connID string) SessionStatus {
	s := r.lookup(connID)
	if s == nil {
		return SessionStatus{ConnectionID: connID}
	}
	defer r.release(connID, s)

	if s.session == nil {
		return SessionStatus{ConnectionID: connID}
	}
	return s.session.status()
}

// ActiveSessions returns the number of live sessions.
func (r *Registry) ActiveSessions() int {
	return int(r.sessions.Load())
}

// Shutdown ends every session.
func (r *Registry) Shutdown(ctx context.Context) {
	var ids []string
	r.slots.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	for _, id := range ids {
		r.Disconnect(ctx, id)
	}
	r.logger.Info("Voice registry shut down", zap.Int("sessions_closed", len(ids)))
}

// leaveLocked tears down s.session. The caller holds s.mu.
func (r *Registry) leaveLocked(ctx context.Context, s *slot) error {
	session := s.session
	s.session = nil
	r.sessions.Add(-1)
	r.metrics.ActiveSessions.Add(ctx, -1)

	// Membership goes first so no broadcast reaches the connection once the
	// engine is gone.
	relayErr := r.relay.RemoveFromGroup(ctx, session.ConnectionID, session.ChannelID)
	if relayErr != nil {
		r.logger.Warn("Failed to remove connection from group",
			zap.String("connection_id", session.ConnectionID),
			zap.String("channel_id", session.ChannelID),
			zap.Error(relayErr))
	}

	if err := session.dispose(); err != nil {
		r.logger.Warn("Failed to close noise suppression engine",
			zap.String("connection_id", session.ConnectionID),
			zap.Error(err))
	}

	if session.rec != nil && len(session.rec.samples) > 0 {
		path, err := saveDebugWAV(r.cfg.DebugAudioDir, session.ConnectionID, session.ChannelID, session.rec.samples)
		if err != nil {
			r.logger.Warn("Failed to save debug WAV", zap.Error(err))
		} else {
			r.logger.Info("Saved debug WAV",
				zap.String("file", path),
				zap.Duration("duration", audio.FrameDuration(len(session.rec.samples))))
		}
	}

	r.logger.Info("Voice session ended",
		zap.String("connection_id", session.ConnectionID),
		zap.String("channel_id", session.ChannelID),
		zap.Duration("duration", time.Since(session.StartTime)),
		zap.Uint64("frames", session.FramesProcessed()))

	if relayErr != nil {
		return fmt.Errorf("remove from group %s: %w", session.ChannelID, relayErr)
	}
	return nil
}

func (r *Registry) noSession(ctx context.Context, connID, channelID string) {
	r.metrics.RecordDrop(ctx, observe.DropNoSession)
	if r.warned.ShouldWarn(connID, time.Now()) {
		r.logger.Warn("Dropping frame without active voice session",
			zap.String("connection_id", connID),
			zap.String("channel_id", channelID))
	}
}

// reserve claims one session under the configured limit.
func (r *Registry) reserve() bool {
	limit := int64(r.cfg.MaxSessions)
	for {
		n := r.sessions.Load()
		if limit > 0 && n >= limit {
			return false
		}
		if r.sessions.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// acquire returns the locked slot for connID, creating it if needed.
func (r *Registry) acquire(connID string) *slot {
	for {
		v, _ := r.slots.LoadOrStore(connID, &slot{})
		s := v.(*slot)
		s.mu.Lock()
		if !s.closed {
			return s
		}
		s.mu.Unlock()
	}
}

// lookup returns the locked slot for connID, or nil if it has none.
func (r *Registry) lookup(connID string) *slot {
	for {
		v, ok := r.slots.Load(connID)
		if !ok {
			return nil
		}
		s := v.(*slot)
		s.mu.Lock()
		if !s.closed {
			return s
		}
		s.mu.Unlock()
	}
}

// release unlocks s, dropping it from the registry when it holds no session.
func (r *Registry) release(connID string, s *slot) {
	if s.session == nil {
		s.closed = true
		r.slots.CompareAndDelete(connID, s)
	}
	s.mu.Unlock()
}
