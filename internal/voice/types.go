package voice

import (
	"sync"
	"sync/atomic"
	"time"
)

// VoiceSession represents one connection's membership in a voice channel.
// It exclusively owns its Engine.
type VoiceSession struct {
	ConnectionID string
	ChannelID    string
	StartTime    time.Time

	engine    Engine
	rec       *recording
	closeOnce sync.Once
	closeErr  error

	framesIn      atomic.Uint64
	lastFrameNano atomic.Int64
}

func newVoiceSession(connID, channelID string, engine Engine) *VoiceSession {
	return &VoiceSession{
		ConnectionID: connID,
		ChannelID:    channelID,
		StartTime:    time.Now(),
		engine:       engine,
	}
}

// FramesProcessed returns how many frames went through the session's engine.
func (s *VoiceSession) FramesProcessed() uint64 {
	return s.framesIn.Load()
}

// LastFrameTime returns when the last frame was processed, or the zero time.
func (s *VoiceSession) LastFrameTime() time.Time {
	n := s.lastFrameNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *VoiceSession) markFrame() {
	s.framesIn.Add(1)
	s.lastFrameNano.Store(time.Now().UnixNano())
}

// dispose releases the engine exactly once.
func (s *VoiceSession) dispose() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.engine.Close()
	})
	return s.closeErr
}

// SessionStatus provides a read-only view of session status.
type SessionStatus struct {
	Active          bool
	ConnectionID    string
	ChannelID       string
	StartTime       time.Time
	FramesProcessed uint64
	LastFrameTime   time.Time
}

func (s *VoiceSession) status() SessionStatus {
	return SessionStatus{
		Active:          true,
		ConnectionID:    s.ConnectionID,
		ChannelID:       s.ChannelID,
		StartTime:       s.StartTime,
		FramesProcessed: s.FramesProcessed(),
		LastFrameTime:   s.LastFrameTime(),
	}
}
