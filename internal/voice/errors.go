package voice

import "errors"

// Error definitions
var (
	ErrNoActiveSession    = NewVoiceError("no active voice session for connection")
	ErrEngineInitFailed   = NewVoiceError("noise suppression engine init failed")
	ErrMaxSessionsReached = NewVoiceError("maximum concurrent sessions reached")
	ErrEngineClosed       = errors.New("engine closed")
)

// VoiceError represents errors specific to voice operations
type VoiceError struct {
	message string
}

func NewVoiceError(message string) *VoiceError {
	return &VoiceError{message: message}
}

func (e *VoiceError) Error() string {
	return e.message
}
