package audio

// DelaySnapshot is one session's delay machine state, shaped for events
// and the HTTP API.
type DelaySnapshot struct {
	SessionID      string `json:"session_id"`
	Classification string `json:"classification"`
	SendCount      uint64 `json:"send_count"`
	Threshold      uint64 `json:"threshold"`
}

// SessionProvider interface abstracts session management for audio events
type SessionProvider interface {
	IsSessionActive() bool
	SessionCount() int
	DelaySnapshots() []DelaySnapshot
}

// DefaultSessionProvider is a no-op implementation
type DefaultSessionProvider struct{}

func (d *DefaultSessionProvider) IsSessionActive() bool {
	return false
}

func (d *DefaultSessionProvider) SessionCount() int {
	return 0
}

func (d *DefaultSessionProvider) DelaySnapshots() []DelaySnapshot {
	return nil
}

var sessionProvider SessionProvider = &DefaultSessionProvider{}

// SetSessionProvider allows the main package to inject session management
func SetSessionProvider(provider SessionProvider) {
	sessionProvider = provider
}

// GetSessionProvider returns the current session provider
func GetSessionProvider() SessionProvider {
	return sessionProvider
}
