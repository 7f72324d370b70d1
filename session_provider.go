package asyncbeats

import "github.com/Myxogastria0808/asyncbeats/internal/audio"

// ServerSessionProvider implements the audio.SessionProvider interface over
// the listener session registry
type ServerSessionProvider struct{}

// IsSessionActive returns whether any listener session is connected
func (p *ServerSessionProvider) IsSessionActive() bool {
	return activeSessionCount() > 0
}

// SessionCount returns the number of connected listener sessions
func (p *ServerSessionProvider) SessionCount() int {
	return activeSessionCount()
}

// DelaySnapshots returns the delay machine state of every registered relay
func (p *ServerSessionProvider) DelaySnapshots() []audio.DelaySnapshot {
	return audio.RelayDelaySnapshots()
}

// initializeAudioSessionProvider sets up the session provider for the audio package
func initializeAudioSessionProvider() {
	audio.SetSessionProvider(&ServerSessionProvider{})
}
