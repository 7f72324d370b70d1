package audio

import (
	"sync"

	"github.com/Myxogastria0808/asyncbeats/internal/logging"
)

// Process-wide mute switch. Relays layer their per-session flag on top
// of it, so flipping this silences every listener at once without
// touching session state.
var (
	muteMu     sync.RWMutex
	audioMuted bool
)

// SetAudioMuted flips the global mute switch
func SetAudioMuted(muted bool) {
	muteMu.Lock()
	changed := audioMuted != muted
	audioMuted = muted
	muteMu.Unlock()

	if changed {
		logging.GetDefaultLogger().Info().
			Str("component", "audio").
			Bool("muted", muted).
			Msg("global mute changed")
	}
}

// IsAudioMuted reports the global mute switch
func IsAudioMuted() bool {
	muteMu.RLock()
	defer muteMu.RUnlock()
	return audioMuted
}
