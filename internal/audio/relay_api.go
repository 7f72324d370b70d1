package audio

import (
	"sync"
)

// Registry of per-session relays in the middle server process. The main
// package registers a relay when a listener session starts forwarding and
// unregisters it when the session goes away; everything that needs a
// cross-session view (events, HTTP status, aggregate stats) reads from
// here.
var (
	relayRegistry = make(map[string]*AudioRelay)
	relayMutex    sync.RWMutex
)

// RegisterRelay tracks a started relay under its session ID. A second
// registration for the same session replaces the first; the caller owns
// stopping the old relay.
func RegisterRelay(relay *AudioRelay) {
	relayMutex.Lock()
	defer relayMutex.Unlock()

	relayRegistry[relay.SessionID()] = relay
}

// UnregisterRelay removes the relay for a session from the registry
func UnregisterRelay(sessionID string) {
	relayMutex.Lock()
	defer relayMutex.Unlock()

	delete(relayRegistry, sessionID)
}

// GetRelay returns the relay serving one session, or nil
func GetRelay(sessionID string) *AudioRelay {
	relayMutex.RLock()
	defer relayMutex.RUnlock()

	return relayRegistry[sessionID]
}

// RelayCount returns the number of registered relays
func RelayCount() int {
	relayMutex.RLock()
	defer relayMutex.RUnlock()

	return len(relayRegistry)
}

// RelayDelaySnapshots returns every registered relay's delay machine state.
// Order is not defined.
func RelayDelaySnapshots() []DelaySnapshot {
	relayMutex.RLock()
	defer relayMutex.RUnlock()

	snapshots := make([]DelaySnapshot, 0, len(relayRegistry))
	for _, relay := range relayRegistry {
		snapshots = append(snapshots, relay.DelaySnapshot())
	}
	return snapshots
}

// GetRelayStats returns forward statistics aggregated across relays
func GetRelayStats() (framesRelayed, framesDropped int64) {
	relayMutex.RLock()
	defer relayMutex.RUnlock()

	for _, relay := range relayRegistry {
		relayed, dropped := relay.GetStats()
		framesRelayed += relayed
		framesDropped += dropped
	}
	return framesRelayed, framesDropped
}
