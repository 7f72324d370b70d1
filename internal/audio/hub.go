package audio

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// relaySinkBuffer is the per-listener frame backlog. A listener that falls
// further behind than this starts losing frames instead of stalling the
// source.
const relaySinkBuffer = 16

// RelayHub fans incoming PCM frames out to every active session relay.
// Subscribers that cannot keep up are skipped, never waited on.
type RelayHub struct {
	metrics *FrameMetrics

	mu     sync.RWMutex
	sinks  map[string]chan []byte
	closed bool

	logger zerolog.Logger
}

// NewRelayHub creates an empty hub
func NewRelayHub() *RelayHub {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "relay-hub").Logger()
	return &RelayHub{
		metrics: NewFrameMetrics(),
		sinks:   make(map[string]chan []byte),
		logger:  logger,
	}
}

// Subscribe registers a frame sink under id and returns its channel. A
// second subscription with the same id replaces the first.
func (h *RelayHub) Subscribe(id string) (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	if old, exists := h.sinks[id]; exists {
		close(old)
	}

	sink := make(chan []byte, relaySinkBuffer)
	h.sinks[id] = sink

	h.logger.Debug().Str("id", id).Int("subscribers", len(h.sinks)).Msg("sink subscribed")
	return sink, nil
}

// Unsubscribe removes a sink and closes its channel
func (h *RelayHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sink, exists := h.sinks[id]
	if !exists {
		return
	}

	delete(h.sinks, id)
	close(sink)

	h.logger.Debug().Str("id", id).Int("subscribers", len(h.sinks)).Msg("sink unsubscribed")
}

// Publish delivers one frame to every sink and returns the number of
// sinks that accepted it. The caller keeps ownership of frame.
func (h *RelayHub) Publish(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed || len(h.sinks) == 0 {
		return 0
	}

	// One immutable copy shared by every sink, so the caller's buffer can
	// be reused as soon as Publish returns
	shared := make([]byte, len(frame))
	copy(shared, frame)

	delivered := 0
	for _, sink := range h.sinks {
		select {
		case sink <- shared:
			delivered++
		default:
			// Listener backlog full, drop rather than stall the source
			h.metrics.RecordDrop()
		}
	}

	h.metrics.RecordFrame(int64(len(frame)))
	return delivered
}

// SubscriberCount returns the number of active sinks
func (h *RelayHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Close shuts down the hub and closes every sink
func (h *RelayHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, sink := range h.sinks {
		close(sink)
		delete(h.sinks, id)
	}
}

// GetStats returns frames published and frames dropped across all sinks
func (h *RelayHub) GetStats() (published, dropped int64) {
	published, dropped, _ = h.metrics.GetStats()
	return published, dropped
}

// Global hub instance for the main process
var (
	globalHub *RelayHub
	hubMutex  sync.RWMutex
)

// StartRelayHub creates the global hub if needed and returns it
func StartRelayHub() *RelayHub {
	hubMutex.Lock()
	defer hubMutex.Unlock()

	if globalHub == nil {
		globalHub = NewRelayHub()
	}
	return globalHub
}

// StopRelayHub closes and clears the global hub
func StopRelayHub() {
	hubMutex.Lock()
	defer hubMutex.Unlock()

	if globalHub != nil {
		globalHub.Close()
		globalHub = nil
	}
}

// GetRelayHub returns the global hub, or nil when not running
func GetRelayHub() *RelayHub {
	hubMutex.RLock()
	defer hubMutex.RUnlock()
	return globalHub
}

// IsHubRunning returns whether the global hub is active
func IsHubRunning() bool {
	hubMutex.RLock()
	defer hubMutex.RUnlock()
	return globalHub != nil
}

// GetHubStats returns statistics from the global hub
func GetHubStats() (published, dropped int64) {
	hubMutex.RLock()
	defer hubMutex.RUnlock()

	if globalHub != nil {
		return globalHub.GetStats()
	}
	return 0, 0
}
