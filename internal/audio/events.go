package audio

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/Myxogastria0808/asyncbeats/internal/logging"
)

const (
	// metricsBroadcastInterval is how often aggregate metrics are pushed
	// to event subscribers
	metricsBroadcastInterval = 2 * time.Second

	// eventSendTimeout bounds a single websocket write
	eventSendTimeout = 5 * time.Second
)

// AudioEventType represents different types of audio events
type AudioEventType string

const (
	AudioEventMuteChanged   AudioEventType = "audio-mute-changed"
	AudioEventMetricsUpdate AudioEventType = "audio-metrics-update"
	AudioEventDelayState    AudioEventType = "delay-state-changed"
	AudioEventSessionState  AudioEventType = "session-state-changed"
	AudioEventSourceState   AudioEventType = "source-state-changed"
)

// AudioEvent is one message on the events websocket
type AudioEvent struct {
	Type AudioEventType `json:"type"`
	Data interface{}    `json:"data"`
}

// AudioMuteData carries a mute state change
type AudioMuteData struct {
	Muted bool `json:"muted"`
}

// AudioMetricsData carries aggregate relay metrics
type AudioMetricsData struct {
	FramesReceived  int64  `json:"frames_received"`
	FramesDropped   int64  `json:"frames_dropped"`
	BytesProcessed  int64  `json:"bytes_processed"`
	LastFrameTime   string `json:"last_frame_time"`
	ConnectionDrops int64  `json:"connection_drops"`
	Subscribers     int    `json:"subscribers"`
}

// SessionStateData carries a listener session lifecycle change
type SessionStateData struct {
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
	Sessions  int    `json:"sessions"`
}

// SourceStateData carries a PCM source connection change
type SourceStateData struct {
	Connected bool `json:"connected"`
}

// eventSubscriber is one websocket connection receiving audio events. The
// connection is shared with the signaling channel, so the broadcaster
// never closes it; it only stops writing to it.
type eventSubscriber struct {
	conn   *websocket.Conn
	ctx    context.Context
	logger *zerolog.Logger
}

// AudioEventBroadcaster pushes audio and delay machine events to every
// subscribed websocket. Transitions are pushed as they happen; aggregate
// metrics and per-session delay snapshots go out on a fixed interval.
type AudioEventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*eventSubscriber
	logger      *zerolog.Logger
}

var (
	audioEventBroadcaster *AudioEventBroadcaster
	audioEventOnce        sync.Once
)

func newBroadcaster() *AudioEventBroadcaster {
	l := logging.GetDefaultLogger().With().Str("component", "audio-events").Logger()
	b := &AudioEventBroadcaster{
		subscribers: make(map[string]*eventSubscriber),
		logger:      &l,
	}
	go b.periodicBroadcastLoop()
	return b
}

// InitializeAudioEventBroadcaster initializes the global audio event broadcaster
func InitializeAudioEventBroadcaster() {
	audioEventOnce.Do(func() { audioEventBroadcaster = newBroadcaster() })
}

// GetAudioEventBroadcaster returns the singleton audio event broadcaster
func GetAudioEventBroadcaster() *AudioEventBroadcaster {
	audioEventOnce.Do(func() { audioEventBroadcaster = newBroadcaster() })
	return audioEventBroadcaster
}

// Subscribe adds a websocket connection to the event feed and pushes the
// current state to it. A second Subscribe with the same connection ID
// replaces the map entry without touching the shared connection.
func (b *AudioEventBroadcaster) Subscribe(connectionID string, conn *websocket.Conn, ctx context.Context, logger *zerolog.Logger) {
	b.mu.Lock()
	if _, exists := b.subscribers[connectionID]; exists {
		b.logger.Debug().Str("connectionID", connectionID).Msg("replacing existing audio events subscription")
	}
	b.subscribers[connectionID] = &eventSubscriber{conn: conn, ctx: ctx, logger: logger}
	b.mu.Unlock()

	b.logger.Debug().Str("connectionID", connectionID).Msg("audio events subscription added")
	go b.sendInitialState(connectionID)
}

// Unsubscribe removes a websocket connection from the event feed
func (b *AudioEventBroadcaster) Unsubscribe(connectionID string) {
	b.mu.Lock()
	delete(b.subscribers, connectionID)
	b.mu.Unlock()

	b.logger.Debug().Str("connectionID", connectionID).Msg("audio events subscription removed")
}

// BroadcastAudioMuteChanged pushes a mute state change
func (b *AudioEventBroadcaster) BroadcastAudioMuteChanged(muted bool) {
	b.broadcast(AudioEvent{Type: AudioEventMuteChanged, Data: AudioMuteData{Muted: muted}})
}

// BroadcastDelayStateChanged pushes one session's delay machine transition
func (b *AudioEventBroadcaster) BroadcastDelayStateChanged(snapshot DelaySnapshot) {
	b.broadcast(AudioEvent{Type: AudioEventDelayState, Data: snapshot})
}

// BroadcastSessionStateChanged pushes a listener session lifecycle change
func (b *AudioEventBroadcaster) BroadcastSessionStateChanged(sessionID string, active bool, sessions int) {
	b.broadcast(AudioEvent{Type: AudioEventSessionState, Data: SessionStateData{
		SessionID: sessionID,
		Active:    active,
		Sessions:  sessions,
	}})
}

// BroadcastSourceStateChanged pushes a PCM source connection change
func (b *AudioEventBroadcaster) BroadcastSourceStateChanged(connected bool) {
	b.broadcast(AudioEvent{Type: AudioEventSourceState, Data: SourceStateData{Connected: connected}})
}

// sendInitialState gives a new subscriber the full current picture: mute
// state, every active session's delay machine, and the latest metrics.
func (b *AudioEventBroadcaster) sendInitialState(connectionID string) {
	b.mu.RLock()
	subscriber, exists := b.subscribers[connectionID]
	b.mu.RUnlock()
	if !exists {
		return
	}

	b.sendToSubscriber(subscriber, AudioEvent{Type: AudioEventMuteChanged, Data: AudioMuteData{Muted: IsAudioMuted()}})

	for _, snapshot := range GetSessionProvider().DelaySnapshots() {
		b.sendToSubscriber(subscriber, AudioEvent{Type: AudioEventDelayState, Data: snapshot})
	}

	b.sendToSubscriber(subscriber, AudioEvent{Type: AudioEventMetricsUpdate, Data: currentMetricsData()})
}

// currentMetricsData converts package metrics into the event payload
func currentMetricsData() AudioMetricsData {
	metrics := GetAudioMetrics()

	subscribers := 0
	if hub := GetRelayHub(); hub != nil {
		subscribers = hub.SubscriberCount()
	}

	var lastFrame string
	if !metrics.LastFrameTime.IsZero() {
		lastFrame = metrics.LastFrameTime.Format(time.RFC3339Nano)
	}

	return AudioMetricsData{
		FramesReceived:  metrics.FramesReceived,
		FramesDropped:   metrics.FramesDropped,
		BytesProcessed:  metrics.BytesProcessed,
		LastFrameTime:   lastFrame,
		ConnectionDrops: metrics.ConnectionDrops,
		Subscribers:     subscribers,
	}
}

// periodicBroadcastLoop pushes metrics and delay snapshots on a fixed
// interval while at least one subscriber is connected
func (b *AudioEventBroadcaster) periodicBroadcastLoop() {
	ticker := time.NewTicker(metricsBroadcastInterval)
	defer ticker.Stop()

	for range ticker.C {
		b.mu.RLock()
		idle := len(b.subscribers) == 0
		b.mu.RUnlock()
		if idle {
			continue
		}

		b.broadcast(AudioEvent{Type: AudioEventMetricsUpdate, Data: currentMetricsData()})

		// Transitions are also pushed immediately as they happen; the
		// periodic snapshot keeps late or lossy subscribers current
		for _, snapshot := range GetSessionProvider().DelaySnapshots() {
			b.broadcast(AudioEvent{Type: AudioEventDelayState, Data: snapshot})
		}
	}
}

// broadcast fans an event out to every subscriber. Writes happen outside
// the lock; subscribers whose write fails are dropped from the feed.
func (b *AudioEventBroadcaster) broadcast(event AudioEvent) {
	b.mu.RLock()
	targets := make(map[string]*eventSubscriber, len(b.subscribers))
	for id, sub := range b.subscribers {
		targets[id] = sub
	}
	b.mu.RUnlock()

	var failed []string
	for connectionID, subscriber := range targets {
		if !b.sendToSubscriber(subscriber, event) {
			failed = append(failed, connectionID)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, connectionID := range failed {
			delete(b.subscribers, connectionID)
			b.logger.Warn().Str("connectionID", connectionID).Msg("removed failed audio events subscriber")
		}
		b.mu.Unlock()
	}
}

// sendToSubscriber writes one event with a bounded timeout. Returns false
// when the subscriber should be dropped.
func (b *AudioEventBroadcaster) sendToSubscriber(subscriber *eventSubscriber, event AudioEvent) bool {
	if subscriber.ctx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(subscriber.ctx, eventSendTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, subscriber.conn, event); err != nil {
		// Disconnects surface as write errors here; only unexpected
		// failures are worth a warning
		if strings.Contains(err.Error(), "use of closed network connection") ||
			strings.Contains(err.Error(), "connection reset by peer") ||
			strings.Contains(err.Error(), "context canceled") {
			subscriber.logger.Debug().Err(err).Msg("websocket closed during audio event send")
		} else {
			subscriber.logger.Warn().Err(err).Msg("failed to send audio event to subscriber")
		}
		return false
	}
	return true
}
