package audio

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/Myxogastria0808/asyncbeats/internal/logging"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

// AudioRelay forwards PCM frames from the relay hub to one listener's
// WebRTC audio track. Each relay owns the delay machine for its session:
// every delivered frame advances the send count, and the one send that
// lands exactly on the configured threshold triggers the compensation
// pause before the stream continues.
type AudioRelay struct {
	metrics *FrameMetrics
	latency *LatencyTracker
	delay   *DelayState

	sessionID string
	config    RelayConfig

	hub     *RelayHub
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zerolog.Logger
	running bool
	mutex   sync.RWMutex

	audioTrack AudioTrackWriter
	muted      bool

	// Observer for classification changes, set before Start
	onDelayChange func(classification DelayClassification, sendCount uint64)

	// Only touched by the relay goroutine
	prevClassification DelayClassification
}

// RelayConfig carries the per-session relay parameters
type RelayConfig struct {
	PCM PCMConfig

	// DelayThreshold is the send count at which the delay machine flips
	// to enabled. Zero means the very first send already triggers it.
	DelayThreshold uint64

	// DelayCompensation is the pause applied on the enabled transition.
	// Zero selects one frame interval.
	DelayCompensation time.Duration
}

// AudioTrackWriter is the sink a relay writes samples to. pion's
// TrackLocalStaticSample satisfies it; tests substitute their own.
type AudioTrackWriter interface {
	WriteSample(sample media.Sample) error
}

// NewAudioRelay creates a relay for one listener session
func NewAudioRelay(sessionID string, config RelayConfig) *AudioRelay {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.GetDefaultLogger().With().
		Str("component", "audio-relay").
		Str("session", sessionID).
		Logger()

	if config.DelayCompensation == 0 {
		config.DelayCompensation = config.PCM.FrameSize
	}

	return &AudioRelay{
		metrics:            NewFrameMetrics(),
		latency:            NewLatencyTracker(),
		delay:              NewDelayState(config.DelayThreshold),
		sessionID:          sessionID,
		config:             config,
		ctx:                ctx,
		cancel:             cancel,
		logger:             &logger,
		prevClassification: DelayInitialized,
	}
}

// SessionID returns the session this relay serves
func (r *AudioRelay) SessionID() string {
	return r.sessionID
}

// Delay returns the session's delay machine
func (r *AudioRelay) Delay() *DelayState {
	return r.delay
}

// DelaySnapshot returns the session's delay machine state, pair-consistent
// between send count and classification
func (r *AudioRelay) DelaySnapshot() DelaySnapshot {
	sendCount, classification := r.delay.Snapshot()
	return DelaySnapshot{
		SessionID:      r.sessionID,
		Classification: classification.String(),
		SendCount:      sendCount,
		Threshold:      r.delay.Threshold(),
	}
}

// SetDelayChangeCallback registers an observer for classification
// transitions. Must be called before Start.
func (r *AudioRelay) SetDelayChangeCallback(cb func(classification DelayClassification, sendCount uint64)) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.onDelayChange = cb
}

// Start subscribes to the hub and begins forwarding frames
func (r *AudioRelay) Start(hub *RelayHub, audioTrack AudioTrackWriter) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.running {
		return ErrRelayAlreadyStarted
	}

	frames, err := hub.Subscribe(r.sessionID)
	if err != nil {
		return err
	}

	r.hub = hub
	r.audioTrack = audioTrack

	r.wg.Add(1)
	go r.relayLoop(frames)

	r.running = true
	r.logger.Info().
		Uint64("delay_threshold", r.delay.Threshold()).
		Dur("delay_compensation", r.config.DelayCompensation).
		Msg("audio relay started")
	return nil
}

// Stop unsubscribes from the hub and stops the relay
func (r *AudioRelay) Stop() {
	r.mutex.Lock()
	if !r.running {
		r.mutex.Unlock()
		return
	}
	r.running = false
	hub := r.hub
	r.hub = nil
	r.mutex.Unlock()

	// Wait outside the lock; the relay goroutine takes the read lock
	// while forwarding
	r.cancel()
	if hub != nil {
		hub.Unsubscribe(r.sessionID)
	}
	r.wg.Wait()

	relayed, _, _ := r.metrics.GetStats()
	r.logger.Info().Int64("frames_relayed", relayed).Msg("audio relay stopped")
}

// SetMuted silences this relay without stopping the stream
func (r *AudioRelay) SetMuted(muted bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.muted = muted
}

// IsMuted reports whether this relay or the global switch mutes the stream
func (r *AudioRelay) IsMuted() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.muted || IsAudioMuted()
}

// GetStats returns frames relayed and dropped by this session
func (r *AudioRelay) GetStats() (framesRelayed, framesDropped int64) {
	framesRelayed, framesDropped, _ = r.metrics.GetStats()
	return framesRelayed, framesDropped
}

// GetLatencyStats returns forward latency statistics
func (r *AudioRelay) GetLatencyStats() (current, min, max, average time.Duration, samples int64) {
	return r.latency.GetLatencyStats()
}

// UpdateTrack swaps the output track, used on session renegotiation
func (r *AudioRelay) UpdateTrack(audioTrack AudioTrackWriter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.audioTrack = audioTrack
}

func (r *AudioRelay) relayLoop(frames <-chan []byte) {
	defer r.wg.Done()
	r.logger.Debug().Msg("audio relay loop started")

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug().Msg("audio relay loop stopping")
			return
		case frame, ok := <-frames:
			if !ok {
				// Hub closed our sink
				r.logger.Debug().Msg("frame sink closed, relay loop stopping")
				return
			}
			r.handleFrame(frame)
		}
	}
}

// handleFrame forwards one frame and advances the delay machine
func (r *AudioRelay) handleFrame(frame []byte) {
	start := time.Now()

	if err := r.forwardToWebRTC(frame); err != nil {
		r.logger.Warn().Err(err).Msg("failed to forward frame to WebRTC")
		r.metrics.RecordDrop()
		return
	}

	r.metrics.RecordFrame(int64(len(frame)))
	r.latency.RecordLatency(time.Since(start))

	// Every delivered frame counts as one send
	classification := r.delay.RecordSend()
	if classification != r.prevClassification {
		r.onClassificationChange(classification)
	}
}

// onClassificationChange reacts to a delay machine transition
func (r *AudioRelay) onClassificationChange(classification DelayClassification) {
	sendCount := r.delay.SendCount()

	r.logger.Info().
		Str("previous", r.prevClassification.String()).
		Str("classification", classification.String()).
		Uint64("send_count", sendCount).
		Msg("delay classification changed")

	recordDelayTransition(r.prevClassification, classification)
	r.prevClassification = classification

	r.mutex.RLock()
	cb := r.onDelayChange
	r.mutex.RUnlock()
	if cb != nil {
		cb(classification, sendCount)
	}

	if classification == DelayEnabled {
		r.pauseForCompensation()
	}
}

// pauseForCompensation holds the stream for the configured pause. This is
// the single compensation window a session gets; once the machine moves
// to disabled it never fires again.
func (r *AudioRelay) pauseForCompensation() {
	pause := r.config.DelayCompensation
	if pause <= 0 {
		return
	}

	r.logger.Info().Dur("pause", pause).Msg("applying delay compensation")
	select {
	case <-r.ctx.Done():
	case <-time.After(pause):
	}
}

// forwardToWebRTC writes one frame to the session's audio track
func (r *AudioRelay) forwardToWebRTC(frame []byte) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	audioTrack := r.audioTrack
	config := r.config.PCM
	muted := r.muted || IsAudioMuted()

	// The track can be absent before the session finishes negotiating;
	// the interface can also wrap a typed nil
	if audioTrack == nil || reflect.ValueOf(audioTrack).IsNil() {
		return nil
	}

	sampleData := frame
	if muted {
		// Muted sessions still receive frames, just silent ones
		sampleData = make([]byte, len(frame))
	}

	return audioTrack.WriteSample(media.Sample{
		Data:     sampleData,
		Duration: config.FrameSize,
	})
}
