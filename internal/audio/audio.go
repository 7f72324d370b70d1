package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// MaxPCMFrameSize bounds a single frame payload on the wire. The largest
// preset (48kHz stereo s16le at 20ms) needs 3840 bytes; the extra headroom
// absorbs source-side padding.
const MaxPCMFrameSize = 4096

// PCMQuality represents different PCM format presets
type PCMQuality int

const (
	PCMQualityLow PCMQuality = iota
	PCMQualityMedium
	PCMQualityHigh
	PCMQualityUltra
)

// PCMConfig holds the format of the PCM stream relayed between the
// source and the listeners
type PCMConfig struct {
	Quality    PCMQuality
	SampleRate int
	Channels   int
	FrameSize  time.Duration
}

// FrameBytes returns the payload size of one frame of s16le PCM in this
// format.
func (c PCMConfig) FrameBytes() int {
	samples := c.SampleRate * int(c.FrameSize/time.Millisecond) / 1000
	return samples * c.Channels * 2
}

// AudioMetrics is the package-level view of ingest activity
type AudioMetrics struct {
	FramesReceived  int64
	FramesDropped   int64
	BytesProcessed  int64
	ConnectionDrops int64
	LastFrameTime   time.Time
}

// The stream format is written from Main at startup and from the ingest
// read loop when a source announces its own format, while relays, web
// handlers and the metrics updater read it concurrently.
var (
	configMu      sync.RWMutex
	currentConfig = PCMConfig{
		Quality:    PCMQualityHigh,
		SampleRate: 48000,
		Channels:   2,
		FrameSize:  20 * time.Millisecond,
	}

	metrics        AudioMetrics
	lastFrameNanos atomic.Int64
)

// qualityPresets defines the base PCM format configurations
var qualityPresets = map[PCMQuality]struct {
	sampleRate, channels int
	frameSize            time.Duration
}{
	PCMQualityLow: {
		sampleRate: 22050, channels: 1,
		frameSize: 40 * time.Millisecond,
	},
	PCMQualityMedium: {
		sampleRate: 44100, channels: 2,
		frameSize: 20 * time.Millisecond,
	},
	PCMQualityHigh: {
		sampleRate: 48000, channels: 2,
		frameSize: 20 * time.Millisecond,
	},
	PCMQualityUltra: {
		sampleRate: 48000, channels: 2,
		frameSize: 10 * time.Millisecond,
	},
}

// GetPCMQualityPresets returns predefined format configurations for the
// relayed stream
func GetPCMQualityPresets() map[PCMQuality]PCMConfig {
	result := make(map[PCMQuality]PCMConfig)
	for quality, preset := range qualityPresets {
		result[quality] = PCMConfig{
			Quality:    quality,
			SampleRate: preset.sampleRate,
			Channels:   preset.channels,
			FrameSize:  preset.frameSize,
		}
	}
	return result
}

// SetPCMQuality updates the current PCM format configuration
func SetPCMQuality(quality PCMQuality) {
	presets := GetPCMQualityPresets()
	if config, exists := presets[quality]; exists {
		configMu.Lock()
		currentConfig = config
		configMu.Unlock()
	}
}

// SetPCMConfig replaces the current PCM format configuration. A connected
// source's own format announcement still overrides it.
func SetPCMConfig(config PCMConfig) error {
	if err := ValidatePCMConfig(config.SampleRate, config.Channels, config.FrameSize); err != nil {
		return err
	}
	configMu.Lock()
	currentConfig = config
	configMu.Unlock()
	return nil
}

// GetPCMConfig returns the current PCM format configuration. The struct is
// copied under the read lock, so a caller never sees a torn format.
func GetPCMConfig() PCMConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return currentConfig
}

// GetAudioMetrics returns a snapshot of the ingest counters. While the
// relay hub runs, its own totals take precedence for frame counts.
func GetAudioMetrics() AudioMetrics {
	framesReceived := atomic.LoadInt64(&metrics.FramesReceived)
	framesDropped := atomic.LoadInt64(&metrics.FramesDropped)

	// If the relay hub is running, use hub stats instead
	if IsHubRunning() {
		hubReceived, hubDropped := GetHubStats()
		framesReceived = hubReceived
		framesDropped = hubDropped
	}

	var lastFrame time.Time
	if nanos := lastFrameNanos.Load(); nanos != 0 {
		lastFrame = time.Unix(0, nanos)
	}

	return AudioMetrics{
		FramesReceived:  framesReceived,
		FramesDropped:   framesDropped,
		BytesProcessed:  atomic.LoadInt64(&metrics.BytesProcessed),
		ConnectionDrops: atomic.LoadInt64(&metrics.ConnectionDrops),
		LastFrameTime:   lastFrame,
	}
}

// RecordFrameReceived counts one frame arriving from the source
func RecordFrameReceived(bytes int) {
	atomic.AddInt64(&metrics.FramesReceived, 1)
	atomic.AddInt64(&metrics.BytesProcessed, int64(bytes))
	lastFrameNanos.Store(time.Now().UnixNano())
}

// RecordFrameDropped counts one frame lost anywhere in the pipeline
func RecordFrameDropped() {
	atomic.AddInt64(&metrics.FramesDropped, 1)
}

// RecordConnectionDrop counts one source connection failure
func RecordConnectionDrop() {
	atomic.AddInt64(&metrics.ConnectionDrops, 1)
}
