package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	audioFramesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncbeats_audio_frames_received_total",
			Help: "Total number of PCM frames received from the source",
		},
	)

	audioFramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncbeats_audio_frames_dropped_total",
			Help: "Total number of PCM frames dropped",
		},
	)

	audioBytesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncbeats_audio_bytes_processed_total",
			Help: "Total number of PCM bytes processed",
		},
	)

	audioConnectionDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncbeats_audio_connection_drops_total",
			Help: "Total number of source connection drops",
		},
	)

	audioLastFrameTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncbeats_audio_last_frame_timestamp_seconds",
			Help: "Timestamp of the last PCM frame received",
		},
	)

	// Relay hub metrics
	hubFramesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncbeats_hub_frames_published_total",
			Help: "Total number of frames published to session relays",
		},
	)

	hubFramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncbeats_hub_frames_dropped_total",
			Help: "Total number of frames dropped on slow session sinks",
		},
	)

	hubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncbeats_hub_subscribers",
			Help: "Current number of session relays subscribed to the hub",
		},
	)

	// Delay machine metrics
	delayTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncbeats_delay_transitions_total",
			Help: "Total number of delay classification transitions",
		},
		[]string{"from", "to"},
	)

	delayCompensationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncbeats_delay_compensations_total",
			Help: "Total number of delay compensation pauses applied",
		},
	)

	// PCM format metrics
	pcmConfigSampleRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncbeats_pcm_sample_rate_hz",
			Help: "Current PCM sample rate",
		},
	)

	pcmConfigChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncbeats_pcm_channels",
			Help: "Current PCM channel count",
		},
	)

	pcmConfigFrameSizeMillis = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncbeats_pcm_frame_size_milliseconds",
			Help: "Current PCM frame duration in milliseconds",
		},
	)

	// Ingest socket metrics
	socketBufferSizeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asyncbeats_socket_buffer_size_bytes",
			Help: "Kernel buffer sizes of the ingest socket",
		},
		[]string{"component", "direction"},
	)

	// Buffer pool metrics
	framePoolHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncbeats_frame_pool_hit_rate_percent",
			Help: "Hit rate of the frame buffer pool",
		},
	)

	controlPoolHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncbeats_control_pool_hit_rate_percent",
			Help: "Hit rate of the control buffer pool",
		},
	)

	metricsUpdateMutex sync.RWMutex
	lastMetricsUpdate  int64

	// Last pushed values; prometheus counters only go up, so deltas are
	// computed against these
	audioFramesReceivedValue  int64
	audioFramesDroppedValue   int64
	audioBytesProcessedValue  int64
	audioConnectionDropsValue int64
	hubFramesPublishedValue   int64
	hubFramesDroppedValue     int64
)

// recordDelayTransition counts one classification transition. The enabled
// transition doubles as the compensation pause counter since that is the
// only point a pause is applied.
func recordDelayTransition(from, to DelayClassification) {
	delayTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	if to == DelayEnabled {
		delayCompensationsTotal.Inc()
	}
}

// UpdateAudioMetrics pushes the ingest totals into the Prometheus counters
func UpdateAudioMetrics(metrics AudioMetrics) {
	oldReceived := atomic.SwapInt64(&audioFramesReceivedValue, metrics.FramesReceived)
	if metrics.FramesReceived > oldReceived {
		audioFramesReceivedTotal.Add(float64(metrics.FramesReceived - oldReceived))
	}

	oldDropped := atomic.SwapInt64(&audioFramesDroppedValue, metrics.FramesDropped)
	if metrics.FramesDropped > oldDropped {
		audioFramesDroppedTotal.Add(float64(metrics.FramesDropped - oldDropped))
	}

	oldBytes := atomic.SwapInt64(&audioBytesProcessedValue, metrics.BytesProcessed)
	if metrics.BytesProcessed > oldBytes {
		audioBytesProcessedTotal.Add(float64(metrics.BytesProcessed - oldBytes))
	}

	oldDrops := atomic.SwapInt64(&audioConnectionDropsValue, metrics.ConnectionDrops)
	if metrics.ConnectionDrops > oldDrops {
		audioConnectionDropsTotal.Add(float64(metrics.ConnectionDrops - oldDrops))
	}

	if !metrics.LastFrameTime.IsZero() {
		audioLastFrameTimestamp.Set(float64(metrics.LastFrameTime.Unix()))
	}

	atomic.StoreInt64(&lastMetricsUpdate, time.Now().Unix())
}

// UpdateHubMetrics updates Prometheus metrics with relay hub data
func UpdateHubMetrics(published, dropped int64, subscribers int) {
	oldPublished := atomic.SwapInt64(&hubFramesPublishedValue, published)
	if published > oldPublished {
		hubFramesPublishedTotal.Add(float64(published - oldPublished))
	}

	oldDropped := atomic.SwapInt64(&hubFramesDroppedValue, dropped)
	if dropped > oldDropped {
		hubFramesDroppedTotal.Add(float64(dropped - oldDropped))
	}

	hubSubscribers.Set(float64(subscribers))

	atomic.StoreInt64(&lastMetricsUpdate, time.Now().Unix())
}

// UpdatePCMConfigMetrics updates Prometheus metrics with the stream format
func UpdatePCMConfigMetrics(config PCMConfig) {
	metricsUpdateMutex.Lock()
	defer metricsUpdateMutex.Unlock()

	pcmConfigSampleRate.Set(float64(config.SampleRate))
	pcmConfigChannels.Set(float64(config.Channels))
	pcmConfigFrameSizeMillis.Set(float64(config.FrameSize / time.Millisecond))

	atomic.StoreInt64(&lastMetricsUpdate, time.Now().Unix())
}

// UpdatePoolMetrics updates Prometheus metrics with buffer pool data
func UpdatePoolMetrics(stats AudioBufferPoolStats) {
	metricsUpdateMutex.Lock()
	defer metricsUpdateMutex.Unlock()

	framePoolHitRate.Set(stats.FramePoolHitRate)
	controlPoolHitRate.Set(stats.ControlPoolHitRate)

	atomic.StoreInt64(&lastMetricsUpdate, time.Now().Unix())
}

// GetLastMetricsUpdate reports when the Prometheus counters were last pushed
func GetLastMetricsUpdate() time.Time {
	timestamp := atomic.LoadInt64(&lastMetricsUpdate)
	return time.Unix(timestamp, 0)
}

// StartMetricsUpdater periodically mirrors the package counters into
// Prometheus on the configured interval
func StartMetricsUpdater(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			UpdateAudioMetrics(GetAudioMetrics())

			if hub := GetRelayHub(); hub != nil {
				published, dropped := hub.GetStats()
				UpdateHubMetrics(published, dropped, hub.SubscriberCount())
			}

			UpdatePCMConfigMetrics(GetPCMConfig())
			UpdatePoolMetrics(GetAudioBufferPoolStats())
		}
	}()
}
