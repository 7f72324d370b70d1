package asyncbeats

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Myxogastria0808/asyncbeats/internal/audio"
)

// sourceStaleAfter marks the PCM source stale when no frame arrived for
// this long
const sourceStaleAfter = 10 * time.Second

var startTime = time.Now()

// HealthStatus is the /health response body
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is one subsystem's health entry
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type webrtcSessionRequest struct {
	Offer string `json:"offer" binding:"required"`
}

type webrtcSessionResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

type audioMuteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webrtc/session", handleWebRTCSession)
	r.GET("/webrtc/events", func(c *gin.Context) {
		handleAudioEventsWebSocket(c.Writer, c.Request)
	})

	r.GET("/audio/delay", handleDelayStatus)
	r.GET("/audio/status", handleAudioStatus)
	r.POST("/audio/mute", handleSetMute)

	return r
}

// RunWebServer starts the HTTP surface and blocks
func RunWebServer() {
	r := setupRouter()
	webLogger.Info().Str("addr", config.ListenAddr).Msg("web server listening")
	if err := r.Run(config.ListenAddr); err != nil {
		webLogger.Error().Err(err).Msg("web server failed")
	}
}

func handleHealth(c *gin.Context) {
	status := "healthy"
	components := make(map[string]ComponentHealth)

	if audio.IsHubRunning() {
		components["relay_hub"] = ComponentHealth{Status: "healthy"}
	} else {
		components["relay_hub"] = ComponentHealth{Status: "unhealthy", Message: "relay hub not running"}
		status = "degraded"
	}

	metrics := audio.GetAudioMetrics()
	switch {
	case metrics.LastFrameTime.IsZero():
		components["pcm_source"] = ComponentHealth{Status: "idle", Message: "no frames received yet"}
	case time.Since(metrics.LastFrameTime) > sourceStaleAfter:
		components["pcm_source"] = ComponentHealth{Status: "stale", Message: "no recent frames"}
	default:
		components["pcm_source"] = ComponentHealth{Status: "healthy"}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(startTime).String(),
		Components: components,
	})
}

// handleWebRTCSession answers one offer over plain HTTP. The exchange is
// non-trickle: the response carries a complete answer.
func handleWebRTCSession(c *gin.Context) {
	var req webrtcSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := newSession(SessionConfig{
		ICEServers: configuredICEServers(),
		Logger:     webLogger,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	answer, err := session.ExchangeOfferComplete(req.Offer)
	if err != nil {
		_ = session.Close()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, webrtcSessionResponse{
		SessionID: session.ID,
		Answer:    answer,
	})
}

func handleDelayStatus(c *gin.Context) {
	snapshots := audio.RelayDelaySnapshots()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(snapshots),
		"sessions": snapshots,
	})
}

func handleAudioStatus(c *gin.Context) {
	metrics := audio.GetAudioMetrics()

	var hubPublished, hubDropped int64
	subscribers := 0
	if hub := audio.GetRelayHub(); hub != nil {
		hubPublished, hubDropped = hub.GetStats()
		subscribers = hub.SubscriberCount()
	}

	pcm := audio.GetPCMConfig()
	c.JSON(http.StatusOK, gin.H{
		"muted":            audio.IsAudioMuted(),
		"sessions":         activeSessionCount(),
		"subscribers":      subscribers,
		"frames_received":  metrics.FramesReceived,
		"frames_dropped":   metrics.FramesDropped,
		"bytes_processed":  metrics.BytesProcessed,
		"connection_drops": metrics.ConnectionDrops,
		"hub_published":    hubPublished,
		"hub_dropped":      hubDropped,
		"pcm": gin.H{
			"sample_rate":   pcm.SampleRate,
			"channels":      pcm.Channels,
			"frame_size_ms": int(pcm.FrameSize / time.Millisecond),
		},
	})
}

func handleSetMute(c *gin.Context) {
	var req audioMuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	audio.SetAudioMuted(*req.Muted)
	audio.GetAudioEventBroadcaster().BroadcastAudioMuteChanged(*req.Muted)
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}
