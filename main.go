package asyncbeats

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gwatts/rootcerts"

	"github.com/Myxogastria0808/asyncbeats/internal/audio"
)

// Build metadata, overridden via -ldflags at release time
var builtVersion = "dev"

func Main() {
	LoadConfig()

	logger.Info().
		Str("version", builtVersion).
		Msg("starting asyncbeats middle server")

	http.DefaultClient.Timeout = 1 * time.Minute

	err := rootcerts.UpdateDefaultTransport()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load Root CA certificates")
	}
	logger.Info().
		Int("ca_certs_loaded", len(rootcerts.Certs())).
		Msg("loaded Root CA certificates")

	initPrometheus()

	// Apply the configured stream format; a connected source's own
	// announcement overrides it
	if err := audio.SetPCMConfig(config.PCMConfig()); err != nil {
		logger.Warn().Err(err).Msg("failed to apply configured stream format")
	}

	// The fan-out hub must exist before any source or listener appears
	hub := audio.StartRelayHub()

	ingestServer, err := audio.NewAudioIngestServer(hub)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create pcm ingest server")
		os.Exit(1)
	}
	if err := ingestServer.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start pcm ingest server")
		os.Exit(1)
	}
	logger.Info().Str("socket", audio.GetPCMSocketPath()).Msg("pcm ingest server listening")

	// Initialize audio event broadcaster for WebSocket-based real-time updates
	audio.InitializeAudioEventBroadcaster()
	initializeAudioSessionProvider()

	audio.StartMetricsUpdater(config.MetricsInterval())

	go RunWebServer()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("asyncbeats shutting down")

	closeAllSessions()
	_ = ingestServer.Close()
	audio.StopRelayHub()
}
