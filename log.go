package asyncbeats

import (
	"github.com/rs/zerolog"

	"github.com/Myxogastria0808/asyncbeats/internal/logging"
)

func componentLogger(name string) *zerolog.Logger {
	l := logging.GetDefaultLogger().With().Str("component", name).Logger()
	return &l
}

// Root package subsystem loggers
var (
	logger          = componentLogger("asyncbeats")
	webrtcLogger    = componentLogger("webrtc")
	websocketLogger = componentLogger("websocket")
	webLogger       = componentLogger("web")
)
