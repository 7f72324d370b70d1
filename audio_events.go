package asyncbeats

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/Myxogastria0808/asyncbeats/internal/audio"
)

// signalingMessage is one client-to-server message on the events socket
type signalingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleAudioEventsWebSocket upgrades the connection, subscribes it to the
// audio event broadcaster, and serves WebRTC signaling on the same socket:
// an offer creates the listener session, candidates trickle both ways, and
// every delay machine transition is pushed as it happens.
func handleAudioEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // listeners connect from arbitrary origins
	})
	if err != nil {
		websocketLogger.Warn().Err(err).Msg("failed to accept websocket connection")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	connectionID := uuid.NewString()
	scopedLogger := websocketLogger.With().Str("connection", connectionID).Logger()

	broadcaster := audio.GetAudioEventBroadcaster()
	broadcaster.Subscribe(connectionID, conn, ctx, &scopedLogger)
	defer broadcaster.Unsubscribe(connectionID)

	var session *Session
	defer func() {
		// The signaling channel owns its session; tear it down when the
		// socket goes away
		if session != nil {
			_ = session.Close()
		}
	}()

	for {
		var msg signalingMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			scopedLogger.Debug().Err(err).Msg("websocket read ended")
			return
		}

		switch msg.Type {
		case "offer":
			var offer string
			if err := json.Unmarshal(msg.Data, &offer); err != nil {
				scopedLogger.Warn().Err(err).Msg("malformed offer payload")
				continue
			}

			if session == nil {
				session, err = newSession(SessionConfig{
					ICEServers: configuredICEServers(),
					ws:         conn,
					Logger:     &scopedLogger,
				})
				if err != nil {
					scopedLogger.Warn().Err(err).Msg("failed to create session")
					continue
				}
			}

			answer, err := session.ExchangeOffer(offer)
			if err != nil {
				scopedLogger.Warn().Err(err).Msg("offer exchange failed")
				continue
			}
			if err := wsjson.Write(ctx, conn, gin.H{"type": "answer", "data": answer}); err != nil {
				scopedLogger.Warn().Err(err).Msg("failed to write answer")
				return
			}
		case "new-ice-candidate":
			if session == nil {
				scopedLogger.Warn().Msg("ice candidate before offer, ignoring")
				continue
			}
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Data, &candidate); err != nil {
				scopedLogger.Warn().Err(err).Msg("malformed ice candidate")
				continue
			}
			if err := session.AddICECandidate(candidate); err != nil {
				scopedLogger.Warn().Err(err).Msg("failed to add ice candidate")
			}
		case "heartbeat":
			// Keepalive only
		default:
			scopedLogger.Debug().Str("type", msg.Type).Msg("unknown signaling message type")
		}
	}
}
