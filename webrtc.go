package asyncbeats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"runtime"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/Myxogastria0808/asyncbeats/internal/audio"
	"github.com/Myxogastria0808/asyncbeats/internal/logging"
)

// Session is one listener: a peer connection, the audio track frames are
// written to, and the relay that owns the session's delay machine.
type Session struct {
	ID             string
	peerConnection *webrtc.PeerConnection
	AudioTrack     *webrtc.TrackLocalStaticSample
	relay          *audio.AudioRelay
}

type SessionConfig struct {
	ICEServers []string
	ws         *websocket.Conn
	Logger     *zerolog.Logger
}

// ExchangeOffer answers a base64/JSON offer. The answer is returned as soon
// as the local description is set; candidates trickle over the signaling
// channel.
func (s *Session) ExchangeOffer(offerStr string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(offerStr)
	if err != nil {
		return "", err
	}
	offer := webrtc.SessionDescription{}
	err = json.Unmarshal(b, &offer)
	if err != nil {
		return "", err
	}
	if err = s.peerConnection.SetRemoteDescription(offer); err != nil {
		return "", err
	}

	answer, err := s.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", err
	}

	// Setting the local description starts the UDP listeners
	if err = s.peerConnection.SetLocalDescription(answer); err != nil {
		return "", err
	}

	localDescription, err := json.Marshal(s.peerConnection.LocalDescription())
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(localDescription), nil
}

// ExchangeOfferComplete answers a base64/JSON offer without trickle ICE:
// it blocks until candidate gathering finishes so the returned answer is
// self-contained. Used by the plain HTTP signaling endpoint.
func (s *Session) ExchangeOfferComplete(offerStr string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(offerStr)
	if err != nil {
		return "", err
	}
	offer := webrtc.SessionDescription{}
	err = json.Unmarshal(b, &offer)
	if err != nil {
		return "", err
	}
	if err = s.peerConnection.SetRemoteDescription(offer); err != nil {
		return "", err
	}

	answer, err := s.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", err
	}

	// The promise must exist before the local description starts gathering
	gatherComplete := webrtc.GatheringCompletePromise(s.peerConnection)
	if err = s.peerConnection.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gatherComplete

	localDescription, err := json.Marshal(s.peerConnection.LocalDescription())
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(localDescription), nil
}

// AddICECandidate applies a remote candidate received over signaling
func (s *Session) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return s.peerConnection.AddICECandidate(candidate)
}

// Close tears the peer connection down; the ICE state callback handles
// relay shutdown and registry removal
func (s *Session) Close() error {
	return s.peerConnection.Close()
}

func newSession(config SessionConfig) (*Session, error) {
	webrtcSettingEngine := webrtc.SettingEngine{
		LoggerFactory: logging.GetPionDefaultLoggerFactory(),
	}
	iceServer := webrtc.ICEServer{}

	var scopedLogger *zerolog.Logger
	if config.Logger != nil {
		l := config.Logger.With().Str("component", "webrtc").Logger()
		scopedLogger = &l
	} else {
		scopedLogger = webrtcLogger
	}

	if len(config.ICEServers) > 0 {
		iceServer.URLs = config.ICEServers
		scopedLogger.Info().Interface("iceServers", iceServer.URLs).Msg("using configured ICE servers")
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(webrtcSettingEngine))
	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{iceServer},
	})
	if err != nil {
		return nil, err
	}
	session := &Session{
		ID:             uuid.NewString(),
		peerConnection: peerConnection,
	}

	session.AudioTrack, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "asyncbeats")
	if err != nil {
		return nil, err
	}

	// Listeners only receive; there is no inbound media path
	audioTransceiver, err := peerConnection.AddTransceiverFromTrack(session.AudioTrack, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, err
	}

	session.relay = audio.NewAudioRelay(session.ID, sessionRelayConfig())
	session.relay.SetDelayChangeCallback(func(classification audio.DelayClassification, sendCount uint64) {
		audio.GetAudioEventBroadcaster().BroadcastDelayStateChanged(audio.DelaySnapshot{
			SessionID:      session.ID,
			Classification: classification.String(),
			SendCount:      sendCount,
			Threshold:      session.relay.Delay().Threshold(),
		})
	})

	// RTCP must be drained so interceptors (NACK and friends) keep
	// processing feedback from the listener
	go drainRtpSender(audioTransceiver.Sender())

	var isConnected bool

	peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		scopedLogger.Debug().Interface("candidate", candidate).Msg("WebRTC peerConnection has a new ICE candidate")
		if candidate != nil && config.ws != nil {
			err := wsjson.Write(context.Background(), config.ws, gin.H{"type": "new-ice-candidate", "data": candidate.ToJSON()})
			if err != nil {
				scopedLogger.Warn().Err(err).Msg("failed to write new-ice-candidate to WebRTC signaling channel")
			}
		}
	})

	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		scopedLogger.Info().Str("connectionState", connectionState.String()).Msg("ICE Connection State has changed")
		if connectionState == webrtc.ICEConnectionStateConnected {
			if !isConnected {
				isConnected = true
				registerSession(session)
			}
		}
		// Closing the browser tab moves the state disconnected->failed;
		// the peer connection has to be closed manually from here
		if connectionState == webrtc.ICEConnectionStateFailed {
			scopedLogger.Debug().Msg("ICE Connection State is failed, closing peerConnection")
			_ = peerConnection.Close()
		}
		if connectionState == webrtc.ICEConnectionStateClosed {
			if isConnected {
				isConnected = false
			}
			unregisterSession(session)
		}
	})
	return session, nil
}

func drainRtpSender(rtpSender *webrtc.RTPSender) {
	// Keep RTCP processing off the shared scheduler threads
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := rtpSender.Read(rtcpBuf); err != nil {
			return
		}
	}
}

// sessionRelayConfig builds the relay parameters for a new session from the
// loaded configuration
func sessionRelayConfig() audio.RelayConfig {
	if config == nil {
		return audio.RelayConfig{
			PCM:            audio.GetPCMConfig(),
			DelayThreshold: defaultDelayThreshold,
		}
	}
	return config.RelayConfig()
}

func configuredICEServers() []string {
	if config == nil {
		return nil
	}
	return config.ICEServers
}

// Connected listener sessions keyed by session ID
var (
	currentSessions = make(map[string]*Session)
	sessionsMutex   sync.RWMutex
)

func activeSessionCount() int {
	sessionsMutex.RLock()
	defer sessionsMutex.RUnlock()
	return len(currentSessions)
}

// registerSession starts the session's relay and announces the listener
func registerSession(session *Session) {
	if hub := audio.GetRelayHub(); hub == nil {
		webrtcLogger.Warn().Str("session", session.ID).Msg("relay hub not running, session gets no audio")
	} else if err := session.relay.Start(hub, session.AudioTrack); err != nil {
		webrtcLogger.Warn().Err(err).Str("session", session.ID).Msg("failed to start audio relay")
	}

	sessionsMutex.Lock()
	currentSessions[session.ID] = session
	count := len(currentSessions)
	sessionsMutex.Unlock()

	audio.RegisterRelay(session.relay)
	audio.GetAudioEventBroadcaster().BroadcastSessionStateChanged(session.ID, true, count)
	webrtcLogger.Info().Str("session", session.ID).Int("sessions", count).Msg("listener session connected")
}

// unregisterSession stops the session's relay and announces the departure.
// Safe to call more than once; only the first call does work.
func unregisterSession(session *Session) {
	sessionsMutex.Lock()
	_, exists := currentSessions[session.ID]
	delete(currentSessions, session.ID)
	count := len(currentSessions)
	sessionsMutex.Unlock()

	if !exists {
		return
	}

	audio.UnregisterRelay(session.ID)
	session.relay.Stop()
	audio.GetAudioEventBroadcaster().BroadcastSessionStateChanged(session.ID, false, count)
	webrtcLogger.Info().Str("session", session.ID).Int("sessions", count).Msg("listener session disconnected")
}

// closeAllSessions tears down every connected listener, used on shutdown
func closeAllSessions() {
	sessionsMutex.RLock()
	sessions := make([]*Session, 0, len(currentSessions))
	for _, session := range currentSessions {
		sessions = append(sessions, session)
	}
	sessionsMutex.RUnlock()

	for _, session := range sessions {
		_ = session.Close()
	}
}
