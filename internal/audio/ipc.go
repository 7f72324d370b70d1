package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ingestMagicNumber     uint32 = 0x41425043 // "ABPC" (AsyncBeats PCM)
	ingestSocketName             = "asyncbeats_pcm.sock"
	ingestWriteTimeout           = 10 * time.Millisecond // Source-side write deadline
	ingestHeaderSize             = 17                    // Fixed header size: 4+1+4+8 bytes
	ingestMessagePoolSize        = 128                   // Header scratch buffers kept warm
	ingestBufferFrames           = 500                   // Buffered frames between reader and dispatcher
	ingestConfigSize             = 12                    // Config payload: 3x uint32
)

// IngestMessageType represents the type of IPC message
type IngestMessageType uint8

const (
	IngestMessageTypePCMFrame IngestMessageType = iota
	IngestMessageTypeConfig
	IngestMessageTypeStop
	IngestMessageTypeHeartbeat
	IngestMessageTypeAck
)

// IngestIPCMessage represents an IPC message from the PCM source
type IngestIPCMessage struct {
	Magic     uint32
	Type      IngestMessageType
	Length    uint32
	Timestamp int64
	Data      []byte
}

// ingestHeader is a reusable header scratch buffer. Pooling these keeps
// the per-message read and write paths allocation free.
type ingestHeader struct {
	header [ingestHeaderSize]byte
}

type ingestHeaderPool struct {
	pool chan *ingestHeader
}

func newIngestHeaderPool(size int) *ingestHeaderPool {
	p := &ingestHeaderPool{
		pool: make(chan *ingestHeader, size),
	}
	for i := 0; i < size; i++ {
		p.pool <- &ingestHeader{}
	}
	return p
}

// Get returns a header buffer, allocating when the pool runs dry
func (p *ingestHeaderPool) Get() *ingestHeader {
	select {
	case h := <-p.pool:
		return h
	default:
		return &ingestHeader{}
	}
}

// Put hands a header buffer back; a full pool lets it go to the GC
func (p *ingestHeaderPool) Put(h *ingestHeader) {
	select {
	case p.pool <- h:
	default:
	}
}

var globalIngestHeaderPool = newIngestHeaderPool(ingestMessagePoolSize)

// AudioIngestServer accepts a PCM source connection on a unix socket and
// dispatches its frames into the relay hub. Only one source is served at
// a time; a newer connection replaces the current one.
type AudioIngestServer struct {
	metrics *FrameMetrics
	latency *LatencyTracker

	listener net.Listener
	conn     net.Conn
	mtx      sync.Mutex
	running  bool

	hub *RelayHub

	messageChan chan *IngestIPCMessage
	stopChan    chan struct{}
	wg          sync.WaitGroup

	logger zerolog.Logger
}

// NewAudioIngestServer creates the ingest server socket and binds it to hub
func NewAudioIngestServer(hub *RelayHub) (*AudioIngestServer, error) {
	socketPath := GetPCMSocketPath()
	// A stale socket from a previous run would block the listen
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %w", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "audio-ingest").Logger()

	return &AudioIngestServer{
		metrics:     NewFrameMetrics(),
		latency:     NewLatencyTracker(),
		listener:    listener,
		hub:         hub,
		messageChan: make(chan *IngestIPCMessage, ingestBufferFrames),
		stopChan:    make(chan struct{}),
		logger:      logger,
	}, nil
}

// Start begins accepting source connections and dispatching frames
func (s *AudioIngestServer) Start() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.running {
		return ErrIngestAlreadyStarted
	}

	s.running = true

	s.startDispatcherGoroutine()
	go s.acceptConnections()

	return nil
}

// acceptConnections accepts incoming source connections
func (s *AudioIngestServer) acceptConnections() {
	for s.isRunning() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isRunning() {
				s.logger.Warn().Err(err).Msg("failed to accept source connection")
				continue
			}
			return
		}

		if err := ConfigureSocketBuffers(conn, DefaultSocketBufferConfig()); err != nil {
			s.logger.Debug().Err(err).Msg("failed to tune ingest socket buffers")
		}
		RecordSocketBufferMetrics(conn, "ingest")

		s.mtx.Lock()
		// A newer source replaces the current one
		if s.conn != nil {
			s.conn.Close()
		}
		s.conn = conn
		s.mtx.Unlock()

		s.logger.Info().Msg("pcm source connected")
		GetAudioEventBroadcaster().BroadcastSourceStateChanged(true)
		go s.readLoop(conn)
	}
}

// startDispatcherGoroutine starts the frame dispatcher
func (s *AudioIngestServer) startDispatcherGoroutine() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case msg := <-s.messageChan:
				if msg.Type == IngestMessageTypePCMFrame {
					s.metrics.RecordFrame(int64(msg.Length))
					RecordFrameReceived(int(msg.Length))
					s.hub.Publish(msg.Data)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}

// readLoop reads messages from a source connection until it fails or the
// source sends a stop message.
func (s *AudioIngestServer) readLoop(conn net.Conn) {
	for {
		msg, err := readIngestMessage(conn)
		if err != nil {
			// A replaced source failing its read is not a disconnect; the
			// newer source is still streaming
			wasCurrent := s.clearConnIfCurrent(conn)
			if wasCurrent && s.isRunning() {
				s.logger.Warn().Err(err).Msg("pcm source read failed")
				RecordConnectionDrop()
			}
			conn.Close()
			if wasCurrent {
				GetAudioEventBroadcaster().BroadcastSourceStateChanged(false)
			}
			return
		}

		switch msg.Type {
		case IngestMessageTypePCMFrame:
			if err := ValidateFrameData(msg.Data); err != nil {
				s.metrics.RecordDrop()
				RecordFrameDropped()
				continue
			}
			// Track source-to-server latency from the frame timestamp
			if elapsed := time.Since(time.Unix(0, msg.Timestamp)); ValidateLatency(elapsed) == nil {
				s.latency.RecordLatency(elapsed)
			}
			// Non-blocking handoff; drop the frame when the dispatcher
			// is backed up rather than stalling the source
			select {
			case s.messageChan <- msg:
			default:
				s.metrics.RecordDrop()
				RecordFrameDropped()
			}
		case IngestMessageTypeConfig:
			if err := s.applySourceConfig(msg.Data); err != nil {
				s.logger.Warn().Err(err).Msg("rejected source config")
			}
		case IngestMessageTypeHeartbeat:
			// Keepalive only
		case IngestMessageTypeStop:
			s.logger.Info().Msg("pcm source requested stop")
			wasCurrent := s.clearConnIfCurrent(conn)
			conn.Close()
			if wasCurrent {
				GetAudioEventBroadcaster().BroadcastSourceStateChanged(false)
			}
			return
		default:
			s.logger.Warn().Uint8("type", uint8(msg.Type)).Msg("unexpected message type")
		}
	}
}

// applySourceConfig parses and applies a source format announcement
func (s *AudioIngestServer) applySourceConfig(data []byte) error {
	config, err := parseConfigPayload(data)
	if err != nil {
		return err
	}

	// Store through the locked setter; relays and web handlers read the
	// format concurrently with this goroutine
	if err := SetPCMConfig(config); err != nil {
		return err
	}
	s.logger.Info().
		Int("sample_rate", config.SampleRate).
		Int("channels", config.Channels).
		Dur("frame_size", config.FrameSize).
		Msg("pcm source format updated")
	return nil
}

// clearConnIfCurrent clears s.conn when conn is still the served source.
// It reports false for a connection that was already replaced or dropped,
// so its read loop winds down without announcing a disconnect.
func (s *AudioIngestServer) clearConnIfCurrent(conn net.Conn) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	return true
}

func (s *AudioIngestServer) isRunning() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.running
}

// Stop halts frame dispatch and drops the current source connection
func (s *AudioIngestServer) Stop() {
	s.mtx.Lock()
	if !s.running {
		s.mtx.Unlock()
		return
	}
	s.running = false
	conn := s.conn
	s.conn = nil
	s.mtx.Unlock()

	// Signal dispatcher to stop
	close(s.stopChan)
	s.wg.Wait()

	if conn != nil {
		conn.Close()
	}
}

// Close stops the server and removes the socket file
func (s *AudioIngestServer) Close() error {
	s.Stop()
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(GetPCMSocketPath())
	return nil
}

// GetServerStats returns ingest performance statistics
func (s *AudioIngestServer) GetServerStats() (total, dropped, bytes int64) {
	return s.metrics.GetStats()
}

// GetLatencyStats returns source-to-server latency statistics
func (s *AudioIngestServer) GetLatencyStats() (current, min, max, average time.Duration, samples int64) {
	return s.latency.GetLatencyStats()
}

// readIngestMessage reads and validates one framed message from conn
func readIngestMessage(conn net.Conn) (*IngestIPCMessage, error) {
	hdr := globalIngestHeaderPool.Get()
	defer globalIngestHeaderPool.Put(hdr)

	if _, err := io.ReadFull(conn, hdr.header[:]); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	magic := binary.LittleEndian.Uint32(hdr.header[0:4])
	if magic != ingestMagicNumber {
		return nil, fmt.Errorf("invalid magic number: %x", magic)
	}

	msgType := IngestMessageType(hdr.header[4])
	size := binary.LittleEndian.Uint32(hdr.header[5:9])
	if size > MaxPCMFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d", size, MaxPCMFrameSize)
	}
	timestamp := int64(binary.LittleEndian.Uint64(hdr.header[9:17]))

	// Read payload
	var data []byte
	if size > 0 {
		data = make([]byte, size)
		if _, err := io.ReadFull(conn, data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}

	return &IngestIPCMessage{
		Magic:     magic,
		Type:      msgType,
		Length:    size,
		Timestamp: timestamp,
		Data:      data,
	}, nil
}

// parseConfigPayload decodes a source format announcement
func parseConfigPayload(data []byte) (PCMConfig, error) {
	if len(data) != ingestConfigSize {
		return PCMConfig{}, fmt.Errorf("config payload size %d, want %d", len(data), ingestConfigSize)
	}

	sampleRate := int(binary.LittleEndian.Uint32(data[0:4]))
	channels := int(binary.LittleEndian.Uint32(data[4:8]))
	frameMillis := int(binary.LittleEndian.Uint32(data[8:12]))
	frameSize := time.Duration(frameMillis) * time.Millisecond

	if err := ValidatePCMConfig(sampleRate, channels, frameSize); err != nil {
		return PCMConfig{}, err
	}

	return PCMConfig{
		SampleRate: sampleRate,
		Channels:   channels,
		FrameSize:  frameSize,
	}, nil
}

// AudioIngestClient is the source side of the ingest socket. It frames PCM
// payloads and writes them to the middle server.
type AudioIngestClient struct {
	metrics *FrameMetrics

	conn    net.Conn
	mtx     sync.Mutex
	running bool
}

func NewAudioIngestClient() *AudioIngestClient {
	return &AudioIngestClient{
		metrics: NewFrameMetrics(),
	}
}

// Connect connects to the ingest server
func (c *AudioIngestClient) Connect() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.running {
		return nil // Already connected
	}

	socketPath := GetPCMSocketPath()
	// The server may still be coming up; retry with backoff
	for i := 0; i < 8; i++ {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			// Best effort; frame writes still work with kernel defaults
			_ = ConfigureSocketBuffers(conn, DefaultSocketBufferConfig())
			c.conn = conn
			c.running = true
			return nil
		}
		delay := time.Duration(50*(1<<uint(i/3))) * time.Millisecond
		if delay > 400*time.Millisecond {
			delay = 400 * time.Millisecond
		}
		time.Sleep(delay)
	}

	return fmt.Errorf("failed to connect to pcm ingest server")
}

// Disconnect disconnects from the ingest server
func (c *AudioIngestClient) Disconnect() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.running {
		return
	}

	c.running = false
	if c.conn != nil {
		// Best effort stop notice so the server logs a clean shutdown
		_ = writeIngestMessage(c.conn, IngestMessageTypeStop, nil)
		c.conn.Close()
		c.conn = nil
	}
}

// IsConnected returns whether the client is connected
func (c *AudioIngestClient) IsConnected() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.running && c.conn != nil
}

func (c *AudioIngestClient) Close() error {
	c.Disconnect()
	return nil
}

// SendFrame frames and writes one PCM payload
func (c *AudioIngestClient) SendFrame(frame []byte) error {
	if len(frame) > MaxPCMFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", len(frame), MaxPCMFrameSize)
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.running || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	if err := writeIngestMessage(c.conn, IngestMessageTypePCMFrame, frame); err != nil {
		c.metrics.RecordDrop()
		return err
	}

	c.metrics.RecordFrame(int64(len(frame)))
	return nil
}

// SendConfig announces the source PCM format to the server
func (c *AudioIngestClient) SendConfig(config PCMConfig) error {
	payload := make([]byte, ingestConfigSize)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(config.SampleRate))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(config.Channels))
	binary.LittleEndian.PutUint32(payload[8:12], uint32(config.FrameSize/time.Millisecond))

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.running || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	return writeIngestMessage(c.conn, IngestMessageTypeConfig, payload)
}

// SendHeartbeat writes a keepalive message
func (c *AudioIngestClient) SendHeartbeat() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.running || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	return writeIngestMessage(c.conn, IngestMessageTypeHeartbeat, nil)
}

// GetClientStats returns client performance statistics
func (c *AudioIngestClient) GetClientStats() (total, dropped int64) {
	total, dropped, _ = c.metrics.GetStats()
	return total, dropped
}

// writeIngestMessage frames and writes one message under a write deadline
func writeIngestMessage(conn net.Conn, msgType IngestMessageType, payload []byte) error {
	hdr := globalIngestHeaderPool.Get()
	defer globalIngestHeaderPool.Put(hdr)

	binary.LittleEndian.PutUint32(hdr.header[0:4], ingestMagicNumber)
	hdr.header[4] = byte(msgType)
	binary.LittleEndian.PutUint32(hdr.header[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr.header[9:17], uint64(time.Now().UnixNano()))

	if err := conn.SetWriteDeadline(time.Now().Add(ingestWriteTimeout)); err != nil {
		return err
	}

	if _, err := conn.Write(hdr.header[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return fmt.Errorf("failed to write frame data: %w", err)
		}
	}
	return nil
}

// Helper functions

// GetPCMSocketPath returns the path of the ingest socket
func GetPCMSocketPath() string {
	if path := os.Getenv("ASYNCBEATS_PCM_SOCKET"); path != "" {
		return path
	}
	return filepath.Join("/var/run", ingestSocketName)
}
