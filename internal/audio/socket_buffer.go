package audio

import (
	"fmt"
	"net"
	"syscall"
)

// Kernel buffer bounds for the ingest socket. The optimal size holds about
// half a second of 48kHz stereo s16le frames plus header overhead.
const (
	socketMinBuffer     = 8192
	socketOptimalBuffer = 131072
	socketMaxBuffer     = 1 << 20
)

// SocketBufferConfig holds kernel buffer sizes for the ingest socket
type SocketBufferConfig struct {
	SendBufferSize int
	RecvBufferSize int
	Enabled        bool
}

// DefaultSocketBufferConfig returns the buffer sizing applied to ingest
// connections
func DefaultSocketBufferConfig() SocketBufferConfig {
	return SocketBufferConfig{
		SendBufferSize: socketOptimalBuffer,
		RecvBufferSize: socketOptimalBuffer,
		Enabled:        true,
	}
}

// ConfigureSocketBuffers applies the buffer configuration to a unix socket
// connection
func ConfigureSocketBuffers(conn net.Conn, config SocketBufferConfig) error {
	if !config.Enabled {
		return nil
	}

	if err := ValidateSocketBufferConfig(config); err != nil {
		return fmt.Errorf("invalid socket buffer config: %w", err)
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("connection is not a unix socket")
	}

	file, err := unixConn.File()
	if err != nil {
		return fmt.Errorf("failed to get socket file descriptor: %w", err)
	}
	defer file.Close()

	fd := int(file.Fd())

	if config.SendBufferSize > 0 {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, config.SendBufferSize); err != nil {
			return fmt.Errorf("failed to set SO_SNDBUF to %d: %w", config.SendBufferSize, err)
		}
	}

	if config.RecvBufferSize > 0 {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, config.RecvBufferSize); err != nil {
			return fmt.Errorf("failed to set SO_RCVBUF to %d: %w", config.RecvBufferSize, err)
		}
	}

	return nil
}

// GetSocketBufferSizes reads back the kernel buffer sizes of a unix socket
// connection
func GetSocketBufferSizes(conn net.Conn) (sendSize, recvSize int, err error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, 0, fmt.Errorf("socket buffer query only supported for unix sockets")
	}

	file, err := unixConn.File()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get socket file descriptor: %w", err)
	}
	defer file.Close()

	fd := int(file.Fd())

	sendSize, err = syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get SO_SNDBUF: %w", err)
	}

	recvSize, err = syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get SO_RCVBUF: %w", err)
	}

	return sendSize, recvSize, nil
}

// ValidateSocketBufferConfig bounds buffer sizes between socketMinBuffer
// and socketMaxBuffer
func ValidateSocketBufferConfig(config SocketBufferConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.SendBufferSize < socketMinBuffer {
		return fmt.Errorf("send buffer size %d is below minimum %d", config.SendBufferSize, socketMinBuffer)
	}
	if config.RecvBufferSize < socketMinBuffer {
		return fmt.Errorf("receive buffer size %d is below minimum %d", config.RecvBufferSize, socketMinBuffer)
	}
	if config.SendBufferSize > socketMaxBuffer {
		return fmt.Errorf("send buffer size %d exceeds maximum %d", config.SendBufferSize, socketMaxBuffer)
	}
	if config.RecvBufferSize > socketMaxBuffer {
		return fmt.Errorf("receive buffer size %d exceeds maximum %d", config.RecvBufferSize, socketMaxBuffer)
	}

	return nil
}

// RecordSocketBufferMetrics exports a connection's kernel buffer sizes
func RecordSocketBufferMetrics(conn net.Conn, component string) {
	if conn == nil {
		return
	}

	sendSize, recvSize, err := GetSocketBufferSizes(conn)
	if err != nil {
		return
	}

	socketBufferSizeGauge.WithLabelValues(component, "send").Set(float64(sendSize))
	socketBufferSizeGauge.WithLabelValues(component, "receive").Set(float64(recvSize))
}
