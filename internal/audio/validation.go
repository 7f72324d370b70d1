package audio

import (
	"errors"
	"time"
)

// Validation errors
var (
	ErrInvalidPCMQuality    = errors.New("invalid pcm quality level")
	ErrInvalidFrameSize     = errors.New("invalid frame size")
	ErrInvalidFrameData     = errors.New("invalid frame data")
	ErrInvalidBufferSize    = errors.New("invalid buffer size")
	ErrInvalidLatency       = errors.New("invalid latency value")
	ErrInvalidSampleRate    = errors.New("invalid sample rate")
	ErrInvalidChannels      = errors.New("invalid channels")
	ErrRelayAlreadyStarted  = errors.New("relay already started")
	ErrRelayNotStarted      = errors.New("relay not started")
	ErrIngestAlreadyStarted = errors.New("ingest server already started")
	ErrHubClosed            = errors.New("relay hub closed")
)

const (
	maxSocketBuffer   = 262144 // 256KB
	maxForwardLatency = 500 * time.Millisecond

	minValidSampleRate = 8000
	maxValidSampleRate = 48000
	maxValidChannels   = 8
)

// ValidatePCMQuality validates PCM quality enum values
func ValidatePCMQuality(quality PCMQuality) error {
	switch quality {
	case PCMQualityLow, PCMQualityMedium, PCMQualityHigh, PCMQualityUltra:
		return nil
	default:
		return ErrInvalidPCMQuality
	}
}

// ValidateFrameData validates a PCM frame payload
func ValidateFrameData(data []byte) error {
	if len(data) == 0 {
		return ErrInvalidFrameData
	}
	if len(data) > MaxPCMFrameSize {
		return ErrInvalidFrameSize
	}
	return nil
}

// ValidateBufferSize validates buffer size parameters
func ValidateBufferSize(size int) error {
	if size <= 0 {
		return ErrInvalidBufferSize
	}
	if size > maxSocketBuffer {
		return ErrInvalidBufferSize
	}
	return nil
}

// ValidateLatency validates a forward latency measurement
func ValidateLatency(latency time.Duration) error {
	if latency < 0 {
		return ErrInvalidLatency
	}
	if latency > maxForwardLatency {
		return ErrInvalidLatency
	}
	return nil
}

// ValidatePCMConfig validates a PCM stream format
func ValidatePCMConfig(sampleRate, channels int, frameSize time.Duration) error {
	if sampleRate < minValidSampleRate || sampleRate > maxValidSampleRate {
		return ErrInvalidSampleRate
	}
	if channels < 1 || channels > maxValidChannels {
		return ErrInvalidChannels
	}
	if frameSize <= 0 {
		return ErrInvalidFrameSize
	}
	return nil
}
