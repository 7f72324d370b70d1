package audio

import "sync"

// AudioBufferPool recycles frame-sized byte buffers between the ingest
// reader and the relays. Buffers are handed out with zero length and the
// pool's capacity preserved.
type AudioBufferPool struct {
	pool       sync.Pool
	bufferSize int
	metrics    *PoolMetrics
}

// NewAudioBufferPool creates a pool for buffers of the given capacity
func NewAudioBufferPool(bufferSize int) *AudioBufferPool {
	if err := ValidateBufferSize(bufferSize); err != nil {
		// Use default value on validation error
		bufferSize = MaxPCMFrameSize
	}
	return &AudioBufferPool{
		bufferSize: bufferSize,
		metrics:    NewPoolMetrics(),
	}
}

// Get returns a zero-length buffer with at least bufferSize capacity
func (p *AudioBufferPool) Get() []byte {
	if v := p.pool.Get(); v != nil {
		buf := v.(*[]byte)
		if cap(*buf) >= p.bufferSize {
			p.metrics.RecordHit()
			return (*buf)[:0]
		}
		// Undersized buffer slipped in, let GC take it
	}
	p.metrics.RecordMiss()
	return make([]byte, 0, p.bufferSize)
}

// Put returns a buffer to the pool for reuse
func (p *AudioBufferPool) Put(buf []byte) {
	bufCap := cap(buf)
	if bufCap < p.bufferSize || bufCap > p.bufferSize*2 {
		return // Buffer size mismatch, don't pool it to prevent memory bloat
	}
	reset := buf[:0]
	p.pool.Put(&reset)
}

// GetPoolStats returns hit and miss counts for this pool
func (p *AudioBufferPool) GetPoolStats() (hits, misses int64, hitRate float64) {
	return p.metrics.GetStats()
}

var (
	audioFramePool   = NewAudioBufferPool(MaxPCMFrameSize)
	audioControlPool = NewAudioBufferPool(ingestHeaderSize)
)

// GetAudioFrameBuffer returns a pooled buffer sized for one PCM frame
func GetAudioFrameBuffer() []byte {
	return audioFramePool.Get()
}

// PutAudioFrameBuffer returns a frame buffer to the pool
func PutAudioFrameBuffer(buf []byte) {
	audioFramePool.Put(buf)
}

// GetAudioControlBuffer returns a pooled buffer sized for a message header
func GetAudioControlBuffer() []byte {
	return audioControlPool.Get()
}

// PutAudioControlBuffer returns a control buffer to the pool
func PutAudioControlBuffer(buf []byte) {
	audioControlPool.Put(buf)
}

// AudioBufferPoolStats aggregates statistics for the package pools
type AudioBufferPoolStats struct {
	FramePoolHits    int64
	FramePoolMisses  int64
	FramePoolHitRate float64

	ControlPoolHits    int64
	ControlPoolMisses  int64
	ControlPoolHitRate float64
}

// GetAudioBufferPoolStats returns statistics about the package buffer pools
func GetAudioBufferPoolStats() AudioBufferPoolStats {
	frameHits, frameMisses, frameRate := audioFramePool.GetPoolStats()
	controlHits, controlMisses, controlRate := audioControlPool.GetPoolStats()

	return AudioBufferPoolStats{
		FramePoolHits:      frameHits,
		FramePoolMisses:    frameMisses,
		FramePoolHitRate:   frameRate,
		ControlPoolHits:    controlHits,
		ControlPoolMisses:  controlMisses,
		ControlPoolHitRate: controlRate,
	}
}
