package audio

import (
	"math"
	"sync/atomic"
	"time"
)

// AtomicCounter is a lock-free int64 counter shared between the ingest,
// hub and relay paths.
type AtomicCounter struct {
	value atomic.Int64
}

func NewAtomicCounter() *AtomicCounter {
	return &AtomicCounter{}
}

// Add adds delta and returns the new value
func (c *AtomicCounter) Add(delta int64) int64 {
	return c.value.Add(delta)
}

// Increment adds 1 and returns the new value
func (c *AtomicCounter) Increment() int64 {
	return c.value.Add(1)
}

func (c *AtomicCounter) Load() int64 {
	return c.value.Load()
}

func (c *AtomicCounter) Store(value int64) {
	c.value.Store(value)
}

func (c *AtomicCounter) Reset() {
	c.value.Store(0)
}

// Swap stores new and returns the previous value
func (c *AtomicCounter) Swap(new int64) int64 {
	return c.value.Swap(new)
}

// FrameMetrics counts frames moving through one pipeline stage. Every
// stage (ingest server, hub, per-session relay) carries its own instance
// so drops can be attributed to the stage that caused them.
type FrameMetrics struct {
	Total   *AtomicCounter
	Dropped *AtomicCounter
	Bytes   *AtomicCounter
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		Total:   NewAtomicCounter(),
		Dropped: NewAtomicCounter(),
		Bytes:   NewAtomicCounter(),
	}
}

// RecordFrame counts one delivered frame of the given size
func (fm *FrameMetrics) RecordFrame(size int64) {
	fm.Total.Increment()
	fm.Bytes.Add(size)
}

// RecordDrop counts one dropped frame
func (fm *FrameMetrics) RecordDrop() {
	fm.Dropped.Increment()
}

// GetStats returns the delivered, dropped and byte totals
func (fm *FrameMetrics) GetStats() (total, dropped, bytes int64) {
	return fm.Total.Load(), fm.Dropped.Load(), fm.Bytes.Load()
}

func (fm *FrameMetrics) Reset() {
	fm.Total.Reset()
	fm.Dropped.Reset()
	fm.Bytes.Reset()
}

// GetDropRate returns dropped frames as a percentage of delivered frames
func (fm *FrameMetrics) GetDropRate() float64 {
	total := fm.Total.Load()
	if total == 0 {
		return 0.0
	}
	return float64(fm.Dropped.Load()) / float64(total) * 100.0
}

// LatencyTracker keeps running latency statistics without locking. The
// average is an exponential moving average weighted 7:1 towards history,
// so a single outlier frame cannot swing it.
type LatencyTracker struct {
	current atomic.Int64
	min     atomic.Int64
	max     atomic.Int64
	average atomic.Int64
	samples atomic.Int64
}

func NewLatencyTracker() *LatencyTracker {
	lt := &LatencyTracker{}
	// First measurement always wins the min race
	lt.min.Store(math.MaxInt64)
	return lt
}

// RecordLatency folds one measurement into the statistics
func (lt *LatencyTracker) RecordLatency(latency time.Duration) {
	nanos := latency.Nanoseconds()
	lt.current.Store(nanos)
	lt.samples.Add(1)

	casFloor(&lt.min, nanos)
	casCeiling(&lt.max, nanos)

	oldAvg := lt.average.Load()
	lt.average.Store((oldAvg*7 + nanos) / 8)
}

// GetLatencyStats returns the current, min, max and average latency plus
// the sample count
func (lt *LatencyTracker) GetLatencyStats() (current, min, max, average time.Duration, samples int64) {
	return time.Duration(lt.current.Load()),
		time.Duration(lt.min.Load()),
		time.Duration(lt.max.Load()),
		time.Duration(lt.average.Load()),
		lt.samples.Load()
}

// casFloor lowers v to candidate if candidate is smaller
func casFloor(v *atomic.Int64, candidate int64) {
	for {
		old := v.Load()
		if candidate >= old || v.CompareAndSwap(old, candidate) {
			return
		}
	}
}

// casCeiling raises v to candidate if candidate is larger
func casCeiling(v *atomic.Int64, candidate int64) {
	for {
		old := v.Load()
		if candidate <= old || v.CompareAndSwap(old, candidate) {
			return
		}
	}
}

// PoolMetrics tracks buffer pool effectiveness
type PoolMetrics struct {
	Hits   *AtomicCounter
	Misses *AtomicCounter
}

func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		Hits:   NewAtomicCounter(),
		Misses: NewAtomicCounter(),
	}
}

func (pm *PoolMetrics) RecordHit() {
	pm.Hits.Increment()
}

func (pm *PoolMetrics) RecordMiss() {
	pm.Misses.Increment()
}

// GetHitRate returns pool hits as a percentage of all requests
func (pm *PoolMetrics) GetHitRate() float64 {
	hits := pm.Hits.Load()
	total := hits + pm.Misses.Load()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

// GetStats returns hit and miss counts with the derived hit rate
func (pm *PoolMetrics) GetStats() (hits, misses int64, hitRate float64) {
	return pm.Hits.Load(), pm.Misses.Load(), pm.GetHitRate()
}
