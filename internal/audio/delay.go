package audio

import "sync"

// DelayClassification describes the delay-compensation regime of one
// streaming session. It advances in one direction only: a session starts
// Initialized, becomes Enabled on the send that reaches the configured
// threshold, and is Disabled for every send after that.
type DelayClassification int

const (
	// DelayInitialized is the state before any PCM chunk has been sent and
	// throughout the warmup sends below the threshold.
	DelayInitialized DelayClassification = iota
	// DelayEnabled marks the send window where delay compensation applies:
	// exactly when the number of sent chunks reaches the threshold.
	DelayEnabled
	// DelayDisabled marks the regime after the compensation window has
	// passed. It is terminal for the lifetime of the session.
	DelayDisabled
)

// String returns the log/event name of the classification.
func (c DelayClassification) String() string {
	switch c {
	case DelayInitialized:
		return "initialized"
	case DelayEnabled:
		return "enabled"
	case DelayDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// DelayState is the shared delay-decision cell of one streaming session.
// The relay loop records every outbound PCM chunk through RecordSend while
// any number of concurrent readers sample Classification; the send counter
// and the classification are updated together under the write lock, so a
// reader can never observe a torn pair.
//
// One DelayState belongs to exactly one session and lives exactly as long
// as that session. The threshold is fixed at construction; re-configuration
// means building a new DelayState.
type DelayState struct {
	mu             sync.RWMutex
	sendCount      uint64
	threshold      uint64
	classification DelayClassification
}

// NewDelayState creates the delay cell for a new session. The threshold is
// the number of PCM sends at which compensation turns on; the config layer
// sources it from the DELAY_THRESHOLD environment variable and rejects
// negative or non-numeric values before this constructor runs.
func NewDelayState(threshold uint64) *DelayState {
	return &DelayState{
		threshold:      threshold,
		classification: DelayInitialized,
	}
}

// RecordSend registers one transmitted PCM chunk and returns the
// classification committed by that send. Concurrent calls serialize; the
// counter never skips or loses an increment.
func (s *DelayState) RecordSend() DelayClassification {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sendCount++
	s.classification = classifyDelay(s.sendCount, s.threshold)
	return s.classification
}

// Classification returns the most recently committed classification.
// Readers run concurrently with each other and only briefly exclude
// RecordSend.
func (s *DelayState) Classification() DelayClassification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classification
}

// SendCount returns the number of PCM chunks recorded so far.
func (s *DelayState) SendCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sendCount
}

// Threshold returns the configured send threshold. The field is immutable
// after construction, so no lock is needed.
func (s *DelayState) Threshold() uint64 {
	return s.threshold
}

// Snapshot returns a consistent (sendCount, classification) pair for stats
// and event reporting.
func (s *DelayState) Snapshot() (uint64, DelayClassification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sendCount, s.classification
}

// classifyDelay is the pure transition function from (sendCount, threshold)
// to a classification. Recomputing it on every update keeps the state
// invariants checkable in one place instead of scattering transition logic
// across call sites.
//
// A zero threshold cannot distinguish "reached" from "exceeded" on the
// first send, so it is treated as a one-send window: the first send
// classifies Enabled and the second Disabled.
func classifyDelay(sendCount, threshold uint64) DelayClassification {
	if sendCount == 0 {
		return DelayInitialized
	}
	if threshold == 0 {
		threshold = 1
	}
	switch {
	case sendCount == threshold:
		return DelayEnabled
	case sendCount > threshold:
		return DelayDisabled
	default:
		return DelayInitialized
	}
}
