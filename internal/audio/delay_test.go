package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDelayState(t *testing.T) {
	state := NewDelayState(5)
	require.NotNil(t, state)
	assert.Equal(t, DelayInitialized, state.Classification())
	assert.Equal(t, uint64(0), state.SendCount())
	assert.Equal(t, uint64(5), state.Threshold())
}

func TestDelayClassificationString(t *testing.T) {
	tests := []struct {
		name           string
		classification DelayClassification
		expected       string
	}{
		{"Initialized", DelayInitialized, "initialized"},
		{"Enabled", DelayEnabled, "enabled"},
		{"Disabled", DelayDisabled, "disabled"},
		{"Unknown", DelayClassification(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.classification.String())
		})
	}
}

func TestDelayStateTransitions(t *testing.T) {
	tests := []struct {
		name      string
		threshold uint64
		sends     int
		expected  DelayClassification
	}{
		{"NoSendsIsInitialized", 3, 0, DelayInitialized},
		{"BelowThresholdStaysInitialized", 3, 1, DelayInitialized},
		{"JustBelowThresholdStaysInitialized", 3, 2, DelayInitialized},
		{"ThresholdReachedEnables", 3, 3, DelayEnabled},
		{"ThresholdExceededDisables", 3, 4, DelayDisabled},
		{"FarPastThresholdStaysDisabled", 3, 100, DelayDisabled},
		{"ThresholdOneEnablesOnFirstSend", 1, 1, DelayEnabled},
		{"ThresholdOneDisablesOnSecondSend", 1, 2, DelayDisabled},
		{"ZeroThresholdEnablesOnFirstSend", 0, 1, DelayEnabled},
		{"ZeroThresholdDisablesOnSecondSend", 0, 2, DelayDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewDelayState(tt.threshold)
			for i := 0; i < tt.sends; i++ {
				state.RecordSend()
			}
			assert.Equal(t, tt.expected, state.Classification())
			assert.Equal(t, uint64(tt.sends), state.SendCount())
		})
	}
}

// Scan a range of thresholds and send counts against the expected phase
// boundaries: initialized below the threshold, enabled exactly at it,
// disabled beyond it.
func TestDelayStateThresholdScan(t *testing.T) {
	for threshold := uint64(0); threshold <= 8; threshold++ {
		state := NewDelayState(threshold)

		effective := threshold
		if effective == 0 {
			effective = 1
		}

		for n := uint64(1); n <= threshold+5; n++ {
			got := state.RecordSend()

			var expected DelayClassification
			switch {
			case n == effective:
				expected = DelayEnabled
			case n > effective:
				expected = DelayDisabled
			default:
				expected = DelayInitialized
			}

			require.Equal(t, expected, got,
				"threshold %d, send %d", threshold, n)
			require.Equal(t, n, state.SendCount())
		}
	}
}

func TestDelayStateClassificationNeverRegresses(t *testing.T) {
	state := NewDelayState(4)

	prev := state.Classification()
	for i := 0; i < 20; i++ {
		got := state.RecordSend()
		assert.GreaterOrEqual(t, int(got), int(prev),
			"classification regressed from %s to %s on send %d", prev, got, i+1)
		prev = got
	}
	assert.Equal(t, DelayDisabled, prev)
}

func TestDelayStateConcurrentRecordSend(t *testing.T) {
	const (
		goroutines    = 16
		sendsPerGoron = 250
	)

	state := NewDelayState(10)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < sendsPerGoron; j++ {
				state.RecordSend()
			}
		}()
	}
	wg.Wait()

	// No lost updates under any interleaving.
	assert.Equal(t, uint64(goroutines*sendsPerGoron), state.SendCount())
	assert.Equal(t, DelayDisabled, state.Classification())
}

// Concurrent readers must only ever observe committed (sendCount,
// classification) pairs that satisfy the transition function.
func TestDelayStateSnapshotConsistency(t *testing.T) {
	const threshold = 32

	state := NewDelayState(threshold)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					count, classification := state.Snapshot()
					if classifyDelay(count, threshold) != classification {
						t.Errorf("torn snapshot: count=%d classification=%s",
							count, classification)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < threshold*4; i++ {
		state.RecordSend()
	}
	close(stop)
	wg.Wait()
}

// A single sampling reader sees a non-decreasing classification sequence
// while writers advance the state.
func TestDelayStateObservedOrder(t *testing.T) {
	state := NewDelayState(8)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		prev := DelayInitialized
		for {
			select {
			case <-done:
				return
			default:
				got := state.Classification()
				if int(got) < int(prev) {
					t.Errorf("observed regression from %s to %s", prev, got)
					return
				}
				prev = got
			}
		}
	}()

	var senders sync.WaitGroup
	for i := 0; i < 4; i++ {
		senders.Add(1)
		go func() {
			defer senders.Done()
			for j := 0; j < 50; j++ {
				state.RecordSend()
			}
		}()
	}
	senders.Wait()
	close(done)
	wg.Wait()

	assert.Equal(t, uint64(200), state.SendCount())
}

func TestClassifyDelay(t *testing.T) {
	tests := []struct {
		name      string
		sendCount uint64
		threshold uint64
		expected  DelayClassification
	}{
		{"ZeroCountAlwaysInitialized", 0, 3, DelayInitialized},
		{"ZeroCountZeroThreshold", 0, 0, DelayInitialized},
		{"WarmupBelowThreshold", 2, 3, DelayInitialized},
		{"ExactThreshold", 3, 3, DelayEnabled},
		{"PastThreshold", 4, 3, DelayDisabled},
		{"ZeroThresholdFirstSend", 1, 0, DelayEnabled},
		{"ZeroThresholdSecondSend", 2, 0, DelayDisabled},
		{"HugeCount", 1 << 62, 3, DelayDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyDelay(tt.sendCount, tt.threshold))
		})
	}
}

// Benchmark tests
func BenchmarkDelayStateRecordSend(b *testing.B) {
	state := NewDelayState(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		state.RecordSend()
	}
}

func BenchmarkDelayStateClassification(b *testing.B) {
	state := NewDelayState(1000)
	state.RecordSend()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = state.Classification()
	}
}

func BenchmarkDelayStateConcurrentReaders(b *testing.B) {
	state := NewDelayState(1000)
	state.RecordSend()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = state.Classification()
		}
	})
}
