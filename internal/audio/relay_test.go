package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTrackWriter captures samples written by a relay
type mockTrackWriter struct {
	mu      sync.Mutex
	samples []media.Sample
	err     error
}

func (m *mockTrackWriter) WriteSample(sample media.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data := make([]byte, len(sample.Data))
	copy(data, sample.Data)
	m.samples = append(m.samples, media.Sample{Data: data, Duration: sample.Duration})
	return nil
}

func (m *mockTrackWriter) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockTrackWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func (m *mockTrackWriter) sample(i int) media.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples[i]
}

func waitForSamples(t *testing.T, track *mockTrackWriter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for track.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d samples, got %d", want, track.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testRelayConfig(threshold uint64) RelayConfig {
	return RelayConfig{
		PCM: PCMConfig{
			SampleRate: 48000,
			Channels:   2,
			FrameSize:  20 * time.Millisecond,
		},
		DelayThreshold:    threshold,
		DelayCompensation: time.Millisecond,
	}
}

func TestAudioRelayLifecycle(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	relay := NewAudioRelay("session-1", testRelayConfig(5))
	track := &mockTrackWriter{}

	require.NoError(t, relay.Start(hub, track))
	assert.Equal(t, 1, hub.SubscriberCount())

	// Starting twice must fail
	assert.ErrorIs(t, relay.Start(hub, track), ErrRelayAlreadyStarted)

	relay.Stop()
	assert.Equal(t, 0, hub.SubscriberCount())

	// Stopping twice is harmless
	relay.Stop()
}

func TestAudioRelayForwardsFrames(t *testing.T) {
	SetAudioMuted(false)

	hub := NewRelayHub()
	defer hub.Close()

	relay := NewAudioRelay("session-1", testRelayConfig(100))
	track := &mockTrackWriter{}
	require.NoError(t, relay.Start(hub, track))
	defer relay.Stop()

	payload := []byte{0x10, 0x20, 0x30}
	for i := 0; i < 3; i++ {
		hub.Publish(payload)
	}

	waitForSamples(t, track, 3)

	sample := track.sample(0)
	assert.Equal(t, payload, sample.Data)
	assert.Equal(t, 20*time.Millisecond, sample.Duration)

	relayed, dropped := relay.GetStats()
	assert.Equal(t, int64(3), relayed)
	assert.Equal(t, int64(0), dropped)
}

func TestAudioRelayDelayProgression(t *testing.T) {
	SetAudioMuted(false)

	hub := NewRelayHub()
	defer hub.Close()

	relay := NewAudioRelay("session-1", testRelayConfig(2))

	var mu sync.Mutex
	var transitions []DelayClassification
	var sendCounts []uint64
	relay.SetDelayChangeCallback(func(classification DelayClassification, sendCount uint64) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, classification)
		sendCounts = append(sendCounts, sendCount)
	})

	track := &mockTrackWriter{}
	require.NoError(t, relay.Start(hub, track))
	defer relay.Stop()

	assert.Equal(t, DelayInitialized, relay.Delay().Classification())

	for i := 0; i < 5; i++ {
		hub.Publish([]byte{byte(i)})
	}
	waitForSamples(t, track, 5)

	assert.Equal(t, DelayDisabled, relay.Delay().Classification())
	assert.Equal(t, uint64(5), relay.Delay().SendCount())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []DelayClassification{DelayEnabled, DelayDisabled}, transitions)
	assert.Equal(t, []uint64{2, 3}, sendCounts)
}

func TestAudioRelayZeroThresholdDelay(t *testing.T) {
	SetAudioMuted(false)

	hub := NewRelayHub()
	defer hub.Close()

	relay := NewAudioRelay("session-1", testRelayConfig(0))

	var mu sync.Mutex
	var sendCounts []uint64
	relay.SetDelayChangeCallback(func(_ DelayClassification, sendCount uint64) {
		mu.Lock()
		defer mu.Unlock()
		sendCounts = append(sendCounts, sendCount)
	})

	track := &mockTrackWriter{}
	require.NoError(t, relay.Start(hub, track))
	defer relay.Stop()

	hub.Publish([]byte{0x01})
	hub.Publish([]byte{0x02})
	waitForSamples(t, track, 2)

	assert.Equal(t, DelayDisabled, relay.Delay().Classification())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, sendCounts)
}

func TestAudioRelayMuteSendsSilence(t *testing.T) {
	SetAudioMuted(false)

	hub := NewRelayHub()
	defer hub.Close()

	relay := NewAudioRelay("session-1", testRelayConfig(100))
	track := &mockTrackWriter{}
	require.NoError(t, relay.Start(hub, track))
	defer relay.Stop()

	payload := []byte{0x11, 0x22, 0x33, 0x44}

	hub.Publish(payload)
	waitForSamples(t, track, 1)

	relay.SetMuted(true)
	assert.True(t, relay.IsMuted())
	hub.Publish(payload)
	waitForSamples(t, track, 2)

	relay.SetMuted(false)
	assert.False(t, relay.IsMuted())
	hub.Publish(payload)
	waitForSamples(t, track, 3)

	assert.Equal(t, payload, track.sample(0).Data)
	assert.Equal(t, make([]byte, len(payload)), track.sample(1).Data, "muted frame should be silence")
	assert.Equal(t, payload, track.sample(2).Data)

	// Muted frames still count as sends
	assert.Equal(t, uint64(3), relay.Delay().SendCount())
}

func TestAudioRelayGlobalMute(t *testing.T) {
	SetAudioMuted(true)
	defer SetAudioMuted(false)

	relay := NewAudioRelay("session-1", testRelayConfig(100))
	assert.True(t, relay.IsMuted(), "global mute should override the relay flag")
}

func TestAudioRelayWriteErrorsDoNotAdvanceDelay(t *testing.T) {
	SetAudioMuted(false)

	hub := NewRelayHub()
	defer hub.Close()

	relay := NewAudioRelay("session-1", testRelayConfig(2))
	track := &mockTrackWriter{}
	track.setError(errors.New("track closed"))

	require.NoError(t, relay.Start(hub, track))
	defer relay.Stop()

	hub.Publish([]byte{0x01})
	hub.Publish([]byte{0x02})

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, dropped := relay.GetStats()
		if dropped == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("write failures were not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Failed deliveries are not sends
	assert.Equal(t, uint64(0), relay.Delay().SendCount())
	assert.Equal(t, DelayInitialized, relay.Delay().Classification())

	relayed, dropped := relay.GetStats()
	assert.Equal(t, int64(0), relayed)
	assert.Equal(t, int64(2), dropped)
}

func TestAudioRelayNilTrack(t *testing.T) {
	SetAudioMuted(false)

	hub := NewRelayHub()
	defer hub.Close()

	relay := NewAudioRelay("session-1", testRelayConfig(3))
	require.NoError(t, relay.Start(hub, nil))
	defer relay.Stop()

	// Frames are consumed without a track attached
	hub.Publish([]byte{0x01})

	deadline := time.Now().Add(2 * time.Second)
	for relay.Delay().SendCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("frame was not consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Attach a track later, like a session renegotiation does
	track := &mockTrackWriter{}
	relay.UpdateTrack(track)

	hub.Publish([]byte{0x02})
	waitForSamples(t, track, 1)

	assert.Equal(t, uint64(2), relay.Delay().SendCount())
}

func TestRelayRegistry(t *testing.T) {
	relayA := NewAudioRelay("registry-a", testRelayConfig(3))
	relayB := NewAudioRelay("registry-b", testRelayConfig(0))

	RegisterRelay(relayA)
	RegisterRelay(relayB)
	defer UnregisterRelay("registry-a")
	defer UnregisterRelay("registry-b")

	assert.Same(t, relayA, GetRelay("registry-a"))
	assert.Same(t, relayB, GetRelay("registry-b"))
	assert.Nil(t, GetRelay("registry-unknown"))
	assert.Equal(t, 2, RelayCount())

	snapshots := RelayDelaySnapshots()
	require.Len(t, snapshots, 2)
	byID := make(map[string]DelaySnapshot, len(snapshots))
	for _, s := range snapshots {
		byID[s.SessionID] = s
	}
	assert.Equal(t, uint64(3), byID["registry-a"].Threshold)
	assert.Equal(t, DelayInitialized.String(), byID["registry-a"].Classification)
	assert.Equal(t, uint64(0), byID["registry-b"].SendCount)

	UnregisterRelay("registry-a")
	assert.Equal(t, 1, RelayCount())
	assert.Nil(t, GetRelay("registry-a"))
}

func TestRelayRegistryAggregateStats(t *testing.T) {
	SetAudioMuted(false)

	hub := NewRelayHub()
	defer hub.Close()

	track := &mockTrackWriter{}
	relay := NewAudioRelay("registry-stats", testRelayConfig(3))
	require.NoError(t, relay.Start(hub, track))
	defer relay.Stop()

	RegisterRelay(relay)
	defer UnregisterRelay("registry-stats")

	hub.Publish(make([]byte, 64))
	hub.Publish(make([]byte, 64))
	waitForSamples(t, track, 2)

	relayed, dropped := GetRelayStats()
	assert.Equal(t, int64(2), relayed)
	assert.Equal(t, int64(0), dropped)
}
