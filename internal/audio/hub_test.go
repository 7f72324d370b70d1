package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayHubSubscribePublish(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	frames, err := hub.Subscribe("session-1")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.SubscriberCount())

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	delivered := hub.Publish(payload)
	assert.Equal(t, 1, delivered)

	select {
	case got := <-frames:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestRelayHubPublishCopiesFrame(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	frames, err := hub.Subscribe("session-1")
	require.NoError(t, err)

	payload := []byte{0xAA, 0xBB}
	hub.Publish(payload)

	// Caller reuses its buffer immediately
	payload[0] = 0x00
	payload[1] = 0x00

	select {
	case got := <-frames:
		assert.Equal(t, []byte{0xAA, 0xBB}, got)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestRelayHubFanOut(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	sinks := make([]<-chan []byte, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		frames, err := hub.Subscribe(id)
		require.NoError(t, err)
		sinks = append(sinks, frames)
	}

	delivered := hub.Publish([]byte{0x42})
	assert.Equal(t, 3, delivered)

	for i, frames := range sinks {
		select {
		case got := <-frames:
			assert.Equal(t, []byte{0x42}, got, "sink %d", i)
		case <-time.After(time.Second):
			t.Fatalf("sink %d did not receive the frame", i)
		}
	}
}

func TestRelayHubDropsOnSlowSink(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	_, err := hub.Subscribe("slow")
	require.NoError(t, err)

	// Nobody drains the sink; overfill its backlog
	for i := 0; i < relaySinkBuffer+5; i++ {
		hub.Publish([]byte{byte(i)})
	}

	published, dropped := hub.GetStats()
	assert.Equal(t, int64(relaySinkBuffer+5), published)
	assert.Equal(t, int64(5), dropped)
}

func TestRelayHubUnsubscribeClosesSink(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	frames, err := hub.Subscribe("session-1")
	require.NoError(t, err)

	hub.Unsubscribe("session-1")
	assert.Equal(t, 0, hub.SubscriberCount())

	_, open := <-frames
	assert.False(t, open, "sink should be closed after unsubscribe")

	// Publishing with no sinks delivers nowhere
	assert.Equal(t, 0, hub.Publish([]byte{0x01}))
}

func TestRelayHubResubscribeReplacesSink(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	first, err := hub.Subscribe("session-1")
	require.NoError(t, err)

	second, err := hub.Subscribe("session-1")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.SubscriberCount())

	_, open := <-first
	assert.False(t, open, "replaced sink should be closed")

	hub.Publish([]byte{0x7F})
	select {
	case got := <-second:
		assert.Equal(t, []byte{0x7F}, got)
	case <-time.After(time.Second):
		t.Fatal("replacement sink did not receive the frame")
	}
}

func TestRelayHubClose(t *testing.T) {
	hub := NewRelayHub()

	frames, err := hub.Subscribe("session-1")
	require.NoError(t, err)

	hub.Close()

	_, open := <-frames
	assert.False(t, open, "sink should be closed after hub close")

	_, err = hub.Subscribe("session-2")
	assert.ErrorIs(t, err, ErrHubClosed)

	assert.Equal(t, 0, hub.Publish([]byte{0x01}))

	// Closing twice is harmless
	hub.Close()
}

func TestRelayHubConcurrentPublishSubscribe(t *testing.T) {
	hub := NewRelayHub()
	defer hub.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// Churning subscribers
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			id := "churn"
			frames, err := hub.Subscribe(id)
			if err != nil {
				return
			}
			// Drain a little then leave
			select {
			case <-frames:
			default:
			}
			hub.Unsubscribe(id)
		}
	}()

	// Steady subscriber draining frames
	steady, err := hub.Subscribe("steady")
	require.NoError(t, err)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range steady {
		}
	}()

	for i := 0; i < 500; i++ {
		hub.Publish([]byte{byte(i)})
	}

	close(stop)
	hub.Unsubscribe("steady")
	wg.Wait()

	published, _ := hub.GetStats()
	assert.Equal(t, int64(500), published)
}

func TestGlobalRelayHub(t *testing.T) {
	// Ensure a clean slate and restore it afterwards
	StopRelayHub()
	defer StopRelayHub()

	assert.False(t, IsHubRunning())
	assert.Nil(t, GetRelayHub())

	hub := StartRelayHub()
	require.NotNil(t, hub)
	assert.True(t, IsHubRunning())
	assert.Same(t, hub, GetRelayHub())

	// Starting again returns the same instance
	assert.Same(t, hub, StartRelayHub())

	published, dropped := GetHubStats()
	assert.Equal(t, int64(0), published)
	assert.Equal(t, int64(0), dropped)

	StopRelayHub()
	assert.False(t, IsHubRunning())
}
