package wschan_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/collab.go/internal/fakerelay"
	"github.com/pulseboard/collab.go/pkg/channel"
	"github.com/pulseboard/collab.go/pkg/channel/wschan"
)

func startRelay(t *testing.T) *fakerelay.Server {
	t.Helper()
	relay, err := fakerelay.Start()
	require.NoError(t, err)
	t.Cleanup(relay.Close)
	return relay
}

func dial(t *testing.T, relay *fakerelay.Server) *wschan.Conn {
	t.Helper()
	conn := wschan.New(relay.URL(), nil)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitEvent(t *testing.T, ch <-chan channel.Event) channel.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event received in time")
		return channel.Event{}
	}
}

func TestPublishReachesOtherClients(t *testing.T) {
	relay := startRelay(t)
	sender := dial(t, relay)
	receiver := dial(t, relay)

	events, cancel, err := receiver.Subscribe("project:p1:cursors")
	require.NoError(t, err)
	defer cancel()
	time.Sleep(50 * time.Millisecond)

	sent, err := channel.NewBroadcast(map[string]any{"user_id": "u1", "x": 10, "y": 20})
	require.NoError(t, err)
	require.NoError(t, sender.Publish(context.Background(), "project:p1:cursors", sent))

	got := waitEvent(t, events)
	assert.Equal(t, channel.EventBroadcast, got.Type)

	var payload map[string]any
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, "u1", payload["user_id"])
}

func TestPublishBeforeConnectFails(t *testing.T) {
	relay := startRelay(t)
	conn := wschan.New(relay.URL(), nil)

	event, err := channel.NewBroadcast(map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	require.ErrorIs(t,
		conn.Publish(context.Background(), "project:p1:cursors", event),
		channel.ErrNotConnected)
}

func TestConnectedReflectsLink(t *testing.T) {
	relay := startRelay(t)
	conn := dial(t, relay)

	assert.True(t, conn.Connected())
	relay.DropConnections()

	deadline := time.Now().Add(2 * time.Second)
	for conn.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, conn.Connected())
}

func TestReconnectingConnRestoresSubscriptions(t *testing.T) {
	relay := startRelay(t)

	receiver := wschan.NewReconnecting(wschan.New(relay.URL(), nil), 20*time.Millisecond)
	require.NoError(t, receiver.Connect(context.Background()))
	defer receiver.Close()

	events, cancel, err := receiver.Subscribe("project:p1:presence")
	require.NoError(t, err)
	defer cancel()
	time.Sleep(50 * time.Millisecond)

	relay.DropConnections()

	// the reconnection loop re-dials and replays the subscribe frame
	deadline := time.Now().Add(3 * time.Second)
	for !receiver.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, receiver.Connected())
	time.Sleep(50 * time.Millisecond)

	sender := dial(t, relay)
	sent, err := channel.NewBroadcast(map[string]string{"user_id": "u2", "status": "online"})
	require.NoError(t, err)
	require.NoError(t, sender.Publish(context.Background(), "project:p1:presence", sent))

	got := waitEvent(t, events)
	assert.Equal(t, channel.EventBroadcast, got.Type)
}

func TestReconnectingConnCloseStopsLoop(t *testing.T) {
	relay := startRelay(t)

	conn := wschan.NewReconnecting(wschan.New(relay.URL(), nil), 20*time.Millisecond)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Close())
	err := conn.Close()
	require.Error(t, err)
}

func TestUnsubscribeDuringDeliveryIsSafe(t *testing.T) {
	relay := startRelay(t)
	sender := dial(t, relay)
	receiver := dial(t, relay)

	const topic = "project:p1:cursors"
	event, err := channel.NewBroadcast(map[string]string{"user_id": "u1"})
	require.NoError(t, err)

	// Flood the topic while other goroutines churn subscriptions, so
	// inbound deliveries keep racing cancel's channel close.
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
					_ = sender.Publish(context.Background(), topic, event)
				}
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				events, cancel, err := receiver.Subscribe(topic)
				if err != nil {
					return
				}
				select {
				case <-events:
				default:
				}
				cancel()
			}
		}()
	}

	time.Sleep(400 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	relay := startRelay(t)
	conn := wschan.New(relay.URL(), nil)
	t.Cleanup(func() { _ = conn.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Connect(context.Background()))
		}()
	}
	wg.Wait()

	require.True(t, conn.Connected())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, relay.ConnectionCount(), "extra dials would leak relay connections")
}

func TestStatusCountsSubscriptions(t *testing.T) {
	relay := startRelay(t)
	conn := dial(t, relay)

	_, cancel1, err := conn.Subscribe("project:p1:presence")
	require.NoError(t, err)
	_, cancel2, err := conn.Subscribe("project:p1:cursors")
	require.NoError(t, err)

	assert.Equal(t, 2, conn.Status().ChannelCount)
	cancel1()
	cancel2()
	assert.Equal(t, 0, conn.Status().ChannelCount)
}
