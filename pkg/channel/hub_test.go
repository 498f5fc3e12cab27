package channel_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/collab.go/pkg/channel"
	"github.com/pulseboard/collab.go/pkg/channel/memchan"
)

func newTestHub(t *testing.T) (*channel.Hub, *memchan.Broker) {
	t.Helper()
	broker := memchan.New()
	hub, err := channel.NewHub(channel.HubConfig{
		Transport:    broker,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	t.Cleanup(func() { _ = broker.Close() })
	return hub, broker
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNewHubRequiresTransport(t *testing.T) {
	_, err := channel.NewHub(channel.HubConfig{})
	require.ErrorIs(t, err, channel.ErrNoTransport)
}

func TestSubscribeDeliversEvents(t *testing.T) {
	hub, _ := newTestHub(t)
	desc := channel.Descriptor{Kind: channel.KindPresence, ProjectID: "p1"}

	var got atomic.Int32
	unsub, err := hub.Subscribe(desc, func(channel.Event) { got.Add(1) })
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, hub.Broadcast(context.Background(), desc, map[string]string{"user_id": "u1"}))
	waitFor(t, func() bool { return got.Load() == 1 })
}

func TestIdenticalDescriptorsShareOneSubscription(t *testing.T) {
	hub, broker := newTestHub(t)
	desc := channel.Descriptor{Kind: channel.KindPresence, ProjectID: "p1"}

	var a, b atomic.Int32
	unsubA, err := hub.Subscribe(desc, func(channel.Event) { a.Add(1) })
	require.NoError(t, err)
	unsubB, err := hub.Subscribe(desc, func(channel.Event) { b.Add(1) })
	require.NoError(t, err)

	// one downstream channel even with two local handlers
	assert.Equal(t, 1, hub.SubscriptionCount())
	assert.Equal(t, 1, broker.Status().ChannelCount)

	require.NoError(t, hub.Broadcast(context.Background(), desc, map[string]string{"user_id": "u1"}))
	waitFor(t, func() bool { return a.Load() == 1 && b.Load() == 1 })

	unsubA()
	assert.Equal(t, 1, hub.SubscriptionCount())
	unsubB()
	assert.Equal(t, 0, hub.SubscriptionCount())
	assert.Equal(t, 0, broker.Status().ChannelCount)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub, broker := newTestHub(t)
	desc := channel.Descriptor{Kind: channel.KindCursorTracking, ProjectID: "p1"}

	unsub, err := hub.Subscribe(desc, func(channel.Event) {})
	require.NoError(t, err)

	unsub()
	unsub()
	unsub()

	assert.Equal(t, 0, hub.SubscriptionCount())
	assert.Equal(t, 0, broker.Status().ChannelCount)
}

func TestChangedDescriptorIsANewSubscription(t *testing.T) {
	hub, _ := newTestHub(t)

	unsub1, err := hub.Subscribe(channel.Descriptor{Kind: channel.KindPresence, ProjectID: "p1"}, func(channel.Event) {})
	require.NoError(t, err)
	unsub2, err := hub.Subscribe(channel.Descriptor{Kind: channel.KindPresence, ProjectID: "p2"}, func(channel.Event) {})
	require.NoError(t, err)

	assert.Equal(t, 2, hub.SubscriptionCount())
	unsub1()
	unsub2()
}

func TestSubscribeInvalidDescriptor(t *testing.T) {
	hub, _ := newTestHub(t)
	_, err := hub.Subscribe(channel.Descriptor{Kind: channel.KindPresence}, func(channel.Event) {})
	require.ErrorIs(t, err, channel.ErrInvalidDescriptor)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	hub, broker := newTestHub(t)
	desc := channel.Descriptor{Kind: channel.KindPresence, ProjectID: "p1"}

	var got atomic.Int32
	unsub, err := hub.Subscribe(desc, func(channel.Event) { got.Add(1) })
	require.NoError(t, err)
	defer unsub()

	// event with an unknown tag never reaches handlers
	require.NoError(t, broker.Publish(context.Background(), desc.Topic(), channel.Event{Type: "GARBAGE"}))
	require.NoError(t, hub.Broadcast(context.Background(), desc, map[string]string{"user_id": "u1"}))

	waitFor(t, func() bool { return got.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), got.Load())
}

func TestStatusPolling(t *testing.T) {
	hub, broker := newTestHub(t)

	waitFor(t, func() bool {
		state, _ := hub.State()
		return state == channel.StateConnected
	})

	broker.SetConnected(false)
	waitFor(t, func() bool {
		state, _ := hub.State()
		return state == channel.StateError
	})
	_, errMsg := hub.State()
	assert.NotEmpty(t, errMsg)

	// reconnect flips to connecting, then the poll confirms connected
	broker.SetConnected(true)
	hub.Reconnect(context.Background())
	waitFor(t, func() bool {
		state, _ := hub.State()
		return state == channel.StateConnected
	})
	_, errMsg = hub.State()
	assert.Empty(t, errMsg)
}

func TestPublishWhileDisconnectedIsSwallowedIntoStatus(t *testing.T) {
	hub, broker := newTestHub(t)
	desc := channel.Descriptor{Kind: channel.KindPresence, ProjectID: "p1"}

	broker.SetConnected(false)
	err := hub.Broadcast(context.Background(), desc, map[string]string{"user_id": "u1"})
	require.Error(t, err)

	_, errMsg := hub.State()
	assert.NotEmpty(t, errMsg)
}

func TestCloseDetachesEverything(t *testing.T) {
	broker := memchan.New()
	hub, err := channel.NewHub(channel.HubConfig{Transport: broker, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := hub.Subscribe(channel.Descriptor{Kind: channel.KindPresence, ProjectID: p}, func(channel.Event) {})
		require.NoError(t, err)
	}
	require.Equal(t, 3, hub.SubscriptionCount())

	hub.Close()
	hub.Close()

	assert.Equal(t, 0, hub.SubscriptionCount())
	assert.Equal(t, 0, broker.Status().ChannelCount)

	_, err = hub.Subscribe(channel.Descriptor{Kind: channel.KindPresence, ProjectID: "p4"}, func(channel.Event) {})
	require.ErrorIs(t, err, channel.ErrClosed)
}
