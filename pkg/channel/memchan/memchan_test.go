package memchan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/collab.go/pkg/channel"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	broker := New()
	defer broker.Close()

	ch1, cancel1, err := broker.Subscribe("project:p1:presence")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := broker.Subscribe("project:p1:presence")
	require.NoError(t, err)
	defer cancel2()

	event, err := channel.NewBroadcast(map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), "project:p1:presence", event))

	got1 := <-ch1
	got2 := <-ch2
	assert.Equal(t, channel.EventBroadcast, got1.Type)
	assert.Equal(t, channel.EventBroadcast, got2.Type)
}

func TestTopicsAreIsolated(t *testing.T) {
	broker := New()
	defer broker.Close()

	ch, cancel, err := broker.Subscribe("project:p1:cursors")
	require.NoError(t, err)
	defer cancel()

	event, err := channel.NewBroadcast(map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), "project:p2:cursors", event))

	select {
	case got := <-ch:
		t.Fatalf("unexpected event across topics: %+v", got)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	broker := New()
	defer broker.Close()

	ch, cancel, err := broker.Subscribe("project:p1:presence")
	require.NoError(t, err)

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, broker.Status().ChannelCount)
}

func TestDisconnectedPublishFails(t *testing.T) {
	broker := New()
	defer broker.Close()

	broker.SetConnected(false)
	event, err := channel.NewBroadcast(map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	require.ErrorIs(t,
		broker.Publish(context.Background(), "project:p1:presence", event),
		channel.ErrNotConnected)

	require.NoError(t, broker.Connect(context.Background()))
	require.NoError(t, broker.Publish(context.Background(), "project:p1:presence", event))
}

func TestClosedBrokerRejectsEverything(t *testing.T) {
	broker := New()
	require.NoError(t, broker.Close())
	require.NoError(t, broker.Close())

	_, _, err := broker.Subscribe("project:p1:presence")
	require.ErrorIs(t, err, channel.ErrClosed)
	require.ErrorIs(t, broker.Connect(context.Background()), channel.ErrClosed)
}
