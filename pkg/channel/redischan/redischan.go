// Package redischan implements channel.Transport on Redis pub/sub. Each
// logical topic maps to one Redis channel carrying JSON-encoded events, so
// any number of client processes sharing a Redis instance form one
// broadcast medium.
package redischan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseboard/collab.go/pkg/channel"
	"github.com/pulseboard/collab.go/pkg/logger"
)

const (
	subscriberBuffer = 64
	pingTimeout      = 2 * time.Second
)

// Transport is a Redis-backed channel transport.
type Transport struct {
	client *redis.Client
	logger logger.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	connected atomic.Bool
}

type subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

var _ channel.Transport = (*Transport)(nil)

// New connects to the Redis instance at redisURL (redis://host:port/db)
// and verifies the connection with a ping.
func New(redisURL string, log logger.Logger) (*Transport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	t := NewWithClient(redis.NewClient(opts), log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// NewWithClient wraps an existing Redis client. The caller keeps ownership
// of the client unless Close is called.
func NewWithClient(client *redis.Client, log logger.Logger) *Transport {
	if log == nil {
		log = logger.Nop()
	}
	return &Transport{
		client: client,
		logger: log,
		subs:   make(map[uint64]*subscription),
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		t.connected.Store(false)
		return fmt.Errorf("connect to redis: %w", err)
	}
	t.connected.Store(true)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*subscription, 0, len(t.subs))
	for id, s := range t.subs {
		subs = append(subs, s)
		delete(t.subs, id)
	}
	t.mu.Unlock()

	for _, s := range subs {
		_ = s.pubsub.Close()
		<-s.done
	}
	t.connected.Store(false)
	return t.client.Close()
}

// Connected re-checks reachability with a short ping so that the Hub's
// status poller observes broker outages.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	ok := t.client.Ping(ctx).Err() == nil
	t.connected.Store(ok)
	return ok
}

func (t *Transport) Status() channel.ConnectionStatus {
	t.mu.Lock()
	count := len(t.subs)
	t.mu.Unlock()
	return channel.ConnectionStatus{
		Connected:    t.connected.Load(),
		ChannelCount: count,
	}
}

func (t *Transport) Publish(ctx context.Context, topic string, event channel.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		t.connected.Store(false)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (t *Transport) Subscribe(topic string) (<-chan channel.Event, func(), error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, nil, channel.ErrClosed
	}

	pubsub := t.client.Subscribe(context.Background(), topic)
	t.nextID++
	id := t.nextID
	sub := &subscription{pubsub: pubsub, done: make(chan struct{})}
	t.subs[id] = sub
	t.mu.Unlock()

	events := make(chan channel.Event, subscriberBuffer)
	go t.readLoop(topic, sub, events)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			_ = pubsub.Close()
			<-sub.done
		})
	}
	return events, cancel, nil
}

func (t *Transport) readLoop(topic string, sub *subscription, events chan<- channel.Event) {
	defer close(events)
	defer close(sub.done)

	for msg := range sub.pubsub.Channel() {
		var event channel.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.logger.Debug("dropping undecodable message", "topic", topic, "err", err)
			continue
		}
		select {
		case events <- event:
		default:
			t.logger.Debug("subscriber lagging, dropping event", "topic", topic)
		}
	}
}
