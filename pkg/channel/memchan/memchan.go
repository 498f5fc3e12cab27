// Package memchan provides an in-process channel.Transport. Every client
// sharing one Broker sees every publish, which makes it the backend of
// choice for unit tests and for single-binary deployments that need no
// external broker.
package memchan

import (
	"context"
	"sync"

	"github.com/pulseboard/collab.go/pkg/channel"
)

const subscriberBuffer = 64

// Broker is an in-memory broadcast medium. The zero value is not usable;
// call New.
type Broker struct {
	mu        sync.RWMutex
	topics    map[string]map[uint64]chan channel.Event
	nextID    uint64
	connected bool
	closed    bool
}

var _ channel.Transport = (*Broker)(nil)

// New returns a connected Broker.
func New() *Broker {
	return &Broker{
		topics:    make(map[string]map[uint64]chan channel.Event),
		connected: true,
	}
}

func (b *Broker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return channel.ErrClosed
	}
	b.connected = true
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.connected = false
	for topic, subs := range b.topics {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.topics, topic)
	}
	return nil
}

// SetConnected simulates a connection drop or recovery. Used by tests and
// by embedding code reacting to network reachability signals.
func (b *Broker) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.connected = connected
	}
}

func (b *Broker) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Broker) Status() channel.ConnectionStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, subs := range b.topics {
		count += len(subs)
	}
	return channel.ConnectionStatus{Connected: b.connected, ChannelCount: count}
}

func (b *Broker) Publish(_ context.Context, topic string, event channel.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return channel.ErrClosed
	}
	if !b.connected {
		return channel.ErrNotConnected
	}

	for _, ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
			// a stalled subscriber drops events rather than blocking the broker
		}
	}
	return nil
}

func (b *Broker) Subscribe(topic string) (<-chan channel.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, channel.ErrClosed
	}

	b.nextID++
	id := b.nextID
	ch := make(chan channel.Event, subscriberBuffer)

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]chan channel.Event)
		b.topics[topic] = subs
	}
	subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.topics[topic]; ok {
				if c, ok := subs[id]; ok {
					close(c)
					delete(subs, id)
				}
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
		})
	}
	return ch, cancel, nil
}
