// Package wschan implements channel.Transport over a WebSocket relay. The
// relay is a dumb broadcast hub: clients announce topic interest with
// subscribe frames and the relay forwards every published event to the
// topic's current subscribers.
package wschan

import (
	"context"
	"fmt"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/pulseboard/collab.go/pkg/channel"
	"github.com/pulseboard/collab.go/pkg/logger"
)

// DefaultDialer is the gorilla dialer used by Conn unless overridden.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"collab"},
}

// Frame is the wire message exchanged with the relay.
type Frame struct {
	Action string         `json:"action"` // subscribe | unsubscribe | publish | event
	Topic  string         `json:"topic"`
	Event  *channel.Event `json:"event,omitempty"`
}

// Frame actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPublish     = "publish"
	ActionEvent       = "event"
)

const subscriberBuffer = 64

// Conn is a WebSocket relay client. It keeps topic interest registered
// locally, so a reconnect replays every subscribe frame before events
// resume flowing.
type Conn struct {
	url    string
	logger logger.Logger
	Dialer *gorilla.Dialer

	mu         sync.Mutex
	conn       *gorilla.Conn
	connected  bool
	connecting bool
	closed     bool
	subs       map[string]map[uint64]chan channel.Event
	nextID     uint64

	writeMu sync.Mutex
}

var _ channel.Transport = (*Conn)(nil)

// New creates a relay client for url (ws://host/collab). Connect must be
// called before events flow.
func New(url string, log logger.Logger) *Conn {
	if log == nil {
		log = logger.Nop()
	}
	return &Conn{
		url:    url,
		logger: log,
		Dialer: DefaultDialer,
		subs:   make(map[string]map[uint64]chan channel.Event),
	}
}

// Connect dials the relay and re-announces every topic this client is
// subscribed to. Calling Connect while connected, or while another
// Connect's dial is still in flight, is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrClosed
	}
	if c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	conn, res, err := c.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return fmt.Errorf("dial relay: %w", err)
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	c.mu.Lock()
	if c.closed {
		c.connecting = false
		c.mu.Unlock()
		conn.Close()
		return channel.ErrClosed
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.writeFrame(Frame{Action: ActionSubscribe, Topic: topic}); err != nil {
			c.logger.Warn("resubscribe after connect failed", "topic", topic, "err", err)
		}
	}

	go c.readLoop(conn)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	for topic, subs := range c.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(c.subs, topic)
	}
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Status() channel.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, subs := range c.subs {
		count += len(subs)
	}
	return channel.ConnectionStatus{Connected: c.connected, ChannelCount: count}
}

func (c *Conn) Publish(_ context.Context, topic string, event channel.Event) error {
	ev := event
	return c.writeFrame(Frame{Action: ActionPublish, Topic: topic, Event: &ev})
}

func (c *Conn) Subscribe(topic string) (<-chan channel.Event, func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, channel.ErrClosed
	}

	c.nextID++
	id := c.nextID
	ch := make(chan channel.Event, subscriberBuffer)

	subs, ok := c.subs[topic]
	first := !ok
	if first {
		subs = make(map[uint64]chan channel.Event)
		c.subs[topic] = subs
	}
	subs[id] = ch
	connected := c.connected
	c.mu.Unlock()

	if first && connected {
		if err := c.writeFrame(Frame{Action: ActionSubscribe, Topic: topic}); err != nil {
			c.logger.Warn("subscribe frame failed", "topic", topic, "err", err)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			last := false
			if subs, ok := c.subs[topic]; ok {
				if ch, ok := subs[id]; ok {
					close(ch)
					delete(subs, id)
				}
				if len(subs) == 0 {
					delete(c.subs, topic)
					last = true
				}
			}
			connected := c.connected
			c.mu.Unlock()

			if last && connected {
				_ = c.writeFrame(Frame{Action: ActionUnsubscribe, Topic: topic})
			}
		})
	}
	return ch, cancel, nil
}

func (c *Conn) writeFrame(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return channel.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Action, err)
	}
	return nil
}

func (c *Conn) readLoop(conn *gorilla.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.connected = false
				c.conn = nil
			}
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Debug("relay connection lost", "err", err)
			}
			return
		}

		if f.Action != ActionEvent || f.Event == nil {
			continue
		}

		// Delivery holds the mutex so cancel and Close cannot close a
		// subscriber channel mid-send. The sends are non-blocking, so a
		// stalled subscriber drops events rather than stalling the loop.
		c.mu.Lock()
		for _, ch := range c.subs[f.Topic] {
			select {
			case ch <- *f.Event:
			default:
				c.logger.Debug("subscriber lagging, dropping event", "topic", f.Topic)
			}
		}
		c.mu.Unlock()
	}
}

// dialTimeout bounds reconnection dial attempts made by ReconnectingConn.
const dialTimeout = 10 * time.Second
