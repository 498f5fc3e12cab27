package channel

import (
	"context"
	"sync"
	"time"

	"github.com/pulseboard/collab.go/pkg/logger"
)

// State is the Hub's observed connection state.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

const defaultPollInterval = 2 * time.Second

// HubConfig configures a Hub. Transport is required.
type HubConfig struct {
	Transport Transport
	Logger    logger.Logger

	// PollInterval is how often the underlying transport's connection
	// state is sampled. Default is 2 seconds.
	PollInterval time.Duration
}

// Hub multiplexes local subscribers onto a Transport. Subscribing twice
// with descriptors that share a Key attaches both handlers to one
// downstream subscription; the last local unsubscribe tears the downstream
// subscription down. The Hub also converts transport failures into a
// status surface instead of letting them escape to callers.
type Hub struct {
	transport Transport
	logger    logger.Logger

	pollInterval time.Duration

	mu           sync.RWMutex
	subs         map[string]*fanout
	state        State
	lastErr      string
	reconnecting bool
	closed       bool

	closeCh chan struct{}
	doneCh  chan struct{}
}

// NewHub creates a Hub over the given transport and starts its status
// poller. The caller keeps ownership of the transport's lifecycle.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	h := &Hub{
		transport:    cfg.Transport,
		logger:       log,
		pollInterval: interval,
		subs:         make(map[string]*fanout),
		state:        StateConnecting,
		closeCh:      make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go h.pollLoop()
	return h, nil
}

// Subscribe attaches handler to the descriptor's topic. The returned
// function detaches it and is safe to call more than once.
func (h *Hub) Subscribe(d Descriptor, handler func(Event)) (func(), error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}

	key := d.Key()
	f, ok := h.subs[key]
	if !ok {
		events, cancel, err := h.transport.Subscribe(d.Topic())
		if err != nil {
			h.lastErr = err.Error()
			h.state = StateError
			h.mu.Unlock()
			h.logger.Warn("channel subscribe failed", "topic", d.Topic(), "err", err)
			return nil, err
		}
		f = &fanout{
			topic:    d.Topic(),
			events:   events,
			cancel:   cancel,
			handlers: make(map[uint64]func(Event)),
		}
		h.subs[key] = f
		go f.run(h.logger)
	}
	id := f.add(handler)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			cur, ok := h.subs[key]
			if !ok || cur != f {
				return
			}
			if f.remove(id) == 0 {
				f.cancel()
				delete(h.subs, key)
			}
		})
	}, nil
}

// Publish sends event on the descriptor's topic. Failures are reflected in
// the Hub's error state as well as returned, so fire-and-forget callers
// may ignore the result.
func (h *Hub) Publish(ctx context.Context, d Descriptor, event Event) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := h.transport.Publish(ctx, d.Topic(), event); err != nil {
		h.mu.Lock()
		h.lastErr = err.Error()
		h.mu.Unlock()
		h.logger.Debug("channel publish failed", "topic", d.Topic(), "err", err)
		return err
	}
	return nil
}

// Broadcast marshals payload into a BROADCAST event and publishes it.
func (h *Hub) Broadcast(ctx context.Context, d Descriptor, payload any) error {
	event, err := NewBroadcast(payload)
	if err != nil {
		return err
	}
	return h.Publish(ctx, d, event)
}

// Reconnect asks the transport to re-establish its connection. The Hub
// reports "connecting" until the next poll observes the result.
func (h *Hub) Reconnect(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.reconnecting = true
	h.state = StateConnecting
	h.lastErr = ""
	h.mu.Unlock()

	go func() {
		if err := h.transport.Connect(ctx); err != nil {
			h.mu.Lock()
			h.lastErr = err.Error()
			h.reconnecting = false
			h.mu.Unlock()
			h.logger.Warn("reconnect attempt failed", "err", err)
		}
	}()
}

// State returns the observed connection state and the last error message,
// if any.
func (h *Hub) State() (State, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state, h.lastErr
}

// Status returns the underlying transport's introspection data.
func (h *Hub) Status() ConnectionStatus {
	return h.transport.Status()
}

// SubscriptionCount returns the number of distinct downstream
// subscriptions currently held.
func (h *Hub) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscription and stops the status poller. It does
// not close the transport, whose lifecycle belongs to the caller. Close is
// idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for key, f := range h.subs {
		f.cancel()
		delete(h.subs, key)
	}
	close(h.closeCh)
	h.mu.Unlock()

	<-h.doneCh
}

func (h *Hub) pollLoop() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.closeCh:
			return
		case <-ticker.C:
		}

		connected := h.transport.Connected()

		h.mu.Lock()
		switch {
		case h.closed:
		case connected:
			h.state = StateConnected
			h.lastErr = ""
			h.reconnecting = false
		case h.reconnecting:
			h.state = StateConnecting
		default:
			h.state = StateError
			if h.lastErr == "" {
				h.lastErr = ErrNotConnected.Error()
			}
		}
		h.mu.Unlock()
	}
}

// fanout dispatches one topic's event stream to local handlers.
type fanout struct {
	topic  string
	events <-chan Event
	cancel func()

	mu       sync.Mutex
	handlers map[uint64]func(Event)
	nextID   uint64
}

func (f *fanout) add(handler func(Event)) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.handlers[f.nextID] = handler
	return f.nextID
}

// remove deletes the handler and returns how many remain.
func (f *fanout) remove(id uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
	return len(f.handlers)
}

func (f *fanout) run(log logger.Logger) {
	for event := range f.events {
		if err := event.Validate(); err != nil {
			log.Debug("dropping malformed channel event", "topic", f.topic, "err", err)
			continue
		}

		f.mu.Lock()
		handlers := make([]func(Event), 0, len(f.handlers))
		for _, h := range f.handlers {
			handlers = append(handlers, h)
		}
		f.mu.Unlock()

		for _, h := range handlers {
			dispatch(h, event, f.topic, log)
		}
	}
}

// dispatch keeps a panicking handler from taking down the fanout loop.
func dispatch(h func(Event), event Event, topic string, log logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("channel handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(event)
}
