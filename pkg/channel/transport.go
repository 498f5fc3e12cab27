package channel

import "context"

// ConnectionStatus is the transport introspection surface.
type ConnectionStatus struct {
	Connected    bool `json:"connected"`
	ChannelCount int  `json:"channel_count"`
}

// Transport moves Events between clients for named topics. Implementations
// live in the redischan, wschan and memchan subpackages; the Hub accepts
// any of them.
//
// Subscribe returns a receive channel for the topic plus a cancel function.
// Cancel must be safe to call more than once; after it returns, the event
// channel is closed. Publish is fire-and-forget: delivery is best-effort
// and carries no acknowledgement.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(topic string) (<-chan Event, func(), error)
	Connected() bool
	Status() ConnectionStatus
}
