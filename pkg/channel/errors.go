package channel

import "errors"

// Errors
var (
	ErrInvalidDescriptor = errors.New("invalid channel descriptor")
	ErrClosed            = errors.New("channel transport closed")
	ErrNotConnected      = errors.New("channel transport not connected")
	ErrNoTransport       = errors.New("transport is not set")
	ErrInvalidEvent      = errors.New("invalid channel event")
)
