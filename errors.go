package collab

import "errors"

var (
	// ErrNoTransport is returned by New when no transport was supplied.
	ErrNoTransport = errors.New("collab: no transport configured")

	// ErrNoProject is returned by New when the project id is empty.
	ErrNoProject = errors.New("collab: project id is required")

	// ErrNoUser is returned by New when the user identity is incomplete.
	ErrNoUser = errors.New("collab: user id is required")

	// ErrNoClient is returned by FromContext when the context carries no
	// client.
	ErrNoClient = errors.New("collab: no client in context")

	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("collab: client is closed")

	// ErrDisabled is returned by operations whose feature was switched off
	// in the client configuration.
	ErrDisabled = errors.New("collab: feature is disabled")
)
