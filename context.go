package collab

import "context"

type contextKey struct{}

// WithContext returns a child context carrying the client, so request
// handlers and UI controllers can reach the collaboration surface without
// threading it through every call.
func WithContext(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext extracts the client stored by WithContext.
func FromContext(ctx context.Context) (*Client, error) {
	c, ok := ctx.Value(contextKey{}).(*Client)
	if !ok || c == nil {
		return nil, ErrNoClient
	}
	return c, nil
}

// MustFromContext is FromContext that panics when no client is present.
// Use it in wiring that cannot proceed without one.
func MustFromContext(ctx context.Context) *Client {
	c, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return c
}
