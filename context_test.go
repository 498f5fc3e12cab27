package collab_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collab "github.com/pulseboard/collab.go"
	"github.com/pulseboard/collab.go/pkg/channel/memchan"
)

func TestContextRoundTrip(t *testing.T) {
	broker := memchan.New()
	defer broker.Close()
	c := newClient(t, broker, "user-1", "Dana")

	ctx := collab.WithContext(context.Background(), c)

	got, err := collab.FromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.Same(t, c, collab.MustFromContext(ctx))
}

func TestFromContextWithoutClient(t *testing.T) {
	_, err := collab.FromContext(context.Background())
	assert.ErrorIs(t, err, collab.ErrNoClient)

	assert.PanicsWithError(t, collab.ErrNoClient.Error(), func() {
		collab.MustFromContext(context.Background())
	})
}
