package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_LocalWithoutRedis(t *testing.T) {
	c, err := NewCache(CacheConfig{LocalGCInterval: time.Minute})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(nil))
}

func TestNewPubSub_LocalRelay(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "repo:Items")
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, ps.Publish(ctx, "repo:Items", "x"))

	select {
	case msg := <-ch:
		assert.Equal(t, &Message{Channel: "repo:Items", Payload: "x"}, msg)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no message relayed")
	}
}
