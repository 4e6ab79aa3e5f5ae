package cache

import (
	"context"
	"testing"
	"time"

	"whatsapp-crm/pkg/logging"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, time.Hour, logging.New("error")), mr
}

func TestFirstDelivery(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	assert.True(t, c.FirstDelivery(ctx, "wamid.A"))
	assert.False(t, c.FirstDelivery(ctx, "wamid.A"), "replay is rejected")
	assert.True(t, c.FirstDelivery(ctx, "wamid.B"))

	ttl := mr.TTL(keyPrefix + "wamid.A")
	assert.Equal(t, time.Hour, ttl)

	mr.FastForward(time.Hour + time.Second)
	assert.True(t, c.FirstDelivery(ctx, "wamid.A"), "claim expires")
}

func TestForget(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.FirstDelivery(ctx, "wamid.C"))
	require.NoError(t, c.Forget(ctx, "wamid.C"))
	assert.True(t, c.FirstDelivery(ctx, "wamid.C"))
}

func TestFailsOpen(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	assert.True(t, c.FirstDelivery(context.Background(), "wamid.D"))
}

func TestNilCacheAndEmptyID(t *testing.T) {
	var c *Cache
	assert.True(t, c.FirstDelivery(context.Background(), "wamid.E"))
	assert.NoError(t, c.Forget(context.Background(), "wamid.E"))
	assert.NoError(t, c.Close())

	guard, _ := newTestCache(t)
	assert.True(t, guard.FirstDelivery(context.Background(), ""))
	assert.True(t, guard.FirstDelivery(context.Background(), ""))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("not-a-url", time.Minute, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	c, err := New("redis://"+mr.Addr(), time.Minute, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.FirstDelivery(context.Background(), "wamid.F"))
}
