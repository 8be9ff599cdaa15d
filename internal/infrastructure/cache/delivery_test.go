package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeliveryCache_Expires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryDeliveryCache(time.Minute)
	c.now = func() time.Time { return now }

	seen, err := c.Seen(ctx, "payment:1:approved")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.MarkProcessed(ctx, "payment:1:approved"))
	seen, _ = c.Seen(ctx, "payment:1:approved")
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = c.Seen(ctx, "payment:1:approved")
	assert.False(t, seen)
}

func TestRedisDeliveryCache_KeyPrefix(t *testing.T) {
	c := NewRedisDeliveryCache(nil, " academy:hooks: ", time.Minute)
	assert.Equal(t, "academy:hooks:payment:1", c.key("payment:1"))

	c = NewRedisDeliveryCache(nil, "", time.Minute)
	assert.Equal(t, "academy:webhook:payment:1", c.key("payment:1"))
}
