//go:build integration

package preference

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("ORACLE_TEST_REDIS_URL")
	if addr == "" {
		t.Skip("ORACLE_TEST_REDIS_URL not set, skipping redis integration test")
	}
	ctx := context.Background()
	c, err := OpenRedis(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	key := "oracle:test:" + time.Now().Format(time.RFC3339Nano)
	in := Snapshot{Models: []ModelScore{{Model: "m", PerformanceScore: 0.5, SampleCount: 2}}}
	require.NoError(t, c.SetJSON(ctx, key, in, time.Minute))

	var out Snapshot
	ok, err := c.GetJSON(ctx, key, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, in, out)

	require.NoError(t, c.Del(ctx, key))
	ok, err = c.GetJSON(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryIsMissAndDropped(t *testing.T) {
	addr := os.Getenv("ORACLE_TEST_REDIS_URL")
	if addr == "" {
		t.Skip("ORACLE_TEST_REDIS_URL not set, skipping redis integration test")
	}
	ctx := context.Background()
	c, err := OpenRedis(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	key := "oracle:test:corrupt:" + time.Now().Format(time.RFC3339Nano)
	require.NoError(t, c.rdb.Set(ctx, key, "{not json", time.Minute).Err())

	var out Snapshot
	ok, err := c.GetJSON(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
