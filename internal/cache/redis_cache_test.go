package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpos/backend/internal/xid"
)

func TestNoopReplayCacheAlwaysMisses(t *testing.T) {
	var c ReplayCache = NoopReplayCache{}
	require.NoError(t, c.Set(context.Background(), "k", &Replay{OrderID: "SC-1"}, time.Minute))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReplayCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REPAIRPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set REPAIRPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisReplayCache(client)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	key := xid.New("test")
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &Replay{Operation: "create", OrderID: "SC-HN-000001", Result: json.RawMessage(`{"orderId":"SC-HN-000001"}`)}
	require.NoError(t, c.Set(ctx, key, want, time.Minute))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.OrderID, got.OrderID)
	assert.JSONEq(t, string(want.Result), string(got.Result))
}
