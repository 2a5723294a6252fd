package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Replay is the cached outcome of an idempotent request.
type Replay struct {
	Operation string          `json:"operation"`
	OrderID   string          `json:"orderId"`
	Result    json.RawMessage `json:"result"`
}

// ReplayCache fronts the work_order_requests table for fast retries. The
// table stays authoritative; a miss only costs a transaction.
type ReplayCache interface {
	Get(ctx context.Context, key string) (*Replay, bool, error)
	Set(ctx context.Context, key string, value *Replay, ttl time.Duration) error
}

type NoopReplayCache struct{}

func (NoopReplayCache) Get(_ context.Context, _ string) (*Replay, bool, error) {
	return nil, false, nil
}

func (NoopReplayCache) Set(_ context.Context, _ string, _ *Replay, _ time.Duration) error {
	return nil
}
