package gate

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockPrefix = "repairpos:submit:"

// Redis shares in-flight tokens across server instances. The lock TTL bounds
// how long a crashed holder can block its session.
type Redis struct {
	locker *redislock.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{locker: redislock.New(client), ttl: ttl, logger: logger}
}

func (g *Redis) Acquire(ctx context.Context, session string) (func(), error) {
	if session == "" {
		return noop, nil
	}
	lock, err := g.locker.Obtain(ctx, lockPrefix+session, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, inFlight(session)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// the request context may already be done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			g.logger.Warn("submit lock release failed", zap.String("session", session), zap.Error(err))
		}
	}, nil
}
