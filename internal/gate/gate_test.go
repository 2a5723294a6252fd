package gate

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/xid"
)

func TestMemoryGateRejectsSecondAcquire(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	release, err := g.Acquire(ctx, "form-1")
	require.NoError(t, err)

	_, err = g.Acquire(ctx, "form-1")
	assert.Equal(t, apperr.SubmissionInFlight, apperr.CodeOf(err))

	other, err := g.Acquire(ctx, "form-2")
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := g.Acquire(ctx, "form-1")
	require.NoError(t, err)
	again()
}

func TestMemoryGateEmptySessionIsUnguarded(t *testing.T) {
	g := NewMemory()
	r1, err := g.Acquire(context.Background(), "")
	require.NoError(t, err)
	r2, err := g.Acquire(context.Background(), "")
	require.NoError(t, err)
	r1()
	r2()
}

func TestMemoryGateConcurrentTriggersAdmitOne(t *testing.T) {
	g := NewMemory()
	var admitted atomic.Int32
	var wg, tried sync.WaitGroup
	start := make(chan struct{})
	hold := make(chan struct{})

	for i := 0; i < 16; i++ {
		wg.Add(1)
		tried.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := g.Acquire(context.Background(), "double-click")
			tried.Done()
			if err != nil {
				return
			}
			defer release()
			admitted.Add(1)
			<-hold
		}()
	}
	close(start)
	tried.Wait()
	close(hold)
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestRedisGate(t *testing.T) {
	addr := os.Getenv("REPAIRPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set REPAIRPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	g := NewRedis(client, 5*time.Second, nil)
	ctx := context.Background()
	session := xid.New("session")

	release, err := g.Acquire(ctx, session)
	require.NoError(t, err)
	_, err = g.Acquire(ctx, session)
	assert.Equal(t, apperr.SubmissionInFlight, apperr.CodeOf(err))

	release()
	release2, err := g.Acquire(ctx, session)
	require.NoError(t, err)
	release2()
}
