package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/mail-tracker/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return mr, adapter
}

func TestRedisLocker(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	locker := NewRedisLocker(adapter, Config{TTL: time.Minute})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "send-emails")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:batch:send-emails"))

	_, err = locker.Acquire(ctx, "send-emails")
	assert.ErrorIs(t, err, ErrBatchInProgress)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("lock:batch:send-emails"))

	release, err = locker.Acquire(ctx, "send-emails")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLocker_ExpiredLockIsNotStolen(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	locker := NewRedisLocker(adapter, Config{TTL: time.Second})
	ctx := context.Background()

	staleRelease, err := locker.Acquire(ctx, "batch")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	freshRelease, err := locker.Acquire(ctx, "batch")
	require.NoError(t, err)

	require.NoError(t, staleRelease(ctx))
	assert.True(t, mr.Exists("lock:batch:batch"), "stale holder must not delete the new lock")

	require.NoError(t, freshRelease(ctx))
	assert.False(t, mr.Exists("lock:batch:batch"))
}

func TestRedisLocker_RedisDown(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	locker := NewRedisLocker(adapter, DefaultConfig())
	mr.Close()

	_, err := locker.Acquire(context.Background(), "batch")
	assert.ErrorIs(t, err, ErrLockAcquireFailed)
}

func TestLocalLocker_Concurrent(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := locker.Acquire(ctx, "batch"); err == nil {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load())
}

func TestLocalLocker_Release(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "batch")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "other")
	assert.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "batch")
	assert.NoError(t, err)
}
