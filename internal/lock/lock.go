// Package lock guards dispatch batches so only one runs at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/nimasrn/mail-tracker/pkg/redis"
)

var (
	ErrBatchInProgress   = errors.New("a dispatch batch is already in progress")
	ErrLockAcquireFailed = errors.New("failed to acquire batch lock")
)

// Release gives the lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, name string) (Release, error)
}

type Config struct {
	TTL       time.Duration
	KeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		TTL:       30 * time.Minute,
		KeyPrefix: "lock:batch:",
	}
}

// RedisLocker holds the lock as a SETNX key with a TTL, so a crashed holder
// cannot block dispatch forever. Release only deletes a key it still owns.
type RedisLocker struct {
	redis  redis.RedisAdapter
	config Config
}

func NewRedisLocker(adapter redis.RedisAdapter, config Config) *RedisLocker {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &RedisLocker{redis: adapter, config: config}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (Release, error) {
	key := l.config.KeyPrefix + name
	token := []byte(uuid.NewString())

	acquired, err := l.redis.SetNX(ctx, key, token, l.config.TTL)
	if err != nil {
		logger.Error("failed to acquire batch lock", "key", key, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		logger.Info("batch lock already held", "key", key)
		return nil, ErrBatchInProgress
	}
	logger.Debug("batch lock acquired", "key", key, "ttl", l.config.TTL)

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			var deleted bool
			deleted, err = l.redis.CompareAndDelete(ctx, key, token)
			if err != nil {
				logger.Warn("failed to release batch lock", "key", key, "error", err)
				return
			}
			if !deleted {
				logger.Warn("batch lock expired before release", "key", key, "ttl", l.config.TTL)
			}
		})
		return err
	}, nil
}

// LocalLocker serializes batches inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, name string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, ErrBatchInProgress
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
