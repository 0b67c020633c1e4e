// Package lock serializes generation and sync work per doctor. A second
// caller for a doctor that is already locked fails fast with a concurrency
// error rather than queueing.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
)

type DoctorLocker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

func busy(doctorID uuid.UUID) error {
	return apperr.Concurrency("another scheduling operation is running for doctor %s", doctorID)
}

// redisClient is the subset of *redis.Client the locker needs.
type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type RedisLocker struct {
	client redisClient
	ttl    time.Duration
}

// NewRedisLocker guards each doctor with a Redis key holding a random token.
// The key expires after ttl so a crashed holder cannot wedge the doctor.
func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("caresync:lock:doctor:%s", doctorID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return apperr.Persistence(err, "acquire doctor lock")
	}
	if !ok {
		return busy(doctorID)
	}

	defer func() {
		// release on a fresh context; ctx may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.release(rctx, key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}

// LocalLocker is an in-process DoctorLocker for single-node deployments and tests.
// It only tracks doctors whose lock is currently held.
type LocalLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[uuid.UUID]struct{})}
}

func (l *LocalLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if _, ok := l.held[doctorID]; ok {
		l.mu.Unlock()
		return busy(doctorID)
	}
	l.held[doctorID] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, doctorID)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
