package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// A maintenance cycle finishes well inside a minute; the TTL only bounds how
// long a crashed worker keeps the others out.
const defaultLockTTL = 5 * time.Minute

// Lock elects the single worker that runs a maintenance cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock stores "<holder>/<token>" under the key with SETNX and a TTL.
// The holder names the worker instance so an operator reading the key sees
// who runs maintenance; the token tells successive cycles of one worker apart.
type RedisLock struct {
	client redisStore
	key    string
	holder string
	ttl    time.Duration
	value  string
}

// NewRedisLock builds the maintenance lock for holder under key.
func NewRedisLock(client redisStore, key, holder string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case client == nil:
		return nil, errors.New("maintenance lock: redis client required")
	case key == "":
		return nil, errors.New("maintenance lock: key required")
	}
	if holder == "" {
		holder = "worker"
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, holder: holder, ttl: ttl}, nil
}

// Acquire reports whether this worker now runs the cycle.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	value := l.holder + "/" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl)
	if err != nil {
		return false, fmt.Errorf("maintenance lock %s: %w", l.key, err)
	}
	if ok {
		l.value = value
	}
	return ok, nil
}

// Release deletes the key only while it still carries this cycle's value; a
// key that expired and was taken by another worker stays.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.value == "" {
		return nil
	}
	current, err := l.client.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		l.value = ""
		return nil
	case err != nil:
		return fmt.Errorf("maintenance lock %s: read holder: %w", l.key, err)
	case current != l.value:
		l.value = ""
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("maintenance lock %s: delete: %w", l.key, err)
	}
	l.value = ""
	return nil
}
