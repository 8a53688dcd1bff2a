// Package ratelimit provides the distributed coordination primitives:
// a fenced per-key lock used to serialize provisioning runs and the
// scheduler sweep across replicas.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrEmptyKey   = errors.New("lock key is empty")
	ErrInvalidTTL = errors.New("lock ttl must be positive")
)

// Locker is a best-effort mutual-exclusion primitive keyed by string.
// Release is fenced by the token returned from TryLock so an expired
// holder can never delete a successor's lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// NewLocker returns a redis-backed locker, or an in-process fallback
// when no redis client is configured. The fallback only serializes
// within one process; single-replica deployments don't need more.
func NewLocker(client *redis.Client) Locker {
	if client == nil {
		return newLocalLocker()
	}
	return &redisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

type redisLocker struct {
	client *redis.Client
	script *redis.Script
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *redisLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

type localLock struct {
	token     string
	expiresAt time.Time
}

type localLocker struct {
	mu    sync.Mutex
	locks map[string]localLock
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[string]localLock)}
}

func (l *localLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = localLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *localLocker) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}
