// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payportal/internal/domain"
	"payportal/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*RedisLocker)(nil)

// RedisLocker is a cross-process adapter.Locker. Each hold is a key with a
// random token and a TTL; only the holder of the token can release it.
type RedisLocker struct {
	cli    RedisClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *zerolog.Logger
}

// NewLocker returns a locker whose holds expire after ttl. ttl must exceed the
// longest critical section, which includes one provider lookup.
func NewLocker(c RedisClient, ttl time.Duration, logger *zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lg := logger.With().Str("component", "RedisLocker").Logger()
	return &RedisLocker{cli: c, prefix: "payportal:lock:", ttl: ttl, retry: 25 * time.Millisecond, log: &lg}
}

// Lock blocks until key is held or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	wait := l.retry
	for {
		ok, err := l.cli.SetNX(ctx, k, token, l.ttl)
		if err == nil && ok {
			return l.unlocker(k, token), nil
		}
		if err != nil && ctx.Err() == nil {
			l.log.Warn().Err(err).Str("key", key).Msg("lock attempt failed")
		}
		select {
		case <-ctx.Done():
			return nil, domain.ErrLockNotAcquired
		case <-time.After(wait):
		}
		if wait < 400*time.Millisecond {
			wait *= 2
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) func() {
	return func() {
		// the caller's ctx may be done already; release on a fresh one
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.cli.DelIfEqual(ctx, key, token); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("unlock failed; hold expires by ttl")
		}
	}
}
