package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"credit-reset/internal/domain"
	"credit-reset/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*Locker)(nil)

// Locker is a cross-instance execution lock. Each holder writes a random token so
// that only the holder can release, and the TTL frees the lock if a holder dies.
type Locker struct {
	cli *redis.Client
	ttl time.Duration
	log *zerolog.Logger
}

func NewLocker(c *Client, ttl time.Duration, logger *zerolog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	l := logger.With().Str("component", "RedisLocker").Logger()
	return &Locker{cli: c.cli, ttl: ttl, log: &l}
}

func lockKey(name string) string { return KeyPrefix + "lock:" + name }

// TryLock makes a single SETNX attempt; a held lock yields domain.ErrLockHeld.
func (l *Locker) TryLock(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

func (l *Locker) Acquire(ctx context.Context, name string) (func(), error) {
	key := lockKey(name)
	token, err := l.TryLock(ctx, key)
	if err != nil {
		return nil, err
	}
	l.log.Debug().Str("lock", name).Msg("lock acquired")

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// the run context may already be cancelled at shutdown
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Unlock(uctx, key, token); err != nil {
			l.log.Error().Err(err).Str("lock", name).Msg("failed to release lock; it will expire")
			return
		}
		l.log.Debug().Str("lock", name).Msg("lock released")
	}, nil
}

func (l *Locker) Locked(ctx context.Context, name string) (bool, error) {
	n, err := l.cli.Exists(ctx, lockKey(name)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
