package channellock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Defaults for Redis locks.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultRetryDelay = 250 * time.Millisecond
	DefaultKeyPrefix  = "channelrelay:lock:"

	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by another holder is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisClient is the subset of [redis.Client] used by Redis.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisOptions tunes a Redis locker. Zero values select the defaults.
type RedisOptions struct {
	KeyPrefix  string
	TTL        time.Duration
	RetryDelay time.Duration
}

// Redis is a Locker backed by SET NX PX. The TTL bounds how long a crashed
// holder can block a channel.
type Redis struct {
	client RedisClient
	opts   RedisOptions
	log    *slog.Logger
}

// NewRedis creates a Redis locker.
func NewRedis(client RedisClient, opts RedisOptions, logger *slog.Logger) *Redis {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Redis{client: client, opts: opts, log: logger}
}

// Lock polls until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	fullKey := r.opts.KeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.opts.RetryDelay)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.opts.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquiring lock %s: %w", fullKey, err)
		}
		if ok {
			return r.unlocker(fullKey, token), nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Redis) unlocker(key, token string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			n, err := r.client.Eval(ctx, releaseScript, []string{key}, token).Int()
			switch {
			case err != nil && !errors.Is(err, redis.Nil):
				r.log.Error("releasing lock", "key", key, "error", err)
			case n == 0:
				r.log.Warn("lock expired before release", "key", key)
			}
		})
	}
}
