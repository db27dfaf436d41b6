package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/itam/internal/port"
)

const (
	notifyKeyPrefix   = "notify:"
	lockKeyPrefix     = "notify:lock:"
	idempotencyKeyTTL = 24 * time.Hour
)

// releaseLockScript deletes the lock only while it still carries our token,
// so an expired lock re-acquired by another replica is left alone.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, notifyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) DeleteIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, notifyKeyPrefix+key).Err()
}

func (r *RedisAdapter) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+name, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}

	return token, nil
}

func (r *RedisAdapter) ReleaseLock(ctx context.Context, name, token string) error {
	return releaseLockScript.Run(ctx, r.client, []string{lockKeyPrefix + name}, token).Err()
}
