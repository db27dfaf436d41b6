package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// SetIdempotency claims key for the rest of the day, returns false if already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// DeleteIdempotency releases a claim (for rollback on failure)
	DeleteIdempotency(ctx context.Context, key string) error

	// AcquireLock takes a named lock for ttl, returns the token needed to release it
	// or "" when someone else holds it
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error)

	// ReleaseLock drops the lock only if token still owns it
	ReleaseLock(ctx context.Context, name, token string) error
}
