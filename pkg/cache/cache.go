package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	// ErrLockHeld is returned by Unlock when the lock belongs to another owner.
	ErrLockHeld = errors.New("cache: lock held by another owner")
)

// Service defines the key-value operations the study store relies on.
// Values are JSON-encoded; *string and *[]byte destinations receive raw data.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	// TryLock sets key to token only if it is absent.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Refresh restarts the ttl of key only if it still holds token. It
	// returns ErrCacheMiss once the key expired and ErrLockHeld when another
	// owner took it. A non-positive ttl only checks ownership.
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	// Unlock removes key only if it still holds token.
	Unlock(ctx context.Context, key, token string) error
	Close() error
}
