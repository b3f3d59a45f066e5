package redis

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DistanceCacheInterface defines the interface for route distance caching.
type DistanceCacheInterface interface {
	GetDistance(ctx context.Context, key string) (decimal.Decimal, bool, error)
	SetDistance(ctx context.Context, key string, km decimal.Decimal, ttl time.Duration) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquirePollLock(ctx context.Context, paymentID string, ttl time.Duration) (token string, ok bool, err error)
	ReleasePollLock(ctx context.Context, paymentID, token string) error
}

// SessionStoreInterface defines the interface for browser session data.
type SessionStoreInterface interface {
	Remember(ctx context.Context, sessionID string, data SessionData) error
	Take(ctx context.Context, sessionID string) (*SessionData, error)
}

// Ensure concrete types implement interfaces.
var (
	_ DistanceCacheInterface = (*CacheStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ SessionStoreInterface  = (*SessionStore)(nil)
)
