package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DistanceCacheTTL is the default lifetime of a cached route distance.
const DistanceCacheTTL = 6 * time.Hour

// CacheStore handles route distance caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetDistance returns a cached distance in kilometers. The boolean is false on
// a cache miss.
func (s *CacheStore) GetDistance(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, false, nil // Cache miss
		}
		return decimal.Zero, false, err
	}

	km, err := decimal.NewFromString(value)
	if err != nil {
		// Corrupt entry: drop it and treat as a miss.
		_ = s.client.Del(ctx, key).Err()
		return decimal.Zero, false, nil
	}
	return km, true, nil
}

// SetDistance stores a distance in kilometers.
func (s *CacheStore) SetDistance(ctx context.Context, key string, km decimal.Decimal, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DistanceCacheTTL
	}
	return s.client.Set(ctx, key, km.String(), ttl).Err()
}
