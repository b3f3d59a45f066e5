package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func pollLockKey(paymentID string) string {
	return fmt.Sprintf("lock:poll:%s", paymentID)
}

// AcquirePollLock attempts to take the gateway poll lock for a payment.
// On success it returns the owner token needed to release the lock; ok is
// false if another poll holds it.
func (s *LockStore) AcquirePollLock(ctx context.Context, paymentID string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()

	ok, err = s.client.SetNX(ctx, pollLockKey(paymentID), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}

	return token, true, nil
}

// ReleasePollLock releases the poll lock for a payment if token still owns
// it. A lock that expired and was taken by another poll is left alone.
func (s *LockStore) ReleasePollLock(ctx context.Context, paymentID, token string) error {
	return releaseScript.Run(ctx, s.client, []string{pollLockKey(paymentID)}, token).Err()
}
