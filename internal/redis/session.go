package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionTTL bounds how long a browser session remembers its last payment.
const SessionTTL = 24 * time.Hour

const sessionPrefix = "session:"

// SessionData is what a browser session remembers between booking and return.
type SessionData struct {
	LastPaymentID string `json:"last_payment_id,omitempty"`
	LastBookingID string `json:"last_booking_id,omitempty"`
}

// SessionStore keeps per-browser session data in Redis.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, ttl: SessionTTL}
}

// Remember stores the last payment and booking for a session.
func (s *SessionStore) Remember(ctx context.Context, sessionID string, data SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionPrefix+sessionID, raw, s.ttl).Err()
}

// Take returns the session data and clears it. A missing session returns nil.
func (s *SessionStore) Take(ctx context.Context, sessionID string) (*SessionData, error) {
	raw, err := s.client.GetDel(ctx, sessionPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
