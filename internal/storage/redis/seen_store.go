package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the seen keys.
const DefaultKeyPrefix = "permitwatch:seen:"

// SeenStore implements permit.SeenStore with one expiring key per identity.
// Expiry is delegated to Redis, so the windows are judged by the server clock
// and PurgeExpired has nothing to do.
type SeenStore struct {
	client redis.Cmdable
	prefix string
}

// NewSeenStore wraps a client. An empty prefix takes DefaultKeyPrefix.
func NewSeenStore(client redis.Cmdable, prefix string) (*SeenStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SeenStore{client: client, prefix: prefix}, nil
}

// Key returns the Redis key for an identity.
func (s *SeenStore) Key(identityKey string) string {
	return s.prefix + identityKey
}

// Claim sets the key only if it is absent (SET NX PX).
func (s *SeenStore) Claim(ctx context.Context, identityKey string, _ time.Time, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.Key(identityKey), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim seen entry: %w", err)
	}
	return ok, nil
}

// Extend resets the TTL of an existing key only (SET XX PX).
func (s *SeenStore) Extend(ctx context.Context, identityKey string, _ time.Time, ttl time.Duration) error {
	if err := s.client.SetXX(ctx, s.Key(identityKey), "1", ttl).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("extend seen entry: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op; Redis evicts expired keys itself.
func (s *SeenStore) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
