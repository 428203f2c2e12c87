package postgres

import (
	"context"
	"fmt"
	"time"
)

// SeenStore implements permit.SeenStore on the notification_seen table.
type SeenStore struct {
	conn Conn
}

// NewSeenStore wraps a connection.
func NewSeenStore(conn Conn) (*SeenStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	return &SeenStore{conn: conn}, nil
}

// Claim writes a window ending at now+ttl when none exists or the existing one
// has expired. The conflict predicate makes the check and the write one
// statement, so two concurrent claims cannot both succeed.
func (s *SeenStore) Claim(ctx context.Context, identityKey string, now time.Time, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO notification_seen (identity_key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (identity_key) DO UPDATE
		SET expires_at = EXCLUDED.expires_at
		WHERE notification_seen.expires_at <= $3;
	`
	tag, err := s.conn.Exec(ctx, query, identityKey, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("claim seen entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Extend pushes a live window out to now+ttl.
func (s *SeenStore) Extend(ctx context.Context, identityKey string, now time.Time, ttl time.Duration) error {
	query := `
		UPDATE notification_seen
		SET expires_at = $2
		WHERE identity_key = $1 AND expires_at > $3 AND expires_at < $2;
	`
	if _, err := s.conn.Exec(ctx, query, identityKey, now.Add(ttl), now); err != nil {
		return fmt.Errorf("extend seen entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired windows.
func (s *SeenStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.conn.Exec(ctx, `DELETE FROM notification_seen WHERE expires_at <= $1;`, now)
	if err != nil {
		return 0, fmt.Errorf("purge seen entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
