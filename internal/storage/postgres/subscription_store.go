package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

const subscriptionColumns = `endpoint, device_id, p256dh, auth, preferences,
	error_count, last_error, created_at, updated_at`

// SubscriptionStore implements permit.SubscriptionStore on device_subscriptions.
type SubscriptionStore struct {
	conn Conn
}

// NewSubscriptionStore wraps a connection.
func NewSubscriptionStore(conn Conn) (*SubscriptionStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	return &SubscriptionStore{conn: conn}, nil
}

// Upsert inserts the subscription or, for a known endpoint, replaces its keys,
// device and preferences and resets the error counters.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub permit.Subscription) (permit.Subscription, error) {
	if sub.Endpoint == "" {
		return permit.Subscription{}, fmt.Errorf("endpoint is required")
	}
	prefs, err := json.Marshal(sub.Preferences)
	if err != nil {
		return permit.Subscription{}, fmt.Errorf("marshal preferences: %w", err)
	}
	query := `
		INSERT INTO device_subscriptions (
			endpoint, device_id, p256dh, auth, preferences,
			error_count, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, '', $6, $7)
		ON CONFLICT (endpoint) DO UPDATE
		SET device_id = EXCLUDED.device_id,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			preferences = EXCLUDED.preferences,
			error_count = 0,
			last_error = '',
			updated_at = EXCLUDED.updated_at
		RETURNING created_at;
	`
	var createdAt time.Time
	err = s.conn.QueryRow(ctx, query,
		sub.Endpoint,
		sub.DeviceID,
		sub.AuthKeys.P256dh,
		sub.AuthKeys.Auth,
		prefs,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Scan(&createdAt)
	if err != nil {
		return permit.Subscription{}, fmt.Errorf("upsert subscription: %w", err)
	}
	sub.CreatedAt = createdAt
	sub.ErrorCount = 0
	sub.LastError = ""
	return sub, nil
}

// DeleteByEndpoint removes a subscription.
func (s *SubscriptionStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM device_subscriptions WHERE endpoint = $1;`, endpoint)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return permit.ErrNotFound
	}
	return nil
}

// UpdatePreferences replaces the preferences on every subscription of a device.
func (s *SubscriptionStore) UpdatePreferences(
	ctx context.Context,
	deviceID string,
	prefs permit.Preferences,
	at time.Time,
) error {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	tag, err := s.conn.Exec(ctx,
		`UPDATE device_subscriptions SET preferences = $2, updated_at = $3 WHERE device_id = $1;`,
		deviceID, payload, at,
	)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return permit.ErrNotFound
	}
	return nil
}

// ListByDevice returns a device's subscriptions.
func (s *SubscriptionStore) ListByDevice(ctx context.Context, deviceID string) ([]permit.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM device_subscriptions
		WHERE device_id = $1
		ORDER BY endpoint;`
	return s.list(ctx, query, deviceID)
}

// List returns every subscription.
func (s *SubscriptionStore) List(ctx context.Context) ([]permit.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM device_subscriptions
		ORDER BY endpoint;`
	return s.list(ctx, query)
}

// RecordSuccess clears the failure counters.
func (s *SubscriptionStore) RecordSuccess(ctx context.Context, endpoint string, at time.Time) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE device_subscriptions
		SET error_count = 0, last_error = '', updated_at = $2
		WHERE endpoint = $1;`,
		endpoint, at,
	)
	if err != nil {
		return fmt.Errorf("record delivery success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return permit.ErrNotFound
	}
	return nil
}

// RecordFailure increments the failure counter and returns its new value.
func (s *SubscriptionStore) RecordFailure(
	ctx context.Context,
	endpoint string,
	errText string,
	at time.Time,
) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, `
		UPDATE device_subscriptions
		SET error_count = error_count + 1, last_error = $2, updated_at = $3
		WHERE endpoint = $1
		RETURNING error_count;`,
		endpoint, errText, at,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, permit.ErrNotFound
		}
		return 0, fmt.Errorf("record delivery failure: %w", err)
	}
	return count, nil
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...any) ([]permit.Subscription, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []permit.Subscription
	for rows.Next() {
		var (
			sub   permit.Subscription
			prefs []byte
		)
		if err := rows.Scan(
			&sub.Endpoint,
			&sub.DeviceID,
			&sub.AuthKeys.P256dh,
			&sub.AuthKeys.Auth,
			&prefs,
			&sub.ErrorCount,
			&sub.LastError,
			&sub.CreatedAt,
			&sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if len(prefs) > 0 {
			if err := json.Unmarshal(prefs, &sub.Preferences); err != nil {
				return nil, fmt.Errorf("decode preferences for %s: %w", sub.Endpoint, err)
			}
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}
