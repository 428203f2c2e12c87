package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// PermitStore implements permit.RecordStore on the permits table.
type PermitStore struct {
	conn Conn
}

// NewPermitStore wraps a connection.
func NewPermitStore(conn Conn) (*PermitStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	return &PermitStore{conn: conn}, nil
}

// IsNew reports whether the identity has never been stored.
func (s *PermitStore) IsNew(ctx context.Context, identityKey string) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM permits WHERE identity_key = $1)`,
		identityKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup permit: %w", err)
	}
	return !exists, nil
}

// Persist inserts the record; an existing identity is left untouched.
func (s *PermitStore) Persist(ctx context.Context, record permit.Record) error {
	_, err := s.Admit(ctx, record)
	return err
}

// Admit inserts the record unless its identity exists and reports whether the
// row was written.
func (s *PermitStore) Admit(ctx context.Context, record permit.Record) (bool, error) {
	if record.IdentityKey == "" {
		return false, fmt.Errorf("identity key is required")
	}
	query := `
		INSERT INTO permits (
			identity_key,
			county,
			operator,
			lease_name,
			well_number,
			api_number,
			date_issued,
			source_link,
			discovered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity_key) DO NOTHING;
	`
	tag, err := s.conn.Exec(ctx, query,
		record.IdentityKey,
		record.County,
		record.Operator,
		record.LeaseName,
		record.WellNumber,
		record.APINumber,
		record.DateIssued,
		record.SourceLink,
		record.DiscoveredAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert permit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AllActive returns undismissed permits ordered by county, operator, lease and well.
func (s *PermitStore) AllActive(ctx context.Context) ([]permit.Record, error) {
	query := `
		SELECT identity_key, county, operator, lease_name, well_number,
			api_number, date_issued, source_link, discovered_at, dismissed_at
		FROM permits
		WHERE dismissed_at IS NULL
		ORDER BY county, operator, lease_name, well_number;
	`
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list permits: %w", err)
	}
	defer rows.Close()

	var out []permit.Record
	for rows.Next() {
		var rec permit.Record
		if err := rows.Scan(
			&rec.IdentityKey,
			&rec.County,
			&rec.Operator,
			&rec.LeaseName,
			&rec.WellNumber,
			&rec.APINumber,
			&rec.DateIssued,
			&rec.SourceLink,
			&rec.DiscoveredAt,
			&rec.DismissedAt,
		); err != nil {
			return nil, fmt.Errorf("scan permit: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permits: %w", err)
	}
	return out, nil
}

// Dismiss marks an active permit dismissed.
func (s *PermitStore) Dismiss(ctx context.Context, identityKey string, at time.Time) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE permits SET dismissed_at = $2 WHERE identity_key = $1 AND dismissed_at IS NULL;`,
		identityKey, at,
	)
	if err != nil {
		return fmt.Errorf("dismiss permit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return permit.ErrNotFound
	}
	return nil
}

// DismissAll marks every active permit dismissed.
func (s *PermitStore) DismissAll(ctx context.Context, at time.Time) (int, error) {
	tag, err := s.conn.Exec(ctx,
		`UPDATE permits SET dismissed_at = $1 WHERE dismissed_at IS NULL;`,
		at,
	)
	if err != nil {
		return 0, fmt.Errorf("dismiss all permits: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
