// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Conn is the subset of *pgxpool.Pool the stores use.
type Conn interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Connect opens a pool using the provided config.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Schema creates the tables the stores expect. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS permits (
	identity_key  TEXT PRIMARY KEY,
	county        TEXT NOT NULL,
	operator      TEXT NOT NULL,
	lease_name    TEXT NOT NULL,
	well_number   TEXT NOT NULL,
	api_number    TEXT NOT NULL,
	date_issued   TEXT NOT NULL,
	source_link   TEXT NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL,
	dismissed_at  TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS permits_active_idx
	ON permits (county, operator, lease_name, well_number)
	WHERE dismissed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS notification_seen (
	identity_key TEXT PRIMARY KEY,
	expires_at   TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS notification_seen_expires_idx ON notification_seen (expires_at)`,
	`CREATE TABLE IF NOT EXISTS device_subscriptions (
	endpoint    TEXT PRIMARY KEY,
	device_id   TEXT NOT NULL,
	p256dh      TEXT NOT NULL,
	auth        TEXT NOT NULL,
	preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
	error_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS device_subscriptions_device_idx ON device_subscriptions (device_id)`,
}

// Migrate applies Schema.
func Migrate(ctx context.Context, conn Conn) error {
	for i, stmt := range Schema {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
