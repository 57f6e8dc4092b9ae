package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Every statement is idempotent so Migrate can run on each startup.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id TEXT PRIMARY KEY,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		is_trial BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS licenses_single_trial ON licenses (is_trial) WHERE is_trial = 1`,
	`CREATE TABLE IF NOT EXISTS device_claims (
		device_fingerprint TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('trial', 'premium')),
		license_id TEXT NOT NULL REFERENCES licenses (id),
		claimed_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activations (
		license_id TEXT NOT NULL UNIQUE REFERENCES licenses (id),
		device_fingerprint TEXT NOT NULL UNIQUE REFERENCES device_claims (device_fingerprint),
		activated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trial_usage (
		device_fingerprint TEXT NOT NULL UNIQUE REFERENCES device_claims (device_fingerprint),
		license_id TEXT NOT NULL REFERENCES licenses (id),
		command_count INTEGER NOT NULL DEFAULT 0 CHECK (command_count >= 0),
		created_at TIMESTAMP NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id TEXT PRIMARY KEY,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_trial BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS licenses_single_trial ON licenses (is_trial) WHERE is_trial`,
	`CREATE TABLE IF NOT EXISTS device_claims (
		device_fingerprint TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('trial', 'premium')),
		license_id TEXT NOT NULL REFERENCES licenses (id),
		claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS activations (
		license_id TEXT NOT NULL UNIQUE REFERENCES licenses (id),
		device_fingerprint TEXT NOT NULL UNIQUE REFERENCES device_claims (device_fingerprint),
		activated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS trial_usage (
		device_fingerprint TEXT NOT NULL UNIQUE REFERENCES device_claims (device_fingerprint),
		license_id TEXT NOT NULL REFERENCES licenses (id),
		command_count INTEGER NOT NULL DEFAULT 0 CHECK (command_count >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the entitlement schema if it does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	statements := sqliteSchema
	if db.Dialect() == DialectPostgres {
		statements = postgresSchema
	}

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}

	log.Debug().Str("dialect", db.Dialect().String()).Int("statements", len(statements)).Msg("schema migrated")
	return nil
}
