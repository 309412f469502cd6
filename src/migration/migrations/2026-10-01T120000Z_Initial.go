package migrations

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/odysseia/protect/src/migration/types"
)

func init() {
	registerMigration(Initial{})
}

type Initial struct{}

func (m Initial) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
}

func (m Initial) Name() string {
	return "Initial"
}

func (m Initial) Description() string {
	return "Create the thread, resource, user and reconciliation tables"
}

func (m Initial) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE TABLE thread (
			id SERIAL PRIMARY KEY,
			public_thread_id TEXT NOT NULL UNIQUE,
			archive_thread_id TEXT UNIQUE,
			author_id TEXT NOT NULL,
			reaction_required BOOLEAN NOT NULL DEFAULT FALSE,
			required_emoji TEXT,
			quick_mode_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE TABLE resource (
			id SERIAL PRIMARY KEY,
			thread_id INTEGER NOT NULL REFERENCES thread (id) ON DELETE CASCADE,
			mode TEXT NOT NULL CHECK (mode IN ('normal', 'protected')),
			version TEXT NOT NULL,
			filename TEXT NOT NULL,
			carrier_message_id TEXT NOT NULL,
			password TEXT,
			download_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX resource_thread_id ON resource (thread_id, created_at);

		CREATE TABLE app_user (
			id TEXT PRIMARY KEY,
			has_accepted_privacy_policy BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE TABLE reconciliation_item (
			id UUID PRIMARY KEY,
			stage TEXT NOT NULL,
			public_thread_id TEXT NOT NULL,
			archive_thread_id TEXT NOT NULL,
			message_id TEXT,
			resource_id INTEGER,
			cause TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			resolved_at TIMESTAMP WITH TIME ZONE
		);
		CREATE INDEX reconciliation_item_unresolved ON reconciliation_item (created_at) WHERE resolved_at IS NULL;
		`,
	)
	return err
}

func (m Initial) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		DROP TABLE reconciliation_item;
		DROP TABLE app_user;
		DROP TABLE resource;
		DROP TABLE thread;
		`,
	)
	return err
}
