package store

import (
	"context"
	"fmt"

	"attendance-sync-service/internal/database"
)

const (
	locationsTable = "remote_locations"
	historyTable   = "sync_history"
	settingsTable  = "sync_settings"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS remote_locations (
    location_id SERIAL PRIMARY KEY,
    location_name VARCHAR(100) NOT NULL,
    host VARCHAR(255) NOT NULL,
    port INTEGER NOT NULL DEFAULT 5432,
    database_name VARCHAR(100) NOT NULL,
    username VARCHAR(100) NOT NULL,
    password VARCHAR(255) NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    last_sync_time TIMESTAMP,
    last_sync_status VARCHAR(255),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS sync_history (
    sync_id SERIAL PRIMARY KEY,
    location_id INTEGER NOT NULL REFERENCES remote_locations(location_id) ON DELETE CASCADE,
    sync_type VARCHAR(50) NOT NULL,
    records_added INTEGER NOT NULL DEFAULT 0,
    records_updated INTEGER NOT NULL DEFAULT 0,
    records_skipped INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(50) NOT NULL,
    error_message TEXT,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_history_location ON sync_history (location_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS sync_settings (
    auto_sync_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    sync_interval_minutes INTEGER NOT NULL DEFAULT 15,
    last_modified TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
}

var sqliteSchema = []string{
	`create table if not exists remote_locations (
    location_id integer primary key autoincrement,
    location_name text not null,
    host text not null,
    port integer not null default 5432,
    database_name text not null,
    username text not null,
    password text not null,
    is_active boolean not null default 1,
    last_sync_time timestamp,
    last_sync_status text,
    created_at timestamp not null default current_timestamp
)`,
	`create table if not exists sync_history (
    sync_id integer primary key autoincrement,
    location_id integer not null references remote_locations(location_id) on delete cascade,
    sync_type text not null,
    records_added integer not null default 0,
    records_updated integer not null default 0,
    records_skipped integer not null default 0,
    status text not null,
    error_message text,
    started_at timestamp not null,
    completed_at timestamp
)`,
	`create index if not exists idx_sync_history_location on sync_history (location_id, started_at desc)`,
	`create table if not exists sync_settings (
    auto_sync_enabled boolean not null default 0,
    sync_interval_minutes integer not null default 15,
    last_modified timestamp not null default current_timestamp
)`,
}

// Migrate creates the registry tables if they do not exist yet.
func Migrate(ctx context.Context, db *database.Database) error {
	stmts := postgresSchema
	if db.Driver == database.DriverSQLite {
		stmts = sqliteSchema
	}

	for _, stmt := range stmts {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply registry schema: %w", err)
		}
	}
	return nil
}
