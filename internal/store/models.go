package store

import (
	"database/sql"
	"time"
)

type Location struct {
	ID             int64          `db:"location_id"`
	Name           string         `db:"location_name"`
	Host           string         `db:"host"`
	Port           int            `db:"port"`
	DatabaseName   string         `db:"database_name"`
	Username       string         `db:"username"`
	Password       string         `db:"password"`
	IsActive       bool           `db:"is_active"`
	LastSyncTime   sql.NullTime   `db:"last_sync_time"`
	LastSyncStatus sql.NullString `db:"last_sync_status"`
	CreatedAt      time.Time      `db:"created_at"`
}

type SyncHistory struct {
	ID             int64          `db:"sync_id"`
	LocationID     int64          `db:"location_id"`
	SyncType       string         `db:"sync_type"`
	RecordsAdded   int            `db:"records_added"`
	RecordsUpdated int            `db:"records_updated"`
	RecordsSkipped int            `db:"records_skipped"`
	Status         string         `db:"status"`
	ErrorMessage   sql.NullString `db:"error_message"`
	StartedAt      time.Time      `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

type SyncSettings struct {
	AutoSyncEnabled     bool      `db:"auto_sync_enabled"`
	SyncIntervalMinutes int       `db:"sync_interval_minutes"`
	LastModified        time.Time `db:"last_modified"`
}
