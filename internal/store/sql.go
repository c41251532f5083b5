package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"attendance-sync-service/internal/database"
)

const maxStatusLen = 255

type SQLStore struct {
	db *database.Database
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore keeps the registry in db. The caller owns db's lifetime.
func NewSQLStore(db *database.Database) *SQLStore {
	return &SQLStore{db: db}
}

var locationColumns = []interface{}{
	"location_id", "location_name", "host", "port", "database_name", "username", "password",
	"is_active", "last_sync_time", "last_sync_status", "created_at",
}

func scanLocation(sc interface{ Scan(...any) error }) (*Location, error) {
	var l Location
	err := sc.Scan(
		&l.ID,
		&l.Name,
		&l.Host,
		&l.Port,
		&l.DatabaseName,
		&l.Username,
		&l.Password,
		&l.IsActive,
		&l.LastSyncTime,
		&l.LastSyncStatus,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLStore) CreateLocation(ctx context.Context, loc *Location) error {
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}

	record := goqu.Record{
		"location_name":    loc.Name,
		"host":             loc.Host,
		"port":             loc.Port,
		"database_name":    loc.DatabaseName,
		"username":         loc.Username,
		"password":         loc.Password,
		"is_active":        loc.IsActive,
		"last_sync_status": loc.LastSyncStatus,
		"created_at":       loc.CreatedAt.UTC(),
	}
	if loc.LastSyncTime.Valid {
		record["last_sync_time"] = loc.LastSyncTime.Time.UTC()
	}

	ds := s.db.Dialect.Insert(locationsTable).Rows(record).Prepared(true)
	id, err := s.db.InsertReturningID(ctx, s.db.DB, ds, "location_id")
	if err != nil {
		return fmt.Errorf("failed to create location %q: %w", loc.Name, err)
	}
	loc.ID = id
	return nil
}

func (s *SQLStore) GetLocation(ctx context.Context, id int64) (*Location, error) {
	ds := s.db.Dialect.From(locationsTable).
		Select(locationColumns...).
		Where(goqu.C("location_id").Eq(id)).
		Prepared(true)

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}

	loc, err := scanLocation(s.db.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return loc, nil
}

func (s *SQLStore) ListLocations(ctx context.Context, activeOnly bool) ([]*Location, error) {
	ds := s.db.Dialect.From(locationsTable).
		Select(locationColumns...).
		Order(goqu.C("location_id").Asc()).
		Prepared(true)
	if activeOnly {
		ds = ds.Where(goqu.C("is_active").IsTrue())
	}

	rows, err := database.Query(ctx, s.db.DB, ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []*Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}

	return locations, rows.Err()
}

func (s *SQLStore) UpdateLocationSyncStatus(ctx context.Context, id int64, status string, syncTime *time.Time) error {
	update := goqu.Record{"last_sync_status": truncate(status, maxStatusLen)}
	if syncTime != nil {
		update["last_sync_time"] = syncTime.UTC()
	}

	ds := s.db.Dialect.Update(locationsTable).
		Set(update).
		Where(goqu.C("location_id").Eq(id)).
		Prepared(true)

	res, err := database.Exec(ctx, s.db.DB, ds)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	record := goqu.Record{
		"location_id":     history.LocationID,
		"sync_type":       history.SyncType,
		"records_added":   history.RecordsAdded,
		"records_updated": history.RecordsUpdated,
		"records_skipped": history.RecordsSkipped,
		"status":          truncate(history.Status, 50),
		"error_message":   history.ErrorMessage,
		"started_at":      history.StartedAt.UTC(),
	}
	if history.CompletedAt.Valid {
		record["completed_at"] = history.CompletedAt.Time.UTC()
	}

	ds := s.db.Dialect.Insert(historyTable).Rows(record).Prepared(true)
	id, err := s.db.InsertReturningID(ctx, s.db.DB, ds, "sync_id")
	if err != nil {
		return fmt.Errorf("failed to record sync history for location %d: %w", history.LocationID, err)
	}
	history.ID = id
	return nil
}

func (s *SQLStore) GetSyncHistory(ctx context.Context, locationID int64, limit, offset int) ([]*SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	ds := s.db.Dialect.From(historyTable).
		Select("sync_id", "location_id", "sync_type", "records_added", "records_updated", "records_skipped",
			"status", "error_message", "started_at", "completed_at").
		Where(goqu.C("location_id").Eq(locationID)).
		Order(goqu.C("started_at").Desc(), goqu.C("sync_id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		Prepared(true)

	rows, err := database.Query(ctx, s.db.DB, ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		err := rows.Scan(
			&h.ID,
			&h.LocationID,
			&h.SyncType,
			&h.RecordsAdded,
			&h.RecordsUpdated,
			&h.RecordsSkipped,
			&h.Status,
			&h.ErrorMessage,
			&h.StartedAt,
			&h.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, &h)
	}

	return history, rows.Err()
}

func (s *SQLStore) GetSyncSettings(ctx context.Context) (*SyncSettings, error) {
	ds := s.db.Dialect.From(settingsTable).
		Select("auto_sync_enabled", "sync_interval_minutes", "last_modified").
		Limit(1).
		Prepared(true)

	var settings SyncSettings
	err := database.QueryRow(ctx, s.db.DB, ds,
		&settings.AutoSyncEnabled,
		&settings.SyncIntervalMinutes,
		&settings.LastModified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync settings: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSyncSettings rewrites the single settings row, creating it on first use.
func (s *SQLStore) SaveSyncSettings(ctx context.Context, settings *SyncSettings) error {
	settings.LastModified = time.Now().UTC()
	record := goqu.Record{
		"auto_sync_enabled":     settings.AutoSyncEnabled,
		"sync_interval_minutes": settings.SyncIntervalMinutes,
		"last_modified":         settings.LastModified,
	}

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		res, err := database.Exec(ctx, tx, s.db.Dialect.Update(settingsTable).Set(record).Prepared(true))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
		_, err = database.Exec(ctx, tx, s.db.Dialect.Insert(settingsTable).Rows(record).Prepared(true))
		return err
	})
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
