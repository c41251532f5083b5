package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/database"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDatabase(ctx, config.DatabaseConnection{
		Driver:   database.DriverSQLite,
		FilePath: filepath.Join(t.TempDir(), "registry.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	// idempotent
	require.NoError(t, Migrate(ctx, db))

	return NewSQLStore(db)
}

func TestLocations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	north := &Location{Name: "North plant", Host: "10.1.0.5", Port: 5432, DatabaseName: "attendance", Username: "sync", Password: "x", IsActive: true}
	south := &Location{Name: "South plant", Host: "10.2.0.5", Port: 5433, DatabaseName: "attendance", Username: "sync", Password: "y", IsActive: false}
	require.NoError(t, s.CreateLocation(ctx, north))
	require.NoError(t, s.CreateLocation(ctx, south))
	require.NotZero(t, north.ID)
	require.NotEqual(t, north.ID, south.ID)

	all, err := s.ListLocations(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := s.ListLocations(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "North plant", active[0].Name)
	assert.False(t, active[0].LastSyncTime.Valid)

	got, err := s.GetLocation(ctx, south.ID)
	require.NoError(t, err)
	assert.Equal(t, 5433, got.Port)
	assert.False(t, got.IsActive)

	_, err = s.GetLocation(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLocationSyncStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loc := &Location{Name: "Depot", Host: "depot", Port: 5432, DatabaseName: "hr", Username: "u", Password: "p", IsActive: true}
	require.NoError(t, s.CreateLocation(ctx, loc))

	require.NoError(t, s.UpdateLocationSyncStatus(ctx, loc.ID, "Connection Failed", nil))
	got, err := s.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Connection Failed", got.LastSyncStatus.String)
	assert.False(t, got.LastSyncTime.Valid)

	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.UpdateLocationSyncStatus(ctx, loc.ID, "Success", &at))
	got, err = s.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Success", got.LastSyncStatus.String)
	require.True(t, got.LastSyncTime.Valid)
	assert.True(t, at.Equal(got.LastSyncTime.Time))

	long := "Error: " + strings.Repeat("x", 400)
	require.NoError(t, s.UpdateLocationSyncStatus(ctx, loc.ID, long, nil))
	got, err = s.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	assert.Len(t, got.LastSyncStatus.String, maxStatusLen)

	require.ErrorIs(t, s.UpdateLocationSyncStatus(ctx, 4242, "Success", nil), ErrNotFound)
}

func TestSyncHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loc := &Location{Name: "Depot", Host: "depot", Port: 5432, DatabaseName: "hr", Username: "u", Password: "p", IsActive: true}
	require.NoError(t, s.CreateLocation(ctx, loc))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		h := &SyncHistory{
			LocationID:     loc.ID,
			SyncType:       "Automatic",
			RecordsAdded:   i,
			RecordsUpdated: 1,
			Status:         "Success",
			StartedAt:      base.Add(time.Duration(i) * time.Hour),
			CompletedAt:    sql.NullTime{Time: base.Add(time.Duration(i)*time.Hour + time.Minute), Valid: true},
		}
		require.NoError(t, s.CreateSyncHistory(ctx, h))
		require.NotZero(t, h.ID)
	}

	history, err := s.GetSyncHistory(ctx, loc.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].RecordsAdded, "newest first")
	assert.Equal(t, 1, history[1].RecordsAdded)
	assert.True(t, history[0].CompletedAt.Valid)

	history, err = s.GetSyncHistory(ctx, loc.ID, 10, 2)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 0, history[0].RecordsAdded)

	history, err = s.GetSyncHistory(ctx, loc.ID+1, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSyncSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetSyncSettings(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveSyncSettings(ctx, &SyncSettings{AutoSyncEnabled: true, SyncIntervalMinutes: 10}))
	require.NoError(t, s.SaveSyncSettings(ctx, &SyncSettings{AutoSyncEnabled: false, SyncIntervalMinutes: 45}))

	got, err := s.GetSyncSettings(ctx)
	require.NoError(t, err)
	assert.False(t, got.AutoSyncEnabled)
	assert.Equal(t, 45, got.SyncIntervalMinutes)
	assert.False(t, got.LastModified.IsZero())

	var rows int
	require.NoError(t, s.db.DB.QueryRow("select count(*) from sync_settings").Scan(&rows))
	assert.Equal(t, 1, rows, "settings stay single-row")
}
