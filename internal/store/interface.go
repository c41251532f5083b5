package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	// Locations
	CreateLocation(ctx context.Context, loc *Location) error
	GetLocation(ctx context.Context, id int64) (*Location, error)
	ListLocations(ctx context.Context, activeOnly bool) ([]*Location, error)
	// UpdateLocationSyncStatus sets last_sync_status and, when syncTime is
	// non-nil, last_sync_time.
	UpdateLocationSyncStatus(ctx context.Context, id int64, status string, syncTime *time.Time) error

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, locationID int64, limit, offset int) ([]*SyncHistory, error)

	// Settings
	GetSyncSettings(ctx context.Context) (*SyncSettings, error)
	SaveSyncSettings(ctx context.Context, settings *SyncSettings) error
}
