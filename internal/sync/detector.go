package sync

import (
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"attendance-sync-service/internal/database"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/store"
)

type tableDetector struct {
	table Table
	run   func(ctx context.Context, remote, local *database.Database, since time.Time, detectLocalEdits bool) ([]PendingChange, error)
}

func newTableDetector[R Record](def tableDef[R]) tableDetector {
	return tableDetector{
		table: def.table,
		run: func(ctx context.Context, remote, local *database.Database, since time.Time, detectLocalEdits bool) ([]PendingChange, error) {
			return detectTable(ctx, def, remote, local, since, detectLocalEdits)
		},
	}
}

var tableDetectors = []tableDetector{
	newTableDetector(departmentsDef),
	newTableDetector(shiftsDef),
	newTableDetector(machinesDef),
	newTableDetector(exceptionTypesDef),
	newTableDetector(usersDef),
	newTableDetector(employeeExceptionsDef),
	newTableDetector(attendanceLogsDef),
}

func detectTable[R Record](ctx context.Context, def tableDef[R], remote, local *database.Database, since time.Time, detectLocalEdits bool) ([]PendingChange, error) {
	records, err := fetchAll(ctx, remote.DB, def.remote(remote.Dialect, since), def.scan)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote %s: %w", def.table, err)
	}

	var changes []PendingChange
	for _, r := range records {
		existing, found, err := fetchOne(ctx, local.DB, def.local(local.Dialect, r), def.scan)
		if err != nil {
			return nil, fmt.Errorf("failed to look up local %s/%s: %w", def.table, r.Key(), err)
		}

		var diff []string
		if found && def.diff != nil {
			diff = def.diff(r, existing)
		}
		edited := found && detectLocalEdits && def.localEdited != nil && def.localEdited(existing, since)

		ct, ok := classify(found, diff, edited)
		if !ok {
			continue
		}

		changes = append(changes, PendingChange{
			Table:       def.table,
			RecordKey:   r.Key(),
			Description: describe(ct, r, diff),
			Type:        ct,
			Record:      r,
			IsApproved:  true,
		})
	}

	return changes, nil
}

// Connector opens a handle to a remote location's database.
type Connector interface {
	Connect(loc *store.Location) (*database.Database, error)
}

type PostgresConnector struct {
	SSLMode string
}

func (c PostgresConnector) Connect(loc *store.Location) (*database.Database, error) {
	dsn := database.PostgresDSN(loc.Host, loc.Port, loc.Username, loc.Password, loc.DatabaseName, c.SSLMode)
	return database.Open(database.DriverPostgres, dsn)
}

// Detection is the outcome of one detection pass against a location. Failed
// holds the tables that could not be read; their changes are missing from
// Changes.
type Detection struct {
	Location   *store.Location
	Changes    ChangeSet
	DetectedAt time.Time
	Failed     map[Table]error
}

// Partial reports whether any table was left out of the pass.
func (d *Detection) Partial() bool {
	return len(d.Failed) > 0
}

// FailedTables lists the tables that could not be read, in detection order.
func (d *Detection) FailedTables() []Table {
	var out []Table
	for _, t := range AllTables {
		if _, ok := d.Failed[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

type Detector struct {
	connector        Connector
	local            *database.Database
	tables           mapset.Set[Table]
	detectLocalEdits bool
	now              func() time.Time
}

func NewDetector(connector Connector, local *database.Database, tables mapset.Set[Table], detectLocalEdits bool) *Detector {
	if tables == nil {
		tables = mapset.NewSet(AllTables...)
	}
	return &Detector{
		connector:        connector,
		local:            local,
		tables:           tables,
		detectLocalEdits: detectLocalEdits,
		now:              time.Now,
	}
}

// Detect compares every tracked table of loc against the local database. A
// table that fails is logged and recorded in Detection.Failed; the rest are
// still returned. DetectedAt is taken before any table is read.
func (d *Detector) Detect(ctx context.Context, loc *store.Location) (*Detection, error) {
	det := &Detection{
		Location:   loc,
		Changes:    ChangeSet{},
		DetectedAt: d.now().UTC(),
		Failed:     make(map[Table]error),
	}

	remote, err := d.connector.Connect(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", loc.Name, err)
	}
	defer remote.Close()

	since := Watermark(loc.LastSyncTime.Time, loc.LastSyncTime.Valid)
	log := logger.Log.With(zap.Int64("location_id", loc.ID), zap.String("location", loc.Name))

	for _, td := range tableDetectors {
		if !d.tables.Contains(td.table) {
			continue
		}

		found, err := td.run(ctx, remote, d.local, since, d.detectLocalEdits)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("Table detection failed", zap.String("table", string(td.table)), zap.Error(err))
			det.Failed[td.table] = err
			continue
		}

		log.Debug("Detected table changes", zap.String("table", string(td.table)), zap.Int("changes", len(found)))
		det.Changes = append(det.Changes, found...)
	}

	counts := det.Changes.CountByType()
	log.Info("Detection finished",
		zap.Time("since", since),
		zap.Int("new", counts[New]),
		zap.Int("updated", counts[Updated]),
		zap.Int("conflicts", counts[Conflict]),
		zap.Int("failed_tables", len(det.Failed)),
	)

	return det, nil
}
