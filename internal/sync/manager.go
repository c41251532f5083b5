package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/database"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/metrics"
	"attendance-sync-service/internal/store"
)

type State string

const (
	StateIdle    State = "Idle"
	StateRunning State = "Running"
)

type options struct {
	connector Connector
	notifier  Notifier
	metrics   *metrics.Recorder
}

type Option func(*options)

// WithConnector replaces the Postgres connector used for remote locations.
func WithConnector(c Connector) Option {
	return func(o *options) { o.connector = c }
}

func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// Manager runs detection and apply passes for every registered location. Only
// one pass, scheduled or manual, runs at a time.
type Manager struct {
	store    store.Store
	prober   *Prober
	detector *Detector
	applier  *Applier
	notifier Notifier
	metrics  *metrics.Recorder
	tables   mapset.Set[Table]

	running atomic.Bool
}

func NewManager(cfg *config.Config, local *database.Database, st store.Store, opts ...Option) (*Manager, error) {
	tables, err := ParseTables(cfg.Sync.Tables)
	if err != nil {
		return nil, err
	}

	o := options{
		connector: PostgresConnector{SSLMode: cfg.Sync.RemoteSSLMode},
		notifier:  LogNotifier{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		store:    st,
		prober:   NewProber(o.connector, cfg.Sync.GetProbeTimeout()),
		detector: NewDetector(o.connector, local, tables, cfg.Sync.DetectLocalEdits),
		applier:  NewApplier(local, st, o.metrics),
		notifier: o.notifier,
		metrics:  o.metrics,
		tables:   tables,
	}, nil
}

func (m *Manager) State() State {
	if m.running.Load() {
		return StateRunning
	}
	return StateIdle
}

func (m *Manager) Tables() []Table {
	var out []Table
	for _, t := range AllTables {
		if m.tables.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) acquire() error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	return nil
}

func (m *Manager) release() {
	m.running.Store(false)
}

// RunScheduled processes every active location once. It returns
// ErrSyncInProgress without doing anything if another pass is running.
func (m *Manager) RunScheduled(ctx context.Context) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	return m.runAll(ctx)
}

// TriggerAsync starts a scheduled pass in the background. The busy check is
// synchronous so callers can report ErrSyncInProgress.
func (m *Manager) TriggerAsync(ctx context.Context) error {
	if err := m.acquire(); err != nil {
		return err
	}

	go func() {
		defer m.release()
		if err := m.runAll(ctx); err != nil {
			logger.Log.Error("Triggered sync failed", zap.Error(err))
		}
	}()
	return nil
}

func (m *Manager) runAll(ctx context.Context) error {
	locations, err := m.store.ListLocations(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list locations: %w", err)
	}

	logger.Log.Info("Starting sync pass", zap.Int("locations", len(locations)))

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := m.runLocation(ctx, loc); err != nil {
			logger.Log.Error("Location sync failed",
				zap.Int64("location_id", loc.ID),
				zap.String("location", loc.Name),
				zap.Error(err),
			)
			m.setStatus(ctx, loc, "Error: "+err.Error())
		}
	}

	logger.Log.Info("Sync pass finished")
	return nil
}

func (m *Manager) runLocation(ctx context.Context, loc *store.Location) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	log := logger.Log.With(zap.Int64("location_id", loc.ID), zap.String("location", loc.Name))

	if !m.probe(ctx, loc) {
		log.Warn("Location unreachable, skipping")
		m.setStatus(ctx, loc, StatusConnectionFailed)
		return nil
	}

	det, err := m.detector.Detect(ctx, loc)
	if err != nil {
		return err
	}
	changes := det.Changes

	if changes.HasConflicts() {
		n := changes.CountByType()[Conflict]
		m.metrics.RecordConflicts(ctx, loc.Name, n)
		m.notifier.ConflictsDetected(loc, changes,
			fmt.Sprintf("%d conflicting changes detected for %s; manual review required", n, loc.Name))
		return nil
	}

	if len(changes) == 0 {
		if det.Partial() {
			m.setStatus(ctx, loc, fmt.Sprintf("Detection failed for %d tables", len(det.Failed)))
			return nil
		}
		log.Debug("No changes detected")
		return nil
	}

	changes.ApproveAll()
	result, err := m.applier.Apply(ctx, loc, det, SyncAutomatic)
	m.notifier.SyncCompleted(loc, result, fmt.Sprintf("Sync with %s finished: %s", loc.Name, result))
	return err
}

func (m *Manager) probe(ctx context.Context, loc *store.Location) bool {
	ok := m.prober.Probe(ctx, loc)
	m.metrics.RecordProbe(ctx, loc.Name, ok)
	return ok
}

func (m *Manager) setStatus(ctx context.Context, loc *store.Location, status string) {
	if err := m.store.UpdateLocationSyncStatus(ctx, loc.ID, status, nil); err != nil {
		logger.Log.Error("Failed to update location status",
			zap.Int64("location_id", loc.ID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// Detect runs a manual detection pass for one location. Conflicting changes
// come back unapproved; the operator must approve them explicitly.
func (m *Manager) Detect(ctx context.Context, locationID int64) (*Detection, error) {
	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	loc, err := m.store.GetLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}

	if !m.probe(ctx, loc) {
		m.setStatus(ctx, loc, StatusConnectionFailed)
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, loc.Name)
	}

	det, err := m.detector.Detect(ctx, loc)
	if err != nil {
		return nil, err
	}

	for i := range det.Changes {
		if det.Changes[i].Type == Conflict {
			det.Changes[i].IsApproved = false
		}
	}

	return det, nil
}

// Apply writes the approved subset of det.Changes as a manual run for
// det.Location. A history row is written even when nothing is approved.
func (m *Manager) Apply(ctx context.Context, det *Detection) (*SyncResult, error) {
	if det == nil || det.Location == nil {
		return nil, errors.New("apply needs a detection with a location")
	}

	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	// reload so the watermark check sees the current last_sync_time
	loc, err := m.store.GetLocation(ctx, det.Location.ID)
	if err != nil {
		return nil, err
	}

	result, err := m.applier.Apply(ctx, loc, det, SyncManual)
	if err != nil {
		logger.Log.Error("Failed to record manual sync", zap.Int64("location_id", loc.ID), zap.Error(err))
	}
	return result, err
}
