package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/store"
)

type Scheduler struct {
	defaults config.SchedulerConfig
	manager  *Manager
	store    store.Store
	cron     *cron.Cron

	mu       stdsync.Mutex
	ctx      context.Context
	entryID  cron.EntryID
	settings store.SyncSettings
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager, st store.Store) *Scheduler {
	return &Scheduler{
		defaults: cfg,
		manager:  manager,
		store:    st,
		cron: cron.New(
			cron.WithLogger(logger.CronLogger{}),
			cron.WithChain(cron.Recover(logger.CronLogger{})),
		),
	}
}

// Start loads the stored settings, seeding them from config on first run, and
// starts the timer. ctx is handed to every scheduled pass.
func (s *Scheduler) Start(ctx context.Context) error {
	settings, err := s.store.GetSyncSettings(ctx)
	if errors.Is(err, store.ErrNotFound) {
		settings = &store.SyncSettings{
			AutoSyncEnabled:     s.defaults.Enabled,
			SyncIntervalMinutes: s.defaults.IntervalMinutes,
		}
		if err = s.store.SaveSyncSettings(ctx, settings); err != nil {
			return fmt.Errorf("failed to seed sync settings: %w", err)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load sync settings: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.settings = *settings
	s.reschedule()
	s.mu.Unlock()

	s.cron.Start()
	return nil
}

// Stop prevents future ticks. A pass already in flight is left to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) Settings() store.SyncSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// NextRun is the time of the next tick, or zero when auto sync is off.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// UpdateSettings persists the new settings and restarts the timer with them.
func (s *Scheduler) UpdateSettings(ctx context.Context, enabled bool, intervalMinutes int) (store.SyncSettings, error) {
	if intervalMinutes <= 0 {
		return store.SyncSettings{}, fmt.Errorf("sync interval must be positive, got %d", intervalMinutes)
	}

	settings := store.SyncSettings{
		AutoSyncEnabled:     enabled,
		SyncIntervalMinutes: intervalMinutes,
	}
	if err := s.store.SaveSyncSettings(ctx, &settings); err != nil {
		return store.SyncSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.reschedule()
	return settings, nil
}

// reschedule must be called with mu held.
func (s *Scheduler) reschedule() {
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}

	if !s.settings.AutoSyncEnabled {
		logger.Log.Info("Automatic sync is disabled")
		return
	}

	interval := time.Duration(s.settings.SyncIntervalMinutes) * time.Minute
	s.entryID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(s.tick))

	logger.Log.Info("Scheduled automatic sync", zap.Duration("interval", interval))
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	err := s.manager.RunScheduled(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		logger.Log.Debug("Sync already running, dropping tick")
	case err != nil:
		logger.Log.Error("Scheduled sync failed", zap.Error(err))
	}
}
