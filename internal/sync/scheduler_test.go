package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerSeedsAndUpdatesSettings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	s := NewScheduler(h.cfg.Scheduler, h.manager, h.store)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)

	settings := s.Settings()
	assert.True(t, settings.AutoSyncEnabled)
	assert.Equal(t, 15, settings.SyncIntervalMinutes)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), s.NextRun(), time.Minute)

	stored, err := h.store.GetSyncSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, stored.SyncIntervalMinutes)

	_, err = s.UpdateSettings(ctx, true, 0)
	require.Error(t, err)

	updated, err := s.UpdateSettings(ctx, false, 30)
	require.NoError(t, err)
	assert.False(t, updated.AutoSyncEnabled)
	assert.True(t, s.NextRun().IsZero())

	_, err = s.UpdateSettings(ctx, true, 5)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), s.NextRun(), time.Minute)

	stored, err = h.store.GetSyncSettings(ctx)
	require.NoError(t, err)
	assert.True(t, stored.AutoSyncEnabled)
	assert.Equal(t, 5, stored.SyncIntervalMinutes)
}

func TestSchedulerPrefersStoredSettings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	first := NewScheduler(h.cfg.Scheduler, h.manager, h.store)
	require.NoError(t, first.Start(ctx))
	_, err := first.UpdateSettings(ctx, false, 45)
	require.NoError(t, err)
	first.Stop()

	second := NewScheduler(h.cfg.Scheduler, h.manager, h.store)
	require.NoError(t, second.Start(ctx))
	t.Cleanup(second.Stop)

	assert.False(t, second.Settings().AutoSyncEnabled)
	assert.Equal(t, 45, second.Settings().SyncIntervalMinutes)
	assert.True(t, second.NextRun().IsZero())
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	loc, remote := h.addRemote(t, "north")
	remote.AddDepartment(t, 1, "Operations")

	s := NewScheduler(h.cfg.Scheduler, h.manager, h.store)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)

	// a tick that lands on a running pass is dropped
	h.manager.running.Store(true)
	s.tick()
	assert.Empty(t, h.history(t, loc))
	h.manager.running.Store(false)

	s.tick()
	assert.Len(t, h.history(t, loc), 1)
	assert.Equal(t, StateIdle, h.manager.State())
}
