package sync

import (
	stdsync "sync"

	"go.uber.org/zap"

	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/store"
)

// Notifier receives the outcome of scheduled passes. Implementations must not
// block; they run on the scheduler's goroutine.
type Notifier interface {
	SyncCompleted(loc *store.Location, result *SyncResult, message string)
	ConflictsDetected(loc *store.Location, changes ChangeSet, message string)
}

type LogNotifier struct{}

func (LogNotifier) SyncCompleted(loc *store.Location, result *SyncResult, message string) {
	logger.Log.Info(message,
		zap.Int64("location_id", loc.ID),
		zap.String("run_id", result.RunID),
		zap.String("status", result.Status()),
	)
}

func (LogNotifier) ConflictsDetected(loc *store.Location, changes ChangeSet, message string) {
	logger.Log.Warn(message,
		zap.Int64("location_id", loc.ID),
		zap.Int("pending", len(changes)),
		zap.Int("conflicts", changes.CountByType()[Conflict]),
	)
}

// Broadcaster fans events out to every subscribed Notifier.
type Broadcaster struct {
	mu        stdsync.RWMutex
	notifiers []Notifier
}

func NewBroadcaster(notifiers ...Notifier) *Broadcaster {
	return &Broadcaster{notifiers: notifiers}
}

func (b *Broadcaster) Subscribe(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
}

func (b *Broadcaster) SyncCompleted(loc *store.Location, result *SyncResult, message string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, n := range b.notifiers {
		n.SyncCompleted(loc, result, message)
	}
}

func (b *Broadcaster) ConflictsDetected(loc *store.Location, changes ChangeSet, message string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, n := range b.notifiers {
		n.ConflictsDetected(loc, changes, message)
	}
}
