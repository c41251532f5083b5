package sync

import (
	"context"
	"strconv"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/require"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/database"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/testutil"
)

type recordingNotifier struct {
	mu        stdsync.Mutex
	completed []*SyncResult
	conflicts []ChangeSet
	messages  []string
}

func (n *recordingNotifier) SyncCompleted(_ *store.Location, result *SyncResult, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, result)
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) ConflictsDetected(_ *store.Location, changes ChangeSet, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conflicts = append(n.conflicts, changes)
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) counts() (completed, conflicts int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed), len(n.conflicts)
}

type harness struct {
	cfg       *config.Config
	local     *testutil.Site
	store     *store.SQLStore
	connector *testutil.Connector
	notifier  *recordingNotifier
	manager   *Manager
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := &config.Config{
		Sync:      config.SyncConfig{ProbeTimeout: "2s"},
		Scheduler: config.SchedulerConfig{Enabled: true, IntervalMinutes: 15},
	}
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		cfg:       cfg,
		local:     testutil.NewSite(t, "local"),
		connector: testutil.NewConnector(),
		notifier:  &recordingNotifier{},
	}
	h.store = testutil.NewRegistry(t, h.local)

	m, err := NewManager(cfg, h.local.DB, h.store, WithConnector(h.connector), WithNotifier(h.notifier))
	require.NoError(t, err)
	h.manager = m

	return h
}

func (h *harness) addRemote(t *testing.T, name string) (*store.Location, *testutil.Site) {
	t.Helper()
	loc := testutil.AddLocation(t, h.store, name)
	site := testutil.NewSite(t, name)
	h.connector.Register(loc, site)
	return loc, site
}

func (h *harness) history(t *testing.T, loc *store.Location) []*store.SyncHistory {
	t.Helper()
	hist, err := h.store.GetSyncHistory(context.Background(), loc.ID, 100, 0)
	require.NoError(t, err)
	return hist
}

func (h *harness) location(t *testing.T, id int64) *store.Location {
	t.Helper()
	loc, err := h.store.GetLocation(context.Background(), id)
	require.NoError(t, err)
	return loc
}

func countByTable(cs ChangeSet) map[Table]int {
	out := make(map[Table]int)
	for _, c := range cs {
		out[c.Table]++
	}
	return out
}

func mustID(t *testing.T, s string) int64 {
	t.Helper()
	id, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return id
}

// failingConnector succeeds for the first ok calls, then fails or panics.
type failingConnector struct {
	inner   Connector
	ok      int
	calls   int
	panicky bool
}

func (c *failingConnector) Connect(loc *store.Location) (*database.Database, error) {
	c.calls++
	if c.calls <= c.ok {
		return c.inner.Connect(loc)
	}
	if c.panicky {
		panic("driver exploded")
	}
	return nil, testutil.ErrUnreachable
}
