package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadableTableKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	loc, remote := h.addRemote(t, "north")

	punch := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	remote.AddDepartment(t, 1, "Operations")
	remote.AddAttendanceLog(t, "1001", punch)
	remote.RenameTable(t, "attendance_logs", "attendance_logs_moved")

	d, err := h.manager.Detect(ctx, loc.ID)
	require.NoError(t, err)
	assert.True(t, d.Partial())
	assert.Equal(t, []Table{TableAttendanceLogs}, d.FailedTables())
	assert.Equal(t, map[Table]int{TableDepartments: 1}, countByTable(d.Changes))

	// the other tables still apply
	require.NoError(t, h.manager.RunScheduled(ctx))
	completed, _ := h.notifier.counts()
	require.Equal(t, 1, completed)
	res := h.notifier.completed[0]
	assert.Equal(t, 1, res.Added)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "attendance_logs: "), res.Errors[0])
	assert.Equal(t, []string{"Operations"}, h.local.Column(t, "departments", "dept_name"))

	hist := h.history(t, loc)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusPartial, hist[0].Status)
	assert.Contains(t, hist[0].ErrorMessage.String, "attendance_logs")

	got := h.location(t, loc.ID)
	assert.Equal(t, "Completed with 1 errors", got.LastSyncStatus.String)
	assert.False(t, got.LastSyncTime.Valid)

	// still broken and nothing else pending: status only, no history
	require.NoError(t, h.manager.RunScheduled(ctx))
	got = h.location(t, loc.ID)
	assert.Equal(t, "Detection failed for 1 tables", got.LastSyncStatus.String)
	assert.False(t, got.LastSyncTime.Valid)
	assert.Len(t, h.history(t, loc), 1)

	// once readable again the punch older than the failed runs arrives
	remote.RenameTable(t, "attendance_logs_moved", "attendance_logs")
	require.NoError(t, h.manager.RunScheduled(ctx))
	assert.Equal(t, 1, h.local.Count(t, "attendance_logs"))

	got = h.location(t, loc.ID)
	assert.Equal(t, StatusSuccess, got.LastSyncStatus.String)
	assert.True(t, got.LastSyncTime.Valid)
}

func TestReferenceTablesRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	loc, remote := h.addRemote(t, "north")

	remote.AddShift(t, 1, "Day", "08:00:00", "16:00:00")
	remote.AddMachine(t, 7, "Gate A", "10.0.0.7")
	remote.AddExceptionType(t, 3, "Leave")

	d, err := h.manager.Detect(ctx, loc.ID)
	require.NoError(t, err)
	assert.Empty(t, d.FailedTables())
	assert.Equal(t, map[Table]int{TableShifts: 1, TableMachines: 1, TableExceptionTypes: 1}, countByTable(d.Changes))
	assert.Equal(t, map[ChangeType]int{New: 3}, d.Changes.CountByType())

	for _, c := range d.Changes {
		if c.Table == TableShifts {
			shift, ok := c.Record.(ShiftRecord)
			require.True(t, ok)
			assert.Equal(t, "08:00:00", shift.StartTime.String)
			assert.Equal(t, "16:00:00", shift.EndTime.String)
		}
	}

	res, err := h.manager.Apply(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Empty(t, res.Errors)

	d, err = h.manager.Detect(ctx, loc.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Changes)

	remote.SetShiftEnd(t, 1, "17:00:00")
	remote.SetMachineAddress(t, 7, "10.0.0.8")
	remote.DescribeExceptionType(t, 3, "Leave", "Paid leave", false)

	d, err = h.manager.Detect(ctx, loc.ID)
	require.NoError(t, err)
	require.Len(t, d.Changes, 3)
	assert.Equal(t, map[ChangeType]int{Updated: 3}, d.Changes.CountByType())

	descriptions := make(map[Table]string)
	for _, c := range d.Changes {
		descriptions[c.Table] = c.Description
	}
	assert.Contains(t, descriptions[TableShifts], "end_time")
	assert.NotContains(t, descriptions[TableShifts], "start_time")
	assert.Contains(t, descriptions[TableMachines], "ip_address")
	assert.Contains(t, descriptions[TableExceptionTypes], "description, is_active")

	res, err = h.manager.Apply(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	assert.Zero(t, res.Added)

	assert.Equal(t, []string{"17:00:00"}, h.local.Column(t, "shifts", "end_time"))
	assert.Equal(t, []string{"10.0.0.8"}, h.local.Column(t, "machines", "ip_address"))
	assert.Equal(t, []string{"Paid leave"}, h.local.Column(t, "exception_types", "description"))
	assert.Equal(t, 1, h.local.Count(t, "shifts"))

	d, err = h.manager.Detect(ctx, loc.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Changes)
}

func TestManualApplyNeverRewindsWatermark(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	loc, remote := h.addRemote(t, "north")
	remote.AddDepartment(t, 1, "Operations")

	stale, err := h.manager.Detect(ctx, loc.ID)
	require.NoError(t, err)

	require.NoError(t, h.manager.RunScheduled(ctx))
	before := h.location(t, loc.ID)
	require.True(t, before.LastSyncTime.Valid)
	require.True(t, before.LastSyncTime.Time.After(stale.DetectedAt))

	_, err = h.manager.Apply(ctx, stale)
	require.NoError(t, err)

	after := h.location(t, loc.ID)
	assert.True(t, after.LastSyncTime.Time.Equal(before.LastSyncTime.Time),
		"watermark moved from %s to %s", before.LastSyncTime.Time, after.LastSyncTime.Time)
	assert.Len(t, h.history(t, loc), 2)
}
