package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTables(t *testing.T) {
	all, err := ParseTables(nil)
	require.NoError(t, err)
	assert.Equal(t, len(AllTables), all.Cardinality())

	some, err := ParseTables([]string{"Users", " attendance_logs "})
	require.NoError(t, err)
	assert.True(t, some.Contains(TableUsers))
	assert.True(t, some.Contains(TableAttendanceLogs))
	assert.Equal(t, 2, some.Cardinality())

	_, err = ParseTables([]string{"users", "payroll"})
	require.ErrorContains(t, err, `"payroll"`)
}

func TestNormalizeBadge(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0001234", "1234"},
		{"1234", "1234"},
		{"1020", "1020"},
		{"000", "0"},
		{"", "0"},
		{" 042 ", "42"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBadge(tt.in), "badge %q", tt.in)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		found  bool
		diff   []string
		edited bool
		want   ChangeType
		ok     bool
	}{
		{"absent locally", false, nil, false, New, true},
		{"identical", true, nil, false, "", false},
		{"identical but edited locally", true, nil, true, "", false},
		{"remote changed", true, []string{"dept_name"}, false, Updated, true},
		{"both changed", true, []string{"notes"}, true, Conflict, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, ok := classify(tt.found, tt.diff, tt.edited)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ct)
		})
	}
}

func TestWatermark(t *testing.T) {
	assert.Equal(t, time.Unix(0, 0).UTC(), Watermark(time.Time{}, false))
	assert.Equal(t, time.Unix(0, 0).UTC(), Watermark(time.Now(), false))

	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.FixedZone("WAT", 3600))
	assert.Equal(t, at.UTC(), Watermark(at, true))
}

func TestRecordKeys(t *testing.T) {
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	punch := time.Date(2024, 5, 6, 7, 58, 12, 0, time.UTC)

	assert.Equal(t, "0042", UserRecord{BadgeNumber: "0042"}.Key())
	assert.Equal(t, "7", DepartmentRecord{DeptID: 7}.Key())
	assert.Equal(t, "0042|2024-05-06", EmployeeExceptionRecord{BadgeNumber: "0042", ExceptionDate: day}.Key())
	assert.Equal(t, "0042|2024-05-06 07:58:12", AttendanceLogRecord{BadgeNumber: "0042", LogTime: punch}.Key())
	assert.Equal(t, TableEmployeeExceptions, EmployeeExceptionRecord{}.Table())
}

func TestChangeSet(t *testing.T) {
	cs := ChangeSet{
		{Table: TableDepartments, RecordKey: "1", Type: New, Record: DepartmentRecord{DeptID: 1}, IsApproved: true},
		{Table: TableDepartments, RecordKey: "2", Type: Updated, Record: DepartmentRecord{DeptID: 2}, IsApproved: true},
		{Table: TableEmployeeExceptions, RecordKey: "9|2024-01-01", Type: Conflict, Record: EmployeeExceptionRecord{}},
	}

	assert.True(t, cs.HasConflicts())
	assert.Equal(t, 2, cs.Approved())
	assert.Equal(t, map[ChangeType]int{New: 1, Updated: 1, Conflict: 1}, cs.CountByType())

	require.NoError(t, cs.SetApproved(0, false))
	assert.Equal(t, 1, cs.Approved())
	require.Error(t, cs.SetApproved(3, true))
	require.Error(t, cs.SetApproved(-1, true))

	cs.ApproveAll()
	assert.Equal(t, 3, cs.Approved())

	assert.False(t, cs[:2].HasConflicts())
	assert.Equal(t, "[Updated] departments/2: ", cs[1].String())
}

func TestSyncResultStatus(t *testing.T) {
	r := &SyncResult{Success: true}
	assert.Equal(t, StatusSuccess, r.Status())
	assert.Equal(t, "Success", r.StatusMessage())

	r.addError(TableEmployeeExceptions, "999|2024-01-01", errors.New("no local user"))
	r.addError(TableUsers, "12", errors.New("constraint failed"))
	assert.Equal(t, StatusPartial, r.Status())
	assert.Equal(t, "Completed with 2 errors", r.StatusMessage())
	assert.Equal(t, "employee_exceptions/999|2024-01-01: no local user", r.Errors[0])

	r.Success = false
	assert.Equal(t, StatusFailed, r.Status())
	assert.Equal(t, "Failed", r.StatusMessage())
}
