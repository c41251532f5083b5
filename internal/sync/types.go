package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrSyncInProgress   = errors.New("sync is already running")
	ErrConnectionFailed = errors.New("remote location unreachable")
)

type ChangeType string

const (
	New      ChangeType = "New"
	Updated  ChangeType = "Updated"
	Conflict ChangeType = "Conflict"
)

type SyncType string

const (
	SyncAutomatic SyncType = "Automatic"
	SyncManual    SyncType = "Manual"
)

const (
	StatusConnectionFailed = "Connection Failed"
	StatusSuccess          = "Success"
	StatusPartial          = "Partial"
	StatusFailed           = "Failed"
)

type Table string

const (
	TableDepartments        Table = "departments"
	TableShifts             Table = "shifts"
	TableMachines           Table = "machines"
	TableExceptionTypes     Table = "exception_types"
	TableUsers              Table = "users"
	TableEmployeeExceptions Table = "employee_exceptions"
	TableAttendanceLogs     Table = "attendance_logs"
)

// AllTables is the detection and apply order: referenced tables come before
// the tables that point at them.
var AllTables = []Table{
	TableDepartments,
	TableShifts,
	TableMachines,
	TableExceptionTypes,
	TableUsers,
	TableEmployeeExceptions,
	TableAttendanceLogs,
}

// ParseTables turns configured table names into a set. An empty list selects
// every tracked table.
func ParseTables(names []string) (mapset.Set[Table], error) {
	known := mapset.NewSet(AllTables...)
	if len(names) == 0 {
		return known, nil
	}

	selected := mapset.NewSet[Table]()
	for _, name := range names {
		t := Table(strings.TrimSpace(strings.ToLower(name)))
		if !known.Contains(t) {
			return nil, fmt.Errorf("unknown sync table %q", name)
		}
		selected.Add(t)
	}
	return selected, nil
}

// Record is the remote row carried by a PendingChange. The set of
// implementations is closed; one type per tracked table.
type Record interface {
	Table() Table
	Key() string
	Label() string
	isRecord()
}

type UserRecord struct {
	BadgeNumber   string
	Name          string
	DefaultDeptID sql.NullInt64
}

type DepartmentRecord struct {
	DeptID   int64
	DeptName string
}

type ShiftRecord struct {
	ShiftID   int64
	ShiftName string
	StartTime sql.NullString
	EndTime   sql.NullString
}

type MachineRecord struct {
	MachineID int64
	Alias     string
	IPAddress sql.NullString
}

type ExceptionTypeRecord struct {
	TypeID      int64
	TypeName    string
	Description sql.NullString
	IsActive    bool
}

type EmployeeExceptionRecord struct {
	BadgeNumber      string
	ExceptionDate    time.Time
	TypeID           int64
	Notes            sql.NullString
	ClockInOverride  sql.NullString
	ClockOutOverride sql.NullString
	UpdatedAt        sql.NullTime
}

type AttendanceLogRecord struct {
	BadgeNumber string
	LogTime     time.Time
	MachineID   sql.NullInt64
}

func (UserRecord) Table() Table              { return TableUsers }
func (DepartmentRecord) Table() Table        { return TableDepartments }
func (ShiftRecord) Table() Table             { return TableShifts }
func (MachineRecord) Table() Table           { return TableMachines }
func (ExceptionTypeRecord) Table() Table     { return TableExceptionTypes }
func (EmployeeExceptionRecord) Table() Table { return TableEmployeeExceptions }
func (AttendanceLogRecord) Table() Table     { return TableAttendanceLogs }

func (r UserRecord) Key() string          { return r.BadgeNumber }
func (r DepartmentRecord) Key() string    { return fmt.Sprint(r.DeptID) }
func (r ShiftRecord) Key() string         { return fmt.Sprint(r.ShiftID) }
func (r MachineRecord) Key() string       { return fmt.Sprint(r.MachineID) }
func (r ExceptionTypeRecord) Key() string { return fmt.Sprint(r.TypeID) }
func (r EmployeeExceptionRecord) Key() string {
	return r.BadgeNumber + "|" + r.ExceptionDate.UTC().Format(time.DateOnly)
}
func (r AttendanceLogRecord) Key() string {
	return r.BadgeNumber + "|" + r.LogTime.UTC().Format(time.DateTime)
}

func (r UserRecord) Label() string       { return fmt.Sprintf("user %s (%s)", r.BadgeNumber, r.Name) }
func (r DepartmentRecord) Label() string { return fmt.Sprintf("department %d (%s)", r.DeptID, r.DeptName) }
func (r ShiftRecord) Label() string      { return fmt.Sprintf("shift %d (%s)", r.ShiftID, r.ShiftName) }
func (r MachineRecord) Label() string    { return fmt.Sprintf("machine %d (%s)", r.MachineID, r.Alias) }
func (r ExceptionTypeRecord) Label() string {
	return fmt.Sprintf("exception type %d (%s)", r.TypeID, r.TypeName)
}
func (r EmployeeExceptionRecord) Label() string {
	return fmt.Sprintf("exception for badge %s on %s", r.BadgeNumber, r.ExceptionDate.UTC().Format(time.DateOnly))
}
func (r AttendanceLogRecord) Label() string {
	return fmt.Sprintf("attendance log for badge %s at %s", r.BadgeNumber, r.LogTime.UTC().Format(time.DateTime))
}

func (UserRecord) isRecord()              {}
func (DepartmentRecord) isRecord()        {}
func (ShiftRecord) isRecord()             {}
func (MachineRecord) isRecord()           {}
func (ExceptionTypeRecord) isRecord()     {}
func (EmployeeExceptionRecord) isRecord() {}
func (AttendanceLogRecord) isRecord()     {}

type PendingChange struct {
	Table       Table
	RecordKey   string
	Description string
	Type        ChangeType
	Record      Record
	IsApproved  bool
}

func (c PendingChange) String() string {
	return fmt.Sprintf("[%s] %s/%s: %s", c.Type, c.Table, c.RecordKey, c.Description)
}

// ChangeSet is the ordered output of one detection pass.
type ChangeSet []PendingChange

func (cs ChangeSet) HasConflicts() bool {
	for _, c := range cs {
		if c.Type == Conflict {
			return true
		}
	}
	return false
}

func (cs ChangeSet) ApproveAll() {
	for i := range cs {
		cs[i].IsApproved = true
	}
}

func (cs ChangeSet) SetApproved(index int, approved bool) error {
	if index < 0 || index >= len(cs) {
		return fmt.Errorf("change %d out of range (0..%d)", index, len(cs)-1)
	}
	cs[index].IsApproved = approved
	return nil
}

func (cs ChangeSet) CountByType() map[ChangeType]int {
	counts := make(map[ChangeType]int)
	for _, c := range cs {
		counts[c.Type]++
	}
	return counts
}

func (cs ChangeSet) Approved() int {
	n := 0
	for _, c := range cs {
		if c.IsApproved {
			n++
		}
	}
	return n
}

type SyncResult struct {
	RunID     string
	Added     int
	Updated   int
	Skipped   int
	Errors    []string
	Success   bool
	StartedAt time.Time
	Duration  time.Duration
}

func (r *SyncResult) addError(table Table, key string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s/%s: %s", table, key, err.Error()))
}

// Status is the label written to sync_history.status.
func (r *SyncResult) Status() string {
	switch {
	case !r.Success:
		return StatusFailed
	case len(r.Errors) > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// StatusMessage is the label written to remote_locations.last_sync_status.
func (r *SyncResult) StatusMessage() string {
	switch r.Status() {
	case StatusPartial:
		return fmt.Sprintf("Completed with %d errors", len(r.Errors))
	default:
		return r.Status()
	}
}

func (r *SyncResult) String() string {
	return fmt.Sprintf("added=%d updated=%d skipped=%d errors=%d in %s",
		r.Added, r.Updated, r.Skipped, len(r.Errors), r.Duration.Round(time.Millisecond))
}
