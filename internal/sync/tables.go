package sync

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"attendance-sync-service/internal/database"
)

type scanner interface {
	Scan(dest ...any) error
}

// tableDef describes how one tracked table is read on both sides and which
// fields decide whether a row diverged.
type tableDef[R Record] struct {
	table Table
	// remote selects the candidate rows on the remote side.
	remote func(d goqu.DialectWrapper, since time.Time) *goqu.SelectDataset
	// local selects the row sharing r's natural key.
	local func(d goqu.DialectWrapper, r R) *goqu.SelectDataset
	scan  func(sc scanner) (R, error)
	// diff names the compared fields that differ. Nil for existence-only tables.
	diff func(remote, local R) []string
	// localEdited reports a local modification after the watermark. Nil when
	// the table carries no modification time.
	localEdited func(local R, since time.Time) bool
}

func fetchAll[R Record](ctx context.Context, q database.Querier, ds *goqu.SelectDataset, scan func(scanner) (R, error)) ([]R, error) {
	rows, err := database.Query(ctx, q, ds.Prepared(true))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []R
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fetchOne[R Record](ctx context.Context, q database.Querier, ds *goqu.SelectDataset, scan func(scanner) (R, error)) (R, bool, error) {
	var zero R
	query, args, err := ds.Limit(1).Prepared(true).ToSQL()
	if err != nil {
		return zero, false, err
	}

	r, err := scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return r, true, nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func timeText(col string) interface{} {
	return goqu.Cast(goqu.I(col), "TEXT").As(goqu.C(lastSegment(col)))
}

func lastSegment(col string) string {
	for i := len(col) - 1; i >= 0; i-- {
		if col[i] == '.' {
			return col[i+1:]
		}
	}
	return col
}

func nullStringEq(a, b sql.NullString) bool {
	return a.Valid == b.Valid && (!a.Valid || a.String == b.String)
}

func nullIntEq(a, b sql.NullInt64) bool {
	return a.Valid == b.Valid && (!a.Valid || a.Int64 == b.Int64)
}

type fieldDiff []string

func (f fieldDiff) check(name string, equal bool) fieldDiff {
	if !equal {
		return append(f, name)
	}
	return f
}

var departmentsDef = tableDef[DepartmentRecord]{
	table: TableDepartments,
	remote: func(d goqu.DialectWrapper, _ time.Time) *goqu.SelectDataset {
		return d.From("departments").Select("dept_id", "dept_name").Order(goqu.C("dept_id").Asc())
	},
	local: func(d goqu.DialectWrapper, r DepartmentRecord) *goqu.SelectDataset {
		return d.From("departments").Select("dept_id", "dept_name").Where(goqu.C("dept_id").Eq(r.DeptID))
	},
	scan: func(sc scanner) (DepartmentRecord, error) {
		var r DepartmentRecord
		err := sc.Scan(&r.DeptID, &r.DeptName)
		return r, err
	},
	diff: func(remote, local DepartmentRecord) []string {
		return fieldDiff(nil).check("dept_name", remote.DeptName == local.DeptName)
	},
}

var shiftsDef = tableDef[ShiftRecord]{
	table: TableShifts,
	remote: func(d goqu.DialectWrapper, _ time.Time) *goqu.SelectDataset {
		return d.From("shifts").
			Select("shift_id", "shift_name", timeText("start_time"), timeText("end_time")).
			Order(goqu.C("shift_id").Asc())
	},
	local: func(d goqu.DialectWrapper, r ShiftRecord) *goqu.SelectDataset {
		return d.From("shifts").
			Select("shift_id", "shift_name", timeText("start_time"), timeText("end_time")).
			Where(goqu.C("shift_id").Eq(r.ShiftID))
	},
	scan: func(sc scanner) (ShiftRecord, error) {
		var r ShiftRecord
		err := sc.Scan(&r.ShiftID, &r.ShiftName, &r.StartTime, &r.EndTime)
		return r, err
	},
	diff: func(remote, local ShiftRecord) []string {
		return fieldDiff(nil).
			check("shift_name", remote.ShiftName == local.ShiftName).
			check("start_time", nullStringEq(remote.StartTime, local.StartTime)).
			check("end_time", nullStringEq(remote.EndTime, local.EndTime))
	},
}

var machinesDef = tableDef[MachineRecord]{
	table: TableMachines,
	remote: func(d goqu.DialectWrapper, _ time.Time) *goqu.SelectDataset {
		return d.From("machines").Select("machine_id", "machine_alias", "ip_address").Order(goqu.C("machine_id").Asc())
	},
	local: func(d goqu.DialectWrapper, r MachineRecord) *goqu.SelectDataset {
		return d.From("machines").Select("machine_id", "machine_alias", "ip_address").Where(goqu.C("machine_id").Eq(r.MachineID))
	},
	scan: func(sc scanner) (MachineRecord, error) {
		var r MachineRecord
		err := sc.Scan(&r.MachineID, &r.Alias, &r.IPAddress)
		return r, err
	},
	diff: func(remote, local MachineRecord) []string {
		return fieldDiff(nil).
			check("machine_alias", remote.Alias == local.Alias).
			check("ip_address", nullStringEq(remote.IPAddress, local.IPAddress))
	},
}

var exceptionTypesDef = tableDef[ExceptionTypeRecord]{
	table: TableExceptionTypes,
	remote: func(d goqu.DialectWrapper, _ time.Time) *goqu.SelectDataset {
		return d.From("exception_types").Select("type_id", "type_name", "description", "is_active").Order(goqu.C("type_id").Asc())
	},
	local: func(d goqu.DialectWrapper, r ExceptionTypeRecord) *goqu.SelectDataset {
		return d.From("exception_types").Select("type_id", "type_name", "description", "is_active").Where(goqu.C("type_id").Eq(r.TypeID))
	},
	scan: func(sc scanner) (ExceptionTypeRecord, error) {
		var r ExceptionTypeRecord
		err := sc.Scan(&r.TypeID, &r.TypeName, &r.Description, &r.IsActive)
		return r, err
	},
	diff: func(remote, local ExceptionTypeRecord) []string {
		return fieldDiff(nil).
			check("type_name", remote.TypeName == local.TypeName).
			check("description", nullStringEq(remote.Description, local.Description)).
			check("is_active", remote.IsActive == local.IsActive)
	},
}

var usersDef = tableDef[UserRecord]{
	table: TableUsers,
	remote: func(d goqu.DialectWrapper, _ time.Time) *goqu.SelectDataset {
		return d.From("users").Select("badge_number", "name", "default_dept_id").Order(goqu.C("badge_number").Asc())
	},
	local: func(d goqu.DialectWrapper, r UserRecord) *goqu.SelectDataset {
		// raw badge on purpose; normalization is an apply-time concern
		return d.From("users").Select("badge_number", "name", "default_dept_id").Where(goqu.C("badge_number").Eq(r.BadgeNumber))
	},
	scan: func(sc scanner) (UserRecord, error) {
		var r UserRecord
		err := sc.Scan(&r.BadgeNumber, &r.Name, &r.DefaultDeptID)
		return r, err
	},
	diff: func(remote, local UserRecord) []string {
		return fieldDiff(nil).
			check("name", remote.Name == local.Name).
			check("default_dept_id", nullIntEq(remote.DefaultDeptID, local.DefaultDeptID))
	},
}

func employeeExceptionsFrom(d goqu.DialectWrapper) *goqu.SelectDataset {
	return d.From(goqu.T("employee_exceptions").As("e")).
		InnerJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.user_id").Eq(goqu.I("e.user_id")))).
		Select(
			goqu.I("u.badge_number"),
			goqu.I("e.exception_date"),
			goqu.I("e.type_id"),
			goqu.I("e.notes"),
			timeText("e.clock_in_override"),
			timeText("e.clock_out_override"),
			goqu.I("e.updated_at"),
		)
}

var employeeExceptionsDef = tableDef[EmployeeExceptionRecord]{
	table: TableEmployeeExceptions,
	remote: func(d goqu.DialectWrapper, since time.Time) *goqu.SelectDataset {
		return employeeExceptionsFrom(d).
			Where(goqu.Or(
				goqu.I("e.updated_at").Gt(utc(since)),
				goqu.I("e.created_at").Gt(utc(since)),
			)).
			Order(goqu.I("e.exception_date").Asc(), goqu.I("u.badge_number").Asc())
	},
	local: func(d goqu.DialectWrapper, r EmployeeExceptionRecord) *goqu.SelectDataset {
		return employeeExceptionsFrom(d).Where(
			goqu.I("u.badge_number").Eq(r.BadgeNumber),
			goqu.I("e.exception_date").Eq(utc(r.ExceptionDate)),
		)
	},
	scan: func(sc scanner) (EmployeeExceptionRecord, error) {
		var r EmployeeExceptionRecord
		err := sc.Scan(&r.BadgeNumber, &r.ExceptionDate, &r.TypeID, &r.Notes, &r.ClockInOverride, &r.ClockOutOverride, &r.UpdatedAt)
		r.ExceptionDate = utc(r.ExceptionDate)
		return r, err
	},
	diff: func(remote, local EmployeeExceptionRecord) []string {
		return fieldDiff(nil).
			check("type_id", remote.TypeID == local.TypeID).
			check("notes", nullStringEq(remote.Notes, local.Notes)).
			check("clock_in_override", nullStringEq(remote.ClockInOverride, local.ClockInOverride)).
			check("clock_out_override", nullStringEq(remote.ClockOutOverride, local.ClockOutOverride))
	},
	localEdited: func(local EmployeeExceptionRecord, since time.Time) bool {
		return local.UpdatedAt.Valid && local.UpdatedAt.Time.After(since)
	},
}

var attendanceLogsDef = tableDef[AttendanceLogRecord]{
	table: TableAttendanceLogs,
	remote: func(d goqu.DialectWrapper, since time.Time) *goqu.SelectDataset {
		return d.From("attendance_logs").
			Select("user_badge_number", "log_time", "machine_id").
			Where(goqu.C("log_time").Gt(utc(since))).
			Order(goqu.C("log_time").Asc(), goqu.C("user_badge_number").Asc())
	},
	local: func(d goqu.DialectWrapper, r AttendanceLogRecord) *goqu.SelectDataset {
		return d.From("attendance_logs").
			Select("user_badge_number", "log_time", "machine_id").
			Where(
				goqu.C("user_badge_number").Eq(r.BadgeNumber),
				goqu.C("log_time").Eq(utc(r.LogTime)),
			)
	},
	scan: func(sc scanner) (AttendanceLogRecord, error) {
		var r AttendanceLogRecord
		err := sc.Scan(&r.BadgeNumber, &r.LogTime, &r.MachineID)
		r.LogTime = utc(r.LogTime)
		return r, err
	},
}
