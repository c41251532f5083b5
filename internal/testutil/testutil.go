// Package testutil builds throwaway SQLite sites for tests: a local database
// carrying both the tracked entity tables and the location registry, and any
// number of remote sites reachable through a Connector.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/require"

	"attendance-sync-service/internal/database"
	"attendance-sync-service/internal/store"
)

var entitySchema = []string{
	`create table departments (
    dept_id integer primary key,
    dept_name text not null
)`,
	`create table shifts (
    shift_id integer primary key,
    shift_name text not null,
    start_time time,
    end_time time
)`,
	`create table machines (
    machine_id integer primary key,
    machine_alias text not null,
    ip_address text
)`,
	`create table exception_types (
    type_id integer primary key,
    type_name text not null,
    description text,
    is_active boolean not null default 1
)`,
	`create table users (
    user_id integer primary key autoincrement,
    badge_number text not null unique,
    name text not null,
    default_dept_id integer
)`,
	`create table employee_exceptions (
    exception_id integer primary key autoincrement,
    user_id integer not null references users(user_id),
    exception_date date not null,
    type_id integer not null,
    notes text,
    clock_in_override time,
    clock_out_override time,
    created_at timestamp not null,
    updated_at timestamp
)`,
	`create table attendance_logs (
    log_id integer primary key autoincrement,
    user_badge_number text not null,
    log_time timestamp not null,
    machine_id integer
)`,
}

// Site is one SQLite database file with the entity tables in place.
type Site struct {
	Path string
	DB   *database.Database
}

// NewSite creates name.db under a per-test directory.
func NewSite(t testing.TB, name string) *Site {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), name+".db")
	db, err := database.Open(database.DriverSQLite, database.SQLiteDSN(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range entitySchema {
		_, err := db.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	return &Site{Path: path, DB: db}
}

// NewRegistry migrates the registry tables into site and returns a store on it.
func NewRegistry(t testing.TB, site *Site) *store.SQLStore {
	t.Helper()
	require.NoError(t, store.Migrate(context.Background(), site.DB))
	return store.NewSQLStore(site.DB)
}

// AddLocation registers a remote site and returns its location row.
func AddLocation(t testing.TB, st store.Store, name string) *store.Location {
	t.Helper()
	loc := &store.Location{
		Name:         name,
		Host:         name + ".local",
		Port:         5432,
		DatabaseName: "attendance",
		Username:     "sync",
		Password:     "secret",
		IsActive:     true,
	}
	require.NoError(t, st.CreateLocation(context.Background(), loc))
	return loc
}

func (s *Site) exec(t testing.TB, b database.Builder) {
	t.Helper()
	_, err := database.Exec(context.Background(), s.DB.DB, b)
	require.NoError(t, err)
}

func (s *Site) AddDepartment(t testing.TB, id int64, name string) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Insert("departments").
		Rows(goqu.Record{"dept_id": id, "dept_name": name}).Prepared(true))
}

func (s *Site) RenameDepartment(t testing.TB, id int64, name string) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Update("departments").
		Set(goqu.Record{"dept_name": name}).
		Where(goqu.C("dept_id").Eq(id)).Prepared(true))
}

func (s *Site) AddExceptionType(t testing.TB, id int64, name string) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Insert("exception_types").
		Rows(goqu.Record{"type_id": id, "type_name": name, "is_active": true}).Prepared(true))
}

func (s *Site) DescribeExceptionType(t testing.TB, id int64, name, description string, active bool) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Update("exception_types").
		Set(goqu.Record{"type_name": name, "description": description, "is_active": active}).
		Where(goqu.C("type_id").Eq(id)).Prepared(true))
}

// AddShift inserts a shift; start and end are "15:04:05" clock times.
func (s *Site) AddShift(t testing.TB, id int64, name, start, end string) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Insert("shifts").
		Rows(goqu.Record{"shift_id": id, "shift_name": name, "start_time": start, "end_time": end}).Prepared(true))
}

func (s *Site) SetShiftEnd(t testing.TB, id int64, end string) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Update("shifts").
		Set(goqu.Record{"end_time": end}).
		Where(goqu.C("shift_id").Eq(id)).Prepared(true))
}

func (s *Site) AddMachine(t testing.TB, id int64, alias, ip string) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Insert("machines").
		Rows(goqu.Record{"machine_id": id, "machine_alias": alias, "ip_address": ip}).Prepared(true))
}

func (s *Site) SetMachineAddress(t testing.TB, id int64, ip string) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Update("machines").
		Set(goqu.Record{"ip_address": ip}).
		Where(goqu.C("machine_id").Eq(id)).Prepared(true))
}

// RenameTable moves a table out of (or back into) place so reads of it fail.
func (s *Site) RenameTable(t testing.TB, from, to string) {
	t.Helper()
	_, err := s.DB.DB.ExecContext(context.Background(), fmt.Sprintf("alter table %s rename to %s", from, to))
	require.NoError(t, err)
}

// AddUser inserts a user and returns its user_id.
func (s *Site) AddUser(t testing.TB, badge, name string) int64 {
	t.Helper()
	id, err := s.DB.InsertReturningID(context.Background(), s.DB.DB,
		s.DB.Dialect.Insert("users").Rows(goqu.Record{"badge_number": badge, "name": name}).Prepared(true),
		"user_id")
	require.NoError(t, err)
	return id
}

func (s *Site) AddException(t testing.TB, userID int64, date time.Time, typeID int64, notes string, modified time.Time) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Insert("employee_exceptions").Rows(goqu.Record{
		"user_id":        userID,
		"exception_date": date.UTC(),
		"type_id":        typeID,
		"notes":          notes,
		"created_at":     modified.UTC(),
		"updated_at":     modified.UTC(),
	}).Prepared(true))
}

func (s *Site) EditException(t testing.TB, userID int64, date time.Time, notes string, modified time.Time) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Update("employee_exceptions").
		Set(goqu.Record{"notes": notes, "updated_at": modified.UTC()}).
		Where(goqu.C("user_id").Eq(userID), goqu.C("exception_date").Eq(date.UTC())).
		Prepared(true))
}

func (s *Site) AddAttendanceLog(t testing.TB, badge string, at time.Time) {
	t.Helper()
	s.exec(t, s.DB.Dialect.Insert("attendance_logs").
		Rows(goqu.Record{"user_badge_number": badge, "log_time": at.UTC()}).Prepared(true))
}

func (s *Site) Count(t testing.TB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow(context.Background(), s.DB.DB,
		s.DB.Dialect.From(table).Select(goqu.COUNT("*")).Prepared(true), &n))
	return n
}

// Column returns the values of col in table ordered by col.
func (s *Site) Column(t testing.TB, table, col string) []string {
	t.Helper()
	rows, err := database.Query(context.Background(), s.DB.DB,
		s.DB.Dialect.From(table).Select(goqu.C(col)).Order(goqu.C(col).Asc()).Prepared(true))
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}

var ErrUnreachable = errors.New("connection refused")

// Connector maps location ids to site files. Locations marked down, or never
// registered, fail to connect.
type Connector struct {
	mu    stdsync.Mutex
	sites map[int64]string
	down  map[int64]bool

	// Gate, when set, blocks every Connect until it is closed. Entered is
	// signalled without blocking when a call reaches the gate.
	Gate    chan struct{}
	Entered chan struct{}
}

func NewConnector() *Connector {
	return &Connector{
		sites: make(map[int64]string),
		down:  make(map[int64]bool),
	}
}

func (c *Connector) Register(loc *store.Location, site *Site) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sites[loc.ID] = site.Path
}

func (c *Connector) SetDown(id int64, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[id] = down
}

func (c *Connector) Connect(loc *store.Location) (*database.Database, error) {
	if c.Gate != nil {
		select {
		case c.Entered <- struct{}{}:
		default:
		}
		<-c.Gate
	}

	c.mu.Lock()
	path, ok := c.sites[loc.ID]
	down := c.down[loc.ID]
	c.mu.Unlock()

	if !ok || down {
		return nil, fmt.Errorf("%s:%d: %w", loc.Host, loc.Port, ErrUnreachable)
	}
	return database.Open(database.DriverSQLite, database.SQLiteDSN(path))
}
