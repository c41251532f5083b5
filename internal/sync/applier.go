package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-sync-service/internal/database"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/metrics"
	"attendance-sync-service/internal/store"
)

type outcome int

const (
	outcomeAdded outcome = iota
	outcomeUpdated
	outcomeSkipped
)

var errNoLocalUser = errors.New("no local user with this badge number")

// NormalizeBadge strips leading zeros so remote badges match the local users
// table, e.g. "0001234" -> "1234". An all-zero badge becomes "0".
func NormalizeBadge(badge string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(badge), "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

type Applier struct {
	local   *database.Database
	store   store.Store
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewApplier(local *database.Database, st store.Store, rec *metrics.Recorder) *Applier {
	return &Applier{
		local:   local,
		store:   st,
		metrics: rec,
		now:     time.Now,
	}
}

// Apply writes every approved change of det into the local database and
// records the run against loc. Each change stands alone: a failing change is
// reported in SyncResult.Errors and the rest continue. Tables the detection
// pass could not read are reported the same way. det.DetectedAt becomes the
// location's watermark only if the whole pass succeeds. The returned error only
// reports a failure to persist history or status; the result is valid either
// way.
func (a *Applier) Apply(ctx context.Context, loc *store.Location, det *Detection, syncType SyncType) (*SyncResult, error) {
	result := &SyncResult{
		RunID:     uuid.NewString(),
		StartedAt: a.now().UTC(),
		Success:   true,
	}
	log := logger.Log.With(
		zap.String("run_id", result.RunID),
		zap.Int64("location_id", loc.ID),
		zap.String("sync_type", string(syncType)),
	)

	for _, t := range det.FailedTables() {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", t, det.Failed[t]))
	}

	if err := a.applyAll(ctx, det.Changes, result, log); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		log.Error("Apply pass aborted", zap.Error(err))
	}
	result.Duration = a.now().Sub(result.StartedAt)

	a.metrics.RecordRun(ctx, metrics.Run{
		Location: loc.Name,
		SyncType: string(syncType),
		Status:   result.Status(),
		Added:    result.Added,
		Updated:  result.Updated,
		Skipped:  result.Skipped,
		Failed:   len(result.Errors),
		Duration: result.Duration,
	})

	log.Info("Apply pass finished",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration),
	)

	return result, a.record(ctx, loc, syncType, result, det.DetectedAt)
}

func (a *Applier) applyAll(ctx context.Context, changes ChangeSet, result *SyncResult, log *zap.Logger) error {
	conn, err := a.local.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire local connection: %w", err)
	}
	defer conn.Close()

	byTable := make(map[Table][]PendingChange)
	for _, c := range changes {
		if !c.IsApproved {
			result.Skipped++
			continue
		}
		byTable[c.Table] = append(byTable[c.Table], c)
	}

	for _, table := range AllTables {
		for _, c := range byTable[table] {
			if err := ctx.Err(); err != nil {
				return err
			}

			out, err := a.applyOne(ctx, conn, c)
			if err != nil {
				result.Skipped++
				result.addError(c.Table, c.RecordKey, err)
				log.Warn("Failed to apply change",
					zap.String("table", string(c.Table)),
					zap.String("key", c.RecordKey),
					zap.Error(err),
				)
				continue
			}

			switch out {
			case outcomeAdded:
				result.Added++
			case outcomeUpdated:
				result.Updated++
			default:
				result.Skipped++
			}
		}
	}

	return nil
}

func changeOutcome(ct ChangeType) outcome {
	if ct == New {
		return outcomeAdded
	}
	return outcomeUpdated
}

func (a *Applier) applyOne(ctx context.Context, conn *sql.Conn, c PendingChange) (outcome, error) {
	d := a.local.Dialect

	var ds *goqu.InsertDataset
	switch r := c.Record.(type) {
	case DepartmentRecord:
		ds = d.Insert("departments").
			Rows(goqu.Record{"dept_id": r.DeptID, "dept_name": r.DeptName}).
			OnConflict(goqu.DoUpdate("dept_id", goqu.Record{"dept_name": goqu.L("EXCLUDED.dept_name")}))
	case ShiftRecord:
		ds = d.Insert("shifts").
			Rows(goqu.Record{"shift_id": r.ShiftID, "shift_name": r.ShiftName, "start_time": r.StartTime, "end_time": r.EndTime}).
			OnConflict(goqu.DoUpdate("shift_id", goqu.Record{
				"shift_name": goqu.L("EXCLUDED.shift_name"),
				"start_time": goqu.L("EXCLUDED.start_time"),
				"end_time":   goqu.L("EXCLUDED.end_time"),
			}))
	case MachineRecord:
		ds = d.Insert("machines").
			Rows(goqu.Record{"machine_id": r.MachineID, "machine_alias": r.Alias, "ip_address": r.IPAddress}).
			OnConflict(goqu.DoUpdate("machine_id", goqu.Record{
				"machine_alias": goqu.L("EXCLUDED.machine_alias"),
				"ip_address":    goqu.L("EXCLUDED.ip_address"),
			}))
	case ExceptionTypeRecord:
		ds = d.Insert("exception_types").
			Rows(goqu.Record{"type_id": r.TypeID, "type_name": r.TypeName, "description": r.Description, "is_active": r.IsActive}).
			OnConflict(goqu.DoUpdate("type_id", goqu.Record{
				"type_name":   goqu.L("EXCLUDED.type_name"),
				"description": goqu.L("EXCLUDED.description"),
				"is_active":   goqu.L("EXCLUDED.is_active"),
			}))
	case UserRecord:
		ds = d.Insert("users").
			Rows(goqu.Record{"badge_number": r.BadgeNumber, "name": r.Name, "default_dept_id": r.DefaultDeptID}).
			OnConflict(goqu.DoUpdate("badge_number", goqu.Record{
				"name":            goqu.L("EXCLUDED.name"),
				"default_dept_id": goqu.L("EXCLUDED.default_dept_id"),
			}))
	case EmployeeExceptionRecord:
		return a.applyEmployeeException(ctx, conn, c.Type, r)
	case AttendanceLogRecord:
		return a.applyAttendanceLog(ctx, conn, r)
	default:
		return outcomeSkipped, fmt.Errorf("unsupported record type %T", c.Record)
	}

	if _, err := database.Exec(ctx, conn, ds.Prepared(true)); err != nil {
		return outcomeSkipped, err
	}
	return changeOutcome(c.Type), nil
}

// applyEmployeeException replaces the (user, date) exception in one small
// transaction.
func (a *Applier) applyEmployeeException(ctx context.Context, conn *sql.Conn, ct ChangeType, r EmployeeExceptionRecord) (outcome, error) {
	d := a.local.Dialect

	var userID int64
	err := database.QueryRow(ctx, conn,
		d.From("users").Select("user_id").Where(goqu.C("badge_number").Eq(r.BadgeNumber)).Limit(1).Prepared(true),
		&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return outcomeSkipped, fmt.Errorf("%w: %s", errNoLocalUser, r.BadgeNumber)
	}
	if err != nil {
		return outcomeSkipped, err
	}

	stamp := a.now().UTC()
	if r.UpdatedAt.Valid {
		// keep the remote modification time so the local row does not look
		// locally edited on the next pass
		stamp = r.UpdatedAt.Time.UTC()
	}
	date := r.ExceptionDate.UTC()

	err = database.ExecTx(ctx, conn, func(tx *sql.Tx) error {
		del := d.Delete("employee_exceptions").
			Where(goqu.C("user_id").Eq(userID), goqu.C("exception_date").Eq(date)).
			Prepared(true)
		if _, err := database.Exec(ctx, tx, del); err != nil {
			return err
		}

		ins := d.Insert("employee_exceptions").Rows(goqu.Record{
			"user_id":            userID,
			"exception_date":     date,
			"type_id":            r.TypeID,
			"notes":              r.Notes,
			"clock_in_override":  r.ClockInOverride,
			"clock_out_override": r.ClockOutOverride,
			"created_at":         stamp,
			"updated_at":         stamp,
		}).Prepared(true)
		_, err := database.Exec(ctx, tx, ins)
		return err
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return changeOutcome(ct), nil
}

// applyAttendanceLog inserts the punch unless it is already present under the
// normalized badge.
func (a *Applier) applyAttendanceLog(ctx context.Context, conn *sql.Conn, r AttendanceLogRecord) (outcome, error) {
	d := a.local.Dialect
	badge := NormalizeBadge(r.BadgeNumber)
	logTime := r.LogTime.UTC()

	var n int
	err := database.QueryRow(ctx, conn,
		d.From("attendance_logs").
			Select(goqu.COUNT("*")).
			Where(goqu.C("user_badge_number").Eq(badge), goqu.C("log_time").Eq(logTime)).
			Prepared(true),
		&n)
	if err != nil {
		return outcomeSkipped, err
	}
	if n > 0 {
		return outcomeSkipped, nil
	}

	ins := d.Insert("attendance_logs").Rows(goqu.Record{
		"user_badge_number": badge,
		"log_time":          logTime,
		"machine_id":        r.MachineID,
	}).Prepared(true)
	if _, err := database.Exec(ctx, conn, ins); err != nil {
		return outcomeSkipped, err
	}
	return outcomeAdded, nil
}

// record appends the history row and updates the location status. On a clean
// run the watermark moves forward to detectedAt; it never moves back.
func (a *Applier) record(ctx context.Context, loc *store.Location, syncType SyncType, result *SyncResult, detectedAt time.Time) error {
	completed := result.StartedAt.Add(result.Duration)

	history := &store.SyncHistory{
		LocationID:     loc.ID,
		SyncType:       string(syncType),
		RecordsAdded:   result.Added,
		RecordsUpdated: result.Updated,
		RecordsSkipped: result.Skipped,
		Status:         result.Status(),
		StartedAt:      result.StartedAt,
		CompletedAt:    sql.NullTime{Time: completed, Valid: true},
	}
	if len(result.Errors) > 0 {
		history.ErrorMessage = sql.NullString{String: strings.Join(result.Errors, "\n"), Valid: true}
	}

	var errs []error
	if err := a.store.CreateSyncHistory(ctx, history); err != nil {
		errs = append(errs, err)
	}

	// a run with per-record or per-table errors keeps the old watermark so
	// the missed time-filtered rows are picked up again
	var watermark *time.Time
	if result.Status() == StatusSuccess && !detectedAt.IsZero() {
		w := detectedAt.UTC()
		if !loc.LastSyncTime.Valid || w.After(loc.LastSyncTime.Time) {
			watermark = &w
		}
	}
	if err := a.store.UpdateLocationSyncStatus(ctx, loc.ID, result.StatusMessage(), watermark); err != nil {
		errs = append(errs, fmt.Errorf("failed to update status of location %d: %w", loc.ID, err))
	}

	return errors.Join(errs...)
}
