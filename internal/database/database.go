package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Builder is any goqu dataset that renders to SQL.
type Builder interface {
	ToSQL() (string, []interface{}, error)
}

type Database struct {
	DB      *sql.DB
	Driver  string
	Dialect goqu.DialectWrapper
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "postgres", nil
	case DriverSQLite:
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// Open creates a pool without contacting the server.
func Open(driver, dsn string) (*Database, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if driver == DriverSQLite {
		// one writer; keeps the file lock uncontended
		db.SetMaxOpenConns(1)
	}

	return &Database{
		DB:      db,
		Driver:  driver,
		Dialect: goqu.Dialect(dialect),
	}, nil
}

// NewDatabase opens and pings the local database described by cfg.
func NewDatabase(ctx context.Context, cfg config.DatabaseConnection) (*Database, error) {
	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		dsn = SQLiteDSN(cfg.FilePath)
	default:
		dsn = PostgresDSN(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	}

	d, err := Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := d.DB.PingContext(ctx); err != nil {
		d.DB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Driver == DriverPostgres {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		d.DB.SetMaxOpenConns(maxOpen)
		d.DB.SetMaxIdleConns(maxOpen / 2)
		d.DB.SetConnMaxLifetime(time.Hour)
	}

	logger.Log.Info("Connected to database",
		zap.String("driver", cfg.Driver),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return d, nil
}

func PostgresDSN(host string, port int, user, password, database, sslMode string) string {
	if port == 0 {
		port = 5432
	}
	if sslMode == "" {
		sslMode = "disable"
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}

func SQLiteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)"
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func ExecTx(ctx context.Context, conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return ExecTx(ctx, d.DB, fn)
}

func Exec(ctx context.Context, q Querier, b Builder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, query, args...)
}

func Query(ctx context.Context, q Querier, b Builder) (*sql.Rows, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

// QueryRow scans the first row produced by b into dest.
func QueryRow(ctx context.Context, q Querier, b Builder, dest ...any) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return err
	}
	return q.QueryRowContext(ctx, query, args...).Scan(dest...)
}

// InsertReturningID runs ds and returns the generated key in idColumn. Postgres
// uses RETURNING; SQLite reports it through LastInsertId.
func (d *Database) InsertReturningID(ctx context.Context, q Querier, ds *goqu.InsertDataset, idColumn string) (int64, error) {
	var id int64
	if d.Driver == DriverPostgres {
		err := QueryRow(ctx, q, ds.Returning(goqu.C(idColumn)), &id)
		return id, err
	}

	res, err := Exec(ctx, q, ds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
