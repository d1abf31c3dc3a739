// Package sqlite is the embedded backend: a single-file SQLite database in WAL mode that
// accepts the same $N-parameterized SQL as the postgres package by rewriting it first.
//
// The adapter holds exactly one open connection, so writers are serialized. Inside a
// Transaction callback use the Tx handle; calling the Adapter itself from there blocks
// until the transaction ends.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/rewrite"
)

const DriverName = "sqlite3"

// execer is what statements run against: the *sql.DB or the *sql.Tx of a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Adapter implements dualdb.Adapter on an embedded SQLite file.
type Adapter struct {
	db        *sql.DB
	config    Config
	rewriter  *rewrite.Rewriter
	logger    dualdb.Logger
	startTime time.Time
}

var (
	_ dualdb.Adapter        = (*Adapter)(nil)
	_ dualdb.StatusReporter = (*Adapter)(nil)
)

// New opens the database described by config, checks that it runs in WAL mode and
// bootstraps the schema unless config.SkipSchema is set. A nil logger discards output.
func New(ctx context.Context, config Config, logger dualdb.Logger) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = DefaultBusyTimeout
	}
	if logger == nil {
		logger = dualdb.NewNoopLogger()
	}
	logger = logger.With(dualdb.String("backend", dualdb.BACKEND_SQLITE))

	db, err := sql.Open(DriverName, config.ToDSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLiteOpenFailed, err)
	}

	// One connection: SQLite has a single writer, and an in-memory database lives only as
	// long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrSQLiteOpenFailed, err)
	}

	if !config.InMemory() {
		var mode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrSQLiteOpenFailed, err)
		}
		if !strings.EqualFold(mode, "wal") {
			db.Close()
			return nil, fmt.Errorf("%w: journal_mode is %q", ErrSQLiteNotWAL, mode)
		}
	}

	a := &Adapter{
		db:        db,
		config:    config,
		rewriter:  rewrite.New(),
		logger:    logger,
		startTime: time.Now(),
	}

	if !config.SkipSchema {
		if err := a.Bootstrap(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("SQLite database opened", dualdb.String("path", config.Path))
	return a, nil
}

// Name returns "sqlite".
func (a *Adapter) Name() string { return dualdb.BACKEND_SQLITE }

// Close closes the database. The WAL is checkpointed by SQLite on the last close.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// PoolStatus always reports one idle connection.
func (a *Adapter) PoolStatus() dualdb.PoolStatus {
	return dualdb.SinglePoolStatus
}

// DB exposes the underlying handle for tooling that needs it (backups, PRAGMAs).
func (a *Adapter) DB() *sql.DB { return a.db }

// SetRewriter replaces the statement rewriter, e.g. one with deterministic UUIDs.
func (a *Adapter) SetRewriter(r *rewrite.Rewriter) {
	if r != nil {
		a.rewriter = r
	}
}

// Query rewrites query into the SQLite dialect and runs it. INSERT, UPDATE and DELETE with a
// RETURNING clause are emulated inside a transaction; see returning.go.
func (a *Adapter) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	return a.query(ctx, nil, query, params)
}

// query runs one statement on tx, or on the database when tx is nil.
func (a *Adapter) query(ctx context.Context, tx *sql.Tx, query string, params []any) (dualdb.QueryResult, error) {
	normalized, err := rewrite.NormalizeParams(params)
	if err != nil {
		return dualdb.QueryResult{}, dualdb.WrapErrorWithQuery(err, a.Name(), "NORMALIZE", "", query)
	}
	out, err := a.rewriter.Rewrite(query, normalized)
	if err != nil {
		return dualdb.QueryResult{}, dualdb.WrapErrorWithQuery(err, a.Name(), "REWRITE", "", query)
	}

	command := rewrite.Classify(out.SQL)
	var ex execer = a.db
	if tx != nil {
		ex = tx
	}

	if rewrite.IsRead(command) {
		return a.read(ctx, ex, command, out)
	}

	ret := rewrite.ParseReturning(out.SQL)
	if ret.HasReturning && isEmulated(command) {
		if tx != nil {
			return a.returning(ctx, tx, command, ret, out.Params)
		}
		var res dualdb.QueryResult
		err := a.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			res, err = a.returning(ctx, tx, command, ret, out.Params)
			return err
		})
		return res, err
	}

	return a.exec(ctx, ex, command, out)
}

func (a *Adapter) read(ctx context.Context, ex execer, command string, out rewrite.Outcome) (dualdb.QueryResult, error) {
	rows, err := ex.QueryContext(ctx, out.SQL, out.Params...)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, command, "", out.SQL)
	}
	records, fields, err := dualdb.ScanRows(rows, dualdb.BytesToString)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, command, "", out.SQL)
	}
	return dualdb.QueryResult{Rows: records, RowCount: len(records), Command: command, Fields: fields}, nil
}

func (a *Adapter) exec(ctx context.Context, ex execer, command string, out rewrite.Outcome) (dualdb.QueryResult, error) {
	res, err := ex.ExecContext(ctx, out.SQL, out.Params...)
	if err != nil {
		table, _ := rewrite.TableName(out.SQL)
		return dualdb.QueryResult{}, wrapError(err, command, table, out.SQL)
	}
	affected, _ := res.RowsAffected()
	return dualdb.QueryResult{Rows: []dualdb.Record{}, RowCount: int(affected), Command: command}, nil
}

// withTx runs fn in a private transaction.
func (a *Adapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return dualdb.WrapTransactionError(err, "BEGIN")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			a.logger.Warn("rollback failed", dualdb.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return dualdb.WrapTransactionError(err, "COMMIT")
	}
	return nil
}

// Status describes the database file, its WAL sidecar and the schema version.
func (a *Adapter) Status(ctx context.Context) (dualdb.BackendStatus, error) {
	st := dualdb.BackendStatus{
		Backend:   a.Name(),
		Driver:    DriverName,
		URL:       a.config.Path,
		StartTime: a.startTime,
		Uptime:    time.Since(a.startTime),
		Pool:      a.PoolStatus(),
	}
	if err := a.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&st.Version); err != nil {
		return st, wrapError(err, "STATUS", "", "SELECT sqlite_version()")
	}
	if !a.config.InMemory() {
		if fi, err := os.Stat(a.config.Path); err == nil {
			st.DBSize = fi.Size()
		}
		if fi, err := os.Stat(a.config.Path + "-wal"); err == nil {
			st.WALSize = fi.Size()
		}
	}
	if v, err := a.SchemaVersion(ctx); err == nil {
		st.SchemaVersion = v
	}
	return st, nil
}
