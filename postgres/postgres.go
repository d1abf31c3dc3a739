// Package postgres is the client-server backend. SQL is passed to PostgreSQL unchanged;
// the package only binds parameters, converts result values and wraps driver errors.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonbodner/dbtimer"
	_ "github.com/lib/pq"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/rewrite"
)

const (
	DriverName      = "postgres"
	TimerDriverName = "timer"
)

// queryer is what statements run against: the pool or a transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Adapter implements dualdb.Adapter on a PostgreSQL connection pool.
type Adapter struct {
	db        *sql.DB
	config    Config
	logger    dualdb.Logger
	version   string
	startTime time.Time
}

var (
	_ dualdb.Adapter        = (*Adapter)(nil)
	_ dualdb.StatusReporter = (*Adapter)(nil)
)

var timerLoggerOnce sync.Once

// New opens a connection pool described by config and verifies it with a ping and a
// version query. A nil logger discards output.
func New(ctx context.Context, config Config, logger dualdb.Logger) (*Adapter, error) {
	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = dualdb.NewNoopLogger()
	}
	logger = logger.With(dualdb.String("backend", dualdb.BACKEND_POSTGRES))

	dsn, err := config.ToDSN()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPostgresInvalidConfig, err)
	}

	driverName := DriverName
	if config.TimeStatements {
		// dbtimer wraps the postgres driver; its DSN is "<driver> <dsn>".
		driverName = TimerDriverName
		dsn = DriverName + " " + dsn
		timerLoggerOnce.Do(func() {
			dbtimer.SetTimerLoggerFunc(func(ti dbtimer.TimerInfo) {
				fields := []dualdb.Field{
					dualdb.String("method", ti.Method),
					dualdb.String("query", dualdb.TruncateSQL(ti.Query, dualdb.DEFAULT_TRUNCATE_SQL)),
					dualdb.Duration("duration", ti.End.Sub(ti.Start)),
				}
				if ti.Err != nil {
					fields = append(fields, dualdb.Error(ti.Err))
				}
				logger.Debug("driver call", fields...)
			})
		})
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		wrappedErr := WrapPostgreSQLError(err, "CONNECT", "", "")
		return nil, fmt.Errorf("%w: %v", ErrPostgresConnectionFailed, wrappedErr)
	}

	// Set connection pool properties from config
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	version, err := validatePostgreSQLConnection(pingCtx, db)
	if err != nil {
		db.Close() // Clean up the connection on failure
		wrappedErr := WrapPostgreSQLError(err, "PING", "", "")
		return nil, fmt.Errorf("%w: %v", ErrPostgresConnectionFailed, wrappedErr)
	}

	logger.Info("PostgreSQL pool opened", dualdb.String("server", config.String()),
		dualdb.String("version", version))
	return newAdapter(db, config, logger, version), nil
}

// NewFromDB wraps an already opened pool, e.g. one from sqlmock or a shared *sql.DB.
// The pool settings of config are not applied.
func NewFromDB(db *sql.DB, config Config, logger dualdb.Logger) *Adapter {
	if logger == nil {
		logger = dualdb.NewNoopLogger()
	}
	if config.SlowQueryThreshold <= 0 {
		config.SlowQueryThreshold = DefaultSlowQueryThreshold
	}
	return newAdapter(db, config, logger.With(dualdb.String("backend", dualdb.BACKEND_POSTGRES)), "")
}

func newAdapter(db *sql.DB, config Config, logger dualdb.Logger, version string) *Adapter {
	return &Adapter{
		db:        db,
		config:    config,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// Name returns "postgres".
func (pdb *Adapter) Name() string { return dualdb.BACKEND_POSTGRES }

// Close closes the database connection pool.
func (pdb *Adapter) Close() error {
	return pdb.db.Close()
}

// DB exposes the underlying pool.
func (pdb *Adapter) DB() *sql.DB { return pdb.db }

// PoolStatus reports the pool counters from database/sql. WaitingCount is the cumulative
// number of waits for a connection since the pool was opened, the closest figure
// database/sql exposes to "requests waiting".
func (pdb *Adapter) PoolStatus() dualdb.PoolStatus {
	st := pdb.db.Stats()
	return dualdb.PoolStatus{
		TotalCount:   st.OpenConnections,
		IdleCount:    st.Idle,
		WaitingCount: int(st.WaitCount),
	}
}

// Query runs query unchanged on the pool.
func (pdb *Adapter) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	return pdb.query(ctx, pdb.db, query, params)
}

func (pdb *Adapter) query(ctx context.Context, q queryer, query string, params []any) (dualdb.QueryResult, error) {
	command := rewrite.Classify(query)
	args, err := bindParams(params)
	if err != nil {
		return dualdb.QueryResult{}, dualdb.WrapErrorWithQuery(err, pdb.Name(), command, "", query)
	}

	if _, ok := ctx.Deadline(); !ok && pdb.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pdb.config.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > pdb.config.SlowQueryThreshold {
			// parameter values are never logged
			pdb.logger.Warn("slow query",
				dualdb.String("query", dualdb.TruncateSQL(query, dualdb.DEFAULT_TRUNCATE_SQL)),
				dualdb.Duration("duration", elapsed))
		}
	}()

	// Statements that produce rows (including writes with RETURNING) go through
	// QueryContext; everything else through ExecContext for an accurate affected count.
	if rewrite.IsRead(command) || rewrite.ParseReturning(query).HasReturning {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return dualdb.QueryResult{}, WrapPostgreSQLError(err, command, tableOf(query), query)
		}
		records, fields, err := dualdb.ScanRows(rows, convertPostgreSQLValue)
		if err != nil {
			return dualdb.QueryResult{}, WrapPostgreSQLError(err, command, tableOf(query), query)
		}
		return dualdb.QueryResult{Rows: records, RowCount: len(records), Command: command, Fields: fields}, nil
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return dualdb.QueryResult{}, WrapPostgreSQLError(err, command, tableOf(query), query)
	}
	affected, _ := res.RowsAffected()
	return dualdb.QueryResult{Rows: []dualdb.Record{}, RowCount: int(affected), Command: command}, nil
}

// tableOf names the target of a write for error context, or "" for anything else.
func tableOf(query string) string {
	table, err := rewrite.TableName(query)
	if err != nil {
		return ""
	}
	return strings.ToLower(table)
}

// Status reports the server version, the database size and the pool counters.
func (pdb *Adapter) Status(ctx context.Context) (dualdb.BackendStatus, error) {
	st := dualdb.BackendStatus{
		Backend:   pdb.Name(),
		Driver:    DriverName,
		URL:       pdb.config.SafeURL(),
		Version:   pdb.version,
		StartTime: pdb.startTime,
		Uptime:    time.Since(pdb.startTime),
		Pool:      pdb.PoolStatus(),
	}
	if st.Version == "" {
		if err := pdb.db.QueryRowContext(ctx, "SHOW server_version").Scan(&st.Version); err != nil {
			return st, WrapPostgreSQLError(err, "STATUS", "", "SHOW server_version")
		}
	}
	if err := pdb.db.QueryRowContext(ctx, "SELECT pg_database_size(current_database())").Scan(&st.DBSize); err != nil {
		return st, WrapPostgreSQLError(err, "STATUS", "", "SELECT pg_database_size")
	}
	return st, nil
}
