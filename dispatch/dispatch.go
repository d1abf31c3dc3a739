// Package dispatch is the facade business code talks to. The backend is chosen once from
// configuration; every statement and transaction then goes through the Dispatcher, which
// times it, logs it and records metrics before handing results and errors back unchanged.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/config"
	"github.com/medatechnology/dualdb/postgres"
	"github.com/medatechnology/dualdb/rqlite"
	"github.com/medatechnology/dualdb/sqlite"
)

// Options tune a Dispatcher.
type Options struct {
	// SlowThreshold: queries taking longer are logged at warn, others at debug
	// (default: 100ms).
	SlowThreshold time.Duration

	// MetricsSet receives the query metrics. When nil a new set is created and registered
	// with metrics.RegisterSet so it shows up in metrics.WritePrometheus; Close unregisters it.
	MetricsSet *metrics.Set

	// MetricsPrefix (default: "dualdb")
	MetricsPrefix string
}

// Dispatcher implements dualdb.Adapter by delegating to the configured backend.
type Dispatcher struct {
	adapter dualdb.Adapter
	logger  dualdb.Logger
	slow    time.Duration
	metrics *collector
	ownsSet bool
}

var (
	_ dualdb.Adapter        = (*Dispatcher)(nil)
	_ dualdb.StatusReporter = (*Dispatcher)(nil)
)

// New opens the backend selected by cfg and wraps it. cfg is validated first.
func New(ctx context.Context, cfg config.Config, logger dualdb.Logger) (*Dispatcher, error) {
	adapter, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return Wrap(adapter, logger, Options{SlowThreshold: cfg.SlowThreshold}), nil
}

// Open opens the backend selected by cfg without the dispatcher around it.
func Open(ctx context.Context, cfg config.Config, logger dualdb.Logger) (dualdb.Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = dualdb.WithCategory(logger, dualdb.CategoryDatabase)

	adapter, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database backend selected", dualdb.String("backend", cfg.Backend),
		dualdb.String("target", cfg.Describe()))
	return adapter, nil
}

// open keeps a failed constructor's nil pointer out of the returned interface.
func open(ctx context.Context, cfg config.Config, logger dualdb.Logger) (dualdb.Adapter, error) {
	switch cfg.Backend {
	case dualdb.BACKEND_SQLITE:
		a, err := sqlite.New(ctx, cfg.SQLite, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case dualdb.BACKEND_RQLITE:
		a, err := rqlite.New(ctx, cfg.Rqlite, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case dualdb.BACKEND_POSTGRES:
		a, err := postgres.New(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	// Validate already rejects anything else
	return nil, fmt.Errorf("%w: %q", dualdb.ErrUnknownBackend, cfg.Backend)
}

// Wrap puts a Dispatcher in front of an adapter that is already open, e.g. to run two
// backends side by side or in tests.
func Wrap(adapter dualdb.Adapter, logger dualdb.Logger, opts Options) *Dispatcher {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = config.DefaultSlowThreshold
	}
	if opts.MetricsPrefix == "" {
		opts.MetricsPrefix = DefaultMetricsPrefix
	}
	set, owned := opts.MetricsSet, false
	if set == nil {
		set, owned = metrics.NewSet(), true
		metrics.RegisterSet(set)
	}

	return &Dispatcher{
		adapter: adapter,
		logger: dualdb.WithCategory(logger, dualdb.CategoryDatabase).
			With(dualdb.String("adapter", adapter.Name())),
		slow:    opts.SlowThreshold,
		metrics: newCollector(set, opts.MetricsPrefix, adapter.Name()),
		ownsSet: owned,
	}
}

// Name returns the name of the backend behind the dispatcher.
func (d *Dispatcher) Name() string { return d.adapter.Name() }

// Adapter returns the backend behind the dispatcher.
func (d *Dispatcher) Adapter() dualdb.Adapter { return d.adapter }

// PoolStatus reports the backend's pool.
func (d *Dispatcher) PoolStatus() dualdb.PoolStatus { return d.adapter.PoolStatus() }

// Close closes the backend. A metrics set created by Wrap is unregistered, so a
// dispatcher opened in its place does not report the same series twice.
func (d *Dispatcher) Close() error {
	if d.ownsSet {
		metrics.UnregisterSet(d.metrics.set, true)
		d.ownsSet = false
	}
	return d.adapter.Close()
}

// Query runs query on the backend.
func (d *Dispatcher) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	return d.timed(ctx, d.adapter, false, query, params)
}

// timed runs one statement on q and logs it. The error is returned as is so callers can
// still match it with errors.Is and errors.As.
func (d *Dispatcher) timed(ctx context.Context, q dualdb.Querier, inTx bool, query string, params []any) (dualdb.QueryResult, error) {
	start := time.Now()
	res, err := q.Query(ctx, query, params...)
	elapsed := time.Since(start)
	slow := elapsed > d.slow
	d.metrics.query(start, slow, err != nil)

	fields := []dualdb.Field{
		dualdb.String("query", dualdb.TruncateSQL(query, dualdb.DEFAULT_TRUNCATE_SQL)),
		dualdb.Duration("duration", elapsed),
	}
	if inTx {
		fields = append(fields, dualdb.Bool("in_transaction", true))
	}

	switch {
	case err != nil:
		dualdb.LogErrorWithContext(d.logger, err, fields...)
	case slow:
		d.logger.Warn("slow query", append(fields, dualdb.Int("rows", res.RowCount))...)
	default:
		d.logger.Debug("query", append(fields, dualdb.Int("rows", res.RowCount))...)
	}
	return res, err
}

// timedTx times statements issued inside a transaction like any other.
type timedTx struct {
	d  *Dispatcher
	tx dualdb.Tx
}

func (t *timedTx) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	return t.d.timed(ctx, t.tx, true, query, params)
}

// Transaction runs fn in a transaction on the backend. The callback gets a Tx whose
// statements are timed and logged like Query.
func (d *Dispatcher) Transaction(ctx context.Context, fn func(tx dualdb.Tx) error) error {
	start := time.Now()
	committed := false
	defer func() {
		d.metrics.transaction(committed)
	}()

	err := d.adapter.Transaction(ctx, func(tx dualdb.Tx) error {
		return fn(&timedTx{d: d, tx: tx})
	})
	if err != nil {
		d.logger.Warn("transaction rolled back", dualdb.Duration("duration", time.Since(start)), dualdb.Error(err))
		return err
	}
	committed = true
	d.logger.Debug("transaction committed", dualdb.Duration("duration", time.Since(start)))
	return nil
}

// Status asks the backend to describe itself. Backends that cannot only report their
// name and pool.
func (d *Dispatcher) Status(ctx context.Context) (dualdb.BackendStatus, error) {
	if sr, ok := d.adapter.(dualdb.StatusReporter); ok {
		return sr.Status(ctx)
	}
	return dualdb.BackendStatus{Backend: d.Name(), Pool: d.PoolStatus()}, nil
}

// WritePrometheus writes the dispatcher's metrics in Prometheus text format.
func (d *Dispatcher) WritePrometheus(w io.Writer) {
	d.metrics.writePrometheus(w)
}
