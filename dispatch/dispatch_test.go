package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/config"
	"github.com/medatechnology/dualdb/sqlite"
)

func newSQLite(t *testing.T) *sqlite.Adapter {
	t.Helper()
	a, err := sqlite.New(context.Background(), sqlite.NewDefaultConfig(sqlite.MemoryPath), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func newDispatcher(t *testing.T, slow time.Duration) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := dualdb.NewWriterLogger(&buf, dualdb.LogLevelDebug)
	d := Wrap(newSQLite(t), logger, Options{SlowThreshold: slow, MetricsSet: metrics.NewSet()})
	return d, &buf
}

func prometheus(d *Dispatcher) string {
	var buf bytes.Buffer
	d.WritePrometheus(&buf)
	return buf.String()
}

const insertCategory = `INSERT INTO categories (id, name, slug, sku_prefix, created_at, updated_at)
VALUES (gen_random_uuid(), $1, $2, $3, NOW(), NOW()) RETURNING *`

func TestQueryIsLoggedAtDebug(t *testing.T) {
	d, logs := newDispatcher(t, time.Hour)

	res, err := d.Query(context.Background(), insertCategory, "Vegetables", "vegetables", "VEG")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	out := logs.String()
	assert.Contains(t, out, "[DEBUG] query")
	assert.Contains(t, out, "adapter=sqlite")
	assert.Contains(t, out, "category=database")
	assert.Contains(t, out, "rows=1")
	// parameter values never reach the log
	assert.NotContains(t, out, "VEG")
	assert.NotContains(t, out, "[WARN]")

	assert.Contains(t, prometheus(d), `dualdb_queries_total{adapter="sqlite"} 1`)
}

func TestSlowQueryIsLoggedAtWarn(t *testing.T) {
	d, logs := newDispatcher(t, time.Nanosecond)

	_, err := d.Query(context.Background(), "SELECT * FROM categories")
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "[WARN] slow query")
	assert.Contains(t, logs.String(), "query=SELECT * FROM categories")
	assert.Contains(t, prometheus(d), `dualdb_slow_queries_total{adapter="sqlite"} 1`)
}

func TestLongQueryIsTruncatedInLogs(t *testing.T) {
	d, logs := newDispatcher(t, time.Hour)

	query := "SELECT id FROM categories WHERE name IN ('" + strings.Repeat("x", 400) + "')"
	_, err := d.Query(context.Background(), query)
	require.NoError(t, err)

	assert.NotContains(t, logs.String(), strings.Repeat("x", 300))
}

func TestErrorsAreReturnedUnchanged(t *testing.T) {
	d, logs := newDispatcher(t, time.Hour)
	ctx := context.Background()

	_, err := d.Query(ctx, insertCategory, "Vegetables", "vegetables", "VEG")
	require.NoError(t, err)
	_, err = d.Query(ctx, insertCategory, "Vegetables", "vegetables", "VEG")
	require.Error(t, err)

	assert.ErrorIs(t, err, dualdb.ErrUniqueViolation)
	assert.True(t, sqlite.IsUniqueViolation(err))
	assert.Contains(t, logs.String(), "[ERROR]")
	assert.Contains(t, logs.String(), "adapter=sqlite")
	assert.Contains(t, prometheus(d), `dualdb_query_errors_total{adapter="sqlite"} 1`)

	_, err = d.Query(ctx, "SELECT * FROM categories WHERE id = $2", "only-one")
	assert.ErrorIs(t, err, dualdb.ErrMalformedStatement)
}

func TestTransactionStatementsAreTimed(t *testing.T) {
	d, logs := newDispatcher(t, time.Hour)
	ctx := context.Background()

	err := d.Transaction(ctx, func(tx dualdb.Tx) error {
		if _, err := tx.Query(ctx, insertCategory, "Fruit", "fruit", "FRU"); err != nil {
			return err
		}
		_, err := tx.Query(ctx, "UPDATE categories SET description = $1 WHERE slug = $2", "fresh", "fruit")
		return err
	})
	require.NoError(t, err)

	out := logs.String()
	assert.Equal(t, 2, strings.Count(out, "in_transaction=true"))
	assert.Contains(t, out, "transaction committed")

	m := prometheus(d)
	assert.Contains(t, m, `dualdb_queries_total{adapter="sqlite"} 2`)
	assert.Contains(t, m, `dualdb_transactions_total{adapter="sqlite",outcome="commit"} 1`)
	assert.Contains(t, m, `dualdb_transactions_total{adapter="sqlite",outcome="rollback"} 0`)
}

func TestTransactionRollbackIsCounted(t *testing.T) {
	d, logs := newDispatcher(t, time.Hour)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.Transaction(ctx, func(tx dualdb.Tx) error {
		if _, err := tx.Query(ctx, insertCategory, "Fruit", "fruit", "FRU"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, logs.String(), "[WARN] transaction rolled back")
	assert.Contains(t, prometheus(d), `dualdb_transactions_total{adapter="sqlite",outcome="rollback"} 1`)

	res, err := d.Query(ctx, "SELECT * FROM categories")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestInTransactionThroughDispatcher(t *testing.T) {
	d, _ := newDispatcher(t, time.Hour)
	ctx := context.Background()

	id, err := dualdb.InTransaction(ctx, d, func(tx dualdb.Tx) (string, error) {
		row, err := dualdb.QueryOne(ctx, tx, insertCategory, "Dairy", "dairy", "DAI")
		if err != nil {
			return "", err
		}
		return row["id"].(string), nil
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestNewWithSQLiteConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().WithSQLitePath(sqlite.MemoryPath).WithLogLevel("debug")

	var buf bytes.Buffer
	d, err := New(context.Background(), *cfg, dualdb.NewWriterLogger(&buf, dualdb.LogLevelDebug))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, dualdb.BACKEND_SQLITE, d.Name())
	assert.Equal(t, dualdb.SinglePoolStatus, d.PoolStatus())
	assert.Contains(t, buf.String(), "database backend selected")
	assert.Contains(t, buf.String(), "backend=sqlite")

	status, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dualdb.BACKEND_SQLITE, status.Backend)
	assert.Equal(t, sqlite.SchemaVersion, status.SchemaVersion)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.NewDefaultConfig().WithBackend("mysql")
	_, err := Open(context.Background(), *cfg, nil)
	assert.ErrorIs(t, err, dualdb.ErrUnknownBackend)

	_, err = New(context.Background(), *cfg, nil)
	assert.ErrorIs(t, err, dualdb.ErrUnknownBackend)
}

// plainAdapter has no Status method.
type plainAdapter struct{}

func (plainAdapter) Query(context.Context, string, ...any) (dualdb.QueryResult, error) {
	return dualdb.QueryResult{Command: "SELECT"}, nil
}
func (plainAdapter) Transaction(_ context.Context, fn func(dualdb.Tx) error) error {
	return fn(plainAdapter{})
}
func (plainAdapter) PoolStatus() dualdb.PoolStatus {
	return dualdb.PoolStatus{TotalCount: 4, IdleCount: 3}
}
func (plainAdapter) Name() string { return "plain" }
func (plainAdapter) Close() error { return nil }

func TestStatusFallback(t *testing.T) {
	d := Wrap(plainAdapter{}, nil, Options{MetricsSet: metrics.NewSet()})

	status, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "plain", status.Backend)
	assert.Equal(t, 4, status.Pool.TotalCount)
	assert.Equal(t, config.DefaultSlowThreshold, d.slow)
}

func TestSharedMetricsSet(t *testing.T) {
	set := metrics.NewSet()
	first := Wrap(plainAdapter{}, nil, Options{MetricsSet: set})
	second := Wrap(plainAdapter{}, nil, Options{MetricsSet: set})

	_, err := first.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	_, err = second.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)

	assert.Contains(t, prometheus(first), `dualdb_queries_total{adapter="plain"} 2`)
}

func globalSeries(t *testing.T, series string) int {
	t.Helper()
	var buf bytes.Buffer
	metrics.WritePrometheus(&buf, false)
	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, series+" ") {
			n++
		}
	}
	return n
}

func TestCloseUnregistersOwnMetricsSet(t *testing.T) {
	const series = `dualdb_queries_total{adapter="sqlite"}`
	ctx := context.Background()

	first := Wrap(newSQLite(t), nil, Options{})
	_, err := first.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := Wrap(newSQLite(t), nil, Options{})
	_, err = second.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, globalSeries(t, series))

	require.NoError(t, second.Close())
	assert.Equal(t, 0, globalSeries(t, series))
}

func TestCloseKeepsCallerMetricsSet(t *testing.T) {
	set := metrics.NewSet()
	d := Wrap(plainAdapter{}, nil, Options{MetricsSet: set})
	_, err := d.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Contains(t, prometheus(d), `dualdb_queries_total{adapter="plain"} 1`)
}
