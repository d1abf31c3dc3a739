// Package rqlite is the replicated embedded backend. rqlite speaks the SQLite dialect over
// HTTP, so statements go through the same rewriting as the sqlite package and are sent
// with gorqlite.
//
// rqlite has no interactive transactions. Transaction buffers the writes issued by the
// callback and sends them as one atomic batch when the callback returns nil; reads inside
// the callback see committed data only.
package rqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rqlite/gorqlite"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/rewrite"
	"github.com/medatechnology/dualdb/sqlite"
)

const (
	DriverName = "gorqlite"

	schemaVersionKey = "schema_version"
)

// Adapter implements dualdb.Adapter on an rqlite cluster.
type Adapter struct {
	conn      conn
	config    Config
	rewriter  *rewrite.Rewriter
	logger    dualdb.Logger
	startTime time.Time
}

var (
	_ dualdb.Adapter        = (*Adapter)(nil)
	_ dualdb.StatusReporter = (*Adapter)(nil)
)

// New connects to the cluster and creates the schema unless config.SkipSchema is set.
// A nil logger discards output.
func New(ctx context.Context, config Config, logger dualdb.Logger) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c, err := openConn(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRQLiteConnectionFailed, err)
	}
	a := newAdapter(c, config, logger)

	if _, err := c.leader(); err != nil {
		c.close()
		return nil, fmt.Errorf("%w: no leader: %v", ErrRQLiteConnectionFailed, err)
	}
	if !config.SkipSchema {
		if err := a.EnsureSchema(ctx); err != nil {
			c.close()
			return nil, err
		}
	}

	a.logger.Info("rqlite cluster connected", dualdb.String("url", config.SafeURL()),
		dualdb.String("consistency", config.Consistency))
	return a, nil
}

func newAdapter(c conn, config Config, logger dualdb.Logger) *Adapter {
	if logger == nil {
		logger = dualdb.NewNoopLogger()
	}
	return &Adapter{
		conn:      c,
		config:    config,
		rewriter:  rewrite.New(),
		logger:    logger.With(dualdb.String("backend", dualdb.BACKEND_RQLITE)),
		startTime: time.Now(),
	}
}

// Name returns "rqlite".
func (a *Adapter) Name() string { return dualdb.BACKEND_RQLITE }

// Close releases the HTTP client.
func (a *Adapter) Close() error {
	a.conn.close()
	return nil
}

// PoolStatus reports {1, 1, 0}; connections are managed by the HTTP client.
func (a *Adapter) PoolStatus() dualdb.PoolStatus {
	return dualdb.SinglePoolStatus
}

// SetRewriter replaces the statement rewriter, e.g. one with deterministic UUIDs.
func (a *Adapter) SetRewriter(r *rewrite.Rewriter) {
	if r != nil {
		a.rewriter = r
	}
}

// Query rewrites query into the SQLite dialect and runs it on the cluster. Writes with a
// RETURNING clause are emulated with follow-up reads, see returning.go.
func (a *Adapter) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	out, command, err := a.prepare(query, params)
	if err != nil {
		return dualdb.QueryResult{}, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if rewrite.IsRead(command) {
		return a.read(ctx, command, out)
	}
	if ret := rewrite.ParseReturning(out.SQL); ret.HasReturning && isEmulated(command) {
		return a.returning(ctx, command, ret, out.Params)
	}

	res, err := a.writeOne(ctx, command, out)
	if err != nil {
		return dualdb.QueryResult{}, err
	}
	return dualdb.QueryResult{Rows: []dualdb.Record{}, RowCount: int(res.RowsAffected), Command: command}, nil
}

// prepare normalizes params, rewrites query and classifies the result.
func (a *Adapter) prepare(query string, params []any) (rewrite.Outcome, string, error) {
	normalized, err := rewrite.NormalizeParams(params)
	if err != nil {
		return rewrite.Outcome{}, "", dualdb.WrapErrorWithQuery(err, a.Name(), "NORMALIZE", "", query)
	}
	out, err := a.rewriter.Rewrite(query, normalized)
	if err != nil {
		return rewrite.Outcome{}, "", dualdb.WrapErrorWithQuery(err, a.Name(), "REWRITE", "", query)
	}
	return out, rewrite.Classify(out.SQL), nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || a.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.Timeout)
}

func (a *Adapter) read(ctx context.Context, command string, out rewrite.Outcome) (dualdb.QueryResult, error) {
	rs, err := a.conn.query(ctx, statement(out.SQL, out.Params))
	if err != nil {
		return dualdb.QueryResult{}, WrapRQLiteError(err, command, "", out.SQL)
	}
	return toQueryResult(convertRows(rs), command), nil
}

func (a *Adapter) writeOne(ctx context.Context, command string, out rewrite.Outcome) (gorqlite.WriteResult, error) {
	results, err := a.conn.write(ctx, []gorqlite.ParameterizedStatement{statement(out.SQL, out.Params)})
	if err == nil && len(results) == 1 && results[0].Err != nil {
		err = results[0].Err
	}
	if err != nil {
		return gorqlite.WriteResult{}, WrapRQLiteError(err, command, tableOf(out.SQL), out.SQL)
	}
	if len(results) != 1 {
		return gorqlite.WriteResult{}, WrapRQLiteError(
			fmt.Errorf("expected 1 write result, got %d", len(results)), command, tableOf(out.SQL), out.SQL)
	}
	return results[0], nil
}

func statement(query string, params []any) gorqlite.ParameterizedStatement {
	return gorqlite.ParameterizedStatement{Query: query, Arguments: params}
}

func toQueryResult(rs resultSet, command string) dualdb.QueryResult {
	fields := make([]dualdb.FieldInfo, len(rs.Columns))
	for i, col := range rs.Columns {
		fields[i] = dualdb.FieldInfo{Name: col}
		if i < len(rs.Types) {
			fields[i].DatabaseType = strings.ToUpper(rs.Types[i])
		}
	}
	return dualdb.QueryResult{Rows: rs.Rows, RowCount: len(rs.Rows), Command: command, Fields: fields}
}

func tableOf(query string) string {
	table, err := rewrite.TableName(query)
	if err != nil {
		return ""
	}
	return table
}

// EnsureSchema creates the catalog tables and records the schema version. The DDL is the
// embedded schema of the sqlite package plus its additive migrations, sent as one atomic
// batch. A cluster whose stored version is older than sqlite.MinSupportedVersion (or newer
// than sqlite.SchemaVersion) is left untouched and the error wraps dualdb.ErrSchemaVersion.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	stored, err := a.storedVersion(ctx)
	if err != nil {
		return err
	}
	if stored != 0 && stored < sqlite.MinSupportedVersion {
		return fmt.Errorf("%w: cluster %s has schema version %d, the oldest supported is %d",
			dualdb.ErrSchemaVersion, a.config.SafeURL(), stored, sqlite.MinSupportedVersion)
	}
	if stored > sqlite.SchemaVersion {
		return fmt.Errorf("%w: cluster %s has schema version %d, newer than %d",
			dualdb.ErrSchemaVersion, a.config.SafeURL(), stored, sqlite.SchemaVersion)
	}

	stmts := append(sqlite.SchemaStatements(), sqlite.MigrationStatements(stored)...)
	batch := make([]gorqlite.ParameterizedStatement, 0, len(stmts)+1)
	for _, s := range stmts {
		batch = append(batch, statement(s, nil))
	}
	batch = append(batch, statement(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		[]any{schemaVersionKey, strconv.Itoa(sqlite.SchemaVersion)}))

	if err := a.writeBatch(ctx, "SCHEMA", batch); err != nil {
		return err
	}
	dualdb.WithCategory(a.logger, dualdb.CategorySchema).Info("schema ready",
		dualdb.Int("statements", len(batch)), dualdb.Int("from_version", stored),
		dualdb.Int("version", sqlite.SchemaVersion))
	return nil
}

// storedVersion reads meta.schema_version: 0 for an empty cluster, 1 for catalog tables
// that predate the meta table.
func (a *Adapter) storedVersion(ctx context.Context) (int, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	const tablesSQL = "SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('meta', 'categories')"
	rs, err := a.conn.query(ctx, statement(tablesSQL, nil))
	if err != nil {
		return 0, WrapRQLiteError(err, "SCHEMA", "sqlite_master", tablesSQL)
	}
	tables := map[string]bool{}
	for _, r := range rs.Rows {
		if name, ok := r["name"].(string); ok {
			tables[name] = true
		}
	}
	switch {
	case tables["meta"]:
	case tables["categories"]:
		return 1, nil
	default:
		return 0, nil
	}

	const versionSQL = "SELECT value FROM meta WHERE key = ?"
	rs, err = a.conn.query(ctx, statement(versionSQL, []any{schemaVersionKey}))
	if err != nil {
		return 0, WrapRQLiteError(err, "SCHEMA", "meta", versionSQL)
	}
	if len(rs.Rows) == 0 {
		return 0, nil
	}
	value, _ := rs.Rows[0]["value"].(string)
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: stored version %q is not a number", dualdb.ErrSchemaVersion, value)
	}
	return v, nil
}

// writeBatch sends stmts as one transaction and reports the first failing statement.
func (a *Adapter) writeBatch(ctx context.Context, operation string, stmts []gorqlite.ParameterizedStatement) error {
	results, err := a.conn.write(ctx, stmts)
	for i, r := range results {
		if r.Err != nil {
			return wrapBatchError(r.Err, operation, tableOf(stmts[i].Query), stmts[i].Query, i)
		}
	}
	if err != nil {
		return WrapRQLiteError(err, operation, "", "")
	}
	return nil
}

// Status reports the leader and peers of the cluster. Can use this as ping-pong as well.
func (a *Adapter) Status(ctx context.Context) (dualdb.BackendStatus, error) {
	st := dualdb.BackendStatus{
		Backend:   a.Name(),
		Driver:    DriverName,
		URL:       a.config.SafeURL(),
		StartTime: a.startTime,
		Uptime:    time.Since(a.startTime),
		Pool:      a.PoolStatus(),
	}
	leader, err := a.conn.leader()
	if err != nil {
		return st, WrapRQLiteError(err, "STATUS", "", "")
	}
	st.Leader = leader
	peers, err := a.conn.peers()
	if err != nil {
		return st, WrapRQLiteError(err, "STATUS", "", "")
	}
	st.Peers = peers

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	if rs, err := a.conn.query(ctx, statement("SELECT sqlite_version() AS version", nil)); err == nil && len(rs.Rows) == 1 {
		st.Version, _ = rs.Rows[0]["version"].(string)
	}
	if rs, err := a.conn.query(ctx, statement("SELECT value FROM meta WHERE key = ?", []any{schemaVersionKey})); err == nil && len(rs.Rows) == 1 {
		if v, ok := rs.Rows[0]["value"].(string); ok {
			fmt.Sscanf(v, "%d", &st.SchemaVersion)
		}
	}
	return st, nil
}
