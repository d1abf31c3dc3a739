package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/medatechnology/dualdb"
)

const (
	// SchemaVersion is the version Bootstrap brings a database to.
	SchemaVersion = 3
	// MinSupportedVersion is the oldest stored version that can still be migrated.
	MinSupportedVersion = 2

	schemaVersionKey = "schema_version"
)

//go:embed schema.sql
var schemaSQL string

// migration adds one column to a table created by an older schema. Migrations only ever
// add; nothing is dropped or rewritten.
type migration struct {
	version int
	table   string
	column  string
	ddl     string
}

var migrations = []migration{
	{version: 3, table: "categories", column: "description", ddl: "ALTER TABLE categories ADD COLUMN description TEXT"},
	{version: 3, table: "products", column: "attributes", ddl: "ALTER TABLE products ADD COLUMN attributes TEXT"},
}

// SchemaStatements returns the DDL of the embedded schema, one statement per entry.
func SchemaStatements() []string {
	return dualdb.ConvertSQLCommands(strings.Split(schemaSQL, "\n"))
}

// MigrationStatements returns the DDL that brings a database at version stored up to
// SchemaVersion. A fresh database (stored == 0) needs none; the embedded schema is current.
func MigrationStatements(stored int) []string {
	var out []string
	for _, m := range migrations {
		if stored != 0 && stored < m.version {
			out = append(out, m.ddl)
		}
	}
	return out
}

// Bootstrap creates missing tables, applies additive migrations and records the schema
// version, all in one transaction. A database whose stored version is older than
// MinSupportedVersion (or newer than SchemaVersion) is left untouched and the error
// wraps dualdb.ErrSchemaVersion.
func (a *Adapter) Bootstrap(ctx context.Context) error {
	logger := dualdb.WithCategory(a.logger, dualdb.CategorySchema)

	return a.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := storedVersion(ctx, tx)
		if err != nil {
			return err
		}
		if stored != 0 && stored < MinSupportedVersion {
			return fmt.Errorf("%w: database %s has schema version %d, the oldest supported is %d; "+
				"stop the service, delete the file and its -wal/-shm sidecars and restart to reinitialize",
				dualdb.ErrSchemaVersion, a.config.Path, stored, MinSupportedVersion)
		}
		if stored > SchemaVersion {
			return fmt.Errorf("%w: database %s has schema version %d, newer than %d",
				dualdb.ErrSchemaVersion, a.config.Path, stored, SchemaVersion)
		}

		for _, stmt := range SchemaStatements() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return wrapError(err, "SCHEMA", "", stmt)
			}
		}

		for _, m := range migrations {
			if stored == 0 || stored >= m.version {
				continue
			}
			has, err := hasColumn(ctx, tx, m.table, m.column)
			if err != nil {
				return err
			}
			if has {
				continue
			}
			if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
				return wrapError(err, "MIGRATE", m.table, m.ddl)
			}
			logger.Info("schema migrated", dualdb.String("table", m.table),
				dualdb.String("column", m.column), dualdb.Int("version", m.version))
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			schemaVersionKey, strconv.Itoa(SchemaVersion)); err != nil {
			return wrapError(err, "SCHEMA", "meta", "INSERT INTO meta")
		}

		if stored != SchemaVersion {
			logger.Info("schema ready", dualdb.Int("from_version", stored), dualdb.Int("version", SchemaVersion))
		}
		return nil
	})
}

// EnsureSchema is Bootstrap under the name the other adapters use.
func (a *Adapter) EnsureSchema(ctx context.Context) error { return a.Bootstrap(ctx) }

// SchemaVersion returns the version stored in meta, 0 for a database never bootstrapped.
func (a *Adapter) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = storedVersion(ctx, tx)
		return err
	})
	return v, err
}

// storedVersion reads meta.schema_version. A database with catalog tables but no meta
// table predates versioning and counts as version 1.
func storedVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	hasMeta, err := hasTable(ctx, tx, "meta")
	if err != nil {
		return 0, err
	}
	if !hasMeta {
		legacy, err := hasTable(ctx, tx, "categories")
		if err != nil {
			return 0, err
		}
		if legacy {
			return 1, nil
		}
		return 0, nil
	}

	var value string
	err = tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", schemaVersionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapError(err, "SCHEMA", "meta", "SELECT value FROM meta")
	}
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: stored version %q is not a number", dualdb.ErrSchemaVersion, value)
	}
	return v, nil
}

func hasTable(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return false, wrapError(err, "SCHEMA", table, "SELECT FROM sqlite_master")
	}
	return n > 0, nil
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	if err := dualdb.ValidateTableName(table); err != nil {
		return false, err
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, wrapError(err, "SCHEMA", table, "PRAGMA table_info")
	}
	records, _, err := dualdb.ScanRows(rows, dualdb.BytesToString)
	if err != nil {
		return false, wrapError(err, "SCHEMA", table, "PRAGMA table_info")
	}
	for _, r := range records {
		if name, _ := r["name"].(string); strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, nil
}
