package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/rewrite"
)

// RETURNING is emulated with follow-up statements keyed on rowid, so every write that
// carries one runs inside a transaction and either all of it happens or none of it.

func isEmulated(command string) bool {
	switch command {
	case "INSERT", "REPLACE", "UPDATE", "DELETE":
		return true
	}
	return false
}

func (a *Adapter) returning(ctx context.Context, tx *sql.Tx, command string, ret rewrite.Returning, params []any) (dualdb.QueryResult, error) {
	table, err := rewrite.TableName(ret.CleanSQL)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, command, "", ret.CleanSQL)
	}
	columns := strings.Join(ret.Columns, ", ")

	switch command {
	case "UPDATE":
		return a.updateReturning(ctx, tx, table, columns, ret.CleanSQL, params)
	case "DELETE":
		return a.deleteReturning(ctx, tx, table, columns, ret.CleanSQL, params)
	default:
		return a.insertReturning(ctx, tx, command, table, columns, ret.CleanSQL, params)
	}
}

// insertReturning runs the insert and reads the new row back by its rowid. Only single-row
// inserts can be read back this way; anything more fails and the caller's transaction
// rolls the insert back. Upserts are refused before anything runs.
func (a *Adapter) insertReturning(ctx context.Context, tx *sql.Tx, command, table, columns, stmt string, params []any) (dualdb.QueryResult, error) {
	if rewrite.IsUpsert(stmt) {
		return dualdb.QueryResult{}, wrapError(
			fmt.Errorf("%w: RETURNING cannot be emulated for ON CONFLICT DO UPDATE", dualdb.ErrMalformedStatement),
			command, table, stmt)
	}
	res, err := tx.ExecContext(ctx, stmt, params...)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, command, table, stmt)
	}
	affected, _ := res.RowsAffected()
	if affected > 1 {
		return dualdb.QueryResult{}, wrapError(
			fmt.Errorf("%w: %d rows inserted", dualdb.ErrMultiRowReturning, affected), command, table, stmt)
	}
	if affected == 0 {
		// INSERT OR IGNORE that ignored the row
		return dualdb.QueryResult{Rows: []dualdb.Record{}, RowCount: 0, Command: command}, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, command, table, stmt)
	}

	sel := fmt.Sprintf("SELECT %s FROM %s WHERE rowid = ?", columns, table)
	rows, fields, err := selectRows(ctx, tx, sel, id)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, command, table, sel)
	}
	return dualdb.QueryResult{Rows: rows, RowCount: int(affected), Command: command, Fields: fields}, nil
}

// updateReturning remembers which rows the WHERE clause selects, runs the update and then
// reads those rows back.
func (a *Adapter) updateReturning(ctx context.Context, tx *sql.Tx, table, columns, stmt string, params []any) (dualdb.QueryResult, error) {
	pre := fmt.Sprintf("SELECT rowid FROM %s", table)
	var preArgs []any
	if where, n, ok := rewrite.WhereClause(stmt); ok {
		if n > len(params) {
			return dualdb.QueryResult{}, wrapError(
				fmt.Errorf("%w: WHERE clause has %d placeholders, statement has %d parameters",
					dualdb.ErrMalformedStatement, n, len(params)), "UPDATE", table, stmt)
		}
		pre += " WHERE " + where
		preArgs = params[len(params)-n:]
	}

	ids, err := selectRowIDs(ctx, tx, pre, preArgs)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, "UPDATE", table, pre)
	}

	res, err := tx.ExecContext(ctx, stmt, params...)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, "UPDATE", table, stmt)
	}
	affected, _ := res.RowsAffected()
	if len(ids) == 0 {
		return dualdb.QueryResult{Rows: []dualdb.Record{}, RowCount: int(affected), Command: "UPDATE"}, nil
	}

	sel, args := selectByRowIDs(columns, table, ids)
	rows, fields, err := selectRows(ctx, tx, sel, args...)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, "UPDATE", table, sel)
	}
	return dualdb.QueryResult{Rows: rows, RowCount: int(affected), Command: "UPDATE", Fields: fields}, nil
}

// deleteReturning reads the rows the WHERE clause selects, then deletes them.
func (a *Adapter) deleteReturning(ctx context.Context, tx *sql.Tx, table, columns, stmt string, params []any) (dualdb.QueryResult, error) {
	sel := fmt.Sprintf("SELECT %s FROM %s", columns, table)
	var selArgs []any
	if where, n, ok := rewrite.WhereClause(stmt); ok {
		if n > len(params) {
			return dualdb.QueryResult{}, wrapError(
				fmt.Errorf("%w: WHERE clause has %d placeholders, statement has %d parameters",
					dualdb.ErrMalformedStatement, n, len(params)), "DELETE", table, stmt)
		}
		sel += " WHERE " + where
		selArgs = params[len(params)-n:]
	}
	sel += " ORDER BY rowid"

	rows, fields, err := selectRows(ctx, tx, sel, selArgs...)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, "DELETE", table, sel)
	}

	res, err := tx.ExecContext(ctx, stmt, params...)
	if err != nil {
		return dualdb.QueryResult{}, wrapError(err, "DELETE", table, stmt)
	}
	affected, _ := res.RowsAffected()
	return dualdb.QueryResult{Rows: rows, RowCount: int(affected), Command: "DELETE", Fields: fields}, nil
}

func selectRows(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]dualdb.Record, []dualdb.FieldInfo, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	return dualdb.ScanRows(rows, dualdb.BytesToString)
}

func selectRowIDs(ctx context.Context, tx *sql.Tx, query string, args []any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func selectByRowIDs(columns, table string, ids []int64) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE rowid IN (%s) ORDER BY rowid",
		columns, table, strings.Join(ph, ", ")), args
}
