package rqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/rewrite"
)

// RETURNING is emulated the same way the sqlite package does it, keyed on rowid. Each step
// is a separate request to the cluster, so a concurrent writer can slip in between the
// write and the read back; the rows returned are always rows the statement touched.

func isEmulated(command string) bool {
	switch command {
	case "INSERT", "REPLACE", "UPDATE", "DELETE":
		return true
	}
	return false
}

func (a *Adapter) returning(ctx context.Context, command string, ret rewrite.Returning, params []any) (dualdb.QueryResult, error) {
	table, err := rewrite.TableName(ret.CleanSQL)
	if err != nil {
		return dualdb.QueryResult{}, WrapRQLiteError(err, command, "", ret.CleanSQL)
	}
	columns := strings.Join(ret.Columns, ", ")
	out := rewrite.Outcome{SQL: ret.CleanSQL, Params: params}

	switch command {
	case "UPDATE", "DELETE":
		return a.whereReturning(ctx, command, table, columns, out)
	default:
		return a.insertReturning(ctx, command, table, columns, out)
	}
}

func (a *Adapter) insertReturning(ctx context.Context, command, table, columns string, out rewrite.Outcome) (dualdb.QueryResult, error) {
	if rewrite.IsUpsert(out.SQL) {
		return dualdb.QueryResult{}, WrapRQLiteError(
			fmt.Errorf("%w: RETURNING cannot be emulated for ON CONFLICT DO UPDATE", dualdb.ErrMalformedStatement),
			command, table, out.SQL)
	}
	res, err := a.writeOne(ctx, command, out)
	if err != nil {
		return dualdb.QueryResult{}, err
	}
	if res.RowsAffected > 1 {
		// the batch already committed; nothing can be rolled back here
		return dualdb.QueryResult{}, WrapRQLiteError(
			fmt.Errorf("%w: %d rows inserted", dualdb.ErrMultiRowReturning, res.RowsAffected), command, table, out.SQL)
	}
	if res.RowsAffected == 0 {
		return dualdb.QueryResult{Rows: []dualdb.Record{}, Command: command}, nil
	}

	sel := fmt.Sprintf("SELECT %s FROM %s WHERE rowid = ?", columns, table)
	rs, err := a.conn.query(ctx, statement(sel, []any{res.LastInsertID}))
	if err != nil {
		return dualdb.QueryResult{}, WrapRQLiteError(err, command, table, sel)
	}
	qr := toQueryResult(convertRows(rs), command)
	qr.RowCount = int(res.RowsAffected)
	return qr, nil
}

// whereReturning selects the rows matched by the statement's WHERE clause, runs the
// statement, then reads the same rowids back (UPDATE) or returns the rows read before
// (DELETE).
func (a *Adapter) whereReturning(ctx context.Context, command, table, columns string, out rewrite.Outcome) (dualdb.QueryResult, error) {
	pre := fmt.Sprintf("SELECT rowid AS _rowid_, %s FROM %s", columns, table)
	var preArgs []any
	if where, n, ok := rewrite.WhereClause(out.SQL); ok {
		if n > len(out.Params) {
			return dualdb.QueryResult{}, WrapRQLiteError(
				fmt.Errorf("%w: WHERE clause has %d placeholders, statement has %d parameters",
					dualdb.ErrMalformedStatement, n, len(out.Params)), command, table, out.SQL)
		}
		pre += " WHERE " + where
		preArgs = out.Params[len(out.Params)-n:]
	}
	pre += " ORDER BY rowid"

	before, err := a.conn.query(ctx, statement(pre, preArgs))
	if err != nil {
		return dualdb.QueryResult{}, WrapRQLiteError(err, command, table, pre)
	}
	before = convertRows(before)

	res, err := a.writeOne(ctx, command, out)
	if err != nil {
		return dualdb.QueryResult{}, err
	}

	ids := make([]any, 0, len(before.Rows))
	for _, row := range before.Rows {
		ids = append(ids, row["_rowid_"])
		delete(row, "_rowid_")
	}
	before.Columns, before.Types = dropColumn(before.Columns, before.Types, "_rowid_")

	if command == "DELETE" || len(ids) == 0 {
		qr := toQueryResult(before, command)
		qr.RowCount = int(res.RowsAffected)
		return qr, nil
	}

	sel := fmt.Sprintf("SELECT %s FROM %s WHERE rowid IN (%s) ORDER BY rowid",
		columns, table, strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "))
	after, err := a.conn.query(ctx, statement(sel, ids))
	if err != nil {
		return dualdb.QueryResult{}, WrapRQLiteError(err, command, table, sel)
	}
	qr := toQueryResult(convertRows(after), command)
	qr.RowCount = int(res.RowsAffected)
	return qr, nil
}

// dropColumn removes name from columns and the matching entry from types.
func dropColumn(columns, types []string, name string) ([]string, []string) {
	cols := make([]string, 0, len(columns))
	var typs []string
	for i, c := range columns {
		if c == name {
			continue
		}
		cols = append(cols, c)
		if i < len(types) {
			typs = append(typs, types[i])
		}
	}
	return cols, typs
}
