package dualdb

import (
	"fmt"
	"sort"
	"strings"
)

// DBRecord is a row to be written: a table name and column values.
type DBRecord struct {
	TableName string
	Data      Record
}

type DBRecords []DBRecord

// Append adds a new DBRecord to the DBRecords slice.
func (d *DBRecords) Append(rec DBRecord) {
	*d = append(*d, rec)
}

// sortedColumns gives a stable column order so the same record always produces the same SQL.
func (d *DBRecord) sortedColumns() []string {
	cols := make([]string, 0, len(d.Data))
	for k := range d.Data {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// ToInsertSQL converts the record to a $N-parameterized INSERT. Values that are SQL
// expressions (see Expr) are inlined instead of bound.
// Usage:
//
//	sql, values, err := record.ToInsertSQL("id", "created_at")
//
// Returns:
//   - string: e.g. "INSERT INTO categories (id, name) VALUES (gen_random_uuid(), $1) RETURNING id, created_at"
//   - []interface{}: values in placeholder order
func (d *DBRecord) ToInsertSQL(returning ...string) (string, []interface{}, error) {
	if err := ValidateTableName(d.TableName); err != nil {
		return "", nil, err
	}
	if len(d.Data) == 0 {
		return "", nil, fmt.Errorf("%w: no columns to insert into %s", ErrMalformedStatement, d.TableName)
	}

	columns := d.sortedColumns()
	placeholders := make([]string, 0, len(columns))
	values := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		if err := ValidateTableName(col); err != nil {
			return "", nil, err
		}
		if e, ok := d.Data[col].(Expr); ok {
			placeholders = append(placeholders, string(e))
			continue
		}
		values = append(values, d.Data[col])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(values)))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.TableName,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)
	if len(returning) > 0 {
		sql += " RETURNING " + strings.Join(returning, ", ")
	}
	return sql, values, nil
}

// ToUpdateSQL converts the record to an UPDATE keyed on keyColumn. The key column is
// taken from the record itself and not updated.
// Usage:
//
//	sql, values, err := record.ToUpdateSQL("id", "*")
//	// UPDATE products SET name = $1, updated_at = NOW() WHERE id = $2 RETURNING *
func (d *DBRecord) ToUpdateSQL(keyColumn string, returning ...string) (string, []interface{}, error) {
	if err := ValidateTableName(d.TableName); err != nil {
		return "", nil, err
	}
	key, ok := d.Data[keyColumn]
	if !ok {
		return "", nil, fmt.Errorf("%w: key column %s missing from record", ErrMalformedStatement, keyColumn)
	}

	sets := make([]string, 0, len(d.Data))
	values := make([]interface{}, 0, len(d.Data))
	for _, col := range d.sortedColumns() {
		if col == keyColumn {
			continue
		}
		if err := ValidateTableName(col); err != nil {
			return "", nil, err
		}
		if e, ok := d.Data[col].(Expr); ok {
			sets = append(sets, fmt.Sprintf("%s = %s", col, string(e)))
			continue
		}
		values = append(values, d.Data[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(values)))
	}
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("%w: nothing to update in %s", ErrMalformedStatement, d.TableName)
	}
	values = append(values, key)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		d.TableName, strings.Join(sets, ", "), keyColumn, len(values))
	if len(returning) > 0 {
		sql += " RETURNING " + strings.Join(returning, ", ")
	}
	return sql, values, nil
}

// Expr marks a record value as literal SQL, e.g. Expr("NOW()") or Expr("gen_random_uuid()").
type Expr string

const (
	ExprNow  Expr = "NOW()"
	ExprUUID Expr = "gen_random_uuid()"
)
