package dualdb

import (
	"database/sql"
	"fmt"
)

// ValueConverter turns a driver value into the value stored in a Record.
type ValueConverter func(value interface{}) interface{}

// BytesToString is the conversion both SQL backends share: text arriving as []byte
// becomes a string, everything else is kept.
func BytesToString(value interface{}) interface{} {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// ScanRows reads every row of rows into Records and closes rows. Column order is
// reported through the returned FieldInfo slice.
func ScanRows(rows *sql.Rows, convert ValueConverter) ([]Record, []FieldInfo, error) {
	defer rows.Close()
	if convert == nil {
		convert = BytesToString
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}
	fields := make([]FieldInfo, len(columns))
	if types, err := rows.ColumnTypes(); err == nil && len(types) == len(columns) {
		for i, ct := range types {
			fields[i] = FieldInfo{Name: columns[i], DatabaseType: ct.DatabaseTypeName()}
		}
	} else {
		for i, col := range columns {
			fields[i] = FieldInfo{Name: col}
		}
	}

	records := make([]Record, 0)
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range columns {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		data := make(Record, len(columns))
		for i, col := range columns {
			data[col] = convert(values[i])
		}
		records = append(records, data)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, fields, nil
}
