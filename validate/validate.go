// Package validate turns raw rows from any backend into one canonical shape. The same
// logical column comes back differently depending on the engine: decimals as strings or
// numbers, booleans as bool or 0/1, JSON as text or decoded values, timestamps with or
// without a zone. A Schema describes the logical types and ValidateRow coerces a row into
//
//	string, int64, float64, bool, time.Time (UTC), decoded JSON, canonical UUID string
//
// or reports every field that does not fit.
package validate

import (
	"github.com/medatechnology/dualdb"
)

// Type is the logical type of a column.
type Type int

const (
	String Type = iota
	Int
	Decimal
	Bool
	JSON
	Timestamp
	UUID
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Decimal:
		return "decimal"
	case Bool:
		return "bool"
	case JSON:
		return "json"
	case Timestamp:
		return "timestamp"
	case UUID:
		return "uuid"
	default:
		return "unknown"
	}
}

// Field describes one column.
type Field struct {
	Name string
	Type Type

	// Optional fields may be missing from the row, e.g. columns of a LEFT JOIN that were
	// not selected. They are left out of the result.
	Optional bool

	// Nullable fields may hold SQL NULL, which is kept as nil.
	Nullable bool
}

// Schema is the expected shape of rows from one table or query.
type Schema struct {
	Table  string
	Fields []Field
}

// Options control batch validation.
type Options struct {
	// SkipInvalid logs and drops rows that fail instead of failing the batch. Meant for
	// list views where one bad row should not hide the others.
	SkipInvalid bool

	// Logger receives the skipped rows (default: no logging)
	Logger dualdb.Logger
}

// ValidateRow coerces row into the canonical shape of schema. Columns not in the schema
// are dropped. On failure the error is a *ValidationError listing every bad field.
func ValidateRow(row dualdb.Record, schema Schema) (dualdb.Record, error) {
	return validateRow(row, schema, -1)
}

func validateRow(row dualdb.Record, schema Schema, index int) (dualdb.Record, error) {
	out := make(dualdb.Record, len(schema.Fields))
	var verr *ValidationError

	for _, f := range schema.Fields {
		raw, present := row[f.Name]
		if !present {
			if f.Optional {
				continue
			}
			verr = verr.add(schema.Table, index, FieldError{Field: f.Name, Type: f.Type, Reason: "is required"})
			continue
		}
		if raw == nil {
			if f.Nullable {
				out[f.Name] = nil
				continue
			}
			verr = verr.add(schema.Table, index, FieldError{Field: f.Name, Type: f.Type, Reason: "cannot be null"})
			continue
		}

		v, err := coerce(f.Type, raw)
		if err != nil {
			verr = verr.add(schema.Table, index, FieldError{Field: f.Name, Type: f.Type, Value: raw, Reason: err.Error()})
			continue
		}
		out[f.Name] = v
	}

	if verr != nil {
		return nil, verr
	}
	return out, nil
}

// ValidateRows validates every row. In strict mode (the default) the first invalid row
// fails the batch; with opts.SkipInvalid invalid rows are logged and left out.
func ValidateRows(rows []dualdb.Record, schema Schema, opts Options) ([]dualdb.Record, error) {
	logger := opts.Logger
	if logger == nil {
		logger = dualdb.NewNoopLogger()
	}

	out := make([]dualdb.Record, 0, len(rows))
	for i, row := range rows {
		v, err := validateRow(row, schema, i)
		if err != nil {
			if !opts.SkipInvalid {
				return nil, err
			}
			logger.Warn("skipping invalid row",
				dualdb.String("table", schema.Table),
				dualdb.Int("row", i),
				dualdb.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Result validates the rows of a query result.
func Result(res dualdb.QueryResult, schema Schema, opts Options) ([]dualdb.Record, error) {
	return ValidateRows(res.Rows, schema, opts)
}
