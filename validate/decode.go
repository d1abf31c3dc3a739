package validate

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/medatechnology/dualdb"
)

// Decode validates rows against schema and copies the canonical values into T, which
// must be a struct. Columns map to fields through the `db` tag, or the lowercased field
// name when there is no tag; `db:"-"` skips a field.
//
//	type Category struct {
//	    ID        string    `db:"id"`
//	    CreatedAt time.Time `db:"created_at"`
//	    Notes     *string   `db:"description"` // nil for NULL
//	}
func Decode[T any](rows []dualdb.Record, schema Schema, opts Options) ([]T, error) {
	valid, err := ValidateRows(rows, schema, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(valid))
	for _, row := range valid {
		var v T
		if err := assign(&v, row); err != nil {
			return nil, fmt.Errorf("%s: %w", schema.Table, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeRow is Decode for a single row, always strict.
func DecodeRow[T any](row dualdb.Record, schema Schema) (T, error) {
	var v T
	valid, err := ValidateRow(row, schema)
	if err != nil {
		return v, err
	}
	if err := assign(&v, valid); err != nil {
		return v, fmt.Errorf("%s: %w", schema.Table, err)
	}
	return v, nil
}

var fieldCache sync.Map // reflect.Type -> map[string][]int

func columnIndex(t reflect.Type) map[string][]int {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string][]int)
	}
	idx := make(map[string][]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("db")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		idx[name] = f.Index
	}
	fieldCache.Store(t, idx)
	return idx
}

func assign(dst any, row dualdb.Record) error {
	v := reflect.ValueOf(dst).Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("cannot decode into %s, need a struct", v.Type())
	}
	for col, index := range columnIndex(v.Type()) {
		value, ok := row[col]
		if !ok {
			continue
		}
		field := v.FieldByIndex(index)
		if err := setField(field, value); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value any) error {
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	src := reflect.ValueOf(value)

	target := field.Type()
	if target.Kind() == reflect.Pointer {
		target = target.Elem()
	}

	var out reflect.Value
	switch {
	case src.Type().AssignableTo(target):
		out = src
	case target.Kind() == reflect.Interface && src.Type().Implements(target):
		out = src
	case src.Type().ConvertibleTo(target) && convertible(src.Kind(), target.Kind()):
		out = src.Convert(target)
	default:
		return fmt.Errorf("cannot assign %s to %s", src.Type(), field.Type())
	}

	if field.Kind() == reflect.Pointer {
		p := reflect.New(target)
		p.Elem().Set(out)
		field.Set(p)
		return nil
	}
	field.Set(out)
	return nil
}

// convertible limits reflect conversions to numeric widening and string kinds, so an
// int64 never silently becomes a string.
func convertible(from, to reflect.Kind) bool {
	switch {
	case isNumber(from) && isNumber(to):
		return true
	case from == reflect.String && to == reflect.String:
		return true
	case from == reflect.Bool && to == reflect.Bool:
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
