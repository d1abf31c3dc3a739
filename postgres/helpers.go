package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/lib/pq"

	"github.com/medatechnology/dualdb"
)

// convertPostgreSQLValue converts driver values to the Go types stored in a Record.
// lib/pq already decodes integers, floats, booleans and timestamps; numeric, uuid, json
// and text columns arrive as []byte and become strings.
func convertPostgreSQLValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC()
	default:
		return v
	}
}

// bindParams prepares parameters for lib/pq. Slices of scalars become PostgreSQL arrays;
// maps, structs and other composites are sent as JSON text so they can be stored in json
// or jsonb columns. The input slice is not modified.
func bindParams(params []any) ([]any, error) {
	if len(params) == 0 {
		return params, nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		v, err := bindParam(p)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter $%d: %v", dualdb.ErrSerialization, i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func bindParam(p any) (any, error) {
	switch v := p.(type) {
	case nil, string, bool, time.Time, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		return v.String(), nil
	case driver.Valuer:
		return v, nil
	case []string, []int64, []float64, []bool, []int, []int32, []float32:
		return pq.Array(v), nil
	}

	rv := reflect.ValueOf(p)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return bindParam(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if (rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
			return nil, nil
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, fmt.Errorf("unsupported type %T", p)
	}
	return p, nil
}

// validatePostgreSQLConnection checks connectivity and returns the server version
func validatePostgreSQLConnection(ctx context.Context, db *sql.DB) (string, error) {
	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("ping failed: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", fmt.Errorf("version query failed: %w", err)
	}
	return version, nil
}
