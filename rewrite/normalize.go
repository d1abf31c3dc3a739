package rewrite

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/medatechnology/dualdb"
)

// NormalizeParams converts composite values into something the embedded engine can bind.
// Times become UTC RFC 3339 text, the same shape NowExpr stores, so a bound time compares
// correctly against a column stamped by NOW(). Maps, slices, arrays and plain structs become
// canonical JSON text. nil, other scalars and driver.Valuer implementations pass through.
// The input slice is never modified. A value JSON cannot represent (a cycle, a channel, NaN
// inside a composite) gives an error wrapping dualdb.ErrSerialization.
func NormalizeParams(params []any) ([]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		v, err := normalizeParam(p)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter $%d: %v", dualdb.ErrSerialization, i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func normalizeParam(p any) (any, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		if v == nil {
			return nil, nil
		}
		return string(v), nil
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		return v.String(), nil
	case driver.Valuer:
		return v, nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	}

	rv := reflect.ValueOf(p)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeParam(rv.Elem().Interface())
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		return toJSON(p)
	case reflect.Array:
		return toJSON(p)
	case reflect.Struct:
		// Only plain data structs are serialized; types with behaviour are left to the driver.
		if rv.Type().NumMethod() > 0 || reflect.PointerTo(rv.Type()).NumMethod() > 0 {
			return p, nil
		}
		return toJSON(p)
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, fmt.Errorf("unsupported type %T", p)
	}
	// named scalar types (type Status string) are handled by database/sql's converter
	return p, nil
}

// toJSON encodes v without HTML escaping, so the stored text matches what a JSON column
// on the server would hold.
func toJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
