package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Layouts accepted for timestamps given as text. Values without a zone are UTC, which
// is how the embedded schema stores them.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func coerce(t Type, v any) (any, error) {
	switch t {
	case String:
		return toString(v)
	case Int:
		return toInt(v)
	case Decimal:
		return toDecimal(v)
	case Bool:
		return toBool(v)
	case JSON:
		return toJSON(v)
	case Timestamp:
		return toTimestamp(v)
	case UUID:
		return toUUID(v)
	}
	return nil, fmt.Errorf("unknown type %d", t)
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return nil, fmt.Errorf("expected text, got %T", v)
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%v is not a whole number", x)
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", x)
		}
		return n, nil
	case []byte:
		return toInt(string(x))
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func toDecimal(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%q is not a number", x)
		}
		return f, nil
	case []byte:
		return toDecimal(string(x))
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	return float64(n.(int64)), nil
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "t", "true", "1":
			return true, nil
		case "f", "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", x)
	case []byte:
		return toBool(string(x))
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}
	switch n.(int64) {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return nil, fmt.Errorf("%d is not a boolean", n)
}

func toJSON(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return parseJSON([]byte(x))
	case []byte:
		return parseJSON(x)
	case json.RawMessage:
		return parseJSON(x)
	case map[string]any, []any:
		return x, nil
	}
	// numbers and booleans are valid JSON documents too
	switch v.(type) {
	case bool, float64, int64, int:
		return v, nil
	}
	return nil, fmt.Errorf("expected JSON, got %T", v)
}

func parseJSON(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, fmt.Errorf("invalid JSON at offset %d", syn.Offset)
		}
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	return out, nil
}

func toTimestamp(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%q is not a timestamp", x)
	case []byte:
		return toTimestamp(string(x))
	}
	return nil, fmt.Errorf("expected timestamp, got %T", v)
}

func toUUID(v any) (any, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String(), nil
	case [16]byte:
		return uuid.UUID(x).String(), nil
	case string:
		id, err := uuid.Parse(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("%q is not a UUID", x)
		}
		return id.String(), nil
	case []byte:
		if len(x) == 16 {
			id, err := uuid.FromBytes(x)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		return toUUID(string(x))
	}
	return nil, fmt.Errorf("expected UUID, got %T", v)
}
