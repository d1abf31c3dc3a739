package validate

import (
	"fmt"
	"strings"

	"github.com/jonbodner/multierr"

	"github.com/medatechnology/dualdb"
)

// FieldError is one column that did not fit its schema.
type FieldError struct {
	Field  string
	Type   Type
	Value  any // offending value, nil when missing or NULL
	Reason string
}

func (e FieldError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", e.Field, e.Type, e.Reason)
}

// ValidationError is returned when a row does not conform to its schema. It matches
// dualdb.ErrValidation with errors.Is.
type ValidationError struct {
	Table  string
	Row    int // index in the batch, -1 for a single row
	Fields []FieldError

	diagnostics error
}

func (e *ValidationError) add(table string, row int, fe FieldError) *ValidationError {
	if e == nil {
		e = &ValidationError{Table: table, Row: row}
	}
	e.Fields = append(e.Fields, fe)
	e.diagnostics = multierr.Append(e.diagnostics, fe)
	return e
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(dualdb.ErrValidation.Error())
	if e.Table != "" {
		fmt.Fprintf(&b, ": table=%s", e.Table)
	}
	if e.Row >= 0 {
		fmt.Fprintf(&b, " row=%d", e.Row)
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	fmt.Fprintf(&b, ": %s", strings.Join(msgs, "; "))
	return b.String()
}

// Unwrap exposes the sentinel and the aggregated field diagnostics.
func (e *ValidationError) Unwrap() []error {
	return []error{dualdb.ErrValidation, e.diagnostics}
}

// Field returns the diagnostic for name, if any.
func (e *ValidationError) Field(name string) (FieldError, bool) {
	for _, f := range e.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldError{}, false
}
