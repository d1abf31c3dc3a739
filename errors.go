package dualdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medatechnology/goutil/medaerror"
)

var (
	ErrSQLNoRows         medaerror.MedaError = medaerror.MedaError{Message: "select returns no rows"}
	ErrSQLMoreThanOneRow medaerror.MedaError = medaerror.MedaError{Message: "select returns more than 1 rows"}

	// A parameter could not be turned into something the embedded engine can bind.
	ErrSerialization medaerror.MedaError = medaerror.MedaError{Message: "parameter cannot be serialized"}
	// The statement could not be understood well enough to rewrite or emulate it.
	ErrMalformedStatement medaerror.MedaError = medaerror.MedaError{Message: "malformed statement"}
	// INSERT ... RETURNING touched more than one row on a backend that emulates RETURNING.
	ErrMultiRowReturning medaerror.MedaError = medaerror.MedaError{Message: "RETURNING emulation supports single-row inserts only"}
	// RETURNING inside a transaction whose writes are buffered until commit.
	ErrReturningInBufferedTx medaerror.MedaError = medaerror.MedaError{Message: "RETURNING is not available inside a buffered transaction"}
	// The embedded schema is older than anything we know how to migrate.
	ErrSchemaVersion medaerror.MedaError = medaerror.MedaError{Message: "unsupported schema version"}
	// A row does not conform to its schema.
	ErrValidation medaerror.MedaError = medaerror.MedaError{Message: "row validation failed"}
	// A unique constraint rejected the write. Adapters wrap driver errors with it so callers
	// can check conflicts without knowing the backend.
	ErrUniqueViolation medaerror.MedaError = medaerror.MedaError{Message: "unique constraint violation"}
	ErrUnknownBackend  medaerror.MedaError = medaerror.MedaError{Message: "unknown database backend"}
	ErrTransactionDone medaerror.MedaError = medaerror.MedaError{Message: "transaction is already closed"}
)

// ErrorContext is what an adapter knew about the statement that failed.
type ErrorContext struct {
	Operation string
	Table     string
	Query     string // truncated
	Backend   string
	Fields    map[string]interface{}
}

// pairs lists the non-empty context in display order. The query is last so that
// Error can leave it out.
func (c ErrorContext) pairs() [][2]string {
	var out [][2]string
	for _, kv := range [][2]string{
		{"backend", c.Backend},
		{"operation", c.Operation},
		{"table", c.Table},
		{"query", c.Query},
	} {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}
	return out
}

// ORMError is an adapter failure annotated with its ErrorContext.
type ORMError struct {
	Err     error
	Context ErrorContext
}

func (e *ORMError) Error() string {
	var parts []string
	for _, kv := range e.Context.pairs() {
		if kv[0] != "query" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	if len(parts) == 0 {
		return e.Err.Error()
	}
	return e.Err.Error() + " [" + strings.Join(parts, ", ") + "]"
}

func (e *ORMError) Unwrap() error { return e.Err }

func WrapError(err error, operation, table string) error {
	if err == nil {
		return nil
	}
	return &ORMError{Err: err, Context: ErrorContext{Operation: operation, Table: table}}
}

// WrapErrorWithQuery is WrapError plus the backend and the statement, truncated with
// TruncateSQL so parameters and long literals stay out of logs.
func WrapErrorWithQuery(err error, backend, operation, table, query string) error {
	if err == nil {
		return nil
	}
	return &ORMError{Err: err, Context: ErrorContext{
		Backend:   backend,
		Operation: operation,
		Table:     table,
		Query:     TruncateSQL(query, DEFAULT_TRUNCATE_SQL),
	}}
}

// WrapTransactionError tags err with operation TRANSACTION:<step>, e.g. TRANSACTION:COMMIT.
func WrapTransactionError(err error, step string) error {
	return WrapError(err, "TRANSACTION:"+step, "")
}

func IsORMError(err error) bool {
	_, ok := GetErrorContext(err)
	return ok
}

// GetErrorContext finds the first ORMError in the chain of err.
func GetErrorContext(err error) (ErrorContext, bool) {
	var ormErr *ORMError
	if errors.As(err, &ormErr) {
		return ormErr.Context, true
	}
	return ErrorContext{}, false
}

// FormatError renders err with its full context on one line, for CLI output.
func FormatError(err error) string {
	if err == nil {
		return "no error"
	}
	var ormErr *ORMError
	if !errors.As(err, &ormErr) {
		return err.Error()
	}

	parts := []string{"Error: " + ormErr.Err.Error()}
	for _, kv := range ormErr.Context.pairs() {
		parts = append(parts, strings.ToUpper(kv[0][:1])+kv[0][1:]+": "+kv[1])
	}
	if len(ormErr.Context.Fields) > 0 {
		parts = append(parts, fmt.Sprintf("Fields: %v", ormErr.Context.Fields))
	}
	return strings.Join(parts, " | ")
}

// LogErrorWithContext logs err at error level with its ErrorContext as fields.
// Nothing is logged when err or logger is nil.
func LogErrorWithContext(logger Logger, err error, fields ...Field) {
	if err == nil || logger == nil {
		return
	}
	ctx, _ := GetErrorContext(err)
	for _, kv := range ctx.pairs() {
		fields = append(fields, String(kv[0], kv[1]))
	}
	logger.Error(err.Error(), append(fields, Error(err))...)
}
