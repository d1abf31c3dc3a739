package postgres

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/lib/pq"
	"github.com/medatechnology/goutil/medaerror"

	"github.com/medatechnology/dualdb"
)

// SQLSTATE codes the adapter reacts to.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	ErrCodeUniqueViolation      = "23505"
	ErrCodeForeignKeyViolation  = "23503"
	ErrCodeUndefinedTable       = "42P01"
	ErrCodeDeadlockDetected     = "40P01"
	ErrCodeSerializationFailure = "40001"
	ErrCodeCannotConnectNow     = "57P03"

	classIntegrityConstraint = "23"
	classConnectionException = "08"
)

var (
	ErrPostgresInvalidDSN        medaerror.MedaError = medaerror.MedaError{Message: "invalid PostgreSQL DSN connection string"}
	ErrPostgresConnectionFailed  medaerror.MedaError = medaerror.MedaError{Message: "failed to connect to PostgreSQL database"}
	ErrPostgresTransactionFailed medaerror.MedaError = medaerror.MedaError{Message: "PostgreSQL transaction failed"}
	ErrPostgresInvalidConfig     medaerror.MedaError = medaerror.MedaError{Message: "invalid PostgreSQL configuration"}
)

var retryableCodes = []string{ErrCodeDeadlockDetected, ErrCodeSerializationFailure, ErrCodeCannotConnectNow}

// PostgreSQLError is a server failure with the statement that caused it. Code, Detail
// and Hint come from the server when the cause is a *pq.Error.
type PostgreSQLError struct {
	Operation string
	Table     string
	Query     string // truncated
	Code      string
	Message   string
	Detail    string
	Hint      string
	Err       error
}

func (e *PostgreSQLError) Error() string {
	var ctx []string
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if e.Table != "" {
		ctx = append(ctx, "table="+e.Table)
	}
	if e.Code != "" {
		ctx = append(ctx, "code="+e.Code)
	}

	var b strings.Builder
	b.WriteString(e.Message)
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(ctx, ", "))
	}
	if e.Detail != "" {
		b.WriteString(" - Detail: " + e.Detail)
	}
	if e.Hint != "" {
		b.WriteString(" - Hint: " + e.Hint)
	}
	return b.String()
}

func (e *PostgreSQLError) Unwrap() error { return e.Err }

// Is matches dualdb.ErrUniqueViolation so callers can test for duplicates without
// importing this package.
func (e *PostgreSQLError) Is(target error) bool {
	t, ok := target.(medaerror.MedaError)
	return ok && t == dualdb.ErrUniqueViolation && e.Code == ErrCodeUniqueViolation
}

// WrapPostgreSQLError adds statement context to err. A nil err stays nil.
func WrapPostgreSQLError(err error, operation, table, query string) error {
	if err == nil {
		return nil
	}
	wrapped := &PostgreSQLError{
		Operation: operation,
		Table:     table,
		Query:     dualdb.TruncateSQL(query, dualdb.DEFAULT_TRUNCATE_SQL),
		Message:   err.Error(),
		Err:       err,
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		wrapped.Code = string(pqErr.Code)
		wrapped.Message = pqErr.Message
		wrapped.Detail = pqErr.Detail
		wrapped.Hint = pqErr.Hint
	}
	return wrapped
}

// GetPostgreSQLErrorCode returns the SQLSTATE carried by err, or "".
func GetPostgreSQLErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *PostgreSQLError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func codeClass(err error) string {
	if code := GetPostgreSQLErrorCode(err); len(code) == 5 {
		return code[:2]
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return GetPostgreSQLErrorCode(err) == ErrCodeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	return GetPostgreSQLErrorCode(err) == ErrCodeForeignKeyViolation
}

func IsUndefinedTable(err error) bool {
	return GetPostgreSQLErrorCode(err) == ErrCodeUndefinedTable
}

// IsConstraintViolation reports any class 23 integrity failure.
func IsConstraintViolation(err error) bool {
	return codeClass(err) == classIntegrityConstraint
}

func IsConnectionError(err error) bool {
	return codeClass(err) == classConnectionException || GetPostgreSQLErrorCode(err) == ErrCodeCannotConnectNow
}

// IsRetryable reports deadlocks, serialization failures and connection loss, after
// which the whole transaction may be run again.
func IsRetryable(err error) bool {
	return slices.Contains(retryableCodes, GetPostgreSQLErrorCode(err)) || IsConnectionError(err)
}
