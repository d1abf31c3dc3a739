package rqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medatechnology/goutil/medaerror"

	"github.com/medatechnology/dualdb"
)

var (
	ErrRQLiteInvalidConfig    medaerror.MedaError = medaerror.MedaError{Message: "invalid RQLite configuration"}
	ErrRQLiteConnectionFailed medaerror.MedaError = medaerror.MedaError{Message: "failed to connect to RQLite cluster"}
	ErrRQLiteTransactionDone  medaerror.MedaError = medaerror.MedaError{Message: "RQLite transaction already finished"}
)

// failure is the class of an error reported by the cluster. rqlite forwards SQLite
// failures as plain text, so the class is recovered from the message.
type failure int

const (
	failureNone failure = iota
	failureUnique
	failureNotNull
	failureForeignKey
	failureCheck
	failureLocked
	failureNoTable
	failureNotLeader
	failureNetwork
)

// Matched in order against the lowercased message.
// See https://www.sqlite.org/rescode.html for the SQLite side.
var failureMessages = []struct {
	text  string
	class failure
}{
	{"unique constraint failed", failureUnique},
	{"primary key constraint failed", failureUnique},
	{"not null constraint failed", failureNotNull},
	{"foreign key constraint failed", failureForeignKey},
	{"check constraint failed", failureCheck},
	{"database is locked", failureLocked},
	{"no such table", failureNoTable},
	{"not leader", failureNotLeader},
	{"connection refused", failureNetwork},
	{"connection reset", failureNetwork},
	{"no such host", failureNetwork},
	{"network is unreachable", failureNetwork},
	{"i/o timeout", failureNetwork},
	{"tried all peers", failureNetwork},
}

func classify(err error) failure {
	if err == nil {
		return failureNone
	}
	if errors.Is(err, ErrRQLiteConnectionFailed) {
		return failureNetwork
	}
	msg := strings.ToLower(err.Error())
	for _, m := range failureMessages {
		if strings.Contains(msg, m.text) {
			return m.class
		}
	}
	return failureNone
}

// RQLiteError is a failure reported by the cluster, with the statement that caused it.
type RQLiteError struct {
	Operation string
	Table     string
	Query     string // truncated
	Index     int    // position in a batch, -1 for a single statement
	Message   string
	Err       error
}

func (e *RQLiteError) Error() string {
	var ctx []string
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if e.Table != "" {
		ctx = append(ctx, "table="+e.Table)
	}
	if e.Index >= 0 {
		ctx = append(ctx, fmt.Sprintf("statement=%d", e.Index))
	}
	if len(ctx) == 0 {
		return e.Message
	}
	return e.Message + " [" + strings.Join(ctx, ", ") + "]"
}

func (e *RQLiteError) Unwrap() error { return e.Err }

// Is matches dualdb.ErrUniqueViolation for UNIQUE and PRIMARY KEY failures.
func (e *RQLiteError) Is(target error) bool {
	t, ok := target.(medaerror.MedaError)
	return ok && t == dualdb.ErrUniqueViolation && classify(e.Err) == failureUnique
}

// WrapRQLiteError adds statement context to err. A nil err stays nil.
func WrapRQLiteError(err error, operation, table, query string) error {
	return wrapBatchError(err, operation, table, query, -1)
}

func wrapBatchError(err error, operation, table, query string, index int) error {
	if err == nil {
		return nil
	}
	return &RQLiteError{
		Operation: operation,
		Table:     table,
		Query:     dualdb.TruncateSQL(query, dualdb.DEFAULT_TRUNCATE_SQL),
		Index:     index,
		Message:   err.Error(),
		Err:       err,
	}
}

func IsUniqueViolation(err error) bool     { return classify(err) == failureUnique }
func IsNotNullViolation(err error) bool    { return classify(err) == failureNotNull }
func IsForeignKeyViolation(err error) bool { return classify(err) == failureForeignKey }
func IsCheckViolation(err error) bool      { return classify(err) == failureCheck }
func IsTableNotFound(err error) bool       { return classify(err) == failureNoTable }
func IsConnectionError(err error) bool     { return classify(err) == failureNetwork }

// IsConstraintViolation reports any UNIQUE, NOT NULL, FOREIGN KEY or CHECK failure.
func IsConstraintViolation(err error) bool {
	switch classify(err) {
	case failureUnique, failureNotNull, failureForeignKey, failureCheck:
		return true
	}
	return false
}

// IsRetryable reports failures that may succeed when the statement is sent again:
// a locked database, a leader change or an unreachable node.
func IsRetryable(err error) bool {
	switch classify(err) {
	case failureLocked, failureNotLeader, failureNetwork:
		return true
	}
	return false
}
