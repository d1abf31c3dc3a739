package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/medatechnology/goutil/medaerror"

	"github.com/medatechnology/dualdb"
)

var (
	ErrSQLiteInvalidConfig medaerror.MedaError = medaerror.MedaError{Message: "invalid SQLite configuration"}
	ErrSQLiteOpenFailed    medaerror.MedaError = medaerror.MedaError{Message: "failed to open SQLite database"}
	ErrSQLiteNotWAL        medaerror.MedaError = medaerror.MedaError{Message: "SQLite database is not in WAL mode"}
)

// wrapError adds query context to err. Unique constraint failures additionally match
// dualdb.ErrUniqueViolation.
func wrapError(err error, operation, table, query string) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		err = fmt.Errorf("%w: %w", dualdb.ErrUniqueViolation, err)
	}
	return dualdb.WrapErrorWithQuery(err, dualdb.BACKEND_SQLITE, operation, table, query)
}

func sqliteError(err error) (sqlite3.Error, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr, true
	}
	return sqlite3.Error{}, false
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	e, ok := sqliteError(err)
	return ok && (e.ExtendedCode == sqlite3.ErrConstraintUnique || e.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func IsForeignKeyViolation(err error) bool {
	e, ok := sqliteError(err)
	return ok && e.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// IsConstraintViolation reports whether err is any constraint failure.
func IsConstraintViolation(err error) bool {
	e, ok := sqliteError(err)
	return ok && e.Code == sqlite3.ErrConstraint
}

// IsBusy reports whether err means another connection holds the lock.
func IsBusy(err error) bool {
	e, ok := sqliteError(err)
	return ok && (e.Code == sqlite3.ErrBusy || e.Code == sqlite3.ErrLocked)
}
