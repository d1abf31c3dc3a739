package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medatechnology/dualdb"
)

// postgresTransaction implements dualdb.Tx on one pooled connection
type postgresTransaction struct {
	pdb *Adapter
	tx  *sql.Tx // The underlying database/sql transaction
}

// Query runs query on the transaction's connection
func (ptx *postgresTransaction) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	res, err := ptx.pdb.query(ctx, ptx.tx, query, params)
	if errors.Is(err, sql.ErrTxDone) {
		return res, fmt.Errorf("%w: %v", dualdb.ErrTransactionDone, err)
	}
	return res, err
}

// Transaction runs fn on a dedicated connection inside BEGIN/COMMIT. An error returned
// by fn, or a panic, rolls back (the panic is re-raised). The connection goes back to the
// pool on every path.
func (pdb *Adapter) Transaction(ctx context.Context, fn func(tx dualdb.Tx) error) error {
	tx, err := pdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrPostgresTransactionFailed,
			WrapPostgreSQLError(err, "BEGIN", "", ""))
	}

	defer func() {
		if p := recover(); p != nil {
			pdb.rollback(tx)
			panic(p)
		}
	}()

	if err := fn(&postgresTransaction{pdb: pdb, tx: tx}); err != nil {
		pdb.rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", ErrPostgresTransactionFailed,
			WrapPostgreSQLError(err, "COMMIT", "", ""))
	}
	return nil
}

// rollback rolls back the transaction; a failure is logged since the original error
// is what the caller needs to see
func (pdb *Adapter) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		pdb.logger.Warn("failed to rollback transaction", dualdb.Error(err))
	}
}
