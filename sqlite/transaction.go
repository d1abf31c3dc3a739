package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medatechnology/dualdb"
)

// sqliteTx implements dualdb.Tx on one *sql.Tx.
type sqliteTx struct {
	a  *Adapter
	tx *sql.Tx
}

// Query runs query inside the transaction. RETURNING emulation joins the same transaction.
func (t *sqliteTx) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	res, err := t.a.query(ctx, t.tx, query, params)
	if errors.Is(err, sql.ErrTxDone) {
		return res, fmt.Errorf("%w: %v", dualdb.ErrTransactionDone, err)
	}
	return res, err
}

// Transaction runs fn in an immediate (write-locking) transaction. An error returned by
// fn, or a panic, rolls back; the panic is re-raised afterwards.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx dualdb.Tx) error) error {
	return a.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqliteTx{a: a, tx: tx})
	})
}
