package rqlite

import (
	"context"
	"fmt"
	"sync"

	"github.com/rqlite/gorqlite"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/rewrite"
)

// rqliteTransaction collects writes until the callback returns. rqlite keeps no
// server-side transaction state, so the buffered statements are sent together in one
// request that the leader applies atomically.
type rqliteTransaction struct {
	a          *Adapter
	mu         sync.Mutex
	statements []gorqlite.ParameterizedStatement
	done       bool
}

// Query buffers writes and runs reads immediately against committed data. A buffered
// write reports RowCount 0, the real counts are only known after the commit. RETURNING
// cannot be answered before the commit and fails with dualdb.ErrReturningInBufferedTx.
func (tx *rqliteTransaction) Query(ctx context.Context, query string, params ...any) (dualdb.QueryResult, error) {
	tx.mu.Lock()
	done := tx.done
	tx.mu.Unlock()
	if done {
		return dualdb.QueryResult{}, fmt.Errorf("%w: %w", dualdb.ErrTransactionDone, ErrRQLiteTransactionDone)
	}

	out, command, err := tx.a.prepare(query, params)
	if err != nil {
		return dualdb.QueryResult{}, err
	}

	if rewrite.IsRead(command) {
		ctx, cancel := tx.a.withTimeout(ctx)
		defer cancel()
		return tx.a.read(ctx, command, out)
	}
	if rewrite.ParseReturning(out.SQL).HasReturning {
		return dualdb.QueryResult{}, WrapRQLiteError(dualdb.ErrReturningInBufferedTx, command, tableOf(out.SQL), out.SQL)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.statements = append(tx.statements, statement(out.SQL, out.Params))
	return dualdb.QueryResult{Rows: []dualdb.Record{}, RowCount: 0, Command: command}, nil
}

// finish marks the transaction closed and hands back what was buffered.
func (tx *rqliteTransaction) finish() []gorqlite.ParameterizedStatement {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	stmts := tx.statements
	tx.statements = nil
	return stmts
}

// Transaction runs fn with a buffering Tx. If fn returns nil the buffered writes are sent
// as one atomic batch; if it returns an error or panics they are discarded (the panic is
// re-raised).
func (a *Adapter) Transaction(ctx context.Context, fn func(tx dualdb.Tx) error) error {
	tx := &rqliteTransaction{a: a}

	defer func() {
		if p := recover(); p != nil {
			tx.finish()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if n := len(tx.finish()); n > 0 {
			a.logger.Debug("transaction discarded", dualdb.Int("statements", n))
		}
		return err
	}

	stmts := tx.finish()
	if len(stmts) == 0 {
		return nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := a.writeBatch(ctx, "COMMIT", stmts); err != nil {
		return dualdb.WrapTransactionError(err, "COMMIT")
	}
	return nil
}
