package dualdb

import (
	"context"
	"fmt"
)

// Querier runs one statement. SQL always uses $1, $2, ... placeholders regardless of
// the backend behind it; adapters translate internally.
type Querier interface {
	Query(ctx context.Context, sql string, params ...any) (QueryResult, error)
}

// Tx is the handle a transaction callback receives. Every statement issued through it
// belongs to the same atomic unit and runs in submission order.
type Tx interface {
	Querier
}

// Adapter is the contract both backends implement. Business code depends on this
// interface (usually through the dispatcher) and never on a concrete backend.
type Adapter interface {
	Querier

	// Transaction runs fn inside one transaction. A returned error or a panic rolls
	// back, otherwise the transaction commits. The connection is released on every path.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// PoolStatus reports the connection pool of the backend.
	PoolStatus() PoolStatus

	// Name identifies the backend in logs and metrics ("postgres", "sqlite", "rqlite").
	Name() string

	Close() error
}

// StatusReporter is implemented by adapters that can describe the backend they talk to.
type StatusReporter interface {
	Status(ctx context.Context) (BackendStatus, error)
}

// InTransaction runs fn in a transaction on a and returns its value.
// Usage:
//
//	order, err := dualdb.InTransaction(ctx, db, func(tx dualdb.Tx) (Order, error) {
//	    res, err := tx.Query(ctx, "INSERT INTO orders (...) VALUES (...) RETURNING *", ...)
//	    ...
//	})
func InTransaction[T any](ctx context.Context, a Adapter, fn func(tx Tx) (T, error)) (T, error) {
	var out T
	err := a.Transaction(ctx, func(tx Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// QueryOne runs sql and returns its only row. No rows gives ErrSQLNoRows, more than one
// gives ErrSQLMoreThanOneRow.
func QueryOne(ctx context.Context, q Querier, sql string, params ...any) (Record, error) {
	res, err := q.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	switch len(res.Rows) {
	case 0:
		return nil, ErrSQLNoRows
	case 1:
		return res.Rows[0], nil
	default:
		return nil, fmt.Errorf("%w: got %d", ErrSQLMoreThanOneRow, len(res.Rows))
	}
}
