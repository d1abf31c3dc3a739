package postgres

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medatechnology/dualdb"
)

func newMockAdapter(t *testing.T, config Config, logger dualdb.Logger) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db, config, logger), mock
}

func TestQueryPassesSQLUnchanged(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	mock.ExpectQuery("SELECT id, name, price, created_at FROM categories WHERE slug = $1").
		WithArgs("vegetables").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "created_at"}).
			AddRow([]byte("7b1f6c1e-3f0a-4d52-9a57-1f1b2d0c9e11"), "Vegetables", []byte("12.50"), created))

	res, err := a.Query(context.Background(),
		"SELECT id, name, price, created_at FROM categories WHERE slug = $1", "vegetables")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "SELECT", res.Command)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, []string{"id", "name", "price", "created_at"}, res.Columns())

	row := res.Rows[0]
	assert.Equal(t, "7b1f6c1e-3f0a-4d52-9a57-1f1b2d0c9e11", row["id"])
	assert.Equal(t, "12.50", row["price"])
	assert.Equal(t, created.UTC(), row["created_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteWithReturningReadsRows(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)
	query := "INSERT INTO categories (name, slug, sku_prefix) VALUES ($1, $2, $3) RETURNING *"

	mock.ExpectQuery(query).
		WithArgs("Vegetables", "vegetables", "VEG").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c-1", "Vegetables"))

	res, err := a.Query(context.Background(), query, "Vegetables", "vegetables", "VEG")
	require.NoError(t, err)
	assert.Equal(t, "INSERT", res.Command)
	assert.Equal(t, []dualdb.Record{{"id": "c-1", "name": "Vegetables"}}, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteWithoutReturningCountsAffectedRows(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)
	query := "UPDATE products SET active = $1 WHERE category_id = $2"

	mock.ExpectExec(query).WithArgs(false, "c-1").WillReturnResult(sqlmock.NewResult(0, 3))

	res, err := a.Query(context.Background(), query, false, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowCount)
	assert.Empty(t, res.Rows)
	assert.Equal(t, "UPDATE", res.Command)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompositeParamsBoundAsJSON(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)
	query := "UPDATE products SET attributes = $1 WHERE id = $2"

	mock.ExpectExec(query).WithArgs(`{"origin":"NO"}`, "p-1").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := a.Query(context.Background(), query, map[string]string{"origin": "NO"}, "p-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverErrorsAreWrapped(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)
	query := "INSERT INTO categories (name, slug) VALUES ($1, $2) RETURNING id"

	mock.ExpectQuery(query).WithArgs("Vegetables", "vegetables").
		WillReturnError(&pq.Error{Code: ErrCodeUniqueViolation, Message: "duplicate key value violates unique constraint"})

	_, err := a.Query(context.Background(), query, "Vegetables", "vegetables")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dualdb.ErrUniqueViolation))
	assert.True(t, IsUniqueViolation(err))

	var pgErr *PostgreSQLError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "INSERT", pgErr.Operation)
	assert.Equal(t, "categories", pgErr.Table)
}

func TestTransactionCommits(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders (customer_email, total) VALUES ($1, $2)").
		WithArgs("a@example.com", "10.00").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products SET active = $1 WHERE id = $2").
		WithArgs(false, "p-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := a.Transaction(context.Background(), func(tx dualdb.Tx) error {
		if _, err := tx.Query(context.Background(),
			"INSERT INTO orders (customer_email, total) VALUES ($1, $2)", "a@example.com", "10.00"); err != nil {
			return err
		}
		_, err := tx.Query(context.Background(), "UPDATE products SET active = $1 WHERE id = $2", false, "p-1")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollsBackOnError(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM order_items WHERE order_id = $1").
		WithArgs("o-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	err := a.Transaction(context.Background(), func(tx dualdb.Tx) error {
		if _, err := tx.Query(context.Background(), "DELETE FROM order_items WHERE order_id = $1", "o-1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollsBackOnPanic(t *testing.T) {
	a, mock := newMockAdapter(t, *NewDefaultConfig(), nil)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.PanicsWithValue(t, "boom", func() {
		_ = a.Transaction(context.Background(), func(tx dualdb.Tx) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlowQueryLogNeverContainsParams(t *testing.T) {
	var buf bytes.Buffer
	logger := dualdb.NewWriterLogger(&buf, dualdb.LogLevelDebug)
	config := *NewDefaultConfig()
	config.SlowQueryThreshold = time.Nanosecond
	a, mock := newMockAdapter(t, config, logger)

	mock.ExpectQuery("SELECT id FROM orders WHERE customer_email = $1").
		WithArgs("secret@example.com").
		WillDelayFor(2 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := a.Query(context.Background(), "SELECT id FROM orders WHERE customer_email = $1", "secret@example.com")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "slow query")
	assert.Contains(t, out, "SELECT id FROM orders")
	assert.NotContains(t, out, "secret@example.com")
}

func TestPoolStatus(t *testing.T) {
	a, _ := newMockAdapter(t, *NewDefaultConfig(), nil)
	st := a.PoolStatus()
	assert.GreaterOrEqual(t, st.TotalCount, st.IdleCount)
	assert.Equal(t, 0, st.WaitingCount)
	assert.Equal(t, dualdb.BACKEND_POSTGRES, a.Name())
}
