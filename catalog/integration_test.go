//go:build integration

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/dispatch"
	"github.com/medatechnology/dualdb/postgres"
)

// startPostgres runs a throwaway server and returns an adapter with the schema in place.
// The container is terminated when the test completes.
func startPostgres(ctx context.Context, t *testing.T) dualdb.Adapter {
	t.Helper()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("store"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	cfg, err := postgres.ParseDSN(dsn)
	require.NoError(t, err)

	a, err := postgres.New(ctx, *cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.EnsureSchema(ctx))

	db := dispatch.Wrap(a, nil, dispatch.Options{MetricsSet: metrics.NewSet()})
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBackendsReturnTheSameShapes(t *testing.T) {
	ctx := context.Background()
	_, lite := newStore(t)
	backends := map[string]dualdb.Adapter{
		dualdb.BACKEND_SQLITE:   lite,
		dualdb.BACKEND_POSTGRES: startPostgres(ctx, t),
	}

	type snapshot struct {
		category Category
		product  Product
		order    Order
	}
	got := make(map[string]snapshot)

	for name, db := range backends {
		s := New(db, nil)

		cat, err := s.Categories.Create(ctx, "Vegetables", "VEG")
		require.NoError(t, err, name)
		p, err := s.Products.Create(ctx, NewProduct{
			CategoryID: cat.ID,
			Name:       "Carrots",
			Price:      1.25,
			Attributes: map[string]any{"organic": true},
		})
		require.NoError(t, err, name)
		order, err := s.Orders.Place(ctx, "ann@example.com", []LineItem{{ProductID: p.ID, Quantity: 4}})
		require.NoError(t, err, name)

		_, err = s.Categories.Create(ctx, "vegetables", "VG2")
		assert.ErrorIs(t, err, dualdb.ErrUniqueViolation, name)

		got[name] = snapshot{category: cat, product: p, order: order}
	}

	lo, pg := got[dualdb.BACKEND_SQLITE], got[dualdb.BACKEND_POSTGRES]
	assert.Equal(t, lo.category.Slug, pg.category.Slug)
	assert.Equal(t, lo.category.SKUPrefix, pg.category.SKUPrefix)
	assert.Equal(t, lo.product.SKU, pg.product.SKU)
	assert.Equal(t, lo.product.Price, pg.product.Price)
	assert.Equal(t, lo.product.Active, pg.product.Active)
	assert.Equal(t, lo.product.Attributes, pg.product.Attributes)
	assert.Equal(t, lo.order.Total, pg.order.Total)
	assert.Equal(t, lo.order.Status, pg.order.Status)
	require.Len(t, pg.order.Items, 1)
	assert.Equal(t, lo.order.Items[0].Quantity, pg.order.Items[0].Quantity)
	assert.Equal(t, lo.order.Items[0].UnitPrice, pg.order.Items[0].UnitPrice)
	assert.Equal(t, time.UTC, pg.category.CreatedAt.Location())
}
