package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/validate"
)

type Product struct {
	ID         string         `db:"id" json:"id"`
	CategoryID string         `db:"category_id" json:"category_id"`
	SKU        string         `db:"sku" json:"sku"`
	Name       string         `db:"name" json:"name"`
	Price      float64        `db:"price" json:"price"`
	Attributes map[string]any `db:"attributes" json:"attributes,omitempty"`
	Active     bool           `db:"active" json:"active"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// NewProduct is the input of Products.Create.
type NewProduct struct {
	CategoryID string
	Name       string
	Price      float64
	Attributes map[string]any // stored as JSON
}

type Products struct {
	db     dualdb.Adapter
	logger dualdb.Logger
}

// skuAttempts bounds how often Create picks a new SKU after losing a race for one.
const skuAttempts = 5

// Create inserts an active product. Its SKU is the category's prefix followed by the next
// sequence number within the category, e.g. VEG-0003. Two concurrent creates may pick the
// same number; the loser sees the UNIQUE violation and picks again.
func (p *Products) Create(ctx context.Context, in NewProduct) (Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if in.Price < 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return Product{}, fmt.Errorf("%w: price %v", ErrInvalidInput, in.Price)
	}

	var attrs any
	if in.Attributes != nil {
		attrs = in.Attributes
	}
	for attempt := 1; ; attempt++ {
		sku, err := p.nextSKU(ctx, in.CategoryID)
		if err != nil {
			return Product{}, err
		}
		rec := dualdb.DBRecord{TableName: "products", Data: dualdb.Record{
			"id":          dualdb.ExprUUID,
			"category_id": in.CategoryID,
			"sku":         sku,
			"name":        name,
			"price":       math.Round(in.Price*100) / 100,
			"attributes":  attrs,
			"active":      true,
			"created_at":  dualdb.ExprNow,
			"updated_at":  dualdb.ExprNow,
		}}
		query, values, err := rec.ToInsertSQL("*")
		if err != nil {
			return Product{}, err
		}
		row, err := dualdb.QueryOne(ctx, p.db, query, values...)
		if errors.Is(err, dualdb.ErrUniqueViolation) && attempt < skuAttempts {
			p.logger.Debug("sku taken, retrying", dualdb.String("sku", sku), dualdb.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Product{}, err
		}
		product, err := validate.DecodeRow[Product](row, productSchema)
		if err != nil {
			return Product{}, err
		}
		p.logger.Info("product created", dualdb.String("id", product.ID), dualdb.String("sku", product.SKU))
		return product, nil
	}
}

// nextSKU numbers past the highest SKU of the category, so deleted products leave gaps
// instead of handing their number out again.
func (p *Products) nextSKU(ctx context.Context, categoryID string) (string, error) {
	cat, err := dualdb.QueryOne(ctx, p.db,
		`SELECT c.sku_prefix, MAX(CAST(SUBSTR(p.sku, LENGTH(c.sku_prefix) + 2) AS INTEGER)) AS last_seq
		 FROM categories c LEFT JOIN products p
		   ON p.category_id = c.id AND p.sku LIKE c.sku_prefix || '-%'
		 WHERE c.id = $1
		 GROUP BY c.sku_prefix`, categoryID)
	if errors.Is(err, dualdb.ErrSQLNoRows) {
		return "", fmt.Errorf("category %s: %w", categoryID, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	seq, err := validate.ValidateRow(cat, validate.Schema{
		Table: "categories",
		Fields: []validate.Field{
			{Name: "sku_prefix", Type: validate.String},
			{Name: "last_seq", Type: validate.Int, Nullable: true},
		},
	})
	if err != nil {
		return "", err
	}
	last, _ := seq["last_seq"].(int64)
	return fmt.Sprintf("%s-%04d", seq["sku_prefix"], last+1), nil
}

// Get returns the product with id.
func (p *Products) Get(ctx context.Context, id string) (Product, error) {
	row, err := dualdb.QueryOne(ctx, p.db, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, dualdb.ErrSQLNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Product{}, err
	}
	return validate.DecodeRow[Product](row, productSchema)
}

// ListByCategory returns the products of a category by SKU. Invalid rows are logged and
// skipped.
func (p *Products) ListByCategory(ctx context.Context, categoryID string, activeOnly bool) ([]Product, error) {
	cond := dualdb.Condition{Field: "category_id", Operator: "=", Value: categoryID}
	if activeOnly {
		cond = *cond.And(cond, dualdb.Condition{Field: "active", Operator: "=", Value: true})
	}
	cond.OrderBy = []string{"sku"}

	query, params := cond.ToSelectString("products")
	res, err := p.db.Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	return validate.Decode[Product](res.Rows, productSchema,
		validate.Options{SkipInvalid: true, Logger: p.logger})
}

// SetActive switches a product on or off the shelf.
func (p *Products) SetActive(ctx context.Context, id string, active bool) (Product, error) {
	res, err := p.db.Query(ctx,
		"UPDATE products SET active = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
		active, id)
	if err != nil {
		return Product{}, err
	}
	if len(res.Rows) == 0 {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return validate.DecodeRow[Product](res.Rows[0], productSchema)
}
