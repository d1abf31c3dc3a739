package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/validate"
)

type Category struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	SKUPrefix   string    `db:"sku_prefix" json:"sku_prefix"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type Categories struct {
	db     dualdb.Adapter
	logger dualdb.Logger
}

// Create inserts a category. The slug is derived from name and the SKU prefix is
// upper-cased. A slug that already exists fails with dualdb.ErrUniqueViolation.
func (c *Categories) Create(ctx context.Context, name, skuPrefix string) (Category, error) {
	name = strings.TrimSpace(name)
	skuPrefix = strings.ToUpper(strings.TrimSpace(skuPrefix))
	slug := Slugify(name)
	if slug == "" {
		return Category{}, fmt.Errorf("%w: category name %q", ErrInvalidInput, name)
	}
	if skuPrefix == "" {
		return Category{}, fmt.Errorf("%w: SKU prefix is required", ErrInvalidInput)
	}

	row, err := dualdb.QueryOne(ctx, c.db,
		`INSERT INTO categories (id, name, slug, sku_prefix, created_at, updated_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, NOW(), NOW())
		 RETURNING *`,
		name, slug, skuPrefix)
	if err != nil {
		return Category{}, err
	}
	cat, err := validate.DecodeRow[Category](row, categorySchema)
	if err != nil {
		return Category{}, err
	}
	c.logger.Info("category created", dualdb.String("id", cat.ID), dualdb.String("slug", cat.Slug))
	return cat, nil
}

// Get returns the category with id.
func (c *Categories) Get(ctx context.Context, id string) (Category, error) {
	return c.one(ctx, "SELECT * FROM categories WHERE id = $1", id)
}

// GetBySlug returns the category with slug.
func (c *Categories) GetBySlug(ctx context.Context, slug string) (Category, error) {
	return c.one(ctx, "SELECT * FROM categories WHERE slug = $1", slug)
}

func (c *Categories) one(ctx context.Context, query string, key string) (Category, error) {
	row, err := dualdb.QueryOne(ctx, c.db, query, key)
	if errors.Is(err, dualdb.ErrSQLNoRows) {
		return Category{}, fmt.Errorf("category %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Category{}, err
	}
	return validate.DecodeRow[Category](row, categorySchema)
}

// List returns every category by name. Rows that fail validation are logged and skipped.
func (c *Categories) List(ctx context.Context) ([]Category, error) {
	res, err := c.db.Query(ctx, "SELECT * FROM categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	return validate.Decode[Category](res.Rows, categorySchema,
		validate.Options{SkipInvalid: true, Logger: c.logger})
}

// SetDescription replaces the description; an empty string clears it.
func (c *Categories) SetDescription(ctx context.Context, id, description string) (Category, error) {
	var desc any
	if description != "" {
		desc = description
	}
	rec := dualdb.DBRecord{TableName: "categories", Data: dualdb.Record{
		"id":          id,
		"description": desc,
		"updated_at":  dualdb.ExprNow,
	}}
	query, values, err := rec.ToUpdateSQL("id", "*")
	if err != nil {
		return Category{}, err
	}
	res, err := c.db.Query(ctx, query, values...)
	if err != nil {
		return Category{}, err
	}
	if len(res.Rows) == 0 {
		return Category{}, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return validate.DecodeRow[Category](res.Rows[0], categorySchema)
}

// Delete removes an empty category and returns it.
func (c *Categories) Delete(ctx context.Context, id string) (Category, error) {
	res, err := c.db.Query(ctx, "DELETE FROM categories WHERE id = $1 RETURNING *", id)
	if err != nil {
		return Category{}, err
	}
	if len(res.Rows) == 0 {
		return Category{}, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	c.logger.Info("category deleted", dualdb.String("id", id))
	return validate.DecodeRow[Category](res.Rows[0], categorySchema)
}
