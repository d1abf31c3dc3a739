// Package catalog holds the storefront stores: categories, products and orders. They
// write PostgreSQL-flavoured SQL ($N placeholders, gen_random_uuid(), NOW(), RETURNING)
// against any dualdb.Adapter and validate every row before handing it out, so the same
// code runs on every backend.
package catalog

import (
	"strings"
	"unicode"

	"github.com/medatechnology/goutil/medaerror"

	"github.com/medatechnology/dualdb"
)

var (
	ErrNotFound     medaerror.MedaError = medaerror.MedaError{Message: "not found"}
	ErrInvalidInput medaerror.MedaError = medaerror.MedaError{Message: "invalid input"}
)

// Store bundles the stores over one adapter.
type Store struct {
	Categories *Categories
	Products   *Products
	Orders     *Orders
}

// New returns the stores for db. A nil logger discards output.
func New(db dualdb.Adapter, logger dualdb.Logger) *Store {
	logger = dualdb.WithCategory(logger, dualdb.CategoryCatalog)
	return &Store{
		Categories: &Categories{db: db, logger: logger},
		Products:   &Products{db: db, logger: logger},
		Orders:     &Orders{db: db, logger: logger},
	}
}

// Slugify lowercases name and collapses every run of other characters into one dash.
// "Fresh Fruit & Veg" becomes "fresh-fruit-veg".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
