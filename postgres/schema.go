package postgres

import (
	"context"
	_ "embed"
	"strings"

	"github.com/medatechnology/dualdb"
)

//go:embed schema.sql
var schemaSQL string

// SchemaStatements returns the DDL of the storefront schema, one statement per entry.
func SchemaStatements() []string {
	return dualdb.ConvertSQLCommands(strings.Split(schemaSQL, "\n"))
}

// EnsureSchema creates the storefront tables that do not exist yet, in one transaction.
// Server-side schema changes beyond that are left to the migration tooling of the
// deployment.
func (pdb *Adapter) EnsureSchema(ctx context.Context) error {
	return pdb.Transaction(ctx, func(tx dualdb.Tx) error {
		for _, stmt := range SchemaStatements() {
			if _, err := tx.Query(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
