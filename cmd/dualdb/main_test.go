package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medatechnology/dualdb/config"
)

func sqliteEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.sqlite")
	t.Setenv(config.EnvBackend, "sqlite")
	t.Setenv(config.EnvSQLitePath, path)
	t.Setenv(config.EnvDatabaseURL, "")
	return path
}

func TestInitAndExec(t *testing.T) {
	path := sqliteEnv(t)
	ctx := context.Background()

	var out, errOut bytes.Buffer
	require.NoError(t, run(ctx, []string{"init"}, &out, &errOut))
	assert.Contains(t, out.String(), "schema ready on sqlite path="+path)

	out.Reset()
	err := run(ctx, []string{"exec",
		`INSERT INTO categories (id, name, slug, sku_prefix, description, created_at, updated_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, NOW(), NOW()) RETURNING name, slug, description`,
		"Vegetables", "vegetables", "VEG", "NULL"}, &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "{\"description\":null,\"name\":\"Vegetables\",\"slug\":\"vegetables\"}\n(INSERT, 1 rows)\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, []string{"-metrics", "exec", "SELECT COUNT(*) AS n FROM categories"}, &out, &errOut))
	assert.Equal(t, "{\"n\":1}\n(SELECT, 1 rows)\n", out.String())
	assert.Contains(t, errOut.String(), `dualdb_queries_total{adapter="sqlite"}`)
}

func TestStatus(t *testing.T) {
	sqliteEnv(t)

	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-log-level", "debug", "status"}, &out, &errOut))
	assert.Contains(t, out.String(), "dualdb sqlite")
	assert.Contains(t, errOut.String(), "database backend selected")
}

func TestConfigFile(t *testing.T) {
	t.Setenv(config.EnvBackend, "")
	t.Setenv(config.EnvUseSQLite, "")
	t.Setenv(config.EnvSQLitePath, "")
	t.Setenv(config.EnvDatabaseURL, "")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dualdb.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("backend: sqlite\nsqlite:\n  path: "+filepath.Join(dir, "db.sqlite")+"\n"), 0o600))

	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", cfgPath, "exec", "SELECT 1 AS one"}, &out, &errOut))
	assert.Equal(t, "{\"one\":1}\n(SELECT, 1 rows)\n", out.String())
}

func TestUsageErrors(t *testing.T) {
	sqliteEnv(t)
	ctx := context.Background()
	var out, errOut bytes.Buffer

	assert.ErrorIs(t, run(ctx, nil, &out, &errOut), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"exec"}, &out, &errOut), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"drop"}, &out, &errOut), errUsage)
}
