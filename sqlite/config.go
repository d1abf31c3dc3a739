package sqlite

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPath        = "data/dualdb.sqlite"
	DefaultBusyTimeout = 5 * time.Second

	// MemoryPath opens a private in-memory database, mostly for tests.
	MemoryPath = ":memory:"
)

// Config holds the settings of the embedded adapter.
type Config struct {
	// Path of the database file. The -wal and -shm sidecars live next to it.
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is how long a writer waits for a lock held by another process.
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// SkipSchema disables the schema bootstrap on open.
	SkipSchema bool `json:"skip_schema" yaml:"skip_schema"`
}

// NewDefaultConfig returns a Config for path with default settings.
// An empty path uses DefaultPath.
func NewDefaultConfig(path string) Config {
	if path == "" {
		path = DefaultPath
	}
	return Config{
		Path:        path,
		BusyTimeout: DefaultBusyTimeout,
	}
}

// Validate checks that the configuration can be opened.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("%w: path is required", ErrSQLiteInvalidConfig)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w: busy timeout cannot be negative", ErrSQLiteInvalidConfig)
	}
	return nil
}

// InMemory reports whether the config points at an in-memory database.
func (c Config) InMemory() bool {
	return c.Path == MemoryPath || strings.Contains(c.Path, "mode=memory")
}

// ToDSN builds the go-sqlite3 connection string: WAL journal, busy timeout, foreign keys
// and immediate write locks for transactions.
func (c Config) ToDSN() string {
	params := url.Values{}
	if !c.InMemory() {
		params.Set("_journal_mode", "WAL")
	}
	timeout := c.BusyTimeout
	if timeout == 0 {
		timeout = DefaultBusyTimeout
	}
	params.Set("_busy_timeout", fmt.Sprintf("%d", timeout.Milliseconds()))
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")

	path := c.Path
	if path == MemoryPath {
		return "file::memory:?" + params.Encode()
	}
	if strings.Contains(path, "?") {
		return "file:" + path + "&" + params.Encode()
	}
	return "file:" + path + "?" + params.Encode()
}
