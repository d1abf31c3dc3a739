// Package config resolves which backend the process talks to and how. The backend is
// chosen once at startup, from the environment or from a YAML or .properties file, and
// handed to dispatch.New.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/medatechnology/goutil/medaerror"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/postgres"
	"github.com/medatechnology/dualdb/rqlite"
	"github.com/medatechnology/dualdb/sqlite"
)

const (
	DefaultBackend       = dualdb.BACKEND_POSTGRES
	DefaultLogLevel      = "info"
	DefaultSlowThreshold = 100 * time.Millisecond
)

var ErrInvalidConfig medaerror.MedaError = medaerror.MedaError{Message: "invalid configuration"}

// Config is the process-wide database configuration. Only the section matching Backend
// is used.
type Config struct {
	Backend       string        `yaml:"backend"`        // postgres (default), sqlite or rqlite
	LogLevel      string        `yaml:"log_level"`      // debug, info, warn, error
	SlowThreshold time.Duration `yaml:"slow_threshold"` // queries slower than this are logged at warn

	Postgres postgres.Config `yaml:"postgres"`
	SQLite   sqlite.Config   `yaml:"sqlite"`
	Rqlite   rqlite.Config   `yaml:"rqlite"`
}

// NewDefaultConfig returns a Config selecting postgres on localhost with every section
// filled with its package defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Backend:       DefaultBackend,
		LogLevel:      DefaultLogLevel,
		SlowThreshold: DefaultSlowThreshold,
		Postgres:      *postgres.NewDefaultConfig(),
		SQLite:        sqlite.NewDefaultConfig(""),
		Rqlite:        *rqlite.NewDefaultConfig(),
	}
}

// WithBackend selects the backend
func (c *Config) WithBackend(backend string) *Config {
	c.Backend = backend
	return c
}

// WithSQLitePath selects the embedded backend on the file at path
func (c *Config) WithSQLitePath(path string) *Config {
	c.Backend = dualdb.BACKEND_SQLITE
	c.SQLite.Path = path
	return c
}

// WithSlowThreshold sets the slow query threshold
func (c *Config) WithSlowThreshold(d time.Duration) *Config {
	c.SlowThreshold = d
	return c
}

// WithLogLevel sets the log level
func (c *Config) WithLogLevel(level string) *Config {
	c.LogLevel = level
	return c
}

// Validate normalizes Backend and validates the selected section only.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.SlowThreshold < 0 {
		return fmt.Errorf("%w: slow_threshold cannot be negative", ErrInvalidConfig)
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = DefaultSlowThreshold
	}
	if _, err := dualdb.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Backend {
	case dualdb.BACKEND_POSTGRES:
		return c.Postgres.Validate()
	case dualdb.BACKEND_SQLITE:
		return c.SQLite.Validate()
	case dualdb.BACKEND_RQLITE:
		return c.Rqlite.Validate()
	}
	return fmt.Errorf("%w: %q (expected %s, %s or %s)", dualdb.ErrUnknownBackend, c.Backend,
		dualdb.BACKEND_POSTGRES, dualdb.BACKEND_SQLITE, dualdb.BACKEND_RQLITE)
}

// Level returns the parsed LogLevel, info when unset or invalid.
func (c *Config) Level() dualdb.LogLevel {
	level, _ := dualdb.ParseLogLevel(c.LogLevel)
	return level
}

// Describe is a one-line summary for startup logs. It never contains credentials.
func (c *Config) Describe() string {
	switch c.Backend {
	case dualdb.BACKEND_SQLITE:
		return fmt.Sprintf("sqlite path=%s", c.SQLite.Path)
	case dualdb.BACKEND_RQLITE:
		return fmt.Sprintf("rqlite url=%s consistency=%s", c.Rqlite.SafeURL(), c.Rqlite.Consistency)
	default:
		return fmt.Sprintf("postgres %s", c.Postgres.String())
	}
}
