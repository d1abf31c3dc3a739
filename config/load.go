package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rickar/props"
	"gopkg.in/yaml.v3"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/postgres"
)

// Environment variables read by FromEnv.
const (
	EnvBackend       = "DUALDB_BACKEND"
	EnvUseSQLite     = "USE_SQLITE" // any true value selects sqlite when DUALDB_BACKEND is unset
	EnvDatabaseURL   = "DATABASE_URL"
	EnvSQLitePath    = "DUALDB_SQLITE_PATH"
	EnvRqliteURL     = "DUALDB_RQLITE_URL"
	EnvLogLevel      = "DUALDB_LOG_LEVEL"
	EnvSlowThreshold = "DUALDB_SLOW_THRESHOLD"
)

// FromEnv builds a Config from the defaults and the process environment.
func FromEnv() (*Config, error) {
	c := NewDefaultConfig()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads path when it is not empty, then lets the environment override it.
func Load(path string) (*Config, error) {
	c := NewDefaultConfig()
	if path != "" {
		var err error
		if c, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		pg, err := postgres.ParseDSN(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDatabaseURL, err)
		}
		// keep the pool and timing settings, take the connection from the URL
		pg.MaxOpenConns = c.Postgres.MaxOpenConns
		pg.MaxIdleConns = c.Postgres.MaxIdleConns
		pg.QueryTimeout = c.Postgres.QueryTimeout
		pg.SlowQueryThreshold = c.Postgres.SlowQueryThreshold
		pg.TimeStatements = c.Postgres.TimeStatements
		c.Postgres = *pg
	}
	if v, ok := lookup(EnvSQLitePath); ok && v != "" {
		c.SQLite.Path = v
	}
	if v, ok := lookup(EnvRqliteURL); ok && v != "" {
		c.Rqlite.URL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvSlowThreshold); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvSlowThreshold, err)
		}
		c.SlowThreshold = d
	}

	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend = strings.ToLower(strings.TrimSpace(v))
		return nil
	}
	if v, ok := lookup(EnvUseSQLite); ok && v != "" {
		use, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvUseSQLite, err)
		}
		if use {
			c.Backend = dualdb.BACKEND_SQLITE
		}
	}
	return nil
}

// LoadFile reads a .yaml/.yml or .properties file over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".properties":
		return ParseProperties(data)
	}
	return nil, fmt.Errorf("%w: unsupported config file type %q", ErrInvalidConfig, filepath.Ext(path))
}

// ParseYAML decodes data over the defaults. Durations are written as "100ms", "5s".
func ParseYAML(data []byte) (*Config, error) {
	c := NewDefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if c.Postgres.ExtraParams == nil {
		c.Postgres.ExtraParams = make(map[string]string)
	}
	return c, nil
}

// ParseProperties decodes a Java-style properties file over the defaults:
//
//	backend = sqlite
//	slow_threshold = 250ms
//	postgres.url = postgres://app:secret@db:5432/store?sslmode=require
//	sqlite.path = /var/lib/store/store.sqlite
//	rqlite.url = http://rqlite:4001
func ParseProperties(data []byte) (*Config, error) {
	p, err := props.Read(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	c := NewDefaultConfig()
	if v := p.Get("backend"); v != "" {
		c.Backend = v
	}
	if v := p.Get("log_level"); v != "" {
		c.LogLevel = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"slow_threshold", &c.SlowThreshold},
		{"postgres.query_timeout", &c.Postgres.QueryTimeout},
		{"postgres.slow_query_threshold", &c.Postgres.SlowQueryThreshold},
		{"sqlite.busy_timeout", &c.SQLite.BusyTimeout},
		{"rqlite.timeout", &c.Rqlite.Timeout},
	}
	for _, d := range durations {
		if v := p.Get(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.key, err)
			}
			*d.dst = parsed
		}
	}

	if v := p.Get("postgres.url"); v != "" {
		pg, err := postgres.ParseDSN(v)
		if err != nil {
			return nil, err
		}
		pg.QueryTimeout = c.Postgres.QueryTimeout
		pg.SlowQueryThreshold = c.Postgres.SlowQueryThreshold
		c.Postgres = *pg
	}
	if v := p.Get("postgres.max_open_conns"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres.max_open_conns: %v", ErrInvalidConfig, err)
		}
		c.Postgres.MaxOpenConns = n
	}
	if v := p.Get("postgres.time_statements"); v != "" {
		c.Postgres.TimeStatements, _ = strconv.ParseBool(v)
	}
	if v := p.Get("sqlite.path"); v != "" {
		c.SQLite.Path = v
	}
	if v := p.Get("rqlite.url"); v != "" {
		c.Rqlite.URL = v
	}
	if v := p.Get("rqlite.consistency"); v != "" {
		c.Rqlite.Consistency = v
	}
	return c, nil
}
