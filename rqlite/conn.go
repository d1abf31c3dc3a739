package rqlite

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rqlite/gorqlite"

	"github.com/medatechnology/dualdb"
)

// resultSet is one query result, already converted to Records.
type resultSet struct {
	Columns []string
	Types   []string
	Rows    []dualdb.Record
}

// conn is the part of a gorqlite connection the adapter uses. Tests substitute a fake.
type conn interface {
	query(ctx context.Context, stmt gorqlite.ParameterizedStatement) (resultSet, error)
	write(ctx context.Context, stmts []gorqlite.ParameterizedStatement) ([]gorqlite.WriteResult, error)
	leader() (string, error)
	peers() ([]string, error)
	close()
}

// gorqliteConn adapts *gorqlite.Connection to conn.
type gorqliteConn struct {
	c *gorqlite.Connection
}

// This is to "connect" to the cluster. gorqlite discovers the peers of the node in the URL
// and fails over between them on its own.
func openConn(config Config) (*gorqliteConn, error) {
	c, err := gorqlite.Open(config.URL)
	if err != nil {
		return nil, err
	}
	if config.Consistency != "" {
		level, err := gorqlite.ParseConsistencyLevel(strings.ToLower(config.Consistency))
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := c.SetConsistencyLevel(level); err != nil {
			c.Close()
			return nil, err
		}
	}
	return &gorqliteConn{c: c}, nil
}

func (g *gorqliteConn) query(ctx context.Context, stmt gorqlite.ParameterizedStatement) (resultSet, error) {
	qr, err := g.c.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return resultSet{}, err
	}
	if qr.Err != nil {
		return resultSet{}, qr.Err
	}

	rs := resultSet{Columns: qr.Columns(), Types: qr.Types(), Rows: make([]dualdb.Record, 0)}
	// This is go-RQLite quirks, need to call Next before Map
	for qr.Next() {
		m, err := qr.Map()
		if err != nil {
			return resultSet{}, err
		}
		rs.Rows = append(rs.Rows, dualdb.Record(m))
	}
	return rs, nil
}

func (g *gorqliteConn) write(ctx context.Context, stmts []gorqlite.ParameterizedStatement) ([]gorqlite.WriteResult, error) {
	return g.c.WriteParameterizedContext(ctx, stmts)
}

func (g *gorqliteConn) leader() (string, error)  { return g.c.Leader() }
func (g *gorqliteConn) peers() ([]string, error) { return g.c.Peers() }
func (g *gorqliteConn) close()                   { g.c.Close() }

// convertRQLiteValue gives values decoded from rqlite's JSON the same shape the sqlite
// package returns: whole numbers in INTEGER columns become int64, times are UTC.
func convertRQLiteValue(value interface{}, declType string) interface{} {
	switch v := value.(type) {
	case float64:
		if isIntegerType(declType) && v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v)
		}
		return v
	case time.Time:
		return v.UTC()
	case []byte:
		return string(v)
	default:
		return v
	}
}

func isIntegerType(declType string) bool {
	return strings.Contains(strings.ToLower(declType), "int")
}

// convertRows applies convertRQLiteValue to every column of rs in place.
func convertRows(rs resultSet) resultSet {
	types := make(map[string]string, len(rs.Columns))
	for i, col := range rs.Columns {
		if i < len(rs.Types) {
			types[col] = rs.Types[i]
		}
	}
	for _, row := range rs.Rows {
		for col, v := range row {
			row[col] = convertRQLiteValue(v, types[col])
		}
	}
	return rs
}
