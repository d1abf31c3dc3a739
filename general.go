package dualdb

import (
	"fmt"
	"strings"
)

const (
	DEFAULT_PAGINATION_LIMIT = 50
	DEFAULT_TRUNCATE_SQL     = 200 // characters of SQL text kept in log lines

	// Backend names, also used as adapter names.
	BACKEND_POSTGRES = "postgres"
	BACKEND_SQLITE   = "sqlite"
	BACKEND_RQLITE   = "rqlite"
)

// Record is one row keyed by column name.
type Record map[string]interface{}

// FieldInfo describes one result column.
type FieldInfo struct {
	Name         string `json:"name"`
	DatabaseType string `json:"database_type,omitempty"`
}

// QueryResult is what every adapter returns for one statement.
// RowCount is the number of rows returned for reads and rows affected for writes.
// Rows is empty for writes unless a RETURNING clause was present.
type QueryResult struct {
	Rows     []Record    `json:"rows"`
	RowCount int         `json:"row_count"`
	Command  string      `json:"command"`
	Fields   []FieldInfo `json:"fields,omitempty"`
}

// Columns returns the column names in result order.
func (r QueryResult) Columns() []string {
	cols := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

// PoolStatus mirrors the shape of a connection pool's counters.
// Backends without a real pool report {1, 1, 0}.
type PoolStatus struct {
	TotalCount   int `json:"total_count"`
	IdleCount    int `json:"idle_count"`
	WaitingCount int `json:"waiting_count"`
}

// SinglePoolStatus is reported by single-connection backends.
var SinglePoolStatus = PoolStatus{TotalCount: 1, IdleCount: 1, WaitingCount: 0}

// Condition builds WHERE clauses with $N placeholders, so the output can be handed to any
// adapter's Query.
//
//	// Simple condition
//	condition := Condition{Field: "age", Operator: ">", Value: 18}
//	// Output: WHERE age > $1
//
//	// Nested condition with OR logic
//	condition := Condition{
//	  Logic: "OR",
//	  Nested: []Condition{
//	    {Field: "status", Operator: "=", Value: "pending"},
//	    {Field: "status", Operator: "=", Value: "review"},
//	  },
//	}
//	// Output: WHERE (status = $1) OR (status = $2)
type Condition struct {
	Field    string      `json:"field,omitempty"        db:"field"`
	Operator string      `json:"operator,omitempty"     db:"operator"`
	Value    interface{} `json:"value,omitempty"        db:"value"`
	Logic    string      `json:"logic,omitempty"        db:"logic"`    // "AND" or "OR"
	Nested   []Condition `json:"nested,omitempty"       db:"nested"`   // For nested conditions
	OrderBy  []string    `json:"order_by,omitempty"     db:"order_by"` // Fields to order by
	Limit    int         `json:"limit,omitempty"        db:"limit"`    // Limit for pagination
	Offset   int         `json:"offset,omitempty"       db:"offset"`   // Offset for pagination
}

// And returns a Condition joining conditions with AND.
func (c *Condition) And(conditions ...Condition) *Condition {
	return &Condition{Logic: "AND", Nested: conditions}
}

// Or returns a Condition joining conditions with OR.
func (c *Condition) Or(conditions ...Condition) *Condition {
	return &Condition{Logic: "OR", Nested: conditions}
}

// ToWhereString converts the condition into a clause whose placeholders start at $start.
// It returns the clause, the values in placeholder order and the next free ordinal.
func (c *Condition) ToWhereString(start int) (string, []interface{}, int) {
	var clauses []string
	var args []interface{}
	next := start

	if c.Field != "" {
		op := strings.ToUpper(strings.TrimSpace(c.Operator))
		if op == "" {
			op = "="
		}
		switch op {
		case "IS NULL", "IS NOT NULL":
			clauses = append(clauses, fmt.Sprintf("%s %s", c.Field, op))
		case "IN", "NOT IN":
			vals, ok := c.Value.([]interface{})
			if !ok {
				vals = []interface{}{c.Value}
			}
			ph := make([]string, 0, len(vals))
			for _, v := range vals {
				ph = append(ph, fmt.Sprintf("$%d", next))
				args = append(args, v)
				next++
			}
			clauses = append(clauses, fmt.Sprintf("%s %s (%s)", c.Field, op, strings.Join(ph, ", ")))
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s $%d", c.Field, op, next))
			args = append(args, c.Value)
			next++
		}
	} else {
		for _, nested := range c.Nested {
			sub, subArgs, n := nested.ToWhereString(next)
			if sub == "" {
				continue
			}
			clauses = append(clauses, fmt.Sprintf("(%s)", sub))
			args = append(args, subArgs...)
			next = n
		}
	}

	logic := strings.ToUpper(c.Logic)
	if logic == "" {
		logic = "AND"
	}
	return strings.Join(clauses, " "+logic+" "), args, next
}

// ToSelectString generates a SELECT for tableName with WHERE, ORDER BY and LIMIT/OFFSET.
// Usage:
//
//	query, values := condition.ToSelectString("products")
//	// SELECT * FROM products WHERE price > $1 ORDER BY name LIMIT 10
func (c *Condition) ToSelectString(tableName string) (string, []interface{}) {
	where, values, _ := c.ToWhereString(1)

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(tableName)
	if strings.TrimSpace(where) != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if len(c.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(c.OrderBy, ", "))
	}

	limit := c.Limit
	// if offset has value but limit is not, then use default limit
	if c.Offset > 0 && limit < 1 {
		limit = DEFAULT_PAGINATION_LIMIT
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
		if c.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", c.Offset)
		}
	}
	return b.String(), values
}
