package dualdb

import (
	"errors"
	"reflect"
	"testing"
)

func TestToInsertSQL(t *testing.T) {
	rec := DBRecord{TableName: "categories", Data: Record{
		"id":         ExprUUID,
		"name":       "Vegetables",
		"slug":       "vegetables",
		"created_at": ExprNow,
	}}

	sql, values, err := rec.ToInsertSQL("id", "created_at")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := "INSERT INTO categories (created_at, id, name, slug) VALUES (NOW(), gen_random_uuid(), $1, $2) RETURNING id, created_at"
	if sql != expected {
		t.Errorf("Expected SQL:\n%s\ngot:\n%s", expected, sql)
	}
	if !reflect.DeepEqual(values, []interface{}{"Vegetables", "vegetables"}) {
		t.Errorf("Expected values [Vegetables vegetables], got %v", values)
	}

	again, _, _ := rec.ToInsertSQL("id", "created_at")
	if again != sql {
		t.Errorf("Expected the same SQL for the same record, got %s", again)
	}
}

func TestToInsertSQLErrors(t *testing.T) {
	tests := []struct {
		name string
		rec  DBRecord
	}{
		{"empty record", DBRecord{TableName: "t", Data: Record{}}},
		{"bad table", DBRecord{TableName: "t; DROP TABLE x", Data: Record{"a": 1}}},
		{"bad column", DBRecord{TableName: "t", Data: Record{"a b": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.rec.ToInsertSQL()
			if !errors.Is(err, ErrMalformedStatement) {
				t.Errorf("Expected ErrMalformedStatement, got %v", err)
			}
		})
	}
}

func TestToUpdateSQL(t *testing.T) {
	rec := DBRecord{TableName: "products", Data: Record{
		"id":         "p-1",
		"name":       "Leeks",
		"price":      2.5,
		"updated_at": ExprNow,
	}}

	sql, values, err := rec.ToUpdateSQL("id", "*")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := "UPDATE products SET name = $1, price = $2, updated_at = NOW() WHERE id = $3 RETURNING *"
	if sql != expected {
		t.Errorf("Expected SQL:\n%s\ngot:\n%s", expected, sql)
	}
	if !reflect.DeepEqual(values, []interface{}{"Leeks", 2.5, "p-1"}) {
		t.Errorf("Expected values [Leeks 2.5 p-1], got %v", values)
	}

	if _, _, err := rec.ToUpdateSQL("sku"); !errors.Is(err, ErrMalformedStatement) {
		t.Errorf("Expected ErrMalformedStatement for a missing key, got %v", err)
	}
	only := DBRecord{TableName: "products", Data: Record{"id": "p-1"}}
	if _, _, err := only.ToUpdateSQL("id"); !errors.Is(err, ErrMalformedStatement) {
		t.Errorf("Expected ErrMalformedStatement with nothing to update, got %v", err)
	}
}

func TestDBRecordsAppend(t *testing.T) {
	var recs DBRecords
	recs.Append(DBRecord{TableName: "a"})
	recs.Append(DBRecord{TableName: "b"})
	if len(recs) != 2 || recs[1].TableName != "b" {
		t.Errorf("Expected two records ending with b, got %v", recs)
	}
}

func TestConditionToSelectString(t *testing.T) {
	tests := []struct {
		name     string
		cond     Condition
		expected string
		values   []interface{}
	}{
		{
			name:     "simple",
			cond:     Condition{Field: "price", Operator: ">", Value: 10},
			expected: "SELECT * FROM products WHERE price > $1",
			values:   []interface{}{10},
		},
		{
			name: "nested or",
			cond: Condition{Logic: "OR", Nested: []Condition{
				{Field: "status", Operator: "=", Value: "pending"},
				{Field: "status", Operator: "=", Value: "paid"},
			}},
			expected: "SELECT * FROM products WHERE (status = $1) OR (status = $2)",
			values:   []interface{}{"pending", "paid"},
		},
		{
			name:     "in list",
			cond:     Condition{Field: "sku", Operator: "in", Value: []interface{}{"A", "B"}, OrderBy: []string{"sku"}},
			expected: "SELECT * FROM products WHERE sku IN ($1, $2) ORDER BY sku",
			values:   []interface{}{"A", "B"},
		},
		{
			name:     "is null",
			cond:     Condition{Field: "attributes", Operator: "IS NULL", Limit: 5},
			expected: "SELECT * FROM products WHERE attributes IS NULL LIMIT 5",
		},
		{
			name:     "offset without limit",
			cond:     Condition{Offset: 100},
			expected: "SELECT * FROM products LIMIT 50 OFFSET 100",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, values := tt.cond.ToSelectString("products")
			if sql != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, sql)
			}
			if len(values) != len(tt.values) || (len(values) > 0 && !reflect.DeepEqual(values, tt.values)) {
				t.Errorf("Expected values %v, got %v", tt.values, values)
			}
		})
	}
}

func TestConditionAnd(t *testing.T) {
	base := Condition{Field: "category_id", Value: "c-1"}
	cond := base.And(base, Condition{Field: "active", Operator: "=", Value: true})

	where, values, next := cond.ToWhereString(3)
	if where != "(category_id = $3) AND (active = $4)" {
		t.Errorf("Unexpected clause %q", where)
	}
	if next != 5 || len(values) != 2 {
		t.Errorf("Expected next=5 and 2 values, got next=%d values=%v", next, values)
	}
}
