package rewrite

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/medatechnology/dualdb"
)

var tableTarget = regexp.MustCompile(
	`(?is)^(?:INSERT\s+(?:OR\s+\w+\s+)?INTO|REPLACE\s+INTO|UPDATE(?:\s+OR\s+\w+)?|DELETE\s+FROM)\s+((?:"[^"]+"|\w+)(?:\.(?:"[^"]+"|\w+))?)`)

// skipLeading returns the offset of the first byte of sql that is not whitespace, a comment
// or an opening parenthesis.
func skipLeading(sql string) int {
	mask := codeMask(sql)
	for i := 0; i < len(sql); i++ {
		if !mask[i] {
			if sql[i] == '\'' || sql[i] == '"' || sql[i] == '`' {
				return i
			}
			continue
		}
		switch sql[i] {
		case ' ', '\t', '\n', '\r', '(':
			continue
		}
		return i
	}
	return len(sql)
}

// Classify returns the leading keyword of sql in upper case ("SELECT", "INSERT", ...).
// A WITH statement counts as SELECT. Empty input gives "".
func Classify(sql string) string {
	s := sql[skipLeading(sql):]
	j := 0
	for j < len(s) && isWordByte(s[j]) {
		j++
	}
	kw := asciiUpper(s[:j])
	if kw == "WITH" {
		return "SELECT"
	}
	return kw
}

// IsRead reports whether a statement of this command returns rows without modifying data.
func IsRead(command string) bool {
	switch command {
	case "SELECT", "PRAGMA", "EXPLAIN", "VALUES", "SHOW":
		return true
	}
	return false
}

// TableName extracts the target table of an INSERT, UPDATE or DELETE statement.
// Quotes around the name are removed.
func TableName(sql string) (string, error) {
	s := sql[skipLeading(sql):]
	m := tableTarget.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: no target table in %q", dualdb.ErrMalformedStatement,
			dualdb.TruncateSQL(sql, 60))
	}
	return strings.ReplaceAll(m[1], `"`, ""), nil
}

// WhereClause returns the text after the last top-level WHERE of sql and the number of '?'
// placeholders in it. Because WHERE is the tail of an UPDATE or DELETE, those placeholders
// are the last ones of the statement. ok is false when there is no top-level WHERE.
func WhereClause(sql string) (clause string, placeholders int, ok bool) {
	mask := codeMask(sql)
	upper := asciiUpper(sql)
	depth := 0
	at := -1
	for i := 0; i < len(sql); i++ {
		if !mask[i] {
			continue
		}
		switch sql[i] {
		case '(':
			depth++
		case ')':
			depth--
		case 'W', 'w':
			if depth == 0 && strings.HasPrefix(upper[i:], "WHERE") &&
				(i == 0 || !isWordByte(sql[i-1])) &&
				(i+5 == len(sql) || !isWordByte(sql[i+5])) {
				at = i
			}
		}
	}
	if at < 0 {
		return "", 0, false
	}
	start := at + len("WHERE")
	for i := start; i < len(sql); i++ {
		if mask[i] && sql[i] == '?' {
			placeholders++
		}
	}
	return strings.TrimSpace(strings.TrimRight(sql[start:], "; \t\r\n")), placeholders, true
}

// IsUpsert reports whether sql is an INSERT with an ON CONFLICT ... DO UPDATE clause.
// When the conflict branch runs, the engine updates an existing row without moving
// last_insert_rowid, so such a write cannot be read back by rowid.
func IsUpsert(sql string) bool {
	mask := codeMask(sql)
	b := []byte(asciiUpper(sql))
	for i := range b {
		if !mask[i] || !isWordByte(b[i]) {
			b[i] = ' '
		}
	}
	words := strings.Fields(string(b))
	conflict := false
	for i := 0; i+1 < len(words); i++ {
		switch {
		case words[i] == "ON" && words[i+1] == "CONFLICT":
			conflict = true
		case conflict && words[i] == "DO" && words[i+1] == "UPDATE":
			return true
		}
	}
	return false
}
