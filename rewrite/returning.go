package rewrite

import (
	"strings"
)

// Returning is the result of splitting a RETURNING clause off a statement.
type Returning struct {
	CleanSQL     string   // statement without the clause
	Columns      []string // column list, trimmed; may be ["*"]
	HasReturning bool
}

// ParseReturning finds the last RETURNING keyword outside literals and comments and splits
// the statement there. Without one (or with an empty column list) the SQL comes back
// unchanged with HasReturning false.
func ParseReturning(sql string) Returning {
	idx := lastKeyword(sql, "RETURNING")
	if idx < 0 {
		return Returning{CleanSQL: sql}
	}

	list := strings.TrimSpace(sql[idx+len("RETURNING"):])
	list = strings.TrimSpace(strings.TrimRight(list, "; \t\r\n"))

	var cols []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return Returning{CleanSQL: sql}
	}

	return Returning{
		CleanSQL:     strings.TrimSpace(sql[:idx]),
		Columns:      cols,
		HasReturning: true,
	}
}

// lastKeyword returns the byte offset of the last case-insensitive, whole-word occurrence of
// kw in the code portions of sql, or -1.
func lastKeyword(sql, kw string) int {
	mask := codeMask(sql)
	upper := asciiUpper(sql)
	for end := len(upper); end > 0; {
		i := strings.LastIndex(upper[:end], kw)
		if i < 0 {
			return -1
		}
		end = i
		if !mask[i] {
			continue
		}
		if i > 0 && isWordByte(sql[i-1]) {
			continue
		}
		if j := i + len(kw); j < len(sql) && isWordByte(sql[j]) {
			continue
		}
		return i
	}
	return -1
}
