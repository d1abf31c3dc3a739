package rewrite

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/medatechnology/dualdb"
)

// NowExpr is what timestamp functions become. The engine evaluates it per statement and
// it yields the same text shape the client-server backend returns for timestamptz values.
const NowExpr = "(strftime('%Y-%m-%dT%H:%M:%SZ','now'))"

// uuidMarker stands in for a UUID call between the substitution and the placeholder scan.
// It cannot appear in code written by a caller.
const uuidMarker = '\x00'

var (
	uuidCall = regexp.MustCompile(`(?i)\b(?:gen_random_uuid|uuid_generate_v4|uuid)\s*\(\s*\)`)
	nowCall  = regexp.MustCompile(`(?i)\bnow\s*\(\s*\)|\bcurrent_timestamp\b|\bdatetime\s*\(\s*'now'\s*\)`)
)

// Outcome is a rewritten statement ready for the embedded engine. Params are in the order
// the engine's positional '?' placeholders consume them.
type Outcome struct {
	SQL    string
	Params []any
}

// Rewriter rewrites statements. The zero value is not usable; use New.
type Rewriter struct {
	// NewUUID returns the value bound for each UUID call. Tests replace it to get
	// deterministic output.
	NewUUID func() string
}

// New returns a Rewriter that generates random version 4 UUIDs.
func New() *Rewriter {
	return &Rewriter{NewUUID: func() string { return uuid.NewString() }}
}

var defaultRewriter = New()

// Rewrite rewrites sql with the default Rewriter.
func Rewrite(sql string, params []any) (Outcome, error) {
	return defaultRewriter.Rewrite(sql, params)
}

// Rewrite translates sql, written for the client-server backend with $N placeholders, into
// the embedded dialect:
//
//   - UUID generator calls become placeholders bound to fresh UUIDs, generated left to right;
//   - NOW(), CURRENT_TIMESTAMP and datetime('now') become NowExpr;
//   - $N placeholders become '?' with caller parameter N bound at that position.
//
// A '?' already present binds the next caller parameter in sequence, so rewriting an
// Outcome again returns it unchanged. String literals, quoted identifiers and comments are
// never modified. A $N outside 1..len(params) gives an error wrapping
// dualdb.ErrMalformedStatement.
func (r *Rewriter) Rewrite(sql string, params []any) (Outcome, error) {
	s := replaceInCode(sql, uuidCall, string(uuidMarker))
	s = replaceInCode(s, nowCall, NowExpr)

	mask := codeMask(s)
	var b strings.Builder
	b.Grow(len(s))
	out := make([]any, 0, len(params))
	next := 0 // next caller parameter for bare '?'

	for i := 0; i < len(s); {
		c := s[i]
		if !mask[i] {
			b.WriteByte(c)
			i++
			continue
		}
		switch {
		case c == uuidMarker:
			out = append(out, r.NewUUID())
			b.WriteByte('?')
			i++
		case (c == '$' || c == '?') && i+1 < len(s) && isDigit(s[i+1]):
			j := i + 1
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			n, err := strconv.Atoi(s[i+1 : j])
			if err != nil || n < 1 || n > len(params) {
				return Outcome{}, fmt.Errorf("%w: placeholder %s has no parameter (got %d)",
					dualdb.ErrMalformedStatement, s[i:j], len(params))
			}
			out = append(out, params[n-1])
			b.WriteByte('?')
			i = j
		case c == '?':
			if next >= len(params) {
				return Outcome{}, fmt.Errorf("%w: placeholder ? #%d has no parameter (got %d)",
					dualdb.ErrMalformedStatement, next+1, len(params))
			}
			out = append(out, params[next])
			next++
			b.WriteByte('?')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}

	return Outcome{SQL: b.String(), Params: out}, nil
}

// replaceInCode replaces the matches of re that start outside literals and comments.
func replaceInCode(s string, re *regexp.Regexp, repl string) string {
	locs := re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	mask := codeMask(s)
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if !mask[loc[0]] {
			continue
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(repl)
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
