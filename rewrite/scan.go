// Package rewrite turns client-server (PostgreSQL-style) SQL into SQL the embedded engine
// accepts: placeholder translation, UUID and timestamp emulation, RETURNING extraction and
// parameter normalization. Everything here is a pure function of its input.
//
// The rewriting is textual. It understands quoting (string literals, quoted identifiers and
// comments are never touched) but not SQL grammar, which is enough for statements written by
// this codebase.
package rewrite

// codeMask reports, for every byte of s, whether it is outside string literals, quoted
// identifiers and comments.
func codeMask(s string) []bool {
	mask := make([]bool, len(s))
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(s) {
				if s[j] == c {
					if j+1 < len(s) && s[j+1] == c { // doubled quote escapes itself
						j += 2
						continue
					}
					break
				}
				j++
			}
			i = j + 1
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			j := i + 2
			for j < len(s) && s[j] != '\n' {
				j++
			}
			i = j
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			j := i + 2
			for j+1 < len(s) && !(s[j] == '*' && s[j+1] == '/') {
				j++
			}
			i = j + 2
		default:
			mask[i] = true
			i++
		}
	}
	return mask
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// asciiUpper upper-cases ASCII letters only, so byte offsets into the result are valid
// offsets into s.
func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
