package cel

import (
	"strings"
)

// Replacements are padded to the word's length so compiler positions map
// back onto the text the rule author wrote.
var wordOperators = map[string]string{
	"and":   "&& ",
	"or":    "||",
	"not":   "!  ",
	"True":  "true",
	"False": "false",
}

// Normalize rewrites the word spellings `and`, `or`, `not`, `True`, `False`
// to their CEL forms. String literals are copied untouched and the result has
// the same length as expr.
func Normalize(expr string) string {
	var b strings.Builder
	b.Grow(len(expr))

	for i := 0; i < len(expr); {
		ch := expr[i]
		switch {
		case ch == '"' || ch == '\'':
			end := scanString(expr, i)
			b.WriteString(expr[i:end])
			i = end
		case isIdentStart(ch):
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			word := expr[start:i]
			if repl, ok := wordOperators[word]; ok && !isMemberAccess(expr, start) {
				b.WriteString(repl)
			} else {
				b.WriteString(word)
			}
		default:
			b.WriteByte(ch)
			i++
		}
	}

	return b.String()
}

// scanString returns the index just past the literal opening at start.
// Unterminated literals run to the end; the compiler reports them.
func scanString(expr string, start int) int {
	quote := expr[start]
	triple := strings.HasPrefix(expr[start:], strings.Repeat(string(quote), 3))
	i := start + 1
	if triple {
		i = start + 3
	}
	for i < len(expr) {
		switch {
		case expr[i] == '\\':
			i += 2
			continue
		case triple && strings.HasPrefix(expr[i:], strings.Repeat(string(quote), 3)):
			return i + 3
		case !triple && expr[i] == quote:
			return i + 1
		}
		i++
	}
	return len(expr)
}

func isMemberAccess(expr string, pos int) bool {
	for j := pos - 1; j >= 0; j-- {
		switch expr[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case '.':
			return true
		default:
			return false
		}
	}
	return false
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ('0' <= ch && ch <= '9')
}
