package cel

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common"
	"github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Predicate function names exposed to conditions.
const (
	FuncContains       = "contains"
	FuncStartsWith     = "starts_with"
	FuncEndsWith       = "ends_with"
	FuncMatchesPattern = "matches_pattern"
	MacroHasKeyword    = "has_keyword"
	MacroHasAttachType = "has_attachment_type"
)

func stringPredicate(name string, fn func(text, arg string) (bool, error)) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_string_string",
			[]*cel.Type{cel.StringType, cel.StringType},
			cel.BoolType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				text, ok := lhs.(types.String)
				if !ok {
					return types.MaybeNoSuchOverloadErr(lhs)
				}
				arg, ok := rhs.(types.String)
				if !ok {
					return types.MaybeNoSuchOverloadErr(rhs)
				}
				matched, err := fn(string(text), string(arg))
				if err != nil {
					return types.WrapErr(err)
				}
				return types.Bool(matched)
			}),
		),
	)
}

// ContainsFold reports whether needle occurs in text, ignoring case.
func ContainsFold(text, needle string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(needle))
}

// MatchPattern is a case-insensitive glob match over the whole text. '*'
// matches any run of characters including '/', '?' matches one character and
// '[...]' is a class, negated by a leading '!' or '^'.
func MatchPattern(text, pattern string) (bool, error) {
	re, err := globRegexp(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}

const maxCachedGlobs = 512

var (
	globCache     sync.Map
	globCacheSize int
	globCacheMu   sync.Mutex
)

func globRegexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}

	expr, err := translateGlob(pattern)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	globCacheMu.Lock()
	if globCacheSize < maxCachedGlobs {
		if _, loaded := globCache.LoadOrStore(pattern, re); !loaded {
			globCacheSize++
		}
	}
	globCacheMu.Unlock()
	return re, nil
}

func translateGlob(pattern string) (string, error) {
	var b strings.Builder
	b.WriteString(`(?is)^`)

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			for i+1 < len(runes) && runes[i+1] == '*' {
				i++
			}
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
				j++
			}
			// A ']' right after the opening bracket is a literal member.
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				return "", fmt.Errorf("invalid pattern %q: unterminated character class", pattern)
			}

			class := runes[i+1 : j]
			b.WriteByte('[')
			if class[0] == '!' || class[0] == '^' {
				b.WriteByte('^')
				class = class[1:]
			}
			for _, r := range class {
				switch r {
				case '\\', '[', ']':
					b.WriteByte('\\')
				}
				b.WriteRune(r)
			}
			b.WriteByte(']')
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`$`)
	return b.String(), nil
}

func predicateFunctions() []cel.EnvOption {
	return []cel.EnvOption{
		stringPredicate(FuncContains, func(text, needle string) (bool, error) {
			return ContainsFold(text, needle), nil
		}),
		stringPredicate(FuncStartsWith, func(text, prefix string) (bool, error) {
			return strings.HasPrefix(strings.ToLower(text), strings.ToLower(prefix)), nil
		}),
		stringPredicate(FuncEndsWith, func(text, suffix string) (bool, error) {
			return strings.HasSuffix(strings.ToLower(text), strings.ToLower(suffix)), nil
		}),
		stringPredicate(FuncMatchesPattern, MatchPattern),
	}
}

// has_keyword(k) => contains(subject, k) || contains(body_text, k)
func expandHasKeyword(eh cel.MacroExprFactory, _ ast.Expr, args []ast.Expr) (ast.Expr, *common.Error) {
	return eh.NewCall(operators.LogicalOr,
		eh.NewCall(FuncContains, eh.NewIdent(AttrSubject), args[0]),
		eh.NewCall(FuncContains, eh.NewIdent(AttrBodyText), eh.Copy(args[0])),
	), nil
}

// has_attachment_type(t) => t.lowerAscii() in attachment_types
func expandHasAttachmentType(eh cel.MacroExprFactory, _ ast.Expr, args []ast.Expr) (ast.Expr, *common.Error) {
	return eh.NewCall(operators.In,
		eh.NewMemberCall("lowerAscii", args[0]),
		eh.NewIdent(AttrAttachmentTypes),
	), nil
}

func macros() cel.EnvOption {
	return cel.Macros(
		cel.GlobalMacro(MacroHasKeyword, 1, expandHasKeyword),
		cel.GlobalMacro(MacroHasAttachType, 1, expandHasAttachmentType),
	)
}
