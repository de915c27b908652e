// Package template implements the sandboxed expression evaluator used to
// render workflow step inputs and conditions.
//
// The grammar is deliberately closed: variable lookup along a scope chain,
// attribute and index access, slices, list literals, and a fixed set of
// safe builtins. There are no function definitions, no imports, no
// attribute access on names starting with an underscore, and a
// forbidden-token screen runs before any evaluation. A general-purpose
// engine cannot provide this: its own call surface is exactly what must
// stay unreachable.
package template

import (
	"fmt"
	"strings"
)

// Scope resolves variable names. The executor provides a scope-chain
// implementation that walks inner frames first.
type Scope interface {
	Lookup(name string) (any, bool)
}

// MapScope is a single-frame Scope over a plain map, used in tests and for
// one-off renders.
type MapScope map[string]any

// Lookup implements Scope.
func (m MapScope) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Error is a template failure tied to the offending expression. The
// executor wraps it with the active step id.
type Error struct {
	Expr string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("template %q: %s", e.Expr, e.Msg)
}

func errf(expr, format string, args ...any) *Error {
	return &Error{Expr: expr, Msg: fmt.Sprintf(format, args...)}
}

// forbidden tokens are rejected before evaluation. Identifiers starting
// with an underscore (which covers every dunder) are rejected separately.
var forbidden = map[string]bool{
	"import":     true,
	"eval":       true,
	"exec":       true,
	"open":       true,
	"subprocess": true,
	"rm":         true,
	"drop":       true,
	"pop":        true,
	"inplace":    true,
}

// builtinNames is the safe builtin set available inside expressions.
var builtinNames = map[string]bool{
	"len": true, "min": true, "max": true, "sum": true,
	"abs": true, "round": true,
	"str": true, "int": true, "float": true, "bool": true,
}

// IsTemplated reports whether a string needs rendering: it contains a
// {{...}} segment, or (for compatibility with older workflows) is a bare
// expression using a safe builtin call or a slice.
func IsTemplated(s string) bool {
	if strings.Contains(s, "{{") {
		return true
	}
	return isBareExpression(s)
}

func isBareExpression(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	for name := range builtinNames {
		if idx := strings.Index(trimmed, name+"("); idx >= 0 {
			if idx == 0 || !isIdentChar(rune(trimmed[idx-1])) {
				return true
			}
		}
	}
	// Slice of the form x[a:b].
	open := strings.Index(trimmed, "[")
	close := strings.Index(trimmed, "]")
	if open > 0 && close > open {
		inner := trimmed[open+1 : close]
		if strings.Contains(inner, ":") {
			return true
		}
	}
	return false
}

// Render resolves a templated string against the scope. A string that is a
// single {{expr}} returns the evaluated value with its type intact; mixed
// text interpolates each segment into a string. Rendered strings that look
// like a list literal are re-parsed into a list. Non-templated strings are
// returned unchanged.
func Render(s string, scope Scope) (any, error) {
	if !strings.Contains(s, "{{") {
		if isBareExpression(s) {
			v, err := Eval(s, scope)
			if err != nil {
				return nil, err
			}
			return reparseIfList(v), nil
		}
		return s, nil
	}

	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		v, err := Eval(trimmed[2:len(trimmed)-2], scope)
		if err != nil {
			return nil, err
		}
		return reparseIfList(v), nil
	}

	var out strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		rest = rest[start+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, errf(s, "unterminated template segment")
		}
		v, err := Eval(rest[:end], scope)
		if err != nil {
			return nil, err
		}
		out.WriteString(Stringify(v))
		rest = rest[end+2:]
	}
	return reparseIfList(out.String()), nil
}

// RenderString renders and coerces the result to a string.
func RenderString(s string, scope Scope) (string, error) {
	v, err := Render(s, scope)
	if err != nil {
		return "", err
	}
	return Stringify(v), nil
}

// Eval evaluates a single expression (no surrounding braces) against the
// scope. The forbidden-token screen runs before parsing.
func Eval(expr string, scope Scope) (any, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	for _, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if forbidden[t.text] {
			return nil, errf(expr, "forbidden token %q", t.text)
		}
		if strings.HasPrefix(t.text, "_") || strings.Contains(t.text, "__") {
			return nil, errf(expr, "forbidden token %q", t.text)
		}
	}
	p := &parser{expr: expr, toks: toks, scope: scope}
	v, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, errf(expr, "unexpected token %q", p.peek().text)
	}
	return v, nil
}

func reparseIfList(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return v
	}
	parsed, err := ParseLiteral(trimmed)
	if err != nil {
		return v
	}
	return parsed
}
