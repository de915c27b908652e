package template

import (
	"strconv"
)

type parser struct {
	expr  string
	toks  []token
	pos   int
	scope Scope
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{tokPunct, ""}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) accept(text string) bool {
	if !p.done() && p.toks[p.pos].kind == tokPunct && p.toks[p.pos].text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if p.accept(text) {
		return nil
	}
	return errf(p.expr, "expected %q, got %q", text, p.peek().text)
}

// parseExpr parses a primary followed by any number of postfix accessors.
func (p *parser) parseExpr() (any, error) {
	v, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("."):
			t := p.next()
			if t.kind != tokIdent {
				return nil, errf(p.expr, "expected field name after '.'")
			}
			v, err = attrAccess(p.expr, v, t.text)
			if err != nil {
				return nil, err
			}
		case p.accept("["):
			v, err = p.parseIndexOrSlice(v)
			if err != nil {
				return nil, err
			}
		default:
			return v, nil
		}
	}
}

func (p *parser) parsePrimary() (any, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return parseNumber(p.expr, t.text, false)
	case tokString:
		return t.text, nil
	case tokPunct:
		switch t.text {
		case "-":
			n := p.next()
			if n.kind != tokNumber {
				return nil, errf(p.expr, "expected number after '-'")
			}
			return parseNumber(p.expr, n.text, true)
		case "[":
			return p.parseListLiteral()
		}
		return nil, errf(p.expr, "unexpected token %q", t.text)
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "none", "None":
			return nil, nil
		}
		if builtinNames[t.text] && p.peek().kind == tokPunct && p.peek().text == "(" {
			p.pos++
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return callBuiltin(p.expr, t.text, args)
		}
		if p.peek().kind == tokPunct && p.peek().text == "(" {
			return nil, errf(p.expr, "call of %q is not allowed", t.text)
		}
		v, ok := p.scope.Lookup(t.text)
		if !ok {
			return nil, errf(p.expr, "undefined variable %q", t.text)
		}
		return v, nil
	}
	return nil, errf(p.expr, "unexpected token %q", t.text)
}

func (p *parser) parseArgs() ([]any, error) {
	var args []any
	if p.accept(")") {
		return args, nil
	}
	for {
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		if p.accept(")") {
			return args, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseListLiteral() (any, error) {
	var items []any
	if p.accept("]") {
		return items, nil
	}
	for {
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if p.accept("]") {
			return items, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// parseIndexOrSlice handles x[i], x[a:b], x[:b], x[a:] after '[' has been
// consumed.
func (p *parser) parseIndexOrSlice(target any) (any, error) {
	var lo, hi any
	var hasLo, hasHi, isSlice bool
	var err error

	if p.accept(":") {
		isSlice = true
	} else {
		lo, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
		hasLo = true
		if p.accept(":") {
			isSlice = true
		}
	}
	if isSlice && !p.accept("]") {
		hi, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
		hasHi = true
		if err := p.expect("]"); err != nil {
			return nil, err
		}
	} else if !isSlice {
		if err := p.expect("]"); err != nil {
			return nil, err
		}
	}

	if isSlice {
		return sliceAccess(p.expr, target, lo, hi, hasLo, hasHi)
	}
	return indexAccess(p.expr, target, lo)
}

func parseNumber(expr, text string, neg bool) (any, error) {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		if neg {
			i = -i
		}
		return float64(i), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, errf(expr, "bad number %q", text)
	}
	if neg {
		f = -f
	}
	return f, nil
}

func attrAccess(expr string, target any, field string) (any, error) {
	m, ok := target.(map[string]any)
	if !ok {
		return nil, errf(expr, "cannot access field %q on %T", field, target)
	}
	v, ok := m[field]
	if !ok {
		return nil, errf(expr, "undefined field %q", field)
	}
	return v, nil
}

func indexAccess(expr string, target, key any) (any, error) {
	switch t := target.(type) {
	case []any:
		i, err := toIndex(expr, key)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			i += len(t)
		}
		if i < 0 || i >= len(t) {
			return nil, errf(expr, "index %d out of range (len %d)", i, len(t))
		}
		return t[i], nil
	case string:
		i, err := toIndex(expr, key)
		if err != nil {
			return nil, err
		}
		runes := []rune(t)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return nil, errf(expr, "index %d out of range (len %d)", i, len(runes))
		}
		return string(runes[i]), nil
	case map[string]any:
		k := Stringify(key)
		v, ok := t[k]
		if !ok {
			return nil, errf(expr, "undefined key %q", k)
		}
		return v, nil
	}
	return nil, errf(expr, "cannot index %T", target)
}

func sliceAccess(expr string, target, lo, hi any, hasLo, hasHi bool) (any, error) {
	clamp := func(i, n int) int {
		if i < 0 {
			i += n
		}
		if i < 0 {
			i = 0
		}
		if i > n {
			i = n
		}
		return i
	}
	bounds := func(n int) (int, int, error) {
		a, b := 0, n
		if hasLo {
			i, err := toIndex(expr, lo)
			if err != nil {
				return 0, 0, err
			}
			a = clamp(i, n)
		}
		if hasHi {
			i, err := toIndex(expr, hi)
			if err != nil {
				return 0, 0, err
			}
			b = clamp(i, n)
		}
		if a > b {
			a = b
		}
		return a, b, nil
	}
	switch t := target.(type) {
	case []any:
		a, b, err := bounds(len(t))
		if err != nil {
			return nil, err
		}
		out := make([]any, b-a)
		copy(out, t[a:b])
		return out, nil
	case string:
		runes := []rune(t)
		a, b, err := bounds(len(runes))
		if err != nil {
			return nil, err
		}
		return string(runes[a:b]), nil
	}
	return nil, errf(expr, "cannot slice %T", target)
}

func toIndex(expr string, v any) (int, error) {
	f, ok := asFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, errf(expr, "index must be an integer, got %v", v)
	}
	return int(f), nil
}
