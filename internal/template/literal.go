package template

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseLiteral parses a rendered value back into structured data. The
// grammar covers exactly what tool outputs and loop sources interpolate:
// strings (single or double quoted), numbers, booleans, null/None, lists,
// and dicts. Nothing here evaluates; malformed input is an error, never a
// fallback to execution.
func ParseLiteral(s string) (any, error) {
	p := &literalParser{src: []rune(s)}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, errf(s, "trailing data in literal at offset %d", p.pos)
	}
	return v, nil
}

type literalParser struct {
	src []rune
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *literalParser) peek() rune {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) errf(format string, args ...any) error {
	return errf(string(p.src), format, args...)
}

func (p *literalParser) parseValue() (any, error) {
	p.skipSpace()
	switch r := p.peek(); {
	case r == '[':
		return p.parseList()
	case r == '{':
		return p.parseDict()
	case r == '\'' || r == '"':
		return p.parseString(r)
	case r == '-' || unicode.IsDigit(r):
		return p.parseNumber()
	default:
		return p.parseWord()
	}
}

func (p *literalParser) parseList() (any, error) {
	p.pos++ // consume '['
	items := []any{}
	p.skipSpace()
	if p.peek() == ']' {
		p.pos++
		return items, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return items, nil
		default:
			return nil, p.errf("expected ',' or ']' in list")
		}
	}
}

func (p *literalParser) parseDict() (any, error) {
	p.pos++ // consume '{'
	out := map[string]any{}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		r := p.peek()
		if r != '\'' && r != '"' {
			return nil, p.errf("dict keys must be strings")
		}
		key, err := p.parseString(r)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errf("expected ':' after dict key")
		}
		p.pos++
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		out[key.(string)] = v
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return out, nil
		default:
			return nil, p.errf("expected ',' or '}' in dict")
		}
	}
}

func (p *literalParser) parseString(quote rune) (any, error) {
	p.pos++ // consume opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		if r == quote {
			p.pos++
			return sb.String(), nil
		}
		if r == '\\' && p.pos+1 < len(p.src) {
			p.pos++
			r = p.src[p.pos]
		}
		sb.WriteRune(r)
		p.pos++
	}
	return nil, p.errf("unterminated string literal")
}

func (p *literalParser) parseNumber() (any, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && (unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '.' || p.src[p.pos] == 'e' || p.src[p.pos] == 'E' || p.src[p.pos] == '+') {
		p.pos++
	}
	f, err := strconv.ParseFloat(string(p.src[start:p.pos]), 64)
	if err != nil {
		return nil, p.errf("bad number %q", string(p.src[start:p.pos]))
	}
	return f, nil
}

func (p *literalParser) parseWord() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
		p.pos++
	}
	switch word := string(p.src[start:p.pos]); word {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	case "null", "None":
		return nil, nil
	default:
		return nil, p.errf("unexpected literal %q", word)
	}
}
