package template

import "strings"

// Refs returns the root variable names a templated string references:
// identifiers that are not builtins, keywords, or field names after a dot.
// Used by the workflow validator to check references statically, before
// any scope exists. Malformed segments yield no refs; the validator
// reports them through evaluation at run time instead.
func Refs(s string) []string {
	var roots []string
	seen := map[string]bool{}
	collect := func(expr string) {
		toks, err := tokenize(expr)
		if err != nil {
			return
		}
		prevDot := false
		for _, t := range toks {
			if t.kind == tokPunct {
				prevDot = t.text == "."
				continue
			}
			if t.kind == tokIdent && !prevDot {
				name := t.text
				if !builtinNames[name] && !isKeyword(name) && !seen[name] {
					seen[name] = true
					roots = append(roots, name)
				}
			}
			prevDot = false
		}
	}

	rest := s
	found := false
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		rest = rest[start+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			break
		}
		collect(rest[:end])
		rest = rest[end+2:]
		found = true
	}
	if !found && isBareExpression(s) {
		collect(s)
	}
	return roots
}

func isKeyword(name string) bool {
	switch name {
	case "true", "false", "null", "none", "None":
		return true
	}
	return false
}
