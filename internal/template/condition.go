package template

import (
	"strconv"
	"strings"

	"github.com/chartflow/chartflow/pkg/models"
)

// EvalCondition evaluates a workflow condition against the scope.
// Semantics:
//
//   - simple: the expression is rendered and tested for truthiness.
//   - comparison: string operands are rendered, literal operands pass
//     through, then the operator applies. in / not in require the right
//     side to be a list or string.
//   - logical: and / or short-circuit; not takes exactly one operand.
func EvalCondition(c *models.Condition, scope Scope) (bool, error) {
	kind, err := c.Kind()
	if err != nil {
		return false, errf("<condition>", "%v", err)
	}
	switch kind {
	case "simple":
		v, err := Render(c.Expr, scope)
		if err != nil {
			return false, err
		}
		return Truthy(v), nil

	case "comparison":
		left, err := renderOperand(c.Left, scope)
		if err != nil {
			return false, err
		}
		right, err := renderOperand(c.Right, scope)
		if err != nil {
			return false, err
		}
		return compare(left, c.Op, right)

	case "and":
		for i := range c.And {
			ok, err := EvalCondition(&c.And[i], scope)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case "or":
		for i := range c.Or {
			ok, err := EvalCondition(&c.Or[i], scope)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case "not":
		ok, err := EvalCondition(c.Not, scope)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
	return false, errf("<condition>", "unknown condition kind %q", kind)
}

func renderOperand(v any, scope Scope) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return Render(s, scope)
}

func compare(left any, op string, right any) (bool, error) {
	if !models.ComparisonOps[op] {
		return false, errf("<condition>", "unknown operator %q", op)
	}
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return ordered(left, op, right)
	case "in", "not in":
		ok, err := membership(left, right)
		if err != nil {
			return false, err
		}
		if op == "not in" {
			ok = !ok
		}
		return ok, nil
	}
	return false, errf("<condition>", "unknown operator %q", op)
}

// looseEqual compares numerically when both sides are numeric (or numeric
// strings), otherwise by string form. Rendered operands are frequently
// strings even when they carry numbers.
func looseEqual(a, b any) bool {
	fa, aok := coerceFloat(a)
	fb, bok := coerceFloat(b)
	if aok && bok {
		return fa == fb
	}
	return Stringify(a) == Stringify(b)
}

func ordered(a any, op string, b any) (bool, error) {
	fa, aok := coerceFloat(a)
	fb, bok := coerceFloat(b)
	if aok && bok {
		switch op {
		case "<":
			return fa < fb, nil
		case "<=":
			return fa <= fb, nil
		case ">":
			return fa > fb, nil
		case ">=":
			return fa >= fb, nil
		}
	}
	sa, sb := Stringify(a), Stringify(b)
	switch op {
	case "<":
		return sa < sb, nil
	case "<=":
		return sa <= sb, nil
	case ">":
		return sa > sb, nil
	case ">=":
		return sa >= sb, nil
	}
	return false, errf("<condition>", "unknown operator %q", op)
}

func membership(needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		return strings.Contains(h, Stringify(needle)), nil
	case map[string]any:
		_, ok := h[Stringify(needle)]
		return ok, nil
	}
	return false, errf("<condition>", "right side of in must be a list or string, got %T", haystack)
}

func coerceFloat(v any) (float64, bool) {
	if f, ok := asFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
