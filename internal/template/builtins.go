package template

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// callBuiltin dispatches the safe builtin set. Arguments arrive already
// evaluated.
func callBuiltin(expr, name string, args []any) (any, error) {
	switch name {
	case "len":
		if err := arity(expr, name, args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			return float64(len([]rune(v))), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		}
		return nil, errf(expr, "len: unsupported type %T", args[0])

	case "min", "max", "sum":
		nums, err := numericArgs(expr, name, args)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			if name == "sum" {
				return float64(0), nil
			}
			return nil, errf(expr, "%s of empty sequence", name)
		}
		acc := nums[0]
		if name == "sum" {
			acc = 0
		}
		for i, n := range nums {
			switch name {
			case "min":
				if i > 0 {
					acc = math.Min(acc, n)
				}
			case "max":
				if i > 0 {
					acc = math.Max(acc, n)
				}
			case "sum":
				acc += n
			}
		}
		return acc, nil

	case "abs":
		if err := arity(expr, name, args, 1); err != nil {
			return nil, err
		}
		f, ok := asFloat(args[0])
		if !ok {
			return nil, errf(expr, "abs: not a number: %v", args[0])
		}
		return math.Abs(f), nil

	case "round":
		if len(args) < 1 || len(args) > 2 {
			return nil, errf(expr, "round takes 1 or 2 arguments")
		}
		f, ok := asFloat(args[0])
		if !ok {
			return nil, errf(expr, "round: not a number: %v", args[0])
		}
		digits := 0
		if len(args) == 2 {
			d, ok := asFloat(args[1])
			if !ok {
				return nil, errf(expr, "round: digits not a number")
			}
			digits = int(d)
		}
		scale := math.Pow(10, float64(digits))
		return math.Round(f*scale) / scale, nil

	case "str":
		if err := arity(expr, name, args, 1); err != nil {
			return nil, err
		}
		return Stringify(args[0]), nil

	case "int":
		if err := arity(expr, name, args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, errf(expr, "int: cannot convert %q", v)
			}
			return math.Trunc(f), nil
		}
		f, ok := asFloat(args[0])
		if !ok {
			return nil, errf(expr, "int: cannot convert %v", args[0])
		}
		return math.Trunc(f), nil

	case "float":
		if err := arity(expr, name, args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, errf(expr, "float: cannot convert %q", v)
			}
			return f, nil
		}
		f, ok := asFloat(args[0])
		if !ok {
			return nil, errf(expr, "float: cannot convert %v", args[0])
		}
		return f, nil

	case "bool":
		if err := arity(expr, name, args, 1); err != nil {
			return nil, err
		}
		return Truthy(args[0]), nil
	}
	return nil, errf(expr, "unknown builtin %q", name)
}

func arity(expr, name string, args []any, want int) error {
	if len(args) != want {
		return errf(expr, "%s takes %d argument(s), got %d", name, want, len(args))
	}
	return nil
}

// numericArgs flattens min/max/sum arguments: either a single list or
// varargs of numbers.
func numericArgs(expr, name string, args []any) ([]float64, error) {
	items := args
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			items = list
		}
	}
	nums := make([]float64, 0, len(items))
	for _, it := range items {
		f, ok := asFloat(it)
		if !ok {
			return nil, errf(expr, "%s: not a number: %v", name, it)
		}
		nums = append(nums, f)
	}
	return nums, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Stringify renders a value the way templates interpolate it into text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, it := range t {
			parts[i] = stringifyQuoted(it)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		data := fmt.Sprintf("%v", t)
		return data
	}
	return fmt.Sprintf("%v", v)
}

func stringifyQuoted(v any) string {
	if s, ok := v.(string); ok {
		return "'" + s + "'"
	}
	return Stringify(v)
}

// Truthy implements condition truthiness: nil, false, empty strings, the
// literal "false", zero, and empty collections are false; everything else
// is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false"
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
