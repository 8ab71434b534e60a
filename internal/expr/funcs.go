package expr

import (
	"fmt"
	"strings"
)

// Func is a registered expression function. Implementations must be
// deterministic: no clock reads, no randomness, no I/O.
type Func func(args []any) (any, error)

// builtins returns the default function registry.
func builtins() map[string]Func {
	return map[string]Func{
		"concat":   fnConcat,
		"coalesce": fnCoalesce,
		"lower":    fnLower,
		"upper":    fnUpper,
		"length":   fnLength,
		"contains": fnContains,
	}
}

// fnConcat joins the string form of every argument. Nil arguments
// contribute nothing.
func fnConcat(args []any) (any, error) {
	var sb strings.Builder
	for _, a := range args {
		if a == nil {
			continue
		}
		s, err := stringArg("concat", a)
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// fnCoalesce returns the first non-nil argument, or nil.
func fnCoalesce(args []any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func fnLower(args []any) (any, error) {
	s, err := singleStringArg("lower", args)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func fnUpper(args []any) (any, error) {
	s, err := singleStringArg("upper", args)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

// fnLength returns the element count of a string, list, or object.
func fnLength(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("length expects 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case nil:
		return float64(0), nil
	case string:
		return float64(len(v)), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return nil, fmt.Errorf("length expects string, list, or object, got %T", args[0])
	}
}

// fnContains reports whether a string contains a substring or a list
// contains an element.
func fnContains(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
	}
	switch v := args[0].(type) {
	case nil:
		return false, nil
	case string:
		needle, err := stringArg("contains", args[1])
		if err != nil {
			return nil, err
		}
		return strings.Contains(v, needle), nil
	case []any:
		for _, elem := range v {
			if looseEqual(elem, args[1]) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, fmt.Errorf("contains expects string or list, got %T", args[0])
	}
}

func singleStringArg(name string, args []any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
	}
	if args[0] == nil {
		return "", nil
	}
	return stringArg(name, args[0])
}

func stringArg(name string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", s), "0"), "."), nil
	case int64:
		return fmt.Sprintf("%d", s), nil
	case bool:
		return fmt.Sprintf("%t", s), nil
	default:
		return "", fmt.Errorf("%s expects a scalar, got %T", name, v)
	}
}
