package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Predicate decides whether an extracted value matches a query. It must
// return false, never panic, for values it cannot interpret.
type Predicate func(value any) bool

// Lookup walks nested objects of info along path. It reports false when a key
// is missing or an intermediate value is not an object.
func Lookup(info map[string]any, path []string) (any, bool) {
	if len(path) == 0 || info == nil {
		return nil, false
	}
	var cur any = info
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToNumber casts a JSON value to float64. Numeric strings may carry thousands
// separators ("10,000,000"); anything else fails the cast.
func ToNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Equals matches values equal to want. Strings compare exactly; a numeric
// want compares numerically after casting the stored value.
func Equals(want any) Predicate {
	if _, isString := want.(string); !isString {
		if wn, ok := ToNumber(want); ok {
			return func(v any) bool {
				n, ok := ToNumber(v)
				return ok && n == wn
			}
		}
	}
	return func(v any) bool {
		if ws, ok := want.(string); ok {
			s, ok := v.(string)
			return ok && s == ws
		}
		return reflect.DeepEqual(normalize(v), normalize(want))
	}
}

func GreaterThan(n float64) Predicate {
	return numeric(func(v float64) bool { return v > n })
}

func GreaterOrEqual(n float64) Predicate {
	return numeric(func(v float64) bool { return v >= n })
}

func LessThan(n float64) Predicate {
	return numeric(func(v float64) bool { return v < n })
}

func LessOrEqual(n float64) Predicate {
	return numeric(func(v float64) bool { return v <= n })
}

// Between matches lo <= v <= hi.
func Between(lo, hi float64) Predicate {
	return numeric(func(v float64) bool { return v >= lo && v <= hi })
}

func numeric(cmp func(float64) bool) Predicate {
	return func(v any) bool {
		n, ok := ToNumber(v)
		return ok && cmp(n)
	}
}

type exprEnv struct {
	Value   any     `expr:"value"`
	Number  float64 `expr:"number"`
	Numeric bool    `expr:"numeric"`
}

// Expr compiles an expression predicate. The expression sees the stored value
// as `value`, its numeric cast as `number`, and whether the cast succeeded as
// `numeric`, e.g. `numeric && number >= 10000000`.
func Expr(src string) (Predicate, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid predicate expression: %w", err)
	}
	return exprPredicate(program), nil
}

func exprPredicate(program *vm.Program) Predicate {
	return func(v any) bool {
		n, ok := ToNumber(v)
		out, err := expr.Run(program, exprEnv{Value: normalize(v), Number: n, Numeric: ok})
		if err != nil {
			return false
		}
		matched, _ := out.(bool)
		return matched
	}
}

// ParsePredicate builds a predicate from an operator name and its argument,
// as typed on the command line or sent over the socket.
func ParsePredicate(op, arg string) (Predicate, error) {
	switch strings.ToLower(op) {
	case "", "eq", "equals", "=":
		return parsedEquals(arg), nil
	case "expr":
		return Expr(arg)
	}

	n, ok := ToNumber(arg)
	if !ok {
		return nil, fmt.Errorf("operator %q needs a numeric argument, got %q", op, arg)
	}
	switch strings.ToLower(op) {
	case "gt", ">":
		return GreaterThan(n), nil
	case "gte", ">=":
		return GreaterOrEqual(n), nil
	case "lt", "<":
		return LessThan(n), nil
	case "lte", "<=":
		return LessOrEqual(n), nil
	case "neq", "!=":
		eq := Equals(n)
		return func(v any) bool {
			_, numericValue := ToNumber(v)
			return numericValue && !eq(v)
		}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// parsedEquals matches stored strings exactly and, when arg reads as a
// number, stored JSON numbers by value.
func parsedEquals(arg string) Predicate {
	eqString := Equals(arg)
	n, ok := ToNumber(arg)
	if !ok {
		return eqString
	}
	eqNumber := Equals(n)
	return func(v any) bool {
		if _, isString := v.(string); isString {
			return eqString(v)
		}
		return eqNumber(v)
	}
}

// normalize turns json.Number into float64 so values decoded with UseNumber
// compare like plain JSON numbers.
func normalize(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
