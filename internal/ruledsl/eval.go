package ruledsl

import "fmt"

type wildcardExpr struct{}

func (wildcardExpr) Eval(map[string]any) (any, error) { return true, nil }

type literalExpr struct{ value any }

func (e literalExpr) Eval(map[string]any) (any, error) { return e.value, nil }

// pathExpr resolves a dotted path against the context map. A missing key
// at any depth yields null; only an unknown root is an error, reported at
// evaluation so the engine degrades the rule rather than the policy.
type pathExpr struct{ segments []string }

func (e *pathExpr) Eval(ctx map[string]any) (any, error) {
	if !allowedRoots[e.segments[0]] {
		return nil, &EvalError{Message: fmt.Sprintf("unknown identifier %q", e.segments[0])}
	}
	var cur any = ctx
	for _, seg := range e.segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil, nil
		}
	}
	return cur, nil
}

type binaryExpr struct {
	op          string
	left, right Expr
}

func (e *binaryExpr) Eval(ctx map[string]any) (any, error) {
	lv, err := e.left.Eval(ctx)
	if err != nil {
		return nil, err
	}

	// Short-circuit boolean operators.
	switch e.op {
	case "and":
		if !truthy(lv) {
			return false, nil
		}
		rv, err := e.right.Eval(ctx)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	case "or":
		if truthy(lv) {
			return true, nil
		}
		rv, err := e.right.Eval(ctx)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	}

	rv, err := e.right.Eval(ctx)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "==":
		return equal(lv, rv), nil
	case "!=":
		return !equal(lv, rv), nil
	case ">", "<", ">=", "<=":
		return order(e.op, lv, rv), nil
	}
	return nil, &EvalError{Message: fmt.Sprintf("unknown operator %q", e.op)}
}

type lenExpr struct{ arg Expr }

func (e *lenExpr) Eval(ctx map[string]any) (any, error) {
	v, err := e.arg.Eval(ctx)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return float64(0), nil
	case string:
		return float64(len(t)), nil
	case []any:
		return float64(len(t)), nil
	case []string:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	}
	return nil, &EvalError{Message: fmt.Sprintf("len: unsupported operand %T", v)}
}

type emptyExpr struct{ arg Expr }

func (e *emptyExpr) Eval(ctx map[string]any) (any, error) {
	v, err := e.arg.Eval(ctx)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return true, nil
	case string:
		return t == "", nil
	case []any:
		return len(t) == 0, nil
	case []string:
		return len(t) == 0, nil
	case map[string]any:
		return len(t) == 0, nil
	}
	return nil, &EvalError{Message: fmt.Sprintf("empty: unsupported operand %T", v)}
}

type containsExpr struct {
	list   Expr
	needle Expr
}

func (e *containsExpr) Eval(ctx map[string]any) (any, error) {
	lv, err := e.list.Eval(ctx)
	if err != nil {
		return nil, err
	}
	nv, err := e.needle.Eval(ctx)
	if err != nil {
		return nil, err
	}
	switch t := lv.(type) {
	case nil:
		return false, nil
	case []any:
		for _, item := range t {
			if equal(item, nv) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range t {
			if equal(item, nv) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := nv.(string)
		if !ok {
			return false, nil
		}
		return containsString(t, s), nil
	}
	return nil, &EvalError{Message: fmt.Sprintf("contains: unsupported operand %T", lv)}
}

func containsString(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// asNumber converts numeric JSON values. Decoded JSON gives float64, but
// contexts built in-process may carry ints.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	switch at := a.(type) {
	case string:
		bs, ok := b.(string)
		return ok && at == bs
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	}
	return false
}

// order compares numerically or lexically; any operand that does not
// support ordering (including null) makes the comparison false, keeping
// evaluation total.
func order(op string, a, b any) bool {
	if an, aok := asNumber(a); aok {
		bn, bok := asNumber(b)
		if !bok {
			return false
		}
		return applyOrder(op, an, bn)
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return false
		}
		switch op {
		case ">":
			return as > bs
		case "<":
			return as < bs
		case ">=":
			return as >= bs
		case "<=":
			return as <= bs
		}
	}
	return false
}

func applyOrder(op string, a, b float64) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	}
	return false
}
