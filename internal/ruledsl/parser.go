// Package ruledsl implements the restricted boolean expression language
// used in policy rule conditions. Conditions are parsed once, at policy
// load time, into an expression tree; evaluation is total and side-effect
// free: a missing context path yields null, never a runtime panic, and an
// unknown identifier or function yields an EvalError so the engine can
// treat the rule as false and move on.
//
// Grammar (informal):
//
//	expr   := or
//	or     := and ("or" and)*
//	and    := cmp ("and" cmp)*
//	cmp    := term (("=="|"!="|">"|"<"|">="|"<=") term)?
//	term   := literal | "(" expr ")" | "len" "(" expr ")" | path
//	path   := ident ("." ident)* [ "." ("contains"|"empty") "(" args ")" ]
//
// The single token "*" as the entire condition is the wildcard and always
// evaluates true.
package ruledsl

import "fmt"

// Expr is a parsed condition.
type Expr interface {
	// Eval evaluates the expression against a nested context map.
	// Values are the JSON scalar set: nil, bool, float64/int, string,
	// []any, map[string]any.
	Eval(ctx map[string]any) (any, error)
}

// Roots are the identifiers allowed as the first segment of a path. Paths
// rooted anywhere else fail with an EvalError even if the context happens
// to contain the key. The check runs at evaluation time so the engine can
// degrade the one bad rule; loaders use ParseStrict to catch typos before
// a policy is stored.
var allowedRoots = map[string]bool{
	"case":            true,
	"ensemble":        true,
	"identity":        true,
	"address":         true,
	"compliance":      true,
	"risk_assessment": true,
}

// EvalError reports a condition that could not be evaluated. The policy
// engine treats the affected rule as false and records a rule_eval_error
// audit event.
type EvalError struct {
	Condition string
	Message   string
}

func (e *EvalError) Error() string {
	if e.Condition == "" {
		return "rule eval: " + e.Message
	}
	return fmt.Sprintf("rule eval %q: %s", e.Condition, e.Message)
}

// IsEvalError reports whether err is a DSL evaluation error.
func IsEvalError(err error) bool {
	_, ok := err.(*EvalError)
	return ok
}

// Parse compiles a condition string into an expression tree.
func Parse(condition string) (Expr, error) {
	if condition == "*" {
		return wildcardExpr{}, nil
	}
	toks, err := lex(condition)
	if err != nil {
		return nil, err
	}
	p := &parser{src: condition, toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected trailing input at offset %d", p.peek().pos)
	}
	return expr, nil
}

// ParseStrict compiles a condition and additionally rejects paths rooted
// at unknown identifiers. Policy validation uses it so a typo never makes
// it into a stored document; Parse alone defers the root check to
// evaluation, where a single bad rule degrades instead of failing the
// whole policy.
func ParseStrict(condition string) (Expr, error) {
	expr, err := Parse(condition)
	if err != nil {
		return nil, err
	}
	if err := checkRoots(expr); err != nil {
		return nil, err
	}
	return expr, nil
}

func checkRoots(expr Expr) error {
	switch e := expr.(type) {
	case *pathExpr:
		if !allowedRoots[e.segments[0]] {
			return &EvalError{Message: fmt.Sprintf("unknown identifier %q", e.segments[0])}
		}
	case *binaryExpr:
		if err := checkRoots(e.left); err != nil {
			return err
		}
		return checkRoots(e.right)
	case *lenExpr:
		return checkRoots(e.arg)
	case *emptyExpr:
		return checkRoots(e.arg)
	case *containsExpr:
		if err := checkRoots(e.list); err != nil {
			return err
		}
		return checkRoots(e.needle)
	}
	return nil
}

// EvalBool parses nothing; it evaluates a compiled expression and coerces
// the result to a boolean. Null and non-boolean values are false.
func EvalBool(expr Expr, ctx map[string]any) (bool, error) {
	v, err := expr.Eval(ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	return ok && b, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &EvalError{Condition: p.src, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCmp() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return literalExpr{value: t.num}, nil
	case tokString:
		p.next()
		return literalExpr{value: t.text}, nil
	case tokTrue:
		p.next()
		return literalExpr{value: true}, nil
	case tokFalse:
		p.next()
		return literalExpr{value: false}, nil
	case tokNull:
		p.next()
		return literalExpr{value: nil}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf("missing closing parenthesis at offset %d", p.peek().pos)
		}
		p.next()
		return inner, nil
	case tokIdent:
		if t.text == "len" && p.toks[p.pos+1].kind == tokLParen {
			p.next() // len
			p.next() // (
			arg, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			if p.peek().kind != tokRParen {
				return nil, p.errorf("len: missing closing parenthesis")
			}
			p.next()
			return &lenExpr{arg: arg}, nil
		}
		return p.parsePath()
	default:
		return nil, p.errorf("unexpected token %q at offset %d", t.text, t.pos)
	}
}

// parsePath consumes ident ("." ident)* and an optional trailing method
// call on the final segment (contains/empty).
func (p *parser) parsePath() (Expr, error) {
	var segments []string
	segments = append(segments, p.next().text)
	for p.peek().kind == tokDot {
		p.next()
		seg := p.peek()
		if seg.kind != tokIdent {
			return nil, p.errorf("expected identifier after '.' at offset %d", seg.pos)
		}
		p.next()
		// Method call on the path so far?
		if p.peek().kind == tokLParen {
			return p.parseMethod(segments, seg.text)
		}
		segments = append(segments, seg.text)
	}
	return &pathExpr{segments: segments}, nil
}

func (p *parser) parseMethod(segments []string, method string) (Expr, error) {
	p.next() // (
	base := &pathExpr{segments: segments}
	switch method {
	case "empty":
		if p.peek().kind != tokRParen {
			return nil, p.errorf("empty() takes no arguments")
		}
		p.next()
		return &emptyExpr{arg: base}, nil
	case "contains":
		arg, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf("contains: missing closing parenthesis")
		}
		p.next()
		return &containsExpr{list: base, needle: arg}, nil
	default:
		return nil, p.errorf("unknown function %q", method)
	}
}
