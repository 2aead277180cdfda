package ruledsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp     // == != > < >= <=
	tokAnd    // and
	tokOr     // or
	tokLParen // (
	tokRParen // )
	tokComma  // ,
	tokDot    // .
	tokStar   // *
	tokTrue
	tokFalse
	tokNull
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// lex splits a condition string into tokens. It is deliberately small: the
// DSL has no assignment, no calls other than the whitelisted functions, and
// no escapes beyond doubled quotes inside strings.
func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '.':
			toks = append(toks, token{kind: tokDot, text: ".", pos: i})
			i++
		case c == '*':
			toks = append(toks, token{kind: tokStar, text: "*", pos: i})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, &EvalError{Condition: input, Message: fmt.Sprintf("unterminated string at offset %d", i)}
			}
			toks = append(toks, token{kind: tokString, text: input[i+1 : j], pos: i})
			i = j + 1
		case c == '=' || c == '!' || c == '>' || c == '<':
			op := string(c)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
				i++
			}
			if op == "=" || op == "!" {
				return nil, &EvalError{Condition: input, Message: fmt.Sprintf("invalid operator %q at offset %d", op, i)}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i++
		case c >= '0' && c <= '9' || (c == '-' && i+1 < len(input) && input[i+1] >= '0' && input[i+1] <= '9'):
			j := i + 1
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			text := input[i:j]
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &EvalError{Condition: input, Message: fmt.Sprintf("invalid number %q", text)}
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: n, pos: i})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i + 1
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_') {
				j++
			}
			word := input[i:j]
			switch strings.ToLower(word) {
			case "and":
				toks = append(toks, token{kind: tokAnd, text: word, pos: i})
			case "or":
				toks = append(toks, token{kind: tokOr, text: word, pos: i})
			case "true":
				toks = append(toks, token{kind: tokTrue, text: word, pos: i})
			case "false":
				toks = append(toks, token{kind: tokFalse, text: word, pos: i})
			case "null":
				toks = append(toks, token{kind: tokNull, text: word, pos: i})
			default:
				toks = append(toks, token{kind: tokIdent, text: word, pos: i})
			}
			i = j
		default:
			return nil, &EvalError{Condition: input, Message: fmt.Sprintf("unexpected character %q at offset %d", c, i)}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(input)})
	return toks, nil
}
