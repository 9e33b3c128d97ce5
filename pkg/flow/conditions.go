package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalCondition evaluates a condition expression against a state snapshot.
//
// Supported grammar:
//
//	<expr>  ::= <or>
//	<or>    ::= <and> ( "||" <and> )*
//	<and>   ::= <atom> ( "&&" <atom> )*
//	<atom>  ::= "!" <atom> | "(" <expr> ")" | <key> <op> <value> | <key>
//	<op>    ::= "==" | "!=" | "<" | "<=" | ">" | ">="
//	<key>   ::= alphanumeric + _ + .
//	<value> ::= single-quoted | double-quoted | bare word
//
// A bare key is truthy if its value is set, non-empty and not "false" or "0".
// Ordering operators compare numerically; a missing or non-numeric operand
// makes the comparison false.
func EvalCondition(expr string, vars map[string]any) (bool, error) {
	p := &condParser{input: strings.TrimSpace(expr), vars: vars}
	result, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expr, err)
	}
	p.skipWS()
	if p.pos < len(p.input) {
		return false, fmt.Errorf("condition %q: unexpected %q at pos %d", expr, p.input[p.pos:], p.pos)
	}
	return result, nil
}

// CheckCondition reports a syntax error in expr without needing any state.
func CheckCondition(expr string) error {
	_, err := EvalCondition(expr, nil)
	return err
}

type condParser struct {
	input string
	pos   int
	vars  map[string]any
}

func (p *condParser) peek() string {
	if p.pos >= len(p.input) {
		return ""
	}
	return p.input[p.pos:]
}

func (p *condParser) skipWS() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *condParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for {
		p.skipWS()
		if !strings.HasPrefix(p.peek(), "||") {
			break
		}
		p.pos += 2
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *condParser) parseAnd() (bool, error) {
	left, err := p.parseAtom()
	if err != nil {
		return false, err
	}
	for {
		p.skipWS()
		if !strings.HasPrefix(p.peek(), "&&") {
			break
		}
		p.pos += 2
		right, err := p.parseAtom()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func (p *condParser) parseAtom() (bool, error) {
	p.skipWS()
	if p.pos >= len(p.input) {
		return false, fmt.Errorf("unexpected end of expression")
	}
	switch p.input[p.pos] {
	case '!':
		if !strings.HasPrefix(p.peek(), "!=") {
			p.pos++
			v, err := p.parseAtom()
			return !v, err
		}
	case '(':
		p.pos++
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		p.skipWS()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return false, fmt.Errorf("expected ')'")
		}
		p.pos++
		return v, nil
	}

	key := p.parseKey()
	if key == "" {
		return false, fmt.Errorf("expected identifier at pos %d in %q", p.pos, p.input)
	}
	p.skipWS()
	for _, op := range comparisonOps {
		if !strings.HasPrefix(p.peek(), op) {
			continue
		}
		p.pos += len(op)
		p.skipWS()
		val, err := p.parseValue()
		if err != nil {
			return false, err
		}
		return compare(p.vars, key, op, val), nil
	}
	return truthy(p.vars, key), nil
}

func compare(vars map[string]any, key, op, want string) bool {
	v, ok := vars[key]
	got := ""
	if ok && v != nil {
		got = fmt.Sprint(v)
	}
	switch op {
	case "==":
		return got == want
	case "!=":
		return got != want
	}
	if !ok {
		return false
	}
	a, err1 := strconv.ParseFloat(got, 64)
	b, err2 := strconv.ParseFloat(want, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	switch op {
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	default:
		return a <= b
	}
}

func truthy(vars map[string]any, key string) bool {
	v, ok := vars[key]
	if !ok || v == nil {
		return false
	}
	switch s := fmt.Sprint(v); s {
	case "", "false", "0":
		return false
	default:
		return true
	}
}

func (p *condParser) parseKey() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '_' || c == '.' || c == '-' {
			p.pos++
		} else {
			break
		}
	}
	return p.input[start:p.pos]
}

func (p *condParser) parseValue() (string, error) {
	if p.pos >= len(p.input) {
		return "", fmt.Errorf("expected value at end of expression")
	}
	quote := p.input[p.pos]
	if quote == '\'' || quote == '"' {
		p.pos++
		start := p.pos
		for p.pos < len(p.input) && p.input[p.pos] != quote {
			p.pos++
		}
		if p.pos >= len(p.input) {
			return "", fmt.Errorf("unterminated string starting at pos %d", start-1)
		}
		val := p.input[start:p.pos]
		p.pos++
		return val, nil
	}
	val := p.parseKey()
	if val == "" {
		return "", fmt.Errorf("expected value at pos %d in %q", p.pos, p.input)
	}
	return val, nil
}
