package calc

import (
	"fmt"
	"strconv"

	"matchbox/internal/value"
)

// ParseExpr parses infix arithmetic into an Expr tree: integer literals,
// unary minus, + - *, and parentheses. Binary minus desugars to addition of
// a negation, matching the Expr alternatives.
func ParseExpr(src string) (value.Value, error) {
	p := &exprParser{src: src}
	v, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("col %d: unexpected %q", p.pos+1, string(p.src[p.pos]))
	}
	return v, nil
}

type exprParser struct {
	src string
	pos int
}

func precOf(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*':
		return 2
	default:
		return 0
	}
}

// parseBinary is precedence climbing: operators at or above minPrec extend
// the left operand, lower ones return to the caller.
func (p *exprParser) parseBinary(minPrec int) (value.Value, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return lhs, nil
		}
		op := p.src[p.pos]
		prec := precOf(op)
		if prec == 0 || prec < minPrec {
			return lhs, nil
		}
		p.pos++
		rhs, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		switch op {
		case '+':
			lhs = AddExpr(lhs, rhs)
		case '-':
			lhs = AddExpr(lhs, NegExpr(rhs))
		case '*':
			lhs = MulExpr(lhs, rhs)
		}
	}
}

func (p *exprParser) parseUnary() (value.Value, error) {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '-' {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NegExpr(v), nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (value.Value, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("col %d: expected an expression", p.pos+1)
	}
	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return nil, fmt.Errorf("col %d: missing ')'", p.pos+1)
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9':
		j := p.pos
		for j < len(p.src) && p.src[j] >= '0' && p.src[j] <= '9' {
			j++
		}
		n, err := strconv.ParseInt(p.src[p.pos:j], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("col %d: %w", p.pos+1, err)
		}
		p.pos = j
		return IntExpr(n), nil
	default:
		return nil, fmt.Errorf("col %d: unexpected %q", p.pos+1, string(c))
	}
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}
