package pattern

import (
	"fmt"
	"strconv"

	"matchbox/internal/value"
)

// ArmAST is one parsed `pattern (if guard)? => result` arm.
type ArmAST struct {
	Pattern Pattern
	Guard   Expr // nil when unguarded
	Result  Expr
	Pos     Pos
}

func (a *ArmAST) String() string {
	s := a.Pattern.String()
	if a.Guard != nil {
		s += " if " + a.Guard.String()
	}
	return s + " => " + a.Result.String()
}

// RulesetAST is one parsed `inspect name (: type)? { arms }` block.
type RulesetAST struct {
	Name    string
	Subject TypeExpr // nil when unannotated
	Arms    []*ArmAST
	Pos     Pos
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) cur() token { return p.toks[p.i] }

func (p *parser) peek() token {
	if p.i+1 < len(p.toks) {
		return p.toks[p.i+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) expect(kind tokKind) (token, error) {
	t := p.cur()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, found %s", kind, describe(t))
	}
	return p.next(), nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func describe(t token) string {
	switch t.kind {
	case tokIdent:
		return fmt.Sprintf("%q", t.text)
	case tokInt, tokFloat:
		return t.text
	case tokString:
		return strconv.Quote(t.text)
	default:
		return t.kind.String()
	}
}

// ParsePattern parses a single pattern; the whole input must be consumed.
func ParsePattern(src string) (Pattern, error) {
	p, err := newParser(src, 1)
	if err != nil {
		return nil, err
	}
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if t := p.cur(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s after pattern", describe(t))
	}
	return pat, nil
}

// ParseExpr parses a single expression; the whole input must be consumed.
func ParseExpr(src string) (Expr, error) {
	p, err := newParser(src, 1)
	if err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.cur(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s after expression", describe(t))
	}
	return e, nil
}

// ParseTypeExpr parses a type expression such as `&Tree` or
// `[Color, &Tree, any, &Tree]`.
func ParseTypeExpr(src string) (TypeExpr, error) {
	p, err := newParser(src, 1)
	if err != nil {
		return nil, err
	}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if tk := p.cur(); tk.kind != tokEOF {
		return nil, p.errorf(tk, "unexpected %s after type", describe(tk))
	}
	return t, nil
}

// ParseVariantDecl parses the alternatives of a variant declaration, the
// right-hand side of a `types:` frontmatter entry. Alternatives separate on
// '|': a bare tag is nullary, `Tag(T)` carries a single value, `Tag(T1, T2)`
// a tuple, and `Tag{f: T}` a record.
func ParseVariantDecl(name, src string) (*VariantDecl, error) {
	p, err := newParser(src, 1)
	if err != nil {
		return nil, err
	}
	decl := &VariantDecl{Name: name}
	for {
		alt, err := p.parseAlt()
		if err != nil {
			return nil, err
		}
		decl.Alts = append(decl.Alts, alt)
		if p.cur().kind != tokPipe {
			break
		}
		p.next()
	}
	if t := p.cur(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s after alternatives", describe(t))
	}
	return decl, nil
}

func (p *parser) parseAlt() (Alt, error) {
	tag, err := p.expect(tokIdent)
	if err != nil {
		return Alt{}, err
	}
	alt := Alt{Tag: tag.text}
	switch p.cur().kind {
	case tokLParen:
		p.next()
		if p.cur().kind == tokRParen {
			return Alt{}, p.errorf(p.cur(), "empty payload; drop the parentheses for a nullary alternative")
		}
		var elems []TypeExpr
		for {
			t, err := p.parseType()
			if err != nil {
				return Alt{}, err
			}
			elems = append(elems, t)
			if p.cur().kind != tokComma {
				break
			}
			p.next()
		}
		if _, err := p.expect(tokRParen); err != nil {
			return Alt{}, err
		}
		if len(elems) == 1 {
			alt.Payload = Payload{Kind: PayloadSingle, Single: elems[0]}
		} else {
			alt.Payload = Payload{Kind: PayloadTuple, Elems: elems}
		}
	case tokLBrace:
		p.next()
		var fields []TypeField
		seen := make(map[string]bool)
		for {
			name, err := p.expect(tokIdent)
			if err != nil {
				return Alt{}, err
			}
			if seen[name.text] {
				return Alt{}, p.errorf(name, "field %q declared twice", name.text)
			}
			seen[name.text] = true
			if _, err := p.expect(tokColon); err != nil {
				return Alt{}, err
			}
			t, err := p.parseType()
			if err != nil {
				return Alt{}, err
			}
			fields = append(fields, TypeField{Name: name.text, Type: t})
			if p.cur().kind != tokComma {
				break
			}
			p.next()
		}
		if _, err := p.expect(tokRBrace); err != nil {
			return Alt{}, err
		}
		alt.Payload = Payload{Kind: PayloadRecord, Fields: fields}
	}
	return alt, nil
}

// ParseBlocks parses a sequence of `inspect` blocks. startLine offsets
// positions, so callers stripping frontmatter report true file lines.
func ParseBlocks(src string, startLine int) ([]*RulesetAST, error) {
	p, err := newParser(src, startLine)
	if err != nil {
		return nil, err
	}
	var blocks []*RulesetAST
	for p.cur().kind != tokEOF {
		b, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func newParser(src string, startLine int) (*parser, error) {
	toks, err := lex(src, startLine)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

func (p *parser) parseBlock() (*RulesetAST, error) {
	start, err := p.expect(tokInspect)
	if err != nil {
		return nil, err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	rs := &RulesetAST{Name: name.text, Pos: start.pos}
	if p.cur().kind == tokColon {
		p.next()
		subj, err := p.parseType()
		if err != nil {
			return nil, err
		}
		rs.Subject = subj
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	for p.cur().kind != tokRBrace {
		arm, err := p.parseArm()
		if err != nil {
			return nil, err
		}
		rs.Arms = append(rs.Arms, arm)
		switch p.cur().kind {
		case tokComma:
			p.next()
		case tokRBrace:
		default:
			return nil, p.errorf(p.cur(), "expected ',' or '}' after arm, found %s", describe(p.cur()))
		}
	}
	p.next() // }
	return rs, nil
}

func (p *parser) parseArm() (*ArmAST, error) {
	start := p.cur()
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	arm := &ArmAST{Pattern: pat, Pos: start.pos}
	if p.cur().kind == tokIf {
		p.next()
		guard, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arm.Guard = guard
	}
	if _, err := p.expect(tokArrow); err != nil {
		return nil, err
	}
	result, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	arm.Result = result
	return arm, nil
}

func patternStart(k tokKind) bool {
	switch k {
	case tokIdent, tokInt, tokFloat, tokString, tokTrue, tokFalse, tokNil,
		tokNull, tokMinus, tokCaret, tokLBracket, tokLt, tokStar, tokLParen:
		return true
	default:
		return false
	}
}

func (p *parser) parsePattern() (Pattern, error) {
	t := p.cur()
	switch t.kind {
	case tokIdent:
		p.next()
		if t.text == "_" {
			return &Wildcard{Pos: t.pos}, nil
		}
		return &Bind{Name: t.text, Pos: t.pos}, nil
	case tokInt, tokFloat, tokString, tokTrue, tokFalse, tokNil, tokNull:
		v, err := p.literalValue()
		if err != nil {
			return nil, err
		}
		return &Literal{Val: v, Pos: t.pos}, nil
	case tokMinus:
		p.next()
		n := p.cur()
		v, err := p.literalValue()
		if err != nil {
			return nil, p.errorf(n, "expected a number after '-'")
		}
		switch num := v.(type) {
		case value.Int:
			return &Literal{Val: -num, Pos: t.pos}, nil
		case value.Float:
			return &Literal{Val: -num, Pos: t.pos}, nil
		default:
			return nil, p.errorf(n, "expected a number after '-'")
		}
	case tokCaret:
		return p.parseExprPattern()
	case tokLBracket:
		return p.parseStructPattern()
	case tokLt:
		return p.parseAltPattern()
	case tokStar:
		p.next()
		elem, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		return &DerefPat{Elem: elem, Pos: t.pos}, nil
	case tokLParen:
		return p.parseExtractPattern()
	default:
		return nil, p.errorf(t, "expected a pattern, found %s", describe(t))
	}
}

// literalValue consumes the current token as a literal value.
func (p *parser) literalValue() (value.Value, error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf(t, "integer literal %s out of range", t.text)
		}
		p.next()
		return value.Int(n), nil
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "bad float literal %s", t.text)
		}
		p.next()
		return value.Float(f), nil
	case tokString:
		p.next()
		return value.String(t.text), nil
	case tokTrue:
		p.next()
		return value.Bool(true), nil
	case tokFalse:
		p.next()
		return value.Bool(false), nil
	case tokNil:
		p.next()
		return value.Nil{}, nil
	case tokNull:
		p.next()
		return value.NullRef(), nil
	default:
		return nil, p.errorf(t, "expected a literal, found %s", describe(t))
	}
}

func (p *parser) parseExprPattern() (Pattern, error) {
	caret := p.next() // ^
	t := p.cur()
	switch t.kind {
	case tokLParen:
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return &ExprPat{Expr: e, Pos: caret.pos}, nil
	case tokIdent:
		p.next()
		return &ExprPat{Expr: &Ident{Name: t.text, Pos: t.pos}, Pos: caret.pos}, nil
	case tokInt, tokFloat, tokString, tokTrue, tokFalse, tokNil, tokNull:
		v, err := p.literalValue()
		if err != nil {
			return nil, err
		}
		return &ExprPat{Expr: &Lit{Val: v, Pos: t.pos}, Pos: caret.pos}, nil
	default:
		return nil, p.errorf(t, "expected an identifier, literal, or '(' after '^'")
	}
}

func (p *parser) parseStructPattern() (Pattern, error) {
	open := p.next() // [
	if p.cur().kind == tokRBracket {
		p.next()
		return &TuplePat{Pos: open.pos}, nil
	}
	designated := p.cur().kind == tokIdent && p.peek().kind == tokColon
	if designated {
		pat := &RecordPat{Pos: open.pos}
		seen := make(map[string]bool)
		for {
			if p.cur().kind != tokIdent || p.peek().kind != tokColon {
				if patternStart(p.cur().kind) {
					return nil, p.errorf(p.cur(), "cannot mix designated and positional elements")
				}
				return nil, p.errorf(p.cur(), "expected a field name, found %s", describe(p.cur()))
			}
			nameTok := p.next()
			p.next() // :
			if seen[nameTok.text] {
				return nil, p.errorf(nameTok, "field %q matched twice", nameTok.text)
			}
			seen[nameTok.text] = true
			sub, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			pat.Fields = append(pat.Fields, FieldPat{Name: nameTok.text, Pattern: sub, Pos: nameTok.pos})
			if p.cur().kind == tokComma {
				p.next()
				if p.cur().kind == tokRBracket {
					break
				}
				continue
			}
			break
		}
		if _, err := p.expect(tokRBracket); err != nil {
			return nil, err
		}
		return pat, nil
	}
	pat := &TuplePat{Pos: open.pos}
	for {
		if p.cur().kind == tokIdent && p.peek().kind == tokColon {
			return nil, p.errorf(p.cur(), "cannot mix positional and designated elements")
		}
		sub, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		pat.Elems = append(pat.Elems, sub)
		if p.cur().kind == tokComma {
			p.next()
			if p.cur().kind == tokRBracket {
				break
			}
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket); err != nil {
		return nil, err
	}
	return pat, nil
}

func (p *parser) parseAltPattern() (Pattern, error) {
	open := p.next() // <
	var sel AltSel
	t := p.cur()
	switch t.kind {
	case tokIdent:
		p.next()
		if t.text == "_" {
			sel = AltSel{Kind: AltAny}
		} else {
			sel = AltSel{Kind: AltByName, Name: t.text}
		}
	case tokInt:
		p.next()
		idx, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, p.errorf(t, "bad alternative index %s", t.text)
		}
		sel = AltSel{Kind: AltByIndex, Index: idx}
	default:
		return nil, p.errorf(t, "expected an alternative name, index, or '_', found %s", describe(t))
	}
	if _, err := p.expect(tokGt); err != nil {
		return nil, err
	}
	pat := &AltPat{Sel: sel, Pos: open.pos}
	if patternStart(p.cur().kind) {
		payload, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		pat.Payload = payload
	}
	return pat, nil
}

func (p *parser) parseExtractPattern() (Pattern, error) {
	open := p.next() // (
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	strict := false
	if p.cur().kind == tokBang {
		p.next()
		strict = true
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	arg, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	return &ExtractPat{Name: name.text, Strict: strict, Arg: arg, Pos: open.pos}, nil
}

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOrOr {
		op := p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Op: OpOr, LHS: lhs, RHS: rhs, Pos: op.pos}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (Expr, error) {
	lhs, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAndAnd {
		op := p.next()
		rhs, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Op: OpAnd, LHS: lhs, RHS: rhs, Pos: op.pos}
	}
	return lhs, nil
}

func cmpOp(k tokKind) (Op, bool) {
	switch k {
	case tokEq:
		return OpEq, true
	case tokNe:
		return OpNe, true
	case tokLt:
		return OpLt, true
	case tokLe:
		return OpLe, true
	case tokGt:
		return OpGt, true
	case tokGe:
		return OpGe, true
	default:
		return 0, false
	}
}

func (p *parser) parseCmp() (Expr, error) {
	lhs, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	op, ok := cmpOp(p.cur().kind)
	if !ok {
		return lhs, nil
	}
	opTok := p.next()
	rhs, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	if _, chained := cmpOp(p.cur().kind); chained {
		return nil, p.errorf(p.cur(), "comparisons do not chain; parenthesize")
	}
	return &Binary{Op: op, LHS: lhs, RHS: rhs, Pos: opTok.pos}, nil
}

func (p *parser) parseAdd() (Expr, error) {
	lhs, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		var op Op
		switch p.cur().kind {
		case tokPlus:
			op = OpAdd
		case tokMinus:
			op = OpSub
		default:
			return lhs, nil
		}
		opTok := p.next()
		rhs, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Op: op, LHS: lhs, RHS: rhs, Pos: opTok.pos}
	}
}

func (p *parser) parseMul() (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op Op
		switch p.cur().kind {
		case tokStar:
			op = OpMul
		case tokSlash:
			op = OpDiv
		case tokPercent:
			op = OpMod
		default:
			return lhs, nil
		}
		opTok := p.next()
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Op: op, LHS: lhs, RHS: rhs, Pos: opTok.pos}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.cur()
	var op Op
	switch t.kind {
	case tokMinus:
		op = OpNeg
	case tokBang:
		op = OpNot
	case tokAmp:
		op = OpBox
	default:
		return p.parsePrimary()
	}
	p.next()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &Unary{Op: op, Operand: operand, Pos: t.pos}, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokInt, tokFloat, tokString, tokTrue, tokFalse, tokNil, tokNull:
		v, err := p.literalValue()
		if err != nil {
			return nil, err
		}
		return &Lit{Val: v, Pos: t.pos}, nil
	case tokLParen:
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return e, nil
	case tokLBracket:
		p.next()
		tup := &TupleExpr{Pos: t.pos}
		for p.cur().kind != tokRBracket {
			el, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			tup.Elems = append(tup.Elems, el)
			if p.cur().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRBracket); err != nil {
			return nil, err
		}
		return tup, nil
	case tokLBrace:
		fields, err := p.parseFieldExprs()
		if err != nil {
			return nil, err
		}
		return &RecordExpr{Fields: fields, Pos: t.pos}, nil
	case tokIdent:
		p.next()
		switch {
		case p.cur().kind == tokLParen:
			p.next()
			call := &Call{Name: t.text, Pos: t.pos}
			for p.cur().kind != tokRParen {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if p.cur().kind == tokComma {
					p.next()
					continue
				}
				break
			}
			if _, err := p.expect(tokRParen); err != nil {
				return nil, err
			}
			return call, nil
		case p.cur().kind == tokLBrace && IsTagName(t.text):
			fields, err := p.parseFieldExprs()
			if err != nil {
				return nil, err
			}
			return &VariantExpr{Tag: t.text, Fields: fields, Pos: t.pos}, nil
		default:
			return &Ident{Name: t.text, Pos: t.pos}, nil
		}
	default:
		return nil, p.errorf(t, "expected an expression, found %s", describe(t))
	}
}

func (p *parser) parseFieldExprs() ([]FieldExpr, error) {
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	var fields []FieldExpr
	seen := make(map[string]bool)
	for p.cur().kind != tokRBrace {
		name, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		if seen[name.text] {
			return nil, p.errorf(name, "field %q set twice", name.text)
		}
		seen[name.text] = true
		if _, err := p.expect(tokColon); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fields = append(fields, FieldExpr{Name: name.text, Expr: e, Pos: name.pos})
		if p.cur().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return fields, nil
}

func (p *parser) parseType() (TypeExpr, error) {
	t := p.cur()
	switch t.kind {
	case tokIdent:
		p.next()
		switch t.text {
		case "any":
			return AnyType{}, nil
		case "int":
			return PrimType{Kind: value.KindInt}, nil
		case "float":
			return PrimType{Kind: value.KindFloat}, nil
		case "bool":
			return PrimType{Kind: value.KindBool}, nil
		case "string":
			return PrimType{Kind: value.KindString}, nil
		default:
			return NamedType{Name: t.text}, nil
		}
	case tokNil:
		p.next()
		return PrimType{Kind: value.KindNil}, nil
	case tokAmp:
		p.next()
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return RefType{Elem: elem}, nil
	case tokLBracket:
		p.next()
		var tup TupleType
		for p.cur().kind != tokRBracket {
			el, err := p.parseType()
			if err != nil {
				return nil, err
			}
			tup.Elems = append(tup.Elems, el)
			if p.cur().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRBracket); err != nil {
			return nil, err
		}
		return tup, nil
	case tokLBrace:
		p.next()
		var rec RecordType
		seen := make(map[string]bool)
		for p.cur().kind != tokRBrace {
			name, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			if seen[name.text] {
				return nil, p.errorf(name, "field %q declared twice", name.text)
			}
			seen[name.text] = true
			if _, err := p.expect(tokColon); err != nil {
				return nil, err
			}
			ft, err := p.parseType()
			if err != nil {
				return nil, err
			}
			rec.Fields = append(rec.Fields, TypeField{Name: name.text, Type: ft})
			if p.cur().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRBrace); err != nil {
			return nil, err
		}
		return rec, nil
	default:
		return nil, p.errorf(t, "expected a type, found %s", describe(t))
	}
}
