package match

import (
	"fmt"

	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// builtinArity lists the builtin functions callable from expressions.
// Sibling rulesets shadow builtins; extractors are tried after them.
var builtinArity = map[string]int{
	"len": 1,
	"abs": 1,
	"str": 1,
	"tag": 1,
	"min": 2,
	"max": 2,
}

// evaluator runs guard, result, and constant expressions. engine and rs are
// nil in constant context, which forbids recursion and extractor calls.
type evaluator struct {
	lib   *Library
	binds *Bindings
	rs    *Ruleset
	eng   *Engine
	st    *applyState
	depth int
}

// evalConst evaluates an expression using only constants and constructors.
func evalConst(x pattern.Expr, lib *Library) (value.Value, error) {
	ev := &evaluator{lib: lib}
	return ev.eval(x)
}

// EvalConst evaluates x in a constant environment: the given constants plus
// the nullary alternative tags of decls. Ruleset frontmatter materializes its
// declared constants through it before compilation.
func EvalConst(x pattern.Expr, decls *pattern.Decls, consts map[string]value.Value) (value.Value, error) {
	if decls == nil {
		decls = pattern.NewDecls()
	}
	lib := &Library{Decls: decls, Consts: make(map[string]value.Value)}
	for _, tag := range decls.NullaryTags() {
		lib.Consts[tag] = value.NewVariant(tag, nil)
	}
	for name, v := range consts {
		lib.Consts[name] = v
	}
	return evalConst(x, lib)
}

func (ev *evaluator) eval(x pattern.Expr) (value.Value, error) {
	switch n := x.(type) {
	case *pattern.Lit:
		return n.Val, nil
	case *pattern.Ident:
		if v, ok := ev.binds.Get(n.Name); ok {
			return v, nil
		}
		if ev.lib != nil {
			if v, ok := ev.lib.Consts[n.Name]; ok {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%s: unknown identifier %q", n.Pos, n.Name)
	case *pattern.Unary:
		return ev.evalUnary(n)
	case *pattern.Binary:
		return ev.evalBinary(n)
	case *pattern.Call:
		return ev.evalCall(n)
	case *pattern.TupleExpr:
		out := make(value.Tuple, len(n.Elems))
		for i, el := range n.Elems {
			v, err := ev.eval(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *pattern.RecordExpr:
		return ev.evalFields(n.Fields)
	case *pattern.VariantExpr:
		payload, err := ev.evalFields(n.Fields)
		if err != nil {
			return nil, err
		}
		return value.NewVariant(n.Tag, payload), nil
	default:
		return nil, fmt.Errorf("cannot evaluate %T", x)
	}
}

func (ev *evaluator) evalFields(fields []pattern.FieldExpr) (value.Record, error) {
	out := make([]value.Field, len(fields))
	for i, f := range fields {
		v, err := ev.eval(f.Expr)
		if err != nil {
			return nil, err
		}
		out[i] = value.Field{Name: f.Name, Value: v}
	}
	return value.NewRecord(out...)
}

func (ev *evaluator) evalUnary(n *pattern.Unary) (value.Value, error) {
	v, err := ev.eval(n.Operand)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case pattern.OpNeg:
		switch num := v.(type) {
		case value.Int:
			return -num, nil
		case value.Float:
			return -num, nil
		default:
			return nil, fmt.Errorf("%s: cannot negate %s", n.Pos, v.Kind())
		}
	case pattern.OpNot:
		b, ok := v.(value.Bool)
		if !ok {
			return nil, fmt.Errorf("%s: '!' needs a bool, got %s", n.Pos, v.Kind())
		}
		return !b, nil
	case pattern.OpBox:
		return value.NewRef(v), nil
	default:
		return nil, fmt.Errorf("%s: bad unary operator", n.Pos)
	}
}

func (ev *evaluator) evalBinary(n *pattern.Binary) (value.Value, error) {
	// Short-circuit forms first.
	if n.Op == pattern.OpAnd || n.Op == pattern.OpOr {
		lhs, err := ev.evalBool(n.LHS, n.Op)
		if err != nil {
			return nil, err
		}
		if n.Op == pattern.OpAnd && !lhs {
			return value.Bool(false), nil
		}
		if n.Op == pattern.OpOr && lhs {
			return value.Bool(true), nil
		}
		rhs, err := ev.evalBool(n.RHS, n.Op)
		if err != nil {
			return nil, err
		}
		return value.Bool(rhs), nil
	}

	lhs, err := ev.eval(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ev.eval(n.RHS)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case pattern.OpEq:
		return value.Bool(value.Equal(lhs, rhs)), nil
	case pattern.OpNe:
		return value.Bool(!value.Equal(lhs, rhs)), nil
	case pattern.OpLt, pattern.OpLe, pattern.OpGt, pattern.OpGe:
		c, err := value.Compare(lhs, rhs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Pos, err)
		}
		switch n.Op {
		case pattern.OpLt:
			return value.Bool(c < 0), nil
		case pattern.OpLe:
			return value.Bool(c <= 0), nil
		case pattern.OpGt:
			return value.Bool(c > 0), nil
		default:
			return value.Bool(c >= 0), nil
		}
	default:
		return ev.arith(n, lhs, rhs)
	}
}

func (ev *evaluator) evalBool(x pattern.Expr, op pattern.Op) (bool, error) {
	v, err := ev.eval(x)
	if err != nil {
		return false, err
	}
	b, ok := v.(value.Bool)
	if !ok {
		return false, fmt.Errorf("%s: '%s' needs bool operands, got %s", x.Position(), op, v.Kind())
	}
	return bool(b), nil
}

func (ev *evaluator) arith(n *pattern.Binary, lhs, rhs value.Value) (value.Value, error) {
	if n.Op == pattern.OpAdd {
		if ls, ok := lhs.(value.String); ok {
			rs, ok := rhs.(value.String)
			if !ok {
				return nil, fmt.Errorf("%s: cannot add %s to string", n.Pos, rhs.Kind())
			}
			return ls + rs, nil
		}
	}
	li, lInt := lhs.(value.Int)
	ri, rInt := rhs.(value.Int)
	if lInt && rInt {
		switch n.Op {
		case pattern.OpAdd:
			return li + ri, nil
		case pattern.OpSub:
			return li - ri, nil
		case pattern.OpMul:
			return li * ri, nil
		case pattern.OpDiv:
			if ri == 0 {
				return nil, fmt.Errorf("%s: division by zero", n.Pos)
			}
			return li / ri, nil
		case pattern.OpMod:
			if ri == 0 {
				return nil, fmt.Errorf("%s: division by zero", n.Pos)
			}
			return li % ri, nil
		}
	}
	lf, lNum := asFloat(lhs)
	rf, rNum := asFloat(rhs)
	if !lNum || !rNum {
		return nil, fmt.Errorf("%s: '%s' needs numbers, got %s and %s", n.Pos, n.Op, lhs.Kind(), rhs.Kind())
	}
	switch n.Op {
	case pattern.OpAdd:
		return value.Float(lf + rf), nil
	case pattern.OpSub:
		return value.Float(lf - rf), nil
	case pattern.OpMul:
		return value.Float(lf * rf), nil
	case pattern.OpDiv:
		if rf == 0 {
			return nil, fmt.Errorf("%s: division by zero", n.Pos)
		}
		return value.Float(lf / rf), nil
	case pattern.OpMod:
		return nil, fmt.Errorf("%s: '%%' needs integers", n.Pos)
	default:
		return nil, fmt.Errorf("%s: bad operator '%s'", n.Pos, n.Op)
	}
}

func asFloat(v value.Value) (float64, bool) {
	switch n := v.(type) {
	case value.Int:
		return float64(n), true
	case value.Float:
		return float64(n), true
	default:
		return 0, false
	}
}

func (ev *evaluator) evalCall(n *pattern.Call) (value.Value, error) {
	// Recursion: self and sibling rulesets.
	if n.Name == "self" || (ev.lib != nil && ev.lib.rulesets[n.Name] != nil) {
		if ev.eng == nil {
			return nil, fmt.Errorf("%s: %q cannot be called in a constant expression", n.Pos, n.Name)
		}
		target := ev.rs
		if n.Name != "self" {
			target = ev.lib.rulesets[n.Name]
		}
		if target == nil {
			return nil, fmt.Errorf("%s: self outside a ruleset", n.Pos)
		}
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("%s: %s takes one argument", n.Pos, n.Name)
		}
		arg, err := ev.eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		v, _, _, err := ev.eng.applyAt(ev.st, target, arg, ev.depth+1)
		return v, err
	}

	if pattern.IsTagName(n.Name) {
		return ev.construct(n)
	}
	// Declared tags are constructors whatever their case; the calculator's
	// `int` alternative is the usual example.
	if ev.lib != nil {
		if _, _, ok := ev.lib.Decls.AltFor(n.Name); ok {
			return ev.construct(n)
		}
	}

	if _, ok := builtinArity[n.Name]; ok {
		return ev.evalBuiltin(n)
	}

	// Extractors, last: registered at runtime, unknown to compile.
	if ev.eng != nil {
		if ex, ok := ev.eng.registry.Lookup(n.Name); ok {
			if len(n.Args) != 1 {
				return nil, fmt.Errorf("%s: extractor %s takes one argument", n.Pos, n.Name)
			}
			arg, err := ev.eval(n.Args[0])
			if err != nil {
				return nil, err
			}
			out, ok, err := ex.Fn(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: extractor %s: %w", n.Pos, n.Name, err)
			}
			if !ok {
				return nil, fmt.Errorf("%s: extractor %s failed on %s", n.Pos, n.Name, arg)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%s: unknown function %q", n.Pos, n.Name)
}

// construct builds a variant. Declared alternatives shape the payload;
// undeclared tags build nullary, bare, or tuple payloads by argument count.
func (ev *evaluator) construct(n *pattern.Call) (value.Value, error) {
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if ev.lib != nil {
		if _, alt, ok := ev.lib.Decls.AltFor(n.Name); ok {
			if len(args) != alt.Payload.Arity() {
				return nil, fmt.Errorf("%s: constructor %s takes %d arguments, got %d",
					n.Pos, n.Name, alt.Payload.Arity(), len(args))
			}
			switch alt.Payload.Kind {
			case pattern.PayloadNone:
				return value.NewVariant(n.Name, nil), nil
			case pattern.PayloadSingle:
				return value.NewVariant(n.Name, args[0]), nil
			case pattern.PayloadTuple:
				return value.NewVariant(n.Name, value.NewTuple(args...)), nil
			case pattern.PayloadRecord:
				fields := make([]value.Field, len(args))
				for i, f := range alt.Payload.Fields {
					fields[i] = value.Field{Name: f.Name, Value: args[i]}
				}
				rec, err := value.NewRecord(fields...)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", n.Pos, err)
				}
				return value.NewVariant(n.Name, rec), nil
			}
		}
	}
	switch len(args) {
	case 0:
		return value.NewVariant(n.Name, nil), nil
	case 1:
		return value.NewVariant(n.Name, args[0]), nil
	default:
		return value.NewVariant(n.Name, value.NewTuple(args...)), nil
	}
}

func (ev *evaluator) evalBuiltin(n *pattern.Call) (value.Value, error) {
	want := builtinArity[n.Name]
	if len(n.Args) != want {
		return nil, fmt.Errorf("%s: %s takes %d arguments, got %d", n.Pos, n.Name, want, len(n.Args))
	}
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch n.Name {
	case "len":
		switch v := args[0].(type) {
		case value.String:
			return value.Int(len(v)), nil
		case value.Tuple:
			return value.Int(len(v)), nil
		case value.Record:
			return value.Int(len(v)), nil
		default:
			return nil, fmt.Errorf("%s: len needs a string, tuple, or record, got %s", n.Pos, v.Kind())
		}
	case "abs":
		switch v := args[0].(type) {
		case value.Int:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		case value.Float:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		default:
			return nil, fmt.Errorf("%s: abs needs a number, got %s", n.Pos, v.Kind())
		}
	case "str":
		if s, ok := args[0].(value.String); ok {
			return s, nil
		}
		return value.String(args[0].String()), nil
	case "tag":
		v, ok := args[0].(value.Variant)
		if !ok {
			return nil, fmt.Errorf("%s: tag needs a variant, got %s", n.Pos, args[0].Kind())
		}
		return value.String(v.Tag), nil
	case "min", "max":
		c, err := value.Compare(args[0], args[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Pos, err)
		}
		if (n.Name == "min") == (c <= 0) {
			return args[0], nil
		}
		return args[1], nil
	default:
		return nil, fmt.Errorf("%s: unknown builtin %q", n.Pos, n.Name)
	}
}
