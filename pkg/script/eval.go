// Package script's evaluator walks a parsed AST against a blackboard and an
// extra set of bound variables (e.g. "status" for postcondition scripts).
package script

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/bterr"
)

// Env is the evaluation environment: extra bound variables shadow
// blackboard keys of the same name, then fall through to the blackboard
// itself.
type Env struct {
	Blackboard *blackboard.Blackboard
	Vars       map[string]bbvalue.Value
}

// Eval parses and evaluates src against env, returning the value of the
// last expression. Any parse or evaluation failure surfaces as a
// *bterr.Error of kind ScriptError.
func Eval(src string, env *Env) (bbvalue.Value, error) {
	node, err := Parse(src)
	if err != nil {
		return bbvalue.Value{}, bterr.Wrap(bterr.ScriptError, err, "failed to parse script %q", src)
	}
	v, err := evalNode(node, env)
	if err != nil {
		return bbvalue.Value{}, bterr.Wrap(bterr.ScriptError, err, "failed to evaluate script %q", src)
	}
	return v, nil
}

func evalNode(n Node, env *Env) (bbvalue.Value, error) {
	switch node := n.(type) {
	case NumberLit:
		return evalNumber(node)
	case StringLit:
		return bbvalue.Str(node.Value), nil
	case Ident:
		return lookup(node.Name, env)
	case Unary:
		return evalUnary(node, env)
	case Binary:
		return evalBinary(node, env)
	case Ternary:
		return evalTernary(node, env)
	case Assign:
		return evalAssign(node, env)
	case Sequence:
		var last bbvalue.Value
		for _, e := range node.Exprs {
			v, err := evalNode(e, env)
			if err != nil {
				return bbvalue.Value{}, err
			}
			last = v
		}
		return last, nil
	}
	return bbvalue.Value{}, fmt.Errorf("script: unhandled node type %T", n)
}

func evalNumber(n NumberLit) (bbvalue.Value, error) {
	if n.IsInt {
		i, err := strconv.ParseInt(n.Text, 10, 64)
		if err != nil {
			return bbvalue.Value{}, fmt.Errorf("invalid integer literal %q: %w", n.Text, err)
		}
		return bbvalue.I64(i), nil
	}
	f, err := strconv.ParseFloat(n.Text, 64)
	if err != nil {
		return bbvalue.Value{}, fmt.Errorf("invalid float literal %q: %w", n.Text, err)
	}
	return bbvalue.F64(f), nil
}

func lookup(name string, env *Env) (bbvalue.Value, error) {
	if v, ok := env.Vars[name]; ok {
		return v, nil
	}
	return env.Blackboard.GetTyped(name, "")
}

func evalUnary(n Unary, env *Env) (bbvalue.Value, error) {
	v, err := evalNode(n.Expr, env)
	if err != nil {
		return bbvalue.Value{}, err
	}
	switch n.Op {
	case TokMinus:
		f, ok := v.AsFloat64()
		if !ok {
			return bbvalue.Value{}, fmt.Errorf("unary '-' requires a numeric operand")
		}
		if v.Kind == bbvalue.KindF32 || v.Kind == bbvalue.KindF64 {
			return bbvalue.F64(-f), nil
		}
		return bbvalue.I64(-int64(f)), nil
	case TokNot:
		return bbvalue.Bool(!v.Truthy()), nil
	}
	return bbvalue.Value{}, fmt.Errorf("unsupported unary operator")
}

func evalBinary(n Binary, env *Env) (bbvalue.Value, error) {
	// && and || short-circuit on truthiness.
	if n.Op == TokAndAnd {
		left, err := evalNode(n.Left, env)
		if err != nil {
			return bbvalue.Value{}, err
		}
		if !left.Truthy() {
			return bbvalue.Bool(false), nil
		}
		right, err := evalNode(n.Right, env)
		if err != nil {
			return bbvalue.Value{}, err
		}
		return bbvalue.Bool(right.Truthy()), nil
	}
	if n.Op == TokOrOr {
		left, err := evalNode(n.Left, env)
		if err != nil {
			return bbvalue.Value{}, err
		}
		if left.Truthy() {
			return bbvalue.Bool(true), nil
		}
		right, err := evalNode(n.Right, env)
		if err != nil {
			return bbvalue.Value{}, err
		}
		return bbvalue.Bool(right.Truthy()), nil
	}

	left, err := evalNode(n.Left, env)
	if err != nil {
		return bbvalue.Value{}, err
	}
	right, err := evalNode(n.Right, env)
	if err != nil {
		return bbvalue.Value{}, err
	}

	switch n.Op {
	case TokPlus, TokMinus, TokStar, TokSlash, TokPercent:
		return arith(n.Op, left, right)
	case TokEq, TokNe, TokLt, TokLe, TokGt, TokGe:
		return compare(n.Op, left, right)
	}
	return bbvalue.Value{}, fmt.Errorf("unsupported binary operator")
}

// arith promotes arithmetic to the widest numeric: both
// operands must be numeric (string '+' concatenation is not part of this
// grammar), promoted to float64 and returned as F64 unless both inputs were
// integral, in which case the result stays I64. '/' always returns F64.
func arith(op TokenKind, left, right bbvalue.Value) (bbvalue.Value, error) {
	lf, lok := left.AsFloat64()
	rf, rok := right.AsFloat64()
	if !lok || !rok {
		return bbvalue.Value{}, fmt.Errorf("arithmetic requires numeric operands")
	}

	bothInt := isIntegral(left) && isIntegral(right)

	var result float64
	switch op {
	case TokPlus:
		result = lf + rf
	case TokMinus:
		result = lf - rf
	case TokStar:
		result = lf * rf
	case TokSlash:
		if rf == 0 {
			return bbvalue.Value{}, fmt.Errorf("division by zero")
		}
		result = lf / rf
	case TokPercent:
		if rf == 0 {
			return bbvalue.Value{}, fmt.Errorf("division by zero")
		}
		if bothInt {
			li, _ := left.AsInt64()
			ri, _ := right.AsInt64()
			return bbvalue.I64(li % ri), nil
		}
		result = float64(int64(lf) % int64(rf))
	}

	if bothInt && op != TokSlash {
		return bbvalue.I64(int64(result)), nil
	}
	return bbvalue.F64(result), nil
}

func isIntegral(v bbvalue.Value) bool {
	switch v.Kind {
	case bbvalue.KindI8, bbvalue.KindI16, bbvalue.KindI32, bbvalue.KindI64,
		bbvalue.KindU8, bbvalue.KindU16, bbvalue.KindU32, bbvalue.KindU64:
		return true
	}
	return false
}

// compare coerces numbers when both sides are numeric, else string-compares.
func compare(op TokenKind, left, right bbvalue.Value) (bbvalue.Value, error) {
	if left.IsNumeric() && right.IsNumeric() {
		lf, _ := left.AsFloat64()
		rf, _ := right.AsFloat64()
		return bbvalue.Bool(numCompare(op, lf, rf)), nil
	}

	ls, lok := left.AsString()
	rs, rok := right.AsString()
	if lok && rok {
		return bbvalue.Bool(strCompare(op, ls, rs)), nil
	}

	// Fall back to formatted string comparison for mixed/opaque types, so
	// "==" and "!=" still work across a registered named type and a
	// string literal.
	return bbvalue.Bool(strCompare(op, fmt.Sprint(left.Raw), fmt.Sprint(right.Raw))), nil
}

func numCompare(op TokenKind, l, r float64) bool {
	switch op {
	case TokEq:
		return l == r
	case TokNe:
		return l != r
	case TokLt:
		return l < r
	case TokLe:
		return l <= r
	case TokGt:
		return l > r
	case TokGe:
		return l >= r
	}
	return false
}

func strCompare(op TokenKind, l, r string) bool {
	switch op {
	case TokEq:
		return l == r
	case TokNe:
		return l != r
	case TokLt:
		return strings.Compare(l, r) < 0
	case TokLe:
		return strings.Compare(l, r) <= 0
	case TokGt:
		return strings.Compare(l, r) > 0
	case TokGe:
		return strings.Compare(l, r) >= 0
	}
	return false
}

func evalTernary(n Ternary, env *Env) (bbvalue.Value, error) {
	cond, err := evalNode(n.Cond, env)
	if err != nil {
		return bbvalue.Value{}, err
	}
	if cond.Truthy() {
		return evalNode(n.Then, env)
	}
	return evalNode(n.Else, env)
}

func evalAssign(n Assign, env *Env) (bbvalue.Value, error) {
	rhs, err := evalNode(n.Expr, env)
	if err != nil {
		return bbvalue.Value{}, err
	}

	result := rhs
	if n.Op != TokAssign {
		current, err := lookup(n.Name, env)
		if err != nil {
			return bbvalue.Value{}, err
		}
		var binOp TokenKind
		switch n.Op {
		case TokPlusAssign:
			binOp = TokPlus
		case TokMinusAssign:
			binOp = TokMinus
		case TokStarAssign:
			binOp = TokStar
		case TokSlashAssign:
			binOp = TokSlash
		case TokPercentAssign:
			binOp = TokPercent
		}
		result, err = arith(binOp, current, rhs)
		if err != nil {
			return bbvalue.Value{}, err
		}
	}

	// Bound variables (like "status") are not blackboard-backed; assigning
	// to one just rebinds it in the environment for the rest of this
	// script's evaluation.
	if _, isVar := env.Vars[n.Name]; isVar {
		env.Vars[n.Name] = result
		return result, nil
	}

	if err := env.Blackboard.SetTyped(n.Name, result, nil); err != nil {
		return bbvalue.Value{}, err
	}
	return result, nil
}
