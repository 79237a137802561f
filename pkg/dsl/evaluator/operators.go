package evaluator

import (
	"mercator-hq/rules/pkg/dsl/ast"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
)

// compare evaluates an ordering operator. Numbers compare numerically
// (strings that look like numbers are coerced when the other side is a
// number); two strings compare lexicographically.
func compare(op ast.Operator, left, right Value) (Value, error) {
	if left.typ == TypeString && right.typ == TypeString {
		return Bool(orderStrings(op, left.s, right.s)), nil
	}
	if left.typ != TypeBool && right.typ != TypeBool {
		ln, lok := left.numeric()
		rn, rok := right.numeric()
		if lok && rok {
			return Bool(orderNumbers(op, ln, rn)), nil
		}
	}
	return Value{}, &dslerrors.TypeMismatchError{
		Op:    string(op),
		Left:  left.Type().String(),
		Right: right.Type().String(),
	}
}

func orderNumbers(op ast.Operator, a, b float64) bool {
	switch op {
	case ast.OpLessThan:
		return a < b
	case ast.OpLessEqual:
		return a <= b
	case ast.OpGreaterThan:
		return a > b
	default:
		return a >= b
	}
}

func orderStrings(op ast.Operator, a, b string) bool {
	switch op {
	case ast.OpLessThan:
		return a < b
	case ast.OpLessEqual:
		return a <= b
	case ast.OpGreaterThan:
		return a > b
	default:
		return a >= b
	}
}

// arithmetic evaluates + - * /. Only numbers are accepted, except that
// string + string concatenates.
func arithmetic(op ast.Operator, left, right Value) (Value, error) {
	if op == ast.OpAdd && left.typ == TypeString && right.typ == TypeString {
		return String(left.s + right.s), nil
	}
	if left.typ != TypeNumber || right.typ != TypeNumber {
		return Value{}, &dslerrors.TypeMismatchError{
			Op:    string(op),
			Left:  left.Type().String(),
			Right: right.Type().String(),
		}
	}

	switch op {
	case ast.OpAdd:
		return Number(left.n + right.n), nil
	case ast.OpSub:
		return Number(left.n - right.n), nil
	case ast.OpMul:
		return Number(left.n * right.n), nil
	case ast.OpDiv:
		if right.n == 0 {
			return Value{}, dslerrors.ErrDivisionByZero
		}
		return Number(left.n / right.n), nil
	}
	return Value{}, &dslerrors.UnsafeExpressionError{Construct: "binary operator " + string(op)}
}
