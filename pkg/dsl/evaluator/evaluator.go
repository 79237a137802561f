// Package evaluator implements the sandboxed interpreter for rule
// expressions.
//
// Trees are checked against a whitelist of node kinds before anything is
// evaluated. The interpreter itself only reads the supplied Vars: it has no
// access to time, randomness, I/O or any host function, so evaluating the
// same tree against the same Vars always yields the same result.
package evaluator

import (
	"mercator-hq/rules/pkg/dsl/ast"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
)

var allowed = map[ast.Kind]bool{
	ast.KindLiteral:    true,
	ast.KindIdent:      true,
	ast.KindUnary:      true,
	ast.KindBinary:     true,
	ast.KindMembership: true,
	ast.KindList:       true,
	ast.KindGroup:      true,
}

// Validate walks the entire tree and rejects any node outside the allowed
// set with *errors.UnsafeExpressionError.
func Validate(node ast.Node) error {
	if node == nil {
		return &dslerrors.UnsafeExpressionError{Construct: "empty tree"}
	}
	return ast.Walk(node, func(n ast.Node) error {
		if !allowed[n.Kind()] {
			return &dslerrors.UnsafeExpressionError{
				Pos:       n.Pos(),
				Construct: n.Kind().String(),
				Detail:    n.String(),
			}
		}
		switch x := n.(type) {
		case *ast.Unary:
			if x.Op != ast.OpNot && x.Op != ast.OpSub {
				return &dslerrors.UnsafeExpressionError{Pos: x.At, Construct: "unary operator " + string(x.Op)}
			}
		case *ast.Binary:
			if !x.Op.IsComparison() && !x.Op.IsArithmetic() && x.Op != ast.OpAnd && x.Op != ast.OpOr {
				return &dslerrors.UnsafeExpressionError{Pos: x.At, Construct: "binary operator " + string(x.Op)}
			}
		}
		return nil
	})
}

// Evaluate validates node and computes its value against vars. A tree that
// fails validation is rejected before any node is evaluated.
func Evaluate(node ast.Node, vars Vars) (Value, error) {
	if err := Validate(node); err != nil {
		return Value{}, err
	}
	return evaluate(node, vars)
}

// evaluate interprets a tree that has already passed Validate.
func evaluate(node ast.Node, vars Vars) (Value, error) {
	e := &evaluation{vars: vars}
	return e.eval(node)
}

type evaluation struct {
	vars Vars
}

func (e *evaluation) eval(node ast.Node) (Value, error) {
	switch n := node.(type) {
	case *ast.Literal:
		switch n.Type {
		case ast.LiteralNumber:
			return Number(n.Number), nil
		case ast.LiteralString:
			return String(n.Str), nil
		default:
			return Bool(n.Bool), nil
		}

	case *ast.Ident:
		v, ok := e.vars.Lookup(n.Name)
		if !ok {
			return Value{}, &dslerrors.UnboundVariableError{
				Name:       n.Name,
				Suggestion: dslerrors.SuggestVariable(n.Name, e.vars.Names()),
			}
		}
		return v, nil

	case *ast.Group:
		return e.eval(n.Inner)

	case *ast.Unary:
		return e.unary(n)

	case *ast.Binary:
		return e.binary(n)

	case *ast.Membership:
		return e.membership(n)

	default:
		// Only reachable when Evaluate is handed an unvalidated tree.
		return Value{}, &dslerrors.UnsafeExpressionError{Pos: node.Pos(), Construct: node.Kind().String()}
	}
}

func (e *evaluation) unary(n *ast.Unary) (Value, error) {
	v, err := e.eval(n.Operand)
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case ast.OpNot:
		return Bool(!v.Truthy()), nil
	case ast.OpSub:
		num, ok := v.AsNumber()
		if !ok {
			return Value{}, &dslerrors.TypeMismatchError{Op: "unary -", Left: v.Type().String()}
		}
		return Number(-num), nil
	}
	return Value{}, &dslerrors.UnsafeExpressionError{Pos: n.At, Construct: "unary operator " + string(n.Op)}
}

func (e *evaluation) binary(n *ast.Binary) (Value, error) {
	left, err := e.eval(n.Left)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case ast.OpAnd:
		if !left.Truthy() {
			return Bool(false), nil
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return Value{}, err
		}
		return Bool(right.Truthy()), nil
	case ast.OpOr:
		if left.Truthy() {
			return Bool(true), nil
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return Value{}, err
		}
		return Bool(right.Truthy()), nil
	}

	right, err := e.eval(n.Right)
	if err != nil {
		return Value{}, err
	}

	switch {
	case n.Op == ast.OpEqual:
		return Bool(Equal(left, right)), nil
	case n.Op == ast.OpNotEqual:
		return Bool(!Equal(left, right)), nil
	case n.Op.IsComparison():
		return compare(n.Op, left, right)
	default:
		return arithmetic(n.Op, left, right)
	}
}

func (e *evaluation) membership(n *ast.Membership) (Value, error) {
	elem, err := e.eval(n.Element)
	if err != nil {
		return Value{}, err
	}
	found := false
	for _, item := range n.List.Items {
		v, err := e.eval(item)
		if err != nil {
			return Value{}, err
		}
		if Equal(elem, v) {
			found = true
			break
		}
	}
	if n.Negated {
		return Bool(!found), nil
	}
	return Bool(found), nil
}
