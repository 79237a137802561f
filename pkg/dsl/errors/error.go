package errors

import (
	"errors"
	"fmt"

	"mercator-hq/rules/pkg/dsl/ast"
)

// ErrDivisionByZero is returned when the right operand of "/" is zero.
var ErrDivisionByZero = errors.New("division by zero")

// SyntaxError reports malformed expression text.
type SyntaxError struct {
	Pos     ast.Pos // byte offset of the offending token
	Token   string  // offending token text, empty at end of input
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Message)
	}
	return fmt.Sprintf("syntax error at %s near %q: %s", e.Pos, e.Token, e.Message)
}

// UnsafeExpressionError reports a construct outside the allowed node set.
// It is raised before any evaluation takes place.
type UnsafeExpressionError struct {
	Pos       ast.Pos
	Construct string // e.g. "call", "attribute access"
	Detail    string // source rendering of the rejected node
}

func (e *UnsafeExpressionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unsafe expression at %s: %s %q is not allowed", e.Pos, e.Construct, e.Detail)
	}
	return fmt.Sprintf("unsafe expression at %s: %s is not allowed", e.Pos, e.Construct)
}

// UnboundVariableError reports an identifier missing from the context.
type UnboundVariableError struct {
	Name       string
	Suggestion string
}

func (e *UnboundVariableError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unbound variable %q (%s)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unbound variable %q", e.Name)
}

// TypeMismatchError reports an operator applied to values of the wrong type.
type TypeMismatchError struct {
	Op    string
	Left  string
	Right string // empty for unary operators and result checks
}

func (e *TypeMismatchError) Error() string {
	if e.Right == "" {
		return fmt.Sprintf("type mismatch: %s not applicable to %s", e.Op, e.Left)
	}
	return fmt.Sprintf("type mismatch: %s not applicable to %s and %s", e.Op, e.Left, e.Right)
}

// IsCompileError reports whether err is a parse or whitelist failure.
// Such failures are terminal for a given source text.
func IsCompileError(err error) bool {
	var syn *SyntaxError
	var unsafe *UnsafeExpressionError
	return errors.As(err, &syn) || errors.As(err, &unsafe)
}
