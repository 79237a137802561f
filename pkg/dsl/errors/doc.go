// Package errors defines the error types produced while compiling and
// evaluating rule expressions.
//
// Compile-time failures:
//
//	*SyntaxError            the text is not a well-formed expression
//	*UnsafeExpressionError  the text parses but uses a construct outside the
//	                        allowed set (calls, attribute access, subscripts)
//
// Evaluation-time failures:
//
//	*UnboundVariableError   an identifier is absent from the transaction context
//	*TypeMismatchError      an operator was applied to incompatible values
//	ErrDivisionByZero       division by a zero divisor
//
// All types work with errors.As / errors.Is:
//
//	var unbound *errors.UnboundVariableError
//	if stderrors.As(err, &unbound) {
//	    log.Printf("missing %s", unbound.Name)
//	}
package errors
