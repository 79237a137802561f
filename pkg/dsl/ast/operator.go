package ast

// Operator is a unary or binary operator in the rule expression language.
type Operator string

const (
	OpAnd Operator = "and"
	OpOr  Operator = "or"
	OpNot Operator = "not"

	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLessThan     Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreaterThan  Operator = ">"
	OpGreaterEqual Operator = ">="

	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
)

// IsComparison reports whether the operator compares two operands.
func (o Operator) IsComparison() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLessThan, OpLessEqual, OpGreaterThan, OpGreaterEqual:
		return true
	}
	return false
}

// IsArithmetic reports whether the operator is an arithmetic operator.
func (o Operator) IsArithmetic() bool {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv:
		return true
	}
	return false
}

// IsLogical reports whether the operator is and/or/not.
func (o Operator) IsLogical() bool {
	return o == OpAnd || o == OpOr || o == OpNot
}
