package ast

import (
	"strconv"
	"strings"
)

// Kind identifies the syntactic category of a node.
type Kind int

const (
	KindLiteral Kind = iota
	KindIdent
	KindUnary
	KindBinary
	KindMembership
	KindList
	KindGroup

	// The kinds below are recognized by the parser so the validator can
	// reject them by name. They are never evaluated.
	KindCall
	KindAttribute
	KindIndex
)

var kindNames = map[Kind]string{
	KindLiteral:    "literal",
	KindIdent:      "identifier",
	KindUnary:      "unary",
	KindBinary:     "binary",
	KindMembership: "membership",
	KindList:       "list",
	KindGroup:      "group",
	KindCall:       "call",
	KindAttribute:  "attribute access",
	KindIndex:      "subscript",
}

// String returns the human-readable kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Node is implemented by every expression node.
type Node interface {
	Kind() Kind
	Pos() Pos
	String() string
}

// LiteralType is the type of a literal value.
type LiteralType int

const (
	LiteralNumber LiteralType = iota
	LiteralString
	LiteralBool
)

// Literal is a number, string, or boolean constant.
type Literal struct {
	Type   LiteralType
	Number float64
	Str    string
	Bool   bool
	At     Pos
}

func (n *Literal) Kind() Kind { return KindLiteral }
func (n *Literal) Pos() Pos   { return n.At }

func (n *Literal) String() string {
	switch n.Type {
	case LiteralNumber:
		return strconv.FormatFloat(n.Number, 'g', -1, 64)
	case LiteralString:
		return strconv.Quote(n.Str)
	default:
		if n.Bool {
			return "true"
		}
		return "false"
	}
}

// Ident references a transaction context variable.
type Ident struct {
	Name string
	At   Pos
}

func (n *Ident) Kind() Kind     { return KindIdent }
func (n *Ident) Pos() Pos       { return n.At }
func (n *Ident) String() string { return n.Name }

// Unary is a prefix operator applied to one operand.
type Unary struct {
	Op      Operator
	Operand Node
	At      Pos
}

func (n *Unary) Kind() Kind { return KindUnary }
func (n *Unary) Pos() Pos   { return n.At }

func (n *Unary) String() string {
	if n.Op == OpNot {
		return "(not " + n.Operand.String() + ")"
	}
	return "(" + string(n.Op) + n.Operand.String() + ")"
}

// Binary is an infix logical, comparison or arithmetic operator.
type Binary struct {
	Op    Operator
	Left  Node
	Right Node
	At    Pos
}

func (n *Binary) Kind() Kind { return KindBinary }
func (n *Binary) Pos() Pos   { return n.At }

func (n *Binary) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

// Membership tests whether Element is (or is not) one of the list items.
type Membership struct {
	Element Node
	List    *List
	Negated bool
	At      Pos
}

func (n *Membership) Kind() Kind { return KindMembership }
func (n *Membership) Pos() Pos   { return n.At }

func (n *Membership) String() string {
	op := " in "
	if n.Negated {
		op = " not in "
	}
	return "(" + n.Element.String() + op + n.List.String() + ")"
}

// List is a literal list. It only appears as the right side of a membership test.
type List struct {
	Items []Node
	At    Pos
}

func (n *List) Kind() Kind { return KindList }
func (n *List) Pos() Pos   { return n.At }

func (n *List) String() string {
	parts := make([]string, len(n.Items))
	for i, item := range n.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Group is a parenthesized sub-expression.
type Group struct {
	Inner Node
	At    Pos
}

func (n *Group) Kind() Kind     { return KindGroup }
func (n *Group) Pos() Pos       { return n.At }
func (n *Group) String() string { return n.Inner.String() }

// Call is a call-like construct such as f(x).
type Call struct {
	Callee Node
	Args   []Node
	At     Pos
}

func (n *Call) Kind() Kind { return KindCall }
func (n *Call) Pos() Pos   { return n.At }

func (n *Call) String() string {
	parts := make([]string, len(n.Args))
	for i, arg := range n.Args {
		parts[i] = arg.String()
	}
	return n.Callee.String() + "(" + strings.Join(parts, ", ") + ")"
}

// Attribute is an attribute access such as a.b.
type Attribute struct {
	Target Node
	Name   string
	At     Pos
}

func (n *Attribute) Kind() Kind     { return KindAttribute }
func (n *Attribute) Pos() Pos       { return n.At }
func (n *Attribute) String() string { return n.Target.String() + "." + n.Name }

// Index is a subscript such as a[0].
type Index struct {
	Target Node
	Key    Node
	At     Pos
}

func (n *Index) Kind() Kind     { return KindIndex }
func (n *Index) Pos() Pos       { return n.At }
func (n *Index) String() string { return n.Target.String() + "[" + n.Key.String() + "]" }
