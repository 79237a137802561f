package ast

import "fmt"

// Pos is a 0-based byte offset into the expression source.
type Pos int

// String returns a human-readable representation of the position.
// Format: "offset N"
func (p Pos) String() string {
	return fmt.Sprintf("offset %d", int(p))
}

// Visitor is called for each node during Walk. Returning a non-nil
// error stops the traversal.
type Visitor func(Node) error

// Walk traverses the tree depth-first, parents before children, and
// returns the first error reported by the visitor.
func Walk(node Node, visit Visitor) error {
	if node == nil {
		return nil
	}
	if err := visit(node); err != nil {
		return err
	}

	for _, child := range Children(node) {
		if err := Walk(child, visit); err != nil {
			return err
		}
	}
	return nil
}

// Children returns the direct children of a node.
func Children(node Node) []Node {
	switch n := node.(type) {
	case *Unary:
		return []Node{n.Operand}
	case *Binary:
		return []Node{n.Left, n.Right}
	case *Membership:
		return []Node{n.Element, n.List}
	case *List:
		return n.Items
	case *Group:
		return []Node{n.Inner}
	case *Call:
		return append([]Node{n.Callee}, n.Args...)
	case *Attribute:
		return []Node{n.Target}
	case *Index:
		return []Node{n.Target, n.Key}
	default:
		return nil
	}
}

// Identifiers returns the distinct variable names referenced by the tree,
// in order of first appearance.
func Identifiers(node Node) []string {
	seen := make(map[string]bool)
	var names []string
	_ = Walk(node, func(n Node) error {
		if id, ok := n.(*Ident); ok && !seen[id.Name] {
			seen[id.Name] = true
			names = append(names, id.Name)
		}
		return nil
	})
	return names
}
