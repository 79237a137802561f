package evaluator

import (
	"mercator-hq/rules/pkg/dsl/ast"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
	"mercator-hq/rules/pkg/dsl/parser"
)

// Program is a parsed and validated expression. It is immutable and safe
// for concurrent use.
type Program struct {
	source    string
	root      ast.Node
	variables []string
}

// Compile parses and validates src.
func Compile(src string) (*Program, error) {
	return CompileWith(parser.NewParser(), src)
}

// CompileWith parses src with p and validates the resulting tree.
func CompileWith(p *parser.Parser, src string) (*Program, error) {
	root, err := p.Parse(src)
	if err != nil {
		return nil, err
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	return &Program{source: src, root: root, variables: ast.Identifiers(root)}, nil
}

// Source returns the expression text.
func (p *Program) Source() string { return p.source }

// Root returns the validated tree.
func (p *Program) Root() ast.Node { return p.root }

// Variables returns the distinct identifiers referenced by the expression.
func (p *Program) Variables() []string { return p.variables }

// Eval evaluates the program against vars.
func (p *Program) Eval(vars Vars) (Value, error) {
	return evaluate(p.root, vars)
}

// EvalBool evaluates the program and requires a boolean result.
func (p *Program) EvalBool(vars Vars) (bool, error) {
	v, err := p.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, &dslerrors.TypeMismatchError{Op: "boolean result", Left: v.Type().String()}
	}
	return b, nil
}
