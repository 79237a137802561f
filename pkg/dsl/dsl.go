// Package dsl is the entry point to the rule expression language.
//
// Expressions are small boolean/arithmetic formulas over transaction
// context variables:
//
//	amount > 10000 and destination_country in ['KP', 'IR']
//	velocity_1h * 2 + risk_score >= 80
//	not verified or method == 'cash'
//
// Compilation parses the text and checks every node against a whitelist.
// Calls, attribute access and subscripts are rejected before evaluation,
// so untrusted operators can author rules without reaching host code.
package dsl

import (
	"mercator-hq/rules/pkg/dsl/cache"
	"mercator-hq/rules/pkg/dsl/evaluator"
)

// Program is a compiled expression.
type Program = evaluator.Program

// Vars is an immutable transaction context.
type Vars = evaluator.Vars

// Value is an evaluation result.
type Value = evaluator.Value

// Compile parses and validates src without caching.
func Compile(src string) (*Program, error) {
	return evaluator.Compile(src)
}

// Eval compiles src through c and evaluates it against vars.
func Eval(c *cache.Cache, src string, vars Vars) (Value, error) {
	prog, err := c.Compile(src)
	if err != nil {
		return Value{}, err
	}
	return prog.Eval(vars)
}

// EvalBool compiles src through c and evaluates it to a boolean.
func EvalBool(c *cache.Cache, src string, vars Vars) (bool, error) {
	prog, err := c.Compile(src)
	if err != nil {
		return false, err
	}
	return prog.EvalBool(vars)
}

// NewVars converts a transaction context map into Vars.
func NewVars(ctx map[string]any) (Vars, error) {
	return evaluator.NewVars(ctx)
}
