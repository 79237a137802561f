package dsl

import (
	"errors"
	"testing"

	"mercator-hq/rules/pkg/dsl/cache"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
)

func TestEvalBool_RejectsImportBeforeEvaluation(t *testing.T) {
	c := cache.New(16)
	vars, err := NewVars(map[string]any{"amount": 10})
	if err != nil {
		t.Fatalf("NewVars() error = %v", err)
	}

	_, err = EvalBool(c, "__import__('os')", vars)
	var unsafe *dslerrors.UnsafeExpressionError
	if !errors.As(err, &unsafe) {
		t.Fatalf("EvalBool() error = %v, want UnsafeExpressionError", err)
	}
	if unsafe.Construct != "call" {
		t.Errorf("Construct = %q, want call", unsafe.Construct)
	}
}

func TestEval(t *testing.T) {
	c := cache.New(16)
	vars, err := NewVars(map[string]any{"amount": 250.5, "fee": 0.5})
	if err != nil {
		t.Fatalf("NewVars() error = %v", err)
	}
	v, err := Eval(c, "amount - fee", vars)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if n, ok := v.AsNumber(); !ok || n != 250 {
		t.Errorf("Eval() = %v, want 250", v)
	}
}
