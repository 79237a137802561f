package rules

import (
	"fmt"
	"math"
	"strings"

	"mercator-hq/rules/pkg/dsl/evaluator"
)

// DefaultMaxExpressionLength bounds the size of rule expressions.
const DefaultMaxExpressionLength = 1000

// Validation error codes.
const (
	CodeRequiredField       = "REQUIRED_FIELD"
	CodeOutOfRange          = "OUT_OF_RANGE"
	CodeInvalidValue        = "INVALID_VALUE"
	CodeInvalidExpression   = "INVALID_EXPRESSION"
	CodeExpressionTooLong   = "EXPRESSION_TOO_LONG"
	CodeMultipleDefinitions = "MULTIPLE_DEFINITIONS"
	CodeMissingDefinition   = "MISSING_DEFINITION"
)

// FieldError describes one invalid field of a rule.
type FieldError struct {
	// Field is the dotted path of the field (e.g. "fraud.threshold").
	Field string

	// Message is a human-readable description.
	Message string

	// Code is one of the Code* constants.
	Code string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError lists every invalid field of a rule.
type ValidationError struct {
	// RuleID is the id of the offending rule, if known.
	RuleID string

	Errors []FieldError
}

func (e *ValidationError) Error() string {
	prefix := "rule validation failed"
	if e.RuleID != "" {
		prefix = fmt.Sprintf("rule %q validation failed", e.RuleID)
	}
	switch len(e.Errors) {
	case 0:
		return prefix
	case 1:
		return fmt.Sprintf("%s: %s", prefix, e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s with %d errors:\n", prefix, len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasCode reports whether any field error carries code.
func (e *ValidationError) HasCode(code string) bool {
	for _, fe := range e.Errors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// Compiler compiles expression text. *cache.Cache satisfies it.
type Compiler interface {
	Compile(src string) (*evaluator.Program, error)
}

// Validator checks rules before they are admitted to the registry.
type Validator struct {
	// MaxExpressionLength rejects longer expressions; 0 disables the check.
	MaxExpressionLength int

	// Compiler, when set, is used to reject expressions that do not compile.
	Compiler Compiler
}

// NewValidator returns a validator with the default length limit that
// compiles expressions through c. c may be nil.
func NewValidator(c Compiler) *Validator {
	return &Validator{MaxExpressionLength: DefaultMaxExpressionLength, Compiler: c}
}

// Validate checks r without compiling expressions.
func Validate(r *Rule) error {
	return (&Validator{MaxExpressionLength: DefaultMaxExpressionLength}).Validate(r)
}

// Validate returns a *ValidationError listing every invalid field, or nil.
func (v *Validator) Validate(r *Rule) error {
	if r == nil {
		return &ValidationError{Errors: []FieldError{{Field: "rule", Message: "is required", Code: CodeRequiredField}}}
	}

	var errs []FieldError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if strings.TrimSpace(r.ID) == "" {
		add("id", CodeRequiredField, "is required")
	}

	if !definitionSet(r.Definition) {
		add("definition", CodeMissingDefinition, "exactly one of routing, fraud, compliance or business is required")
	}
	switch d := r.Definition.(type) {
	case *Routing:
		if d != nil {
			v.validateRouting(d, add)
		}
	case *Fraud:
		if d != nil {
			v.validateFraud(d, add)
		}
	case *Compliance:
		if d != nil {
			v.validateCompliance(d, add)
		}
	case *Business:
		if d != nil {
			v.validateBusiness(d, add)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{RuleID: r.ID, Errors: errs}
	}
	return nil
}

type addFunc func(field, code, format string, args ...any)

func (v *Validator) validateRouting(d *Routing, add addFunc) {
	requireName("routing", d.Name, add)
	v.validateExpression("routing.match", d.Match, add)

	if len(d.Methods) == 0 {
		add("routing.methods", CodeRequiredField, "at least one payment method is required")
	}
	for i, m := range d.Methods {
		if !m.Valid() {
			add(fmt.Sprintf("routing.methods[%d]", i), CodeInvalidValue, "unknown payment method %s", m)
		}
	}

	if len(d.Processors) == 0 {
		add("routing.processors", CodeRequiredField, "at least one processor is required")
	}
	for i, p := range d.Processors {
		if strings.TrimSpace(p) == "" {
			add(fmt.Sprintf("routing.processors[%d]", i), CodeRequiredField, "processor name is empty")
		}
	}

	if d.Priority < 1 || d.Priority > 1000 {
		add("routing.priority", CodeOutOfRange, "must be between 1 and 1000, got %d", d.Priority)
	}
	checkRange("routing.weight", d.Weight, 0, 1, add)
}

func (v *Validator) validateFraud(d *Fraud, add addFunc) {
	requireName("fraud", d.Name, add)
	v.validateExpression("fraud.expression", d.Expression, add)
	checkRange("fraud.score_weight", d.ScoreWeight, 0, 10, add)
	checkRange("fraud.threshold", d.Threshold, 0, 100, add)
	if !d.Action.Valid() {
		add("fraud.action", CodeInvalidValue, "must be one of BLOCK, REVIEW, ALLOW")
	}
}

func (v *Validator) validateCompliance(d *Compliance, add addFunc) {
	requireName("compliance", d.Name, add)
	v.validateExpression("compliance.expression", d.Expression, add)
	for i, c := range d.Countries {
		if strings.TrimSpace(c) == "" {
			add(fmt.Sprintf("compliance.countries[%d]", i), CodeRequiredField, "country code is empty")
		}
	}
}

func (v *Validator) validateBusiness(d *Business, add addFunc) {
	requireName("business", d.Name, add)
	v.validateExpression("business.condition", d.Condition, add)
	if strings.TrimSpace(d.Action) == "" {
		add("business.action", CodeRequiredField, "is required")
	}
	checkRange("business.discount", d.Discount, 0, 100, add)
}

func (v *Validator) validateExpression(field, src string, add addFunc) {
	if strings.TrimSpace(src) == "" {
		add(field, CodeRequiredField, "is required")
		return
	}
	if v.MaxExpressionLength > 0 && len(src) > v.MaxExpressionLength {
		add(field, CodeExpressionTooLong, "is %d bytes, limit is %d", len(src), v.MaxExpressionLength)
		return
	}
	if v.Compiler != nil {
		if _, err := v.Compiler.Compile(src); err != nil {
			add(field, CodeInvalidExpression, "%v", err)
		}
	}
}

func requireName(prefix, name string, add addFunc) {
	if strings.TrimSpace(name) == "" {
		add(prefix+".name", CodeRequiredField, "is required")
	}
}

func checkRange(field string, v, lo, hi float64, add addFunc) {
	if math.IsNaN(v) || v < lo || v > hi {
		add(field, CodeOutOfRange, "must be between %g and %g, got %g", lo, hi, v)
	}
}
