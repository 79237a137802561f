package rules

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"mercator-hq/rules/pkg/dsl/evaluator"
)

func validRouting() *Rule {
	return &Rule{ID: "r", Enabled: true, Definition: &Routing{
		Name:       "n",
		Match:      "amount > 1",
		Methods:    []PaymentMethod{PaymentMethodCard},
		Processors: []string{"p"},
		Priority:   1,
		Weight:     1,
	}}
}

func TestValidate_Valid(t *testing.T) {
	for _, r := range Samples(time.Now()) {
		if err := NewValidator(compilerFunc(evaluator.Compile)).Validate(r); err != nil {
			t.Errorf("Validate(%s) error = %v, want nil", r.ID, err)
		}
	}
}

type compilerFunc func(string) (*evaluator.Program, error)

func (f compilerFunc) Compile(src string) (*evaluator.Program, error) { return f(src) }

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		rule  *Rule
		field string
		code  string
	}{
		{"missing id", func() *Rule { r := validRouting(); r.ID = ""; return r }(), "id", CodeRequiredField},
		{"missing definition", &Rule{ID: "x"}, "definition", CodeMissingDefinition},
		{"nil routing", &Rule{ID: "x", Definition: (*Routing)(nil)}, "definition", CodeMissingDefinition},
		{"nil fraud", &Rule{ID: "x", Definition: (*Fraud)(nil)}, "definition", CodeMissingDefinition},
		{"nil compliance", &Rule{ID: "x", Definition: (*Compliance)(nil)}, "definition", CodeMissingDefinition},
		{"nil business", &Rule{ID: "x", Definition: (*Business)(nil)}, "definition", CodeMissingDefinition},
		{"routing name", func() *Rule { r := validRouting(); r.Routing().Name = " "; return r }(), "routing.name", CodeRequiredField},
		{"priority low", func() *Rule { r := validRouting(); r.Routing().Priority = 0; return r }(), "routing.priority", CodeOutOfRange},
		{"priority high", func() *Rule { r := validRouting(); r.Routing().Priority = 1001; return r }(), "routing.priority", CodeOutOfRange},
		{"weight", func() *Rule { r := validRouting(); r.Routing().Weight = 1.5; return r }(), "routing.weight", CodeOutOfRange},
		{"weight NaN", func() *Rule { r := validRouting(); r.Routing().Weight = math.NaN(); return r }(), "routing.weight", CodeOutOfRange},
		{"no methods", func() *Rule { r := validRouting(); r.Routing().Methods = nil; return r }(), "routing.methods", CodeRequiredField},
		{"bad method", func() *Rule { r := validRouting(); r.Routing().Methods = []PaymentMethod{9}; return r }(), "routing.methods[0]", CodeInvalidValue},
		{"no processors", func() *Rule { r := validRouting(); r.Routing().Processors = nil; return r }(), "routing.processors", CodeRequiredField},
		{"score weight", &Rule{ID: "f", Definition: &Fraud{Name: "n", Expression: "a", ScoreWeight: 60, Threshold: 50, Action: FraudActionBlock}}, "fraud.score_weight", CodeOutOfRange},
		{"threshold", &Rule{ID: "f", Definition: &Fraud{Name: "n", Expression: "a", ScoreWeight: 1, Threshold: 101, Action: FraudActionBlock}}, "fraud.threshold", CodeOutOfRange},
		{"fraud action", &Rule{ID: "f", Definition: &Fraud{Name: "n", Expression: "a", ScoreWeight: 1, Threshold: 1}}, "fraud.action", CodeInvalidValue},
		{"discount", &Rule{ID: "b", Definition: &Business{Name: "n", Condition: "a", Action: "x", Discount: -1}}, "business.discount", CodeOutOfRange},
		{"business action", &Rule{ID: "b", Definition: &Business{Name: "n", Condition: "a"}}, "business.action", CodeRequiredField},
		{"compliance expression", &Rule{ID: "c", Definition: &Compliance{Name: "n"}}, "compliance.expression", CodeRequiredField},
		{"too long", &Rule{ID: "c", Definition: &Compliance{Name: "n", Expression: strings.Repeat("a", 1001)}}, "compliance.expression", CodeExpressionTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field && fe.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want %s/%s", verr.Errors, tt.field, tt.code)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	r := &Rule{Definition: &Routing{Priority: 5000, Weight: -1}}
	err := Validate(r)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v", err)
	}
	// id, name, match, methods, processors, priority, weight
	if len(verr.Errors) != 7 {
		t.Errorf("len(Errors) = %d, want 7: %v", len(verr.Errors), verr.Errors)
	}
}

func TestValidate_CompilesExpressions(t *testing.T) {
	v := NewValidator(compilerFunc(evaluator.Compile))

	r := validRouting()
	r.Routing().Match = "__import__('os')"
	err := v.Validate(r)
	var verr *ValidationError
	if !errors.As(err, &verr) || !verr.HasCode(CodeInvalidExpression) {
		t.Fatalf("Validate() error = %v, want INVALID_EXPRESSION", err)
	}

	// Without a compiler only structure is checked.
	if err := Validate(r); err != nil {
		t.Errorf("Validate() without compiler error = %v, want nil", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &Rule{Definition: &Business{}}
	r.ApplyDefaults(now)

	if r.ID == "" {
		t.Error("ID not generated")
	}
	if r.Version != DefaultVersion || r.CreatedBy != DefaultCreatedBy {
		t.Errorf("Version, CreatedBy = %q, %q", r.Version, r.CreatedBy)
	}
	if !r.CreatedAt.Equal(now) || !r.LastModified.Equal(now) {
		t.Errorf("timestamps = %v, %v, want %v", r.CreatedAt, r.LastModified, now)
	}
}

func TestParseEnums(t *testing.T) {
	for in, want := range map[string]PaymentMethod{
		"card": PaymentMethodCard, "CASH": PaymentMethodCash,
		"Wallet": PaymentMethodWallet, "bank-transfer": PaymentMethodBankTransfer,
	} {
		got, err := ParsePaymentMethod(in)
		if err != nil || got != want {
			t.Errorf("ParsePaymentMethod(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParsePaymentMethod("cheque"); err == nil {
		t.Error("ParsePaymentMethod(cheque) error = nil")
	}
	if a, err := ParseFraudAction("review"); err != nil || a != FraudActionReview {
		t.Errorf("ParseFraudAction(review) = %v, %v", a, err)
	}
	if FraudActionBlock.Severity() <= FraudActionReview.Severity() || FraudActionReview.Severity() <= FraudActionAllow.Severity() {
		t.Error("severity order is not BLOCK > REVIEW > ALLOW")
	}
}

func TestClone_IsDeep(t *testing.T) {
	r := validRouting()
	c := r.Clone()
	c.Routing().Processors[0] = "changed"
	if r.Routing().Processors[0] != "p" {
		t.Error("Clone shares processor slice")
	}
}

func TestNilVariantIsUnset(t *testing.T) {
	r := &Rule{ID: "x", Definition: (*Fraud)(nil)}
	if got := r.Kind(); got != "" {
		t.Errorf("Kind() = %q, want empty", got)
	}
	if got := r.Name(); got != "" {
		t.Errorf("Name() = %q, want empty", got)
	}
	if c := r.Clone(); c.Fraud() != nil {
		t.Errorf("Clone() definition = %#v, want nil", c.Definition)
	}
}
