package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleYAML = `
rules:
  - id: route-large
    description: Large card transfers
    routing:
      name: large
      match: "amount > 10000"
      methods: [card, wallet]
      processors: [adyen]
      priority: 3
  - id: block-sanctioned
    enabled: false
    compliance:
      name: sanctions
      expression: "destination_country in ['KP']"
      mandatory: true
      countries: [US]
  - id: velocity
    fraud:
      name: velocity
      expression: "velocity_1h > 5"
      score_weight: 4
      threshold: 10
      action: review
`

func TestParseDocument(t *testing.T) {
	rs, err := ParseDocument([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if len(rs) != 3 {
		t.Fatalf("len(rules) = %d, want 3", len(rs))
	}

	wantRouting := &Routing{
		Name:       "large",
		Match:      "amount > 10000",
		Methods:    []PaymentMethod{PaymentMethodCard, PaymentMethodWallet},
		Processors: []string{"adyen"},
		Priority:   3,
		Weight:     DefaultWeight,
	}
	if diff := cmp.Diff(wantRouting, rs[0].Definition); diff != "" {
		t.Errorf("routing mismatch (-want +got):\n%s", diff)
	}
	if !rs[0].Enabled {
		t.Error("rules[0].Enabled = false, want default true")
	}
	if rs[1].Enabled {
		t.Error("rules[1].Enabled = true, want false")
	}
	if got := rs[2].Fraud().Action; got != FraudActionReview {
		t.Errorf("fraud action = %v, want REVIEW", got)
	}
}

func TestParseDocument_DefinitionErrors(t *testing.T) {
	tests := map[string]struct {
		doc  string
		code string
	}{
		"missing": {"rules:\n  - id: a\n", CodeMissingDefinition},
		"multiple": {"rules:\n  - id: a\n    fraud: {name: x}\n    business: {name: y}\n", CodeMultipleDefinitions},
		"bad method": {"rules:\n  - id: a\n    routing: {name: x, methods: [cheque]}\n", CodeInvalidValue},
		"bad action": {"rules:\n  - id: a\n    fraud: {name: x, action: explode}\n", CodeInvalidValue},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.doc))
			var verr *ValidationError
			if !errors.As(err, &verr) || !verr.HasCode(tt.code) {
				t.Errorf("ParseDocument() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestEncodeYAML_RoundTrip(t *testing.T) {
	want := Samples(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	data, err := EncodeYAML(want)
	if err != nil {
		t.Fatalf("EncodeYAML() error = %v", err)
	}
	got, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	body := `{"rules":[{"id":"b1","business":{"name":"gold","condition":"tier == 'gold'","action":"discount","discount":10}}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	rs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(rs) != 1 || rs[0].Business().Discount != 10 {
		t.Errorf("LoadFile() = %+v", rs)
	}
}
