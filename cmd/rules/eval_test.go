package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/rules"
)

var sampleTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestEvaluate_Routing(t *testing.T) {
	tests := []struct {
		name        string
		txn         map[string]any
		wantPrimary string
		wantRule    string
	}{
		{"premium card", map[string]any{"amount": 12000, "method": "card"}, "adyen", "routing-card-premium"},
		{"small card", map[string]any{"amount": 50, "method": "card"}, "stripe", "routing-card-default"},
		{"bank transfer", map[string]any{"amount": 50, "method": "bank_transfer", "currency": "USD"}, "ach-gateway", "routing-bank"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := evaluate(context.Background(), config.Default(), rules.Samples(sampleTime), tt.txn, []string{"routing"})
			if err != nil {
				t.Fatalf("evaluate() error = %v", err)
			}
			if resp.Routing == nil || resp.Routing.Primary != tt.wantPrimary {
				t.Fatalf("routing = %+v, want primary %s", resp.Routing, tt.wantPrimary)
			}
			if resp.Routing.RuleIDs[0] != tt.wantRule {
				t.Errorf("matched %v, want %s first", resp.Routing.RuleIDs, tt.wantRule)
			}
			if resp.Fraud != nil || resp.Business != nil {
				t.Error("unrequested kinds were evaluated")
			}
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	samples := rules.Samples(sampleTime)
	if _, err := evaluate(context.Background(), config.Default(), samples, map[string]any{}, []string{"shipping"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := evaluate(context.Background(), config.Default(), samples, map[string]any{"nested": map[string]any{}}, nil); err == nil {
		t.Error("expected error for nested transaction value")
	}
}

func TestDecisionOutputText(t *testing.T) {
	txn := map[string]any{"amount": 20000, "method": "card", "customer_tier": "gold", "destination_country": "DE"}
	resp, err := evaluate(context.Background(), config.Default(), rules.Samples(sampleTime), txn, []string{"routing", "business"})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}

	var buf bytes.Buffer
	if err := (decisionOutput{*resp}).WriteText(&buf); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}
	for _, want := range []string{
		"routing-card-premium",
		"match -> route:adyen",
		`routing:    primary="adyen"`,
		"business:   discount=15",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestReadTransaction(t *testing.T) {
	defer func() { evalFlags.txn, evalFlags.txnFile = "", "" }()

	evalFlags.txn = `{"amount": 10}`
	txn, err := readTransaction(nil)
	if err != nil || txn["amount"] != 10.0 {
		t.Fatalf("readTransaction() = %v, %v", txn, err)
	}

	evalFlags.txn, evalFlags.txnFile = "", "-"
	txn, err = readTransaction(strings.NewReader(`{"method": "card"}`))
	if err != nil || txn["method"] != "card" {
		t.Fatalf("readTransaction(stdin) = %v, %v", txn, err)
	}

	evalFlags.txn, evalFlags.txnFile = "[1, 2]", ""
	if _, err := readTransaction(nil); err == nil {
		t.Error("expected error for non-object transaction")
	}
}
