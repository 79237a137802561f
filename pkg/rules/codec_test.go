package rules

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

var fixedTime = time.Date(2024, 3, 14, 15, 9, 26, 535897932, time.UTC)

func variantRules() map[string]*Rule {
	base := func(id string, def Definition) *Rule {
		return &Rule{
			ID:           id,
			Enabled:      true,
			Description:  "test " + id,
			Version:      "2.1.0",
			CreatedBy:    "ops",
			CreatedAt:    fixedTime,
			LastModified: fixedTime.Add(time.Hour),
			Definition:   def,
		}
	}
	return map[string]*Rule{
		"routing": base("r1", &Routing{
			Name:       "card-eu",
			Match:      "amount > 100 and country in ['DE', 'FR']",
			Methods:    []PaymentMethod{PaymentMethodCard, PaymentMethodWallet},
			Processors: []string{"adyen", "checkout"},
			Priority:   7,
			Weight:     0.25,
		}),
		"fraud": base("f1", &Fraud{
			Name:        "velocity",
			Expression:  "velocity_1h > 5",
			ScoreWeight: 4.5,
			Threshold:   30,
			Action:      FraudActionReview,
		}),
		"compliance": base("c1", &Compliance{
			Name:       "sanctions",
			Expression: "destination_country in ['KP']",
			Mandatory:  true,
			Regulation: "OFAC",
			Countries:  []string{"US", "GB"},
		}),
		"business": base("b1", &Business{
			Name:      "gold",
			Condition: "tier == 'gold'",
			Action:    "discount",
			Discount:  12.5,
			Tags:      []string{"loyalty", "vip"},
		}),
		"disabled minimal": {ID: "m1", Definition: &Business{}},
	}
}

func TestMarshal_RoundTripPerVariant(t *testing.T) {
	for name, rule := range variantRules() {
		t.Run(name, func(t *testing.T) {
			b, err := Marshal(rule)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			got, err := Unmarshal(b)
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if diff := cmp.Diff(rule, got); diff != "" {
				t.Errorf("Unmarshal(Marshal(r)) mismatch (-want +got):\n%s", diff)
			}

			again, err := Marshal(got)
			if err != nil {
				t.Fatalf("Marshal() second pass error = %v", err)
			}
			if !bytes.Equal(b, again) {
				t.Errorf("Marshal(Unmarshal(b)) != b\n got  %x\n want %x", again, b)
			}
		})
	}
}

func TestMarshal_WireLayout(t *testing.T) {
	rule := &Rule{
		ID:      "x",
		Enabled: true,
		Definition: &Fraud{
			Name:        "n",
			ScoreWeight: 2,
			Action:      FraudActionBlock,
		},
	}

	var fraud []byte
	fraud = protowire.AppendTag(fraud, 1, protowire.BytesType)
	fraud = protowire.AppendString(fraud, "n")
	fraud = protowire.AppendTag(fraud, 3, protowire.Fixed64Type)
	fraud = protowire.AppendFixed64(fraud, math.Float64bits(2))
	fraud = protowire.AppendTag(fraud, 5, protowire.VarintType)
	fraud = protowire.AppendVarint(fraud, 1)

	var want []byte
	want = protowire.AppendTag(want, 1, protowire.BytesType)
	want = protowire.AppendString(want, "x")
	want = protowire.AppendTag(want, 3, protowire.VarintType)
	want = protowire.AppendVarint(want, 1)
	want = protowire.AppendTag(want, 11, protowire.BytesType)
	want = protowire.AppendBytes(want, fraud)

	got, err := Marshal(rule)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal() = %x, want %x", got, want)
	}
}

func TestUnmarshal_CanonicalBytesRoundTrip(t *testing.T) {
	// routing with packed methods, two processors and a negative priority
	var routing []byte
	routing = protowire.AppendTag(routing, 1, protowire.BytesType)
	routing = protowire.AppendString(routing, "r")
	routing = protowire.AppendTag(routing, 3, protowire.BytesType)
	routing = protowire.AppendBytes(routing, []byte{1, 4})
	routing = protowire.AppendTag(routing, 4, protowire.BytesType)
	routing = protowire.AppendString(routing, "p1")
	routing = protowire.AppendTag(routing, 4, protowire.BytesType)
	routing = protowire.AppendString(routing, "")
	routing = protowire.AppendTag(routing, 5, protowire.VarintType)
	negPriority := int64(-3)
	routing = protowire.AppendVarint(routing, uint64(negPriority))

	var ts []byte
	ts = protowire.AppendTag(ts, 1, protowire.VarintType)
	ts = protowire.AppendVarint(ts, 1700000000)

	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendString(msg, "id")
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	msg = protowire.AppendBytes(msg, ts)
	msg = protowire.AppendTag(msg, 10, protowire.BytesType)
	msg = protowire.AppendBytes(msg, routing)

	r, err := Unmarshal(msg)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	d := r.Routing()
	if d == nil || d.Priority != -3 || len(d.Methods) != 2 || d.Methods[1] != PaymentMethodBankTransfer {
		t.Fatalf("Unmarshal() routing = %+v", d)
	}
	if !r.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CreatedAt = %v", r.CreatedAt)
	}

	out, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Errorf("Marshal(Unmarshal(b)) = %x, want %x", out, msg)
	}
}

func timestampRule(seconds int64, nanos int32) []byte {
	var ts []byte
	ts = protowire.AppendTag(ts, 1, protowire.VarintType)
	ts = protowire.AppendVarint(ts, uint64(seconds))
	if nanos != 0 {
		ts = protowire.AppendTag(ts, 2, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(int64(nanos)))
	}
	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendString(msg, "id")
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	return protowire.AppendBytes(msg, ts)
}

func TestUnmarshal_TimestampRange(t *testing.T) {
	tests := []struct {
		name    string
		seconds int64
		nanos   int32
		wantErr bool
	}{
		{"epoch", 1700000000, 0, false},
		{"before epoch", -86400, 5, false},
		{"first nanosecond of year one", minTimestampSeconds, 1, false},
		{"last instant of year 9999", maxTimestampSeconds, maxTimestampNanos, false},
		{"year one midnight", minTimestampSeconds, 0, true},
		{"before year one", minTimestampSeconds - 1, 0, true},
		{"after year 9999", maxTimestampSeconds + 1, 0, true},
		{"negative nanos", 1700000000, -1, true},
		{"nanos overflow", 1700000000, 1e9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := timestampRule(tt.seconds, tt.nanos)
			r, err := Unmarshal(msg)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("Unmarshal() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if r.CreatedAt.IsZero() {
				t.Fatal("CreatedAt decoded as unset")
			}
			out, err := Marshal(r)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if !bytes.Equal(out, msg) {
				t.Errorf("Marshal(Unmarshal(b)) = %x, want %x", out, msg)
			}
		})
	}
}

func TestUnmarshal_MergesRepeatedDefinition(t *testing.T) {
	var first []byte
	first = protowire.AppendTag(first, 1, protowire.BytesType)
	first = protowire.AppendString(first, "card-eu")
	first = protowire.AppendTag(first, 3, protowire.BytesType)
	first = protowire.AppendBytes(first, []byte{1})
	first = protowire.AppendTag(first, 4, protowire.BytesType)
	first = protowire.AppendString(first, "adyen")
	first = protowire.AppendTag(first, 5, protowire.VarintType)
	first = protowire.AppendVarint(first, 2)

	var second []byte
	second = protowire.AppendTag(second, 4, protowire.BytesType)
	second = protowire.AppendString(second, "checkout")
	second = protowire.AppendTag(second, 5, protowire.VarintType)
	second = protowire.AppendVarint(second, 9)

	var msg []byte
	msg = protowire.AppendTag(msg, 10, protowire.BytesType)
	msg = protowire.AppendBytes(msg, first)
	msg = protowire.AppendTag(msg, 10, protowire.BytesType)
	msg = protowire.AppendBytes(msg, second)

	r, err := Unmarshal(msg)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	want := &Routing{
		Name:       "card-eu",
		Methods:    []PaymentMethod{PaymentMethodCard},
		Processors: []string{"adyen", "checkout"},
		Priority:   9,
	}
	if diff := cmp.Diff(want, r.Routing()); diff != "" {
		t.Errorf("merged routing mismatch (-want +got):\n%s", diff)
	}

	// A different variant between the two still counts as a second definition.
	var mixed []byte
	mixed = protowire.AppendTag(mixed, 10, protowire.BytesType)
	mixed = protowire.AppendBytes(mixed, first)
	mixed = protowire.AppendTag(mixed, 13, protowire.BytesType)
	mixed = protowire.AppendBytes(mixed, nil)
	mixed = protowire.AppendTag(mixed, 10, protowire.BytesType)
	mixed = protowire.AppendBytes(mixed, second)
	_, err = Unmarshal(mixed)
	var verr *ValidationError
	if !errors.As(err, &verr) || !verr.HasCode(CodeMultipleDefinitions) {
		t.Errorf("Unmarshal() error = %v, want MULTIPLE_DEFINITIONS", err)
	}
}

func TestUnmarshal_UnpackedMethods(t *testing.T) {
	var routing []byte
	routing = protowire.AppendTag(routing, 3, protowire.VarintType)
	routing = protowire.AppendVarint(routing, 2)
	routing = protowire.AppendTag(routing, 3, protowire.VarintType)
	routing = protowire.AppendVarint(routing, 3)

	var msg []byte
	msg = protowire.AppendTag(msg, 10, protowire.BytesType)
	msg = protowire.AppendBytes(msg, routing)

	r, err := Unmarshal(msg)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	want := []PaymentMethod{PaymentMethodCash, PaymentMethodWallet}
	if diff := cmp.Diff(want, r.Routing().Methods); diff != "" {
		t.Errorf("Methods mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_MultipleDefinitions(t *testing.T) {
	var msg []byte
	msg = protowire.AppendTag(msg, 10, protowire.BytesType)
	msg = protowire.AppendBytes(msg, nil)
	msg = protowire.AppendTag(msg, 11, protowire.BytesType)
	msg = protowire.AppendBytes(msg, nil)

	_, err := Unmarshal(msg)
	var verr *ValidationError
	if !errors.As(err, &verr) || !verr.HasCode(CodeMultipleDefinitions) {
		t.Fatalf("Unmarshal() error = %v, want MULTIPLE_DEFINITIONS", err)
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"truncated tag":    {0x0a},
		"truncated length": {0x0a, 0x05, 'a'},
		"wrong wire type":  {0x08, 0x01},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal(b); !errors.Is(err, ErrMalformed) {
				t.Errorf("Unmarshal() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendString(msg, "id")
	msg = protowire.AppendTag(msg, 99, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 5)

	r, err := Unmarshal(msg)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if r.ID != "id" {
		t.Errorf("ID = %q, want id", r.ID)
	}
}

func TestRuleSet_RoundTrip(t *testing.T) {
	var rs []*Rule
	for _, r := range variantRules() {
		rs = append(rs, r)
	}
	b := MarshalRuleSet(rs)
	got, err := UnmarshalRuleSet(b)
	if err != nil {
		t.Fatalf("UnmarshalRuleSet() error = %v", err)
	}
	if diff := cmp.Diff(rs, got); diff != "" {
		t.Errorf("UnmarshalRuleSet mismatch (-want +got):\n%s", diff)
	}

	empty, err := UnmarshalRuleSet(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("UnmarshalRuleSet(nil) = %v, %v, want empty", empty, err)
	}
}
