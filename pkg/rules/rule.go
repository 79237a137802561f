// Package rules defines the rule model evaluated by the engine: the four
// rule kinds, their validation, and the protobuf wire format used by the
// change feed and the persistence backends.
package rules

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults applied to rules created without explicit metadata.
const (
	DefaultVersion   = "1.0.0"
	DefaultCreatedBy = "system"
	DefaultWeight    = 1.0
)

// Kind identifies one of the four rule variants.
type Kind string

const (
	KindRouting    Kind = "routing"
	KindFraud      Kind = "fraud"
	KindCompliance Kind = "compliance"
	KindBusiness   Kind = "business"
)

// Kinds lists every kind in evaluation order.
var Kinds = []Kind{KindRouting, KindFraud, KindCompliance, KindBusiness}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Kinds, k) {
		return "", fmt.Errorf("unknown rule kind %q", s)
	}
	return k, nil
}

// PaymentMethod is a transfer payment method.
type PaymentMethod int32

const (
	PaymentMethodUnspecified PaymentMethod = iota
	PaymentMethodCard
	PaymentMethodCash
	PaymentMethodWallet
	PaymentMethodBankTransfer
)

var paymentMethodNames = map[PaymentMethod]string{
	PaymentMethodUnspecified:  "UNSPECIFIED",
	PaymentMethodCard:         "CARD",
	PaymentMethodCash:         "CASH",
	PaymentMethodWallet:       "WALLET",
	PaymentMethodBankTransfer: "BANK_TRANSFER",
}

func (m PaymentMethod) String() string {
	if name, ok := paymentMethodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PaymentMethod(%d)", int32(m))
}

// Valid reports whether m is a concrete payment method.
func (m PaymentMethod) Valid() bool {
	return m >= PaymentMethodCard && m <= PaymentMethodBankTransfer
}

// Matches reports whether a transaction's method string names m.
func (m PaymentMethod) Matches(method string) bool {
	return strings.EqualFold(strings.TrimSpace(method), m.String())
}

// MarshalText encodes m as its lower-case name.
func (m PaymentMethod) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(m.String())), nil
}

// UnmarshalText parses m with ParsePaymentMethod.
func (m *PaymentMethod) UnmarshalText(text []byte) error {
	parsed, err := ParsePaymentMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParsePaymentMethod parses names such as "card" or "BANK_TRANSFER".
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for m, name := range paymentMethodNames {
		if m.Valid() && name == norm {
			return m, nil
		}
	}
	return PaymentMethodUnspecified, fmt.Errorf("unknown payment method %q", s)
}

// FraudAction is the action surfaced by a triggered fraud rule.
type FraudAction int32

const (
	FraudActionUnspecified FraudAction = iota
	FraudActionBlock
	FraudActionReview
	FraudActionAllow
)

var fraudActionNames = map[FraudAction]string{
	FraudActionUnspecified: "UNSPECIFIED",
	FraudActionBlock:       "BLOCK",
	FraudActionReview:      "REVIEW",
	FraudActionAllow:       "ALLOW",
}

func (a FraudAction) String() string {
	if name, ok := fraudActionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("FraudAction(%d)", int32(a))
}

// Valid reports whether a is a concrete action.
func (a FraudAction) Valid() bool {
	return a >= FraudActionBlock && a <= FraudActionAllow
}

// Severity orders actions: BLOCK > REVIEW > ALLOW > unspecified.
func (a FraudAction) Severity() int {
	switch a {
	case FraudActionBlock:
		return 3
	case FraudActionReview:
		return 2
	case FraudActionAllow:
		return 1
	default:
		return 0
	}
}

// MarshalText encodes a as its lower-case name.
func (a FraudAction) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(a.String())), nil
}

// UnmarshalText parses a with ParseFraudAction.
func (a *FraudAction) UnmarshalText(text []byte) error {
	parsed, err := ParseFraudAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseFraudAction parses "block", "review" or "allow".
func ParseFraudAction(s string) (FraudAction, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for a, name := range fraudActionNames {
		if a.Valid() && name == norm {
			return a, nil
		}
	}
	return FraudActionUnspecified, fmt.Errorf("unknown fraud action %q", s)
}

// Definition is the kind-specific body of a rule. The set of
// implementations is closed: *Routing, *Fraud, *Compliance and *Business.
type Definition interface {
	Kind() Kind
	// RuleName is the human-readable name of the rule body.
	RuleName() string
	// Expr is the DSL text evaluated against a transaction.
	Expr() string
	clone() Definition
	definition()
}

// Routing selects payment processors for transactions matching Match.
type Routing struct {
	Name       string
	Match      string
	Methods    []PaymentMethod
	Processors []string
	Priority   int
	Weight     float64
}

// Fraud contributes ScoreWeight to the fraud score when Expression holds.
type Fraud struct {
	Name        string
	Expression  string
	ScoreWeight float64
	Threshold   float64
	Action      FraudAction
}

// Compliance flags or blocks transactions for which Expression holds.
type Compliance struct {
	Name       string
	Expression string
	Mandatory  bool
	Regulation string
	Countries  []string
}

// Business applies a discount and tags when Condition holds.
type Business struct {
	Name      string
	Condition string
	Action    string
	Discount  float64
	Tags      []string
}

func (*Routing) Kind() Kind    { return KindRouting }
func (*Fraud) Kind() Kind      { return KindFraud }
func (*Compliance) Kind() Kind { return KindCompliance }
func (*Business) Kind() Kind   { return KindBusiness }

func (d *Routing) RuleName() string    { return d.Name }
func (d *Fraud) RuleName() string      { return d.Name }
func (d *Compliance) RuleName() string { return d.Name }
func (d *Business) RuleName() string   { return d.Name }

func (d *Routing) Expr() string    { return d.Match }
func (d *Fraud) Expr() string      { return d.Expression }
func (d *Compliance) Expr() string { return d.Expression }
func (d *Business) Expr() string   { return d.Condition }

func (*Routing) definition()    {}
func (*Fraud) definition()      {}
func (*Compliance) definition() {}
func (*Business) definition()   {}

func (d *Routing) clone() Definition {
	c := *d
	c.Methods = slices.Clone(d.Methods)
	c.Processors = slices.Clone(d.Processors)
	return &c
}

func (d *Fraud) clone() Definition {
	c := *d
	return &c
}

func (d *Compliance) clone() Definition {
	c := *d
	c.Countries = slices.Clone(d.Countries)
	return &c
}

func (d *Business) clone() Definition {
	c := *d
	c.Tags = slices.Clone(d.Tags)
	return &c
}

// HasMethod reports whether the routing rule applies to method.
func (d *Routing) HasMethod(method string) bool {
	for _, m := range d.Methods {
		if m.Matches(method) {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the compliance rule covers country. A rule with
// no countries covers every destination.
func (d *Compliance) AppliesTo(country string) bool {
	if len(d.Countries) == 0 {
		return true
	}
	for _, c := range d.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// Rule is a single administrable rule.
type Rule struct {
	ID           string
	Enabled      bool
	Description  string
	Version      string
	CreatedBy    string
	CreatedAt    time.Time
	LastModified time.Time
	Definition   Definition
}

// New returns an enabled rule with default metadata and a generated id.
func New(def Definition) *Rule {
	r := &Rule{Enabled: true, Definition: def}
	r.ApplyDefaults(time.Now())
	return r
}

// ApplyDefaults fills unset metadata: a generated id, the default version
// and author, and creation/modification times.
func (r *Rule) ApplyDefaults(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Version == "" {
		r.Version = DefaultVersion
	}
	if r.CreatedBy == "" {
		r.CreatedBy = DefaultCreatedBy
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	if r.LastModified.IsZero() {
		r.LastModified = r.CreatedAt
	}
}

// definitionSet reports whether d holds a non-nil variant. A nil *Routing
// stored in the interface counts as unset.
func definitionSet(d Definition) bool {
	switch v := d.(type) {
	case nil:
		return false
	case *Routing:
		return v != nil
	case *Fraud:
		return v != nil
	case *Compliance:
		return v != nil
	case *Business:
		return v != nil
	}
	return true
}

// Kind returns the rule's kind, or "" when it has no definition.
func (r *Rule) Kind() Kind {
	if !definitionSet(r.Definition) {
		return ""
	}
	return r.Definition.Kind()
}

// Name returns the definition name.
func (r *Rule) Name() string {
	if !definitionSet(r.Definition) {
		return ""
	}
	return r.Definition.RuleName()
}

// Clone returns a deep copy.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if definitionSet(r.Definition) {
		c.Definition = r.Definition.clone()
	}
	return &c
}

// Routing returns the routing definition, or nil for other kinds.
func (r *Rule) Routing() *Routing {
	d, _ := r.Definition.(*Routing)
	return d
}

// Fraud returns the fraud definition, or nil for other kinds.
func (r *Rule) Fraud() *Fraud {
	d, _ := r.Definition.(*Fraud)
	return d
}

// Compliance returns the compliance definition, or nil for other kinds.
func (r *Rule) Compliance() *Compliance {
	d, _ := r.Definition.(*Compliance)
	return d
}

// Business returns the business definition, or nil for other kinds.
func (r *Rule) Business() *Business {
	d, _ := r.Definition.(*Business)
	return d
}
