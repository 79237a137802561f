package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the YAML/JSON representation of a rule file:
//
//	rules:
//	  - id: route-large-card
//	    description: Large card transfers go to the premium processors
//	    routing:
//	      name: large-card
//	      match: "amount > 10000"
//	      methods: [card]
//	      processors: [adyen, stripe]
//	      priority: 10
//	      weight: 0.8
type Document struct {
	Rules []RuleDocument `yaml:"rules" json:"rules"`
}

// RuleDocument is the textual form of one Rule. Exactly one of the
// definition sections must be present.
type RuleDocument struct {
	ID           string     `yaml:"id,omitempty" json:"id,omitempty"`
	Enabled      *bool      `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Description  string     `yaml:"description,omitempty" json:"description,omitempty"`
	Version      string     `yaml:"version,omitempty" json:"version,omitempty"`
	CreatedBy    string     `yaml:"created_by,omitempty" json:"created_by,omitempty"`
	CreatedAt    *time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	LastModified *time.Time `yaml:"last_modified,omitempty" json:"last_modified,omitempty"`

	Routing    *RoutingDocument    `yaml:"routing,omitempty" json:"routing,omitempty"`
	Fraud      *FraudDocument      `yaml:"fraud,omitempty" json:"fraud,omitempty"`
	Compliance *ComplianceDocument `yaml:"compliance,omitempty" json:"compliance,omitempty"`
	Business   *BusinessDocument   `yaml:"business,omitempty" json:"business,omitempty"`
}

// RoutingDocument is the textual form of a Routing definition.
type RoutingDocument struct {
	Name       string   `yaml:"name" json:"name"`
	Match      string   `yaml:"match" json:"match"`
	Methods    []string `yaml:"methods" json:"methods"`
	Processors []string `yaml:"processors" json:"processors"`
	Priority   int      `yaml:"priority" json:"priority"`
	Weight     *float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// FraudDocument is the textual form of a Fraud definition.
type FraudDocument struct {
	Name        string  `yaml:"name" json:"name"`
	Expression  string  `yaml:"expression" json:"expression"`
	ScoreWeight float64 `yaml:"score_weight" json:"score_weight"`
	Threshold   float64 `yaml:"threshold" json:"threshold"`
	Action      string  `yaml:"action" json:"action"`
}

// ComplianceDocument is the textual form of a Compliance definition.
type ComplianceDocument struct {
	Name       string   `yaml:"name" json:"name"`
	Expression string   `yaml:"expression" json:"expression"`
	Mandatory  bool     `yaml:"mandatory" json:"mandatory"`
	Regulation string   `yaml:"regulation,omitempty" json:"regulation,omitempty"`
	Countries  []string `yaml:"countries,omitempty" json:"countries,omitempty"`
}

// BusinessDocument is the textual form of a Business definition.
type BusinessDocument struct {
	Name      string   `yaml:"name" json:"name"`
	Condition string   `yaml:"condition" json:"condition"`
	Action    string   `yaml:"action" json:"action"`
	Discount  float64  `yaml:"discount" json:"discount"`
	Tags      []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// ToRule converts the document into a Rule. Unknown enum names and a
// missing or duplicated definition yield a *ValidationError. Range checks
// are left to Validator.
func (d *RuleDocument) ToRule() (*Rule, error) {
	r := &Rule{
		ID:          d.ID,
		Enabled:     true,
		Description: d.Description,
		Version:     d.Version,
		CreatedBy:   d.CreatedBy,
	}
	if d.Enabled != nil {
		r.Enabled = *d.Enabled
	}
	if d.CreatedAt != nil {
		r.CreatedAt = d.CreatedAt.UTC()
	}
	if d.LastModified != nil {
		r.LastModified = d.LastModified.UTC()
	}

	var errs []FieldError
	sections := 0

	if d.Routing != nil {
		sections++
		def := &Routing{
			Name:       d.Routing.Name,
			Match:      d.Routing.Match,
			Processors: d.Routing.Processors,
			Priority:   d.Routing.Priority,
			Weight:     DefaultWeight,
		}
		if d.Routing.Weight != nil {
			def.Weight = *d.Routing.Weight
		}
		for i, name := range d.Routing.Methods {
			m, err := ParsePaymentMethod(name)
			if err != nil {
				errs = append(errs, FieldError{Field: fmt.Sprintf("routing.methods[%d]", i), Message: err.Error(), Code: CodeInvalidValue})
				continue
			}
			def.Methods = append(def.Methods, m)
		}
		r.Definition = def
	}
	if d.Fraud != nil {
		sections++
		def := &Fraud{
			Name:        d.Fraud.Name,
			Expression:  d.Fraud.Expression,
			ScoreWeight: d.Fraud.ScoreWeight,
			Threshold:   d.Fraud.Threshold,
		}
		if d.Fraud.Action != "" {
			a, err := ParseFraudAction(d.Fraud.Action)
			if err != nil {
				errs = append(errs, FieldError{Field: "fraud.action", Message: err.Error(), Code: CodeInvalidValue})
			}
			def.Action = a
		}
		r.Definition = def
	}
	if d.Compliance != nil {
		sections++
		r.Definition = &Compliance{
			Name:       d.Compliance.Name,
			Expression: d.Compliance.Expression,
			Mandatory:  d.Compliance.Mandatory,
			Regulation: d.Compliance.Regulation,
			Countries:  d.Compliance.Countries,
		}
	}
	if d.Business != nil {
		sections++
		r.Definition = &Business{
			Name:      d.Business.Name,
			Condition: d.Business.Condition,
			Action:    d.Business.Action,
			Discount:  d.Business.Discount,
			Tags:      d.Business.Tags,
		}
	}

	switch {
	case sections == 0:
		errs = append(errs, FieldError{Field: "definition", Message: "exactly one of routing, fraud, compliance or business is required", Code: CodeMissingDefinition})
	case sections > 1:
		errs = append(errs, FieldError{Field: "definition", Message: "more than one of routing, fraud, compliance or business is set", Code: CodeMultipleDefinitions})
	}
	if len(errs) > 0 {
		return nil, &ValidationError{RuleID: d.ID, Errors: errs}
	}
	return r, nil
}

// DocumentFromRule converts r to its textual form.
func DocumentFromRule(r *Rule) RuleDocument {
	enabled := r.Enabled
	doc := RuleDocument{
		ID:          r.ID,
		Enabled:     &enabled,
		Description: r.Description,
		Version:     r.Version,
		CreatedBy:   r.CreatedBy,
	}
	if !r.CreatedAt.IsZero() {
		t := r.CreatedAt
		doc.CreatedAt = &t
	}
	if !r.LastModified.IsZero() {
		t := r.LastModified
		doc.LastModified = &t
	}

	switch d := r.Definition.(type) {
	case *Routing:
		w := d.Weight
		rd := &RoutingDocument{Name: d.Name, Match: d.Match, Processors: d.Processors, Priority: d.Priority, Weight: &w}
		for _, m := range d.Methods {
			rd.Methods = append(rd.Methods, strings.ToLower(m.String()))
		}
		doc.Routing = rd
	case *Fraud:
		doc.Fraud = &FraudDocument{
			Name:        d.Name,
			Expression:  d.Expression,
			ScoreWeight: d.ScoreWeight,
			Threshold:   d.Threshold,
			Action:      d.Action.String(),
		}
	case *Compliance:
		doc.Compliance = &ComplianceDocument{
			Name:       d.Name,
			Expression: d.Expression,
			Mandatory:  d.Mandatory,
			Regulation: d.Regulation,
			Countries:  d.Countries,
		}
	case *Business:
		doc.Business = &BusinessDocument{
			Name:      d.Name,
			Condition: d.Condition,
			Action:    d.Action,
			Discount:  d.Discount,
			Tags:      d.Tags,
		}
	}
	return doc
}

// ParseDocument decodes YAML (a superset of JSON) rule document bytes.
func ParseDocument(data []byte) ([]*Rule, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule document: %w", err)
	}
	return doc.Decode()
}

// Decode converts every entry, collecting all conversion errors.
func (doc *Document) Decode() ([]*Rule, error) {
	out := make([]*Rule, 0, len(doc.Rules))
	var errs ErrorList
	for i := range doc.Rules {
		r, err := doc.Rules[i].ToRule()
		if err != nil {
			errs.Add(fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		out = append(out, r)
	}
	if err := errs.ToError(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadDocument reads a rule document from a .yaml, .yml or .json file
// without converting its entries.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var doc Document
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}
	return &doc, nil
}

// LoadFile reads a rule document and converts every entry.
func LoadFile(path string) ([]*Rule, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return doc.Decode()
}

// EncodeYAML renders rules as a YAML document.
func EncodeYAML(rs []*Rule) ([]byte, error) {
	doc := Document{Rules: make([]RuleDocument, 0, len(rs))}
	for _, r := range rs {
		doc.Rules = append(doc.Rules, DocumentFromRule(r))
	}
	return yaml.Marshal(&doc)
}
