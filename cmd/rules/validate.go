package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/rules/pkg/cli"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/dsl/cache"
	"mercator-hq/rules/pkg/dsl/parser"
	"mercator-hq/rules/pkg/rules"
)

var validateFlags struct {
	files []string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate rule documents",
	Long: `Check rule documents without loading them anywhere.

Every rule is converted, checked against the admission limits of the
engine configuration and its expression is compiled. Duplicate ids
within a file are reported.

Examples:
  # Validate a YAML document
  rules validate --file rules.yaml

  # Validate several files and print a JSON report
  rules validate -f routing.yaml -f fraud.json -o json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringSliceVarP(&validateFlags.files, "file", "f", nil, "rule document (.yaml, .yml or .json), repeatable")
	_ = validateCmd.MarkFlagRequired("file")
}

// Issue is one problem found with a rule.
type Issue struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
	Code    string `json:"code" yaml:"code"`
}

// RuleReport is the validation outcome of one document entry.
type RuleReport struct {
	Index  int     `json:"index" yaml:"index"`
	ID     string  `json:"id,omitempty" yaml:"id,omitempty"`
	Kind   string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Valid  bool    `json:"valid" yaml:"valid"`
	Issues []Issue `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// ValidationReport is the outcome of validating one file.
type ValidationReport struct {
	File    string       `json:"file" yaml:"file"`
	Total   int          `json:"total" yaml:"total"`
	Invalid int          `json:"invalid" yaml:"invalid"`
	Rules   []RuleReport `json:"rules" yaml:"rules"`
}

// ValidationReports is the outcome of a validate run.
type ValidationReports []ValidationReport

// WriteText prints one line per invalid issue and a summary per file.
func (rs ValidationReports) WriteText(w io.Writer) error {
	for _, r := range rs {
		for _, rule := range r.Rules {
			if rule.Valid {
				continue
			}
			name := rule.ID
			if name == "" {
				name = fmt.Sprintf("rules[%d]", rule.Index)
			}
			for _, is := range rule.Issues {
				if _, err := fmt.Fprintf(w, "%s: %s: %s: %s (%s)\n", r.File, name, is.Field, is.Message, is.Code); err != nil {
					return err
				}
			}
		}
		mark := "✓"
		if r.Invalid > 0 {
			mark = "✗"
		}
		if _, err := fmt.Fprintf(w, "%s %s: %d rules, %d invalid\n", mark, r.File, r.Total, r.Invalid); err != nil {
			return err
		}
	}
	return nil
}

// newValidator returns a validator enforcing the engine limits of cfg and
// compiling expressions with its parser settings.
func newValidator(cfg *config.Config) *rules.Validator {
	c := cache.New(cfg.Engine.CacheSize).
		WithParser(parser.NewParser().WithMaxDepth(cfg.Engine.MaxDepth))
	return &rules.Validator{MaxExpressionLength: cfg.Engine.MaxExpressionLength, Compiler: c}
}

// validateDocument checks every entry of doc.
func validateDocument(file string, doc *rules.Document, v *rules.Validator) ValidationReport {
	report := ValidationReport{File: file, Total: len(doc.Rules), Rules: make([]RuleReport, 0, len(doc.Rules))}
	seen := make(map[string]int, len(doc.Rules))

	for i := range doc.Rules {
		entry := RuleReport{Index: i, ID: doc.Rules[i].ID, Valid: true}

		r, err := doc.Rules[i].ToRule()
		if err == nil {
			entry.Kind = string(r.Kind())
			err = v.Validate(r)
		}
		if err != nil {
			entry.Valid = false
			entry.Issues = issues(err)
		}
		if entry.ID != "" {
			if first, dup := seen[entry.ID]; dup {
				entry.Valid = false
				entry.Issues = append(entry.Issues, Issue{
					Field:   "id",
					Message: fmt.Sprintf("duplicates rules[%d]", first),
					Code:    rules.CodeInvalidValue,
				})
			} else {
				seen[entry.ID] = i
			}
		}
		if !entry.Valid {
			report.Invalid++
		}
		report.Rules = append(report.Rules, entry)
	}
	return report
}

func issues(err error) []Issue {
	var ve *rules.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{{Field: "rule", Message: err.Error(), Code: rules.CodeInvalidValue}}
	}
	out := make([]Issue, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		out = append(out, Issue{Field: fe.Field, Message: fe.Message, Code: fe.Code})
	}
	return out
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := formatter()
	if err != nil {
		return err
	}

	v := newValidator(cfg)
	reports := make(ValidationReports, 0, len(validateFlags.files))
	total, invalid := 0, 0
	for _, file := range validateFlags.files {
		doc, err := rules.ReadDocument(file)
		if err != nil {
			return cli.NewCommandError("validate", err)
		}
		r := validateDocument(file, doc, v)
		total += r.Total
		invalid += r.Invalid
		reports = append(reports, r)
	}

	if err := f.FormatTo(cmd.OutOrStdout(), reports); err != nil {
		return err
	}
	if invalid > 0 {
		return &cli.InvalidRulesError{Invalid: invalid, Total: total}
	}
	return nil
}
