package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/rules/pkg/cli"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/server"
	"mercator-hq/rules/pkg/telemetry/logging"
)

var evalFlags struct {
	file    string
	txn     string
	txnFile string
	kinds   []string
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a transaction offline",
	Long: `Evaluate one transaction against a rule document, or against the
rules in the configured store when no document is given.

The transaction is a flat JSON object of scalar values.

Examples:
  # Evaluate against a document
  rules eval --file rules.yaml --txn '{"amount": 12000, "payment_method": "card"}'

  # Read the transaction from stdin and only run fraud rules
  echo '{"amount": 50}' | rules eval --file rules.yaml --txn-file - --kind fraud -o json`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalFlags.file, "file", "f", "", "rule document; the configured store is used when empty")
	evalCmd.Flags().StringVar(&evalFlags.txn, "txn", "", "transaction as a JSON object")
	evalCmd.Flags().StringVar(&evalFlags.txnFile, "txn-file", "", "file holding the transaction JSON, - for stdin")
	evalCmd.Flags().StringSliceVar(&evalFlags.kinds, "kind", nil, "rule kinds to evaluate (routing, fraud, compliance, business)")
	evalCmd.MarkFlagsMutuallyExclusive("txn", "txn-file")
	evalCmd.MarkFlagsOneRequired("txn", "txn-file")
}

// decisionOutput renders an evaluation result.
type decisionOutput struct {
	server.DecisionResponse
}

// WriteText prints one line per rule followed by the kind summaries.
func (d decisionOutput) WriteText(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "snapshot %d (%s)\n", d.SnapshotVersion, d.SnapshotDigest)
	for _, r := range d.Results {
		verdict := "no match"
		switch {
		case r.Error != "":
			verdict = "error: " + r.Error
		case r.Matched:
			verdict = "match"
		}
		fmt.Fprintf(&sb, "  %-10s %-24s %s", r.Kind, r.RuleID, verdict)
		if r.Action != "" {
			fmt.Fprintf(&sb, " -> %s", r.Action)
		}
		sb.WriteByte('\n')
	}
	if d.Routing != nil {
		fmt.Fprintf(&sb, "routing:    primary=%q processors=%v\n", d.Routing.Primary, d.Routing.Processors)
	}
	if d.Fraud != nil {
		fmt.Fprintf(&sb, "fraud:      score=%g action=%s triggered=%v\n", d.Fraud.Score, d.Fraud.Action, d.Fraud.Triggered)
	}
	if d.Compliance != nil {
		fmt.Fprintf(&sb, "compliance: blocked=%t blocked_by=%q flagged=%v\n", d.Compliance.Blocked, d.Compliance.BlockedBy, d.Compliance.Flagged)
	}
	if d.Business != nil {
		fmt.Fprintf(&sb, "business:   discount=%g tags=%v actions=%v\n", d.Business.Discount, d.Business.Tags, d.Business.Actions)
	}
	fmt.Fprintf(&sb, "elapsed %.3fms\n", d.ElapsedMS)
	_, err := io.WriteString(w, sb.String())
	return err
}

// readTransaction decodes the transaction given by --txn or --txn-file.
func readTransaction(in io.Reader) (map[string]any, error) {
	var data []byte
	switch {
	case evalFlags.txn != "":
		data = []byte(evalFlags.txn)
	case evalFlags.txnFile == "-":
		b, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read transaction: %w", err)
		}
		data = b
	default:
		b, err := os.ReadFile(evalFlags.txnFile)
		if err != nil {
			return nil, fmt.Errorf("read transaction: %w", err)
		}
		data = b
	}

	var txn map[string]any
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("transaction is not a JSON object: %w", err)
	}
	return txn, nil
}

// evaluate loads rs into a fresh engine and evaluates txn.
func evaluate(ctx context.Context, cfg *config.Config, rs []*rules.Rule, txn map[string]any, kindNames []string) (*server.DecisionResponse, error) {
	kinds := make([]rules.Kind, 0, len(kindNames))
	for _, name := range kindNames {
		k, err := rules.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}

	eng, err := newEngine(cfg, nil, nil, logging.Discard())
	if err != nil {
		return nil, err
	}
	if _, err := eng.registry.Replace(rs); err != nil {
		return nil, err
	}
	d, err := eng.pipeline.Evaluate(ctx, txn, kinds...)
	if err != nil {
		return nil, err
	}
	resp := server.NewDecisionResponse(d)
	return &resp, nil
}

// loadRules reads the --file document, or every rule in the configured
// store.
func loadRules(ctx context.Context, cfg *config.Config, file string) ([]*rules.Rule, error) {
	if file != "" {
		return rules.LoadFile(file)
	}
	st, err := openStore(ctx, &cfg.Store)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	sctx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	defer cancel()
	return st.LoadAll(sctx)
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := formatter()
	if err != nil {
		return err
	}

	txn, err := readTransaction(cmd.InOrStdin())
	if err != nil {
		return cli.NewCommandError("eval", err)
	}
	rs, err := loadRules(cmd.Context(), cfg, evalFlags.file)
	if err != nil {
		return cli.NewCommandError("eval", err)
	}
	resp, err := evaluate(cmd.Context(), cfg, rs, txn, evalFlags.kinds)
	if err != nil {
		return cli.NewCommandError("eval", err)
	}

	out := cmd.OutOrStdout()
	if _, ok := f.(*cli.TextFormatter); ok {
		return f.FormatTo(out, decisionOutput{*resp})
	}
	generic, err := toGeneric(resp)
	if err != nil {
		return err
	}
	return f.FormatTo(out, generic)
}

// toGeneric converts v to plain maps through its JSON form so that every
// output format uses the same field names.
func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
