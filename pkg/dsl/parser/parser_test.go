package parser

import (
	"errors"
	"strings"
	"testing"

	"mercator-hq/rules/pkg/dsl/ast"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"number", "42", "42"},
		{"float", "0.75", "0.75"},
		{"exponent", "1e3", "1000"},
		{"string single", "'card'", `"card"`},
		{"string double", `"wallet"`, `"wallet"`},
		{"bool lower", "true", "true"},
		{"bool python", "False", "false"},
		{"ident", "amount", "amount"},
		{"comparison", "amount > 1000", "(amount > 1000)"},
		{"precedence", "a + b * c", "(a + (b * c))"},
		{"left assoc", "a - b - c", "((a - b) - c)"},
		{"unary minus", "-a * b", "((-a) * b)"},
		{"group", "(a + b) * c", "((a + b) * c)"},
		{"and or", "a or b and c", "(a or (b and c))"},
		{"not binds looser than comparison", "not a == b", "(not (a == b))"},
		{"in list", "country in ['US', 'CA']", `(country in ["US", "CA"])`},
		{"in tuple", "country in ('US', 'CA')", `(country in ["US", "CA"])`},
		{"not in", "method not in ['cash']", `(method not in ["cash"])`},
		{"empty list", "x in []", "(x in [])"},
		{"trailing comma", "x in [1, 2,]", "(x in [1, 2])"},
		{"mixed", "amount > 10000 and country in ['NG', 'KP'] or not verified",
			`(((amount > 10000) and (country in ["NG", "KP"])) or (not verified))`},
		{"escape", `'it\'s'`, `"it's"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v, want nil", tt.src, err)
			}
			if got := node.String(); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.src, got, tt.want)
			}
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantPos ast.Pos
	}{
		{"empty", "", 0},
		{"whitespace", "   ", 3},
		{"assignment", "amount = 5", 7},
		{"dangling operator", "amount >", 8},
		{"dangling and", "a and", 5},
		{"unclosed group", "(a + b", 6},
		{"chained comparison", "1 < x < 5", 6},
		{"chained membership", "a == b in [1]", 7},
		{"lambda", "lambda: 1", 0},
		{"import", "import os", 0},
		{"if", "1 if a else 2", 2},
		{"unknown char", "a & b", 2},
		{"power", "a ** 2", 2},
		{"unterminated string", "'abc", 0},
		{"bare list", "[1, 2]", 0},
		{"tuple outside in", "(1, 2)", 2},
		{"in without list", "a in b", 5},
		{"malformed number", "12abc", 0},
		{"trailing token", "a b", 2},
		{"attribute without name", "a.", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			if err == nil {
				t.Fatalf("Parse(%q) error = nil, want SyntaxError", tt.src)
			}
			var syn *dslerrors.SyntaxError
			if !errors.As(err, &syn) {
				t.Fatalf("Parse(%q) error = %T (%v), want *SyntaxError", tt.src, err, err)
			}
			if syn.Pos != tt.wantPos {
				t.Errorf("Parse(%q) error pos = %d, want %d (%v)", tt.src, syn.Pos, tt.wantPos, err)
			}
		})
	}
}

func TestParse_DisallowedFormsBuildNodes(t *testing.T) {
	tests := []struct {
		src  string
		kind ast.Kind
	}{
		{"__import__('os')", ast.KindCall},
		{"open('/etc/passwd')", ast.KindCall},
		{"txn.amount", ast.KindAttribute},
		{"items[0]", ast.KindIndex},
		{"'x'.join", ast.KindAttribute},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			node, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v, want nil", tt.src, err)
			}
			if node.Kind() != tt.kind {
				t.Errorf("Parse(%q) kind = %v, want %v", tt.src, node.Kind(), tt.kind)
			}
		})
	}
}

func TestParse_Positions(t *testing.T) {
	node, err := Parse("amount >= 100")
	if err != nil {
		t.Fatalf("Parse() error = %v, want nil", err)
	}
	bin, ok := node.(*ast.Binary)
	if !ok {
		t.Fatalf("node = %T, want *ast.Binary", node)
	}
	if bin.Pos() != 7 {
		t.Errorf("operator pos = %d, want 7", bin.Pos())
	}
	if bin.Left.Pos() != 0 || bin.Right.Pos() != 10 {
		t.Errorf("operand pos = %d,%d, want 0,10", bin.Left.Pos(), bin.Right.Pos())
	}
}

func TestParse_MaxDepth(t *testing.T) {
	deep := strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100)
	if _, err := Parse(deep); err == nil {
		t.Fatal("Parse(deep) error = nil, want SyntaxError")
	}

	shallow := strings.Repeat("(", 10) + "1" + strings.Repeat(")", 10)
	if _, err := Parse(shallow); err != nil {
		t.Fatalf("Parse(shallow) error = %v, want nil", err)
	}

	negations := strings.Repeat("not ", 100) + "true"
	if _, err := Parse(negations); err == nil {
		t.Fatal("Parse(negations) error = nil, want SyntaxError")
	}

	p := NewParser().WithMaxDepth(3)
	if _, err := p.Parse("((1))"); err != nil {
		t.Errorf("Parse with depth 3 error = %v, want nil", err)
	}
	if _, err := p.Parse("(((1)))"); err == nil {
		t.Error("Parse with depth 3 error = nil, want SyntaxError")
	}
}

func TestIdentifiers(t *testing.T) {
	node, err := Parse("amount > limit and country in [home, 'US'] or amount < 0")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := ast.Identifiers(node)
	want := []string{"amount", "limit", "country", "home"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Identifiers() = %v, want %v", got, want)
	}
}
