package errors

import (
	"errors"
	"fmt"
	"strings"

	"mercator-hq/rules/pkg/dsl/ast"
)

// Snippet renders the source line with a caret under pos. It is used by
// the CLI to show where an expression failed to compile.
func Snippet(src string, pos ast.Pos) string {
	p := int(pos)
	if p < 0 {
		p = 0
	}
	if p > len(src) {
		p = len(src)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  | %s\n", src))
	sb.WriteString(fmt.Sprintf("  | %s^\n", strings.Repeat(" ", p)))
	return sb.String()
}

// PositionOf extracts the source offset from a compile error.
func PositionOf(err error) (ast.Pos, bool) {
	var syn *SyntaxError
	if errors.As(err, &syn) {
		return syn.Pos, true
	}
	var unsafe *UnsafeExpressionError
	if errors.As(err, &unsafe) {
		return unsafe.Pos, true
	}
	return 0, false
}

// SuggestVariable returns a hint naming the closest known variable, or ""
// when nothing is within a few edits.
func SuggestVariable(unknown string, known []string) string {
	best := ""
	bestDist := 3
	for _, name := range known {
		if d := levenshtein(unknown, name); d < bestDist {
			bestDist = d
			best = name
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf("did you mean %q?", best)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
