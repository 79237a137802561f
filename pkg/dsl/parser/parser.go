package parser

import (
	"fmt"
	"strconv"

	"mercator-hq/rules/pkg/dsl/ast"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
)

// DefaultMaxDepth is the default maximum nesting depth of an expression.
const DefaultMaxDepth = 64

// Parser turns rule expression text into an AST.
//
// Grammar, lowest precedence first:
//
//	expr       = or
//	or         = and { "or" and }
//	and        = not { "and" not }
//	not        = "not" not | comparison
//	comparison = additive [ compop additive | ["not"] "in" list ]
//	additive   = term { ("+" | "-") term }
//	term       = unary { ("*" | "/") unary }
//	unary      = "-" unary | postfix
//	postfix    = primary { "(" args ")" | "." ident | "[" expr "]" }
//	primary    = number | string | bool | ident | "(" expr ")"
//	list       = "[" [ expr { "," expr } ] "]" | "(" [ expr { "," expr } ] ")"
//
// Postfix forms are parsed into Call, Attribute and Index nodes so the
// evaluator's whitelist can reject them with a precise error.
type Parser struct {
	maxDepth int
}

// NewParser creates a parser with default limits.
func NewParser() *Parser {
	return &Parser{maxDepth: DefaultMaxDepth}
}

// WithMaxDepth sets the maximum nesting depth.
func (p *Parser) WithMaxDepth(depth int) *Parser {
	p.maxDepth = depth
	return p
}

// Parse parses src into a tree. Malformed input yields *errors.SyntaxError.
func (p *Parser) Parse(src string) (ast.Node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	st := &state{tokens: tokens, maxDepth: p.maxDepth}
	if tokens[0].typ == tokEOF {
		return nil, st.errorf(tokens[0], "empty expression")
	}

	node, err := st.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := st.peek(); tok.typ != tokEOF {
		return nil, st.errorf(tok, "unexpected token after end of expression")
	}
	return node, nil
}

// Parse parses src with the default parser.
func Parse(src string) (ast.Node, error) {
	return NewParser().Parse(src)
}

type state struct {
	tokens   []token
	pos      int
	depth    int
	maxDepth int
}

func (s *state) peek() token { return s.tokens[s.pos] }

func (s *state) peekAt(offset int) token {
	if s.pos+offset >= len(s.tokens) {
		return s.tokens[len(s.tokens)-1]
	}
	return s.tokens[s.pos+offset]
}

func (s *state) advance() token {
	tok := s.tokens[s.pos]
	if tok.typ != tokEOF {
		s.pos++
	}
	return tok
}

func (s *state) expect(typ tokenType, what string) (token, error) {
	tok := s.peek()
	if tok.typ != typ {
		return tok, s.errorf(tok, fmt.Sprintf("expected %s", what))
	}
	return s.advance(), nil
}

func (s *state) errorf(tok token, msg string) error {
	text := tok.text
	if tok.typ == tokString {
		text = strconv.Quote(tok.text)
	}
	return &dslerrors.SyntaxError{Pos: tok.pos, Token: text, Message: msg}
}

func (s *state) enter(tok token) error {
	s.depth++
	if s.maxDepth > 0 && s.depth > s.maxDepth {
		return s.errorf(tok, fmt.Sprintf("expression nested deeper than %d levels", s.maxDepth))
	}
	return nil
}

func (s *state) leave() { s.depth-- }

func (s *state) parseExpr() (ast.Node, error) {
	if err := s.enter(s.peek()); err != nil {
		return nil, err
	}
	defer s.leave()
	return s.parseOr()
}

func (s *state) parseOr() (ast.Node, error) {
	left, err := s.parseAnd()
	if err != nil {
		return nil, err
	}
	for s.peek().typ == tokOr {
		op := s.advance()
		right, err := s.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.OpOr, Left: left, Right: right, At: op.pos}
	}
	return left, nil
}

func (s *state) parseAnd() (ast.Node, error) {
	left, err := s.parseNot()
	if err != nil {
		return nil, err
	}
	for s.peek().typ == tokAnd {
		op := s.advance()
		right, err := s.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.OpAnd, Left: left, Right: right, At: op.pos}
	}
	return left, nil
}

func (s *state) parseNot() (ast.Node, error) {
	if tok := s.peek(); tok.typ == tokNot {
		s.advance()
		if err := s.enter(tok); err != nil {
			return nil, err
		}
		defer s.leave()
		operand, err := s.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: ast.OpNot, Operand: operand, At: tok.pos}, nil
	}
	return s.parseComparison()
}

var comparisonOps = map[tokenType]ast.Operator{
	tokEq: ast.OpEqual,
	tokNe: ast.OpNotEqual,
	tokLt: ast.OpLessThan,
	tokLe: ast.OpLessEqual,
	tokGt: ast.OpGreaterThan,
	tokGe: ast.OpGreaterEqual,
}

func (s *state) isComparisonStart() bool {
	tok := s.peek()
	if _, ok := comparisonOps[tok.typ]; ok {
		return true
	}
	return tok.typ == tokIn || (tok.typ == tokNot && s.peekAt(1).typ == tokIn)
}

func (s *state) parseComparison() (ast.Node, error) {
	left, err := s.parseAdditive()
	if err != nil {
		return nil, err
	}
	if !s.isComparisonStart() {
		return left, nil
	}

	var node ast.Node
	tok := s.peek()
	switch tok.typ {
	case tokIn, tokNot:
		negated := tok.typ == tokNot
		s.advance()
		if negated {
			s.advance()
		}
		list, err := s.parseList()
		if err != nil {
			return nil, err
		}
		node = &ast.Membership{Element: left, List: list, Negated: negated, At: tok.pos}
	default:
		s.advance()
		right, err := s.parseAdditive()
		if err != nil {
			return nil, err
		}
		node = &ast.Binary{Op: comparisonOps[tok.typ], Left: left, Right: right, At: tok.pos}
	}

	if s.isComparisonStart() {
		return nil, s.errorf(s.peek(), "chained comparisons are not allowed; combine with and")
	}
	return node, nil
}

func (s *state) parseList() (*ast.List, error) {
	open := s.peek()
	var closing tokenType
	switch open.typ {
	case tokLBracket:
		closing = tokRBracket
	case tokLParen:
		closing = tokRParen
	default:
		return nil, s.errorf(open, "expected list after in")
	}
	s.advance()

	list := &ast.List{At: open.pos}
	if s.peek().typ == closing {
		s.advance()
		return list, nil
	}
	for {
		item, err := s.parseExpr()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)

		tok := s.peek()
		if tok.typ == tokComma {
			s.advance()
			// trailing comma
			if s.peek().typ == closing {
				s.advance()
				return list, nil
			}
			continue
		}
		if tok.typ == closing {
			s.advance()
			return list, nil
		}
		return nil, s.errorf(tok, "expected , or end of list")
	}
}

func (s *state) parseAdditive() (ast.Node, error) {
	left, err := s.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := s.peek()
		var op ast.Operator
		switch tok.typ {
		case tokPlus:
			op = ast.OpAdd
		case tokMinus:
			op = ast.OpSub
		default:
			return left, nil
		}
		s.advance()
		right, err := s.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: op, Left: left, Right: right, At: tok.pos}
	}
}

func (s *state) parseTerm() (ast.Node, error) {
	left, err := s.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := s.peek()
		var op ast.Operator
		switch tok.typ {
		case tokStar:
			op = ast.OpMul
		case tokSlash:
			op = ast.OpDiv
		default:
			return left, nil
		}
		s.advance()
		right, err := s.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: op, Left: left, Right: right, At: tok.pos}
	}
}

func (s *state) parseUnary() (ast.Node, error) {
	if tok := s.peek(); tok.typ == tokMinus {
		s.advance()
		if err := s.enter(tok); err != nil {
			return nil, err
		}
		defer s.leave()
		operand, err := s.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: ast.OpSub, Operand: operand, At: tok.pos}, nil
	}
	return s.parsePostfix()
}

func (s *state) parsePostfix() (ast.Node, error) {
	node, err := s.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := s.peek()
		switch tok.typ {
		case tokLParen:
			s.advance()
			call := &ast.Call{Callee: node, At: tok.pos}
			if s.peek().typ != tokRParen {
				for {
					arg, err := s.parseExpr()
					if err != nil {
						return nil, err
					}
					call.Args = append(call.Args, arg)
					if s.peek().typ != tokComma {
						break
					}
					s.advance()
				}
			}
			if _, err := s.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			node = call
		case tokDot:
			s.advance()
			name, err := s.expect(tokIdent, "attribute name")
			if err != nil {
				return nil, err
			}
			node = &ast.Attribute{Target: node, Name: name.text, At: tok.pos}
		case tokLBracket:
			s.advance()
			key, err := s.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := s.expect(tokRBracket, "]"); err != nil {
				return nil, err
			}
			node = &ast.Index{Target: node, Key: key, At: tok.pos}
		default:
			return node, nil
		}
	}
}

func (s *state) parsePrimary() (ast.Node, error) {
	tok := s.peek()
	switch tok.typ {
	case tokNumber:
		s.advance()
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, s.errorf(tok, "invalid number")
		}
		return &ast.Literal{Type: ast.LiteralNumber, Number: v, At: tok.pos}, nil
	case tokString:
		s.advance()
		return &ast.Literal{Type: ast.LiteralString, Str: tok.text, At: tok.pos}, nil
	case tokTrue, tokFalse:
		s.advance()
		return &ast.Literal{Type: ast.LiteralBool, Bool: tok.typ == tokTrue, At: tok.pos}, nil
	case tokIdent:
		s.advance()
		return &ast.Ident{Name: tok.text, At: tok.pos}, nil
	case tokLParen:
		s.advance()
		inner, err := s.parseExpr()
		if err != nil {
			return nil, err
		}
		if s.peek().typ == tokComma {
			return nil, s.errorf(s.peek(), "tuples are only allowed after in")
		}
		if _, err := s.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return &ast.Group{Inner: inner, At: tok.pos}, nil
	case tokLBracket:
		return nil, s.errorf(tok, "list literals are only allowed after in")
	case tokEOF:
		return nil, s.errorf(tok, "unexpected end of expression")
	default:
		return nil, s.errorf(tok, "unexpected token")
	}
}
