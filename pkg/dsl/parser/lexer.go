package parser

import (
	"strings"

	"mercator-hq/rules/pkg/dsl/ast"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokIn
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
)

type token struct {
	typ  tokenType
	text string // raw source text; the decoded value for strings
	pos  ast.Pos
}

var keywords = map[string]tokenType{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"in":    tokIn,
	"true":  tokTrue,
	"True":  tokTrue,
	"false": tokFalse,
	"False": tokFalse,
}

// Statement keywords that have no meaning in an expression. They are
// rejected while lexing so they can never reach the tree as identifiers.
var reserved = map[string]bool{
	"lambda": true, "import": true, "from": true, "for": true, "while": true,
	"if": true, "else": true, "elif": true, "def": true, "class": true,
	"return": true, "yield": true, "with": true, "as": true, "is": true,
	"del": true, "global": true, "nonlocal": true, "pass": true, "raise": true,
	"try": true, "except": true, "finally": true, "assert": true, "await": true,
	"async": true, "exec": true,
}

var singleChar = map[byte]tokenType{
	'<': tokLt, '>': tokGt, '+': tokPlus, '-': tokMinus, '*': tokStar,
	'/': tokSlash, '(': tokLParen, ')': tokRParen, '[': tokLBracket,
	']': tokRBracket, ',': tokComma, '.': tokDot,
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		lx.tokens = append(lx.tokens, tok)
		if tok.typ == tokEOF {
			return lx.tokens, nil
		}
	}
}

func (lx *lexer) errorf(pos int, tok, msg string) error {
	return &dslerrors.SyntaxError{Pos: ast.Pos(pos), Token: tok, Message: msg}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && isSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	start := lx.pos
	if start >= len(lx.src) {
		return token{typ: tokEOF, pos: ast.Pos(start)}, nil
	}

	c := lx.src[start]
	switch {
	case isDigit(c):
		return lx.number()
	case c == '.' && start+1 < len(lx.src) && isDigit(lx.src[start+1]):
		return lx.number()
	case isIdentStart(c):
		return lx.ident()
	case c == '\'' || c == '"':
		return lx.str(c)
	}

	two := ""
	if start+1 < len(lx.src) {
		two = lx.src[start : start+2]
	}
	switch two {
	case "==":
		lx.pos += 2
		return token{typ: tokEq, text: two, pos: ast.Pos(start)}, nil
	case "!=":
		lx.pos += 2
		return token{typ: tokNe, text: two, pos: ast.Pos(start)}, nil
	case "<=":
		lx.pos += 2
		return token{typ: tokLe, text: two, pos: ast.Pos(start)}, nil
	case ">=":
		lx.pos += 2
		return token{typ: tokGe, text: two, pos: ast.Pos(start)}, nil
	case "**", "//", "<<", ">>", "&&", "||", ":=", "+=", "-=", "*=", "/=":
		return token{}, lx.errorf(start, two, "operator is not supported")
	}

	if typ, ok := singleChar[c]; ok {
		lx.pos++
		return token{typ: typ, text: string(c), pos: ast.Pos(start)}, nil
	}
	if c == '=' {
		return token{}, lx.errorf(start, "=", "assignment is not allowed; use == for comparison")
	}
	return token{}, lx.errorf(start, string(c), "unexpected character")
}

func (lx *lexer) number() (token, error) {
	start := lx.pos
	for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' {
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		mark := lx.pos
		lx.pos++
		if lx.pos < len(lx.src) && (lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-') {
			lx.pos++
		}
		if lx.pos >= len(lx.src) || !isDigit(lx.src[lx.pos]) {
			return token{}, lx.errorf(mark, lx.src[start:lx.pos], "malformed exponent")
		}
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(lx.src) && isIdentStart(lx.src[lx.pos]) {
		return token{}, lx.errorf(start, lx.src[start:lx.pos+1], "malformed number")
	}
	return token{typ: tokNumber, text: lx.src[start:lx.pos], pos: ast.Pos(start)}, nil
}

func (lx *lexer) ident() (token, error) {
	start := lx.pos
	for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
		lx.pos++
	}
	word := lx.src[start:lx.pos]
	if reserved[word] {
		return token{}, lx.errorf(start, word, "keyword is not allowed in expressions")
	}
	if typ, ok := keywords[word]; ok {
		return token{typ: typ, text: word, pos: ast.Pos(start)}, nil
	}
	return token{typ: tokIdent, text: word, pos: ast.Pos(start)}, nil
}

func (lx *lexer) str(quote byte) (token, error) {
	start := lx.pos
	lx.pos++

	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == quote:
			lx.pos++
			return token{typ: tokString, text: sb.String(), pos: ast.Pos(start)}, nil
		case c == '\\':
			if lx.pos+1 >= len(lx.src) {
				return token{}, lx.errorf(lx.pos, "\\", "unterminated escape")
			}
			esc := lx.src[lx.pos+1]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '\'', '"':
				sb.WriteByte(esc)
			default:
				return token{}, lx.errorf(lx.pos, lx.src[lx.pos:lx.pos+2], "unknown escape sequence")
			}
			lx.pos += 2
		case c == '\n':
			return token{}, lx.errorf(start, lx.src[start:lx.pos], "newline in string literal")
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
	return token{}, lx.errorf(start, lx.src[start:], "unterminated string literal")
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }
