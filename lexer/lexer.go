// Package lexer splits expressions and pipe queries into tokens.
package lexer

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Structural
	TokenPipe   TokenType = iota // |
	TokenLBrace                  // {
	TokenRBrace                  // }
	TokenLParen                  // (
	TokenRParen                  // )
	TokenLBracket                // [
	TokenRBracket                // ]
	TokenComma                   // ,
	TokenEquals                  // = (assignment)
	TokenDot                     // .

	// Operators
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /
	TokenEq    // ==
	TokenNeq   // !=
	TokenLt    // <
	TokenGt    // >
	TokenLte   // <=
	TokenGte   // >=

	// Keywords / logical
	TokenAnd   // and
	TokenOr    // or
	TokenNot   // not
	TokenIs    // is
	TokenTrue  // true
	TokenFalse // false
	TokenNull  // null
	TokenAs    // as
	TokenIn    // in
	TokenOn    // on

	// Literals
	TokenInt    // integer literal
	TokenFloat  // float literal
	TokenString // "string literal"

	// Identifiers
	TokenIdent         // plain identifier (column name, op name)
	TokenBacktickIdent // `identifier with spaces`

	// End
	TokenEOF
)

var tokenNames = map[TokenType]string{
	TokenPipe: "|", TokenLBrace: "{", TokenRBrace: "}", TokenLParen: "(", TokenRParen: ")",
	TokenLBracket: "[", TokenRBracket: "]",
	TokenComma: ",", TokenEquals: "=", TokenDot: ".",
	TokenPlus: "+", TokenMinus: "-", TokenStar: "*", TokenSlash: "/",
	TokenEq: "==", TokenNeq: "!=", TokenLt: "<", TokenGt: ">", TokenLte: "<=", TokenGte: ">=",
	TokenAnd: "and", TokenOr: "or", TokenNot: "not", TokenIs: "is",
	TokenTrue: "true", TokenFalse: "false", TokenNull: "null", TokenAs: "as",
	TokenIn: "in", TokenOn: "on",
	TokenInt: "INT", TokenFloat: "FLOAT", TokenString: "STRING",
	TokenIdent: "IDENT", TokenBacktickIdent: "BACKTICK_IDENT", TokenEOF: "EOF",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Token represents a single lexical token.
type Token struct {
	Type TokenType
	Val  string
	Pos  int // byte offset in original input
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.Type, t.Val, t.Pos)
}

var keywords = map[string]TokenType{
	"and":   TokenAnd,
	"or":    TokenOr,
	"not":   TokenNot,
	"is":    TokenIs,
	"true":  TokenTrue,
	"false": TokenFalse,
	"null":  TokenNull,
	"as":    TokenAs,
	"in":    TokenIn,
	"on":    TokenOn,
}

// operators maps punctuation to tokens. Two-character forms are matched
// before their one-character prefixes.
var (
	operators2 = map[string]TokenType{
		"==": TokenEq, "!=": TokenNeq, "<=": TokenLte, ">=": TokenGte,
	}
	operators1 = map[rune]TokenType{
		'|': TokenPipe, '{': TokenLBrace, '}': TokenRBrace,
		'(': TokenLParen, ')': TokenRParen, '[': TokenLBracket, ']': TokenRBracket,
		',': TokenComma, '=': TokenEquals, '.': TokenDot,
		'+': TokenPlus, '-': TokenMinus, '*': TokenStar, '/': TokenSlash,
		'<': TokenLt, '>': TokenGt,
	}
)

// scanner walks the input one token at a time. Positions are rune offsets.
type scanner struct {
	src    []rune
	pos    int
	tokens []Token
}

// Lex tokenizes an expression or a pipe query. Whitespace and // comments
// are skipped; the result always ends with TokenEOF.
func Lex(input string) ([]Token, error) {
	s := &scanner{src: []rune(input)}
	for s.skipSpace(); s.pos < len(s.src); s.skipSpace() {
		if err := s.scan(); err != nil {
			return nil, err
		}
	}
	s.emit(TokenEOF, "", len(s.src))
	return s.tokens, nil
}

func (s *scanner) emit(tt TokenType, val string, start int) {
	s.tokens = append(s.tokens, Token{Type: tt, Val: val, Pos: start})
}

// at returns the rune at pos+off, or 0 past the end.
func (s *scanner) at(off int) rune {
	if i := s.pos + off; i < len(s.src) {
		return s.src[i]
	}
	return 0
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) {
		switch {
		case unicode.IsSpace(s.src[s.pos]):
			s.pos++
		case s.src[s.pos] == '/' && s.at(1) == '/':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' {
				s.pos++
			}
		default:
			return
		}
	}
}

func (s *scanner) scan() error {
	start := s.pos
	ch := s.src[start]

	switch {
	case ch == '"' || ch == '\'':
		return s.scanString(ch)
	case ch == '`':
		return s.scanBacktick()
	case unicode.IsDigit(ch), ch == '-' && unicode.IsDigit(s.at(1)) && s.negativeAllowed():
		s.scanNumber()
		return nil
	case isIdentStart(ch):
		s.scanIdent()
		return nil
	}

	if s.pos+1 < len(s.src) {
		if tt, ok := operators2[string(s.src[start:start+2])]; ok {
			s.pos += 2
			s.emit(tt, string(s.src[start:s.pos]), start)
			return nil
		}
	}
	if tt, ok := operators1[ch]; ok {
		s.pos++
		s.emit(tt, string(ch), start)
		return nil
	}
	if ch == '!' {
		return fmt.Errorf("unexpected character '!' at position %d (did you mean '!='?)", start)
	}
	return fmt.Errorf("unexpected character %q at position %d", ch, start)
}

// negativeAllowed reports whether a '-' before a digit starts a negative
// literal rather than a subtraction.
func (s *scanner) negativeAllowed() bool {
	if len(s.tokens) == 0 {
		return true
	}
	switch s.tokens[len(s.tokens)-1].Type {
	case TokenLParen, TokenLBracket, TokenComma, TokenEquals, TokenPipe, TokenLBrace,
		TokenPlus, TokenMinus, TokenStar, TokenSlash,
		TokenEq, TokenNeq, TokenLt, TokenGt, TokenLte, TokenGte,
		TokenAnd, TokenOr, TokenNot, TokenIn:
		return true
	}
	return false
}

var escapes = map[rune]rune{'"': '"', '\'': '\'', '\\': '\\', 'n': '\n', 't': '\t'}

func (s *scanner) scanString(quote rune) error {
	start := s.pos
	var sb strings.Builder
	for s.pos++; s.pos < len(s.src); s.pos++ {
		ch := s.src[s.pos]
		switch {
		case ch == quote:
			s.pos++
			s.emit(TokenString, sb.String(), start)
			return nil
		case ch == '\\' && s.pos+1 < len(s.src):
			s.pos++
			if r, ok := escapes[s.src[s.pos]]; ok {
				sb.WriteRune(r)
			} else {
				sb.WriteRune('\\')
				sb.WriteRune(s.src[s.pos])
			}
		default:
			sb.WriteRune(ch)
		}
	}
	return fmt.Errorf("unterminated string starting at position %d", start)
}

func (s *scanner) scanBacktick() error {
	start := s.pos
	end := slices.Index(s.src[start+1:], '`')
	if end < 0 {
		return fmt.Errorf("unterminated backtick identifier starting at position %d", start)
	}
	s.pos = start + 1 + end + 1
	s.emit(TokenBacktickIdent, string(s.src[start+1:s.pos-1]), start)
	return nil
}

// scanNumber reads an integer or a decimal. A dot not followed by a digit
// is left for the caller, so "2024.csv" lexes as INT DOT IDENT.
func (s *scanner) scanNumber() {
	start := s.pos
	if s.src[s.pos] == '-' {
		s.pos++
	}
	s.digits()
	tt := TokenInt
	if s.at(0) == '.' && unicode.IsDigit(s.at(1)) {
		tt = TokenFloat
		s.pos++
		s.digits()
	}
	s.emit(tt, string(s.src[start:s.pos]), start)
}

func (s *scanner) digits() {
	for s.pos < len(s.src) && unicode.IsDigit(s.src[s.pos]) {
		s.pos++
	}
}

func (s *scanner) scanIdent() {
	start := s.pos
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.pos++
	}
	val := string(s.src[start:s.pos])
	if tt, ok := keywords[val]; ok {
		s.emit(tt, val, start)
		return
	}
	s.emit(TokenIdent, val, start)
}

func isIdentStart(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}

func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}
