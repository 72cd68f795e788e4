package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/lexer"
	"github.com/razeghi71/feedflow/table"
)

// Parser converts a token stream into an AST.
type Parser struct {
	tokens []lexer.Token
	pos    int
}

// Parse parses a full query string into a Query AST.
func Parse(input string) (*ast.Query, error) {
	tokens, err := lexer.Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}
	p := &Parser{tokens: tokens, pos: 0}
	return p.parseQuery()
}

// ParseExpr parses a single expression, as used by job files.
func ParseExpr(input string) (ast.Expr, error) {
	tokens, err := lexer.Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}
	p := &Parser{tokens: tokens, pos: 0}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != lexer.TokenEOF {
		return nil, fmt.Errorf("unexpected token %s (%q) at position %d", p.peek().Type, p.peek().Val, p.peek().Pos)
	}
	return expr, nil
}

func (p *Parser) peek() lexer.Token {
	if p.pos >= len(p.tokens) {
		return lexer.Token{Type: lexer.TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, fmt.Errorf("expected %s, got %s (%q) at position %d", tt, tok.Type, tok.Val, tok.Pos)
	}
	return tok, nil
}

func (p *Parser) parseQuery() (*ast.Query, error) {
	// Parse source: filename (could contain dots like "users.csv")
	source, err := p.parseSource()
	if err != nil {
		return nil, err
	}

	var ops []ast.Op
	for p.peek().Type == lexer.TokenPipe {
		p.advance() // consume |
		op, err := p.parseOp()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	if p.peek().Type != lexer.TokenEOF {
		return nil, fmt.Errorf("unexpected token %s (%q) at position %d", p.peek().Type, p.peek().Val, p.peek().Pos)
	}

	return &ast.Query{Source: source, Ops: ops}, nil
}

func (p *Parser) parseSource() (*ast.SourceOp, error) {
	// Filename can be like "path/to/users.csv" which tokenizes as
	// IDENT SLASH IDENT SLASH IDENT DOT IDENT
	// Or a quoted string: "my file.csv"
	tok := p.advance()
	if tok.Type == lexer.TokenString {
		return &ast.SourceOp{Filename: tok.Val}, nil
	}
	if tok.Type != lexer.TokenIdent && tok.Type != lexer.TokenBacktickIdent {
		return nil, fmt.Errorf("expected filename, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}

	filename := tok.Val

	// Consume subsequent /ident and .ident sequences to form full file path
	for p.peek().Type == lexer.TokenDot || p.peek().Type == lexer.TokenSlash {
		sep := p.advance()
		next := p.advance()
		if next.Type != lexer.TokenIdent && next.Type != lexer.TokenInt {
			return nil, fmt.Errorf("expected path component after %q, got %s at position %d", sep.Val, next.Type, next.Pos)
		}
		filename += sep.Val + next.Val
	}

	return &ast.SourceOp{Filename: filename}, nil
}

// columnOps are the stages written as a name followed by column names.
var columnOps = map[string]func(cols []string) ast.Op{
	"select":   func(c []string) ast.Op { return &ast.SelectOp{Columns: c} },
	"sorta":    func(c []string) ast.Op { return &ast.SortOp{Columns: c} },
	"sortd":    func(c []string) ast.Op { return &ast.SortOp{Columns: c, Desc: true} },
	"dedup":    func(c []string) ast.Op { return &ast.DropDuplicatesOp{Columns: c} },
	"distinct": func(c []string) ast.Op { return &ast.DropDuplicatesOp{Columns: c} },
	"drop":     func(c []string) ast.Op { return &ast.DropOp{Columns: c} },
	"remove":   func(c []string) ast.Op { return &ast.DropOp{Columns: c} },
}

func (p *Parser) parseOp() (ast.Op, error) {
	tok := p.peek()
	if tok.Type != lexer.TokenIdent {
		return nil, fmt.Errorf("expected operation name, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}
	if build, ok := columnOps[tok.Val]; ok {
		p.advance()
		cols := p.parseColumnList()
		if len(cols) == 0 {
			return nil, fmt.Errorf("%s: expected at least one column at position %d", tok.Val, p.peek().Pos)
		}
		return build(cols), nil
	}

	switch tok.Val {
	case "head":
		p.advance()
		n, err := p.parseInt()
		if err != nil {
			return nil, fmt.Errorf("head: %w", err)
		}
		return &ast.HeadOp{N: n}, nil
	case "filter":
		return p.parseFilter()
	case "with", "transform":
		p.advance()
		assignments, err := p.parseAssignments()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tok.Val, err)
		}
		return &ast.WithEntriesOp{Assignments: assignments}, nil
	case "aggregate":
		return p.parseAggregate()
	case "rename":
		return p.parseRename()
	case "join":
		return p.parseJoin()
	default:
		return nil, fmt.Errorf("unknown operation %q at position %d", tok.Val, tok.Pos)
	}
}

// parseFilter parses "filter ["label"] { expr }".
func (p *Parser) parseFilter() (ast.Op, error) {
	p.advance()
	label := ""
	if p.peek().Type == lexer.TokenString {
		label = p.advance().Val
	}
	var expr ast.Expr
	err := p.parseBraced(func() (err error) {
		expr, err = p.parseExpr()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return &ast.FilterOp{Expr: expr, Label: label}, nil
}

// parseAggregate parses "aggregate col... { name = expr, ... }".
func (p *Parser) parseAggregate() (ast.Op, error) {
	p.advance()
	cols := p.parseColumnList()
	if len(cols) == 0 {
		return nil, fmt.Errorf("aggregate: expected at least one group column")
	}
	var assignments []ast.Assignment
	err := p.parseBraced(func() (err error) {
		assignments, err = p.parseAssignments()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return &ast.AggregateOp{By: cols, Assignments: assignments}, nil
}

// parseBraced runs body between "{" and "}".
func (p *Parser) parseBraced(body func() error) error {
	if _, err := p.expect(lexer.TokenLBrace); err != nil {
		return err
	}
	if err := body(); err != nil {
		return err
	}
	_, err := p.expect(lexer.TokenRBrace)
	return err
}

func (p *Parser) parseRename() (ast.Op, error) {
	p.advance()
	var pairs []ast.RenamePair
	for isColumnToken(p.peek()) {
		oldTok := p.advance()
		newTok := p.advance()
		if !isColumnToken(newTok) {
			return nil, fmt.Errorf("rename: expected new column name, got %s (%q)", newTok.Type, newTok.Val)
		}
		pairs = append(pairs, ast.RenamePair{Old: oldTok.Val, New: newTok.Val})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("rename: expected at least one old/new pair")
	}
	return &ast.RenameOp{Pairs: pairs}, nil
}

// parseJoin parses "join <file> on L = R[, L2 = R2] [as prefix]".
func (p *Parser) parseJoin() (ast.Op, error) {
	p.advance() // consume "join"
	src, err := p.parseSource()
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	if _, err := p.expect(lexer.TokenOn); err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}

	var keys []ast.JoinKey
	for {
		left, err := p.parseColumnName()
		if err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
		right := left
		if p.peek().Type == lexer.TokenEquals || p.peek().Type == lexer.TokenEq {
			p.advance()
			right, err = p.parseColumnName()
			if err != nil {
				return nil, fmt.Errorf("join: %w", err)
			}
		}
		keys = append(keys, ast.JoinKey{Left: left, Right: right})
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance() // consume comma
	}

	op := &ast.JoinOp{Table: src.Filename, Keys: keys}
	if p.peek().Type == lexer.TokenAs {
		p.advance() // consume "as"
		tok := p.advance()
		switch tok.Type {
		case lexer.TokenString, lexer.TokenIdent, lexer.TokenBacktickIdent:
			op.Prefix = tok.Val
		default:
			return nil, fmt.Errorf("join: expected prefix after 'as', got %s", tok.Type)
		}
	}
	return op, nil
}

// --- Helpers ---

func (p *Parser) parseInt() (int, error) {
	tok := p.advance()
	if tok.Type != lexer.TokenInt {
		return 0, fmt.Errorf("expected integer, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}
	n, err := strconv.Atoi(tok.Val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", tok.Val, err)
	}
	return n, nil
}

// parseColumnList reads identifiers until the next non-column token.
func (p *Parser) parseColumnList() []string {
	var cols []string
	for isColumnToken(p.peek()) {
		cols = append(cols, p.advance().Val)
	}
	return cols
}

func isColumnToken(tok lexer.Token) bool {
	return tok.Type == lexer.TokenIdent || tok.Type == lexer.TokenBacktickIdent
}

func (p *Parser) parseColumnName() (string, error) {
	tok := p.advance()
	if !isColumnToken(tok) {
		return "", fmt.Errorf("expected column name, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}
	return tok.Val, nil
}

// parseAssignments parses comma-separated "col = expr" assignments.
func (p *Parser) parseAssignments() ([]ast.Assignment, error) {
	var assignments []ast.Assignment

	for {
		colTok := p.advance()
		if !isColumnToken(colTok) {
			return nil, fmt.Errorf("expected column name in assignment, got %s (%q)", colTok.Type, colTok.Val)
		}

		if _, err := p.expect(lexer.TokenEquals); err != nil {
			return nil, fmt.Errorf("expected '=' after column %q: %w", colTok.Val, err)
		}

		expr, err := p.parseExpr()
		if err != nil {
			return nil, fmt.Errorf("in assignment for %q: %w", colTok.Val, err)
		}

		assignments = append(assignments, ast.Assignment{Column: colTok.Val, Expr: expr})

		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance() // consume comma
	}

	return assignments, nil
}

// --- Expression parsing (Pratt parser / precedence climbing) ---

// Precedence levels
const (
	precOr    = 1
	precAnd   = 2
	precComp  = 3
	precAdd   = 4
	precMul   = 5
	precUnary = 6
)

func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseExprPrec(precOr)
}

func (p *Parser) parseExprPrec(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		// Postfix forms bind like comparisons: "in [...]", "is [not] null|true"
		if t := p.peek().Type; (t == lexer.TokenIn || t == lexer.TokenIs) && precComp >= minPrec {
			left, err = p.parsePostfix(left)
			if err != nil {
				return nil, err
			}
			continue
		}

		op, prec, ok := p.peekBinaryOp()
		if !ok || prec < minPrec {
			break
		}
		p.advance() // consume the operator

		right, err := p.parseExprPrec(prec + 1) // left-associative
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right}
	}

	return left, nil
}

func (p *Parser) parsePostfix(left ast.Expr) (ast.Expr, error) {
	if p.advance().Type == lexer.TokenIn {
		list, err := p.parseStringList()
		if err != nil {
			return nil, fmt.Errorf("in: %w", err)
		}
		return ast.In(left, list...), nil
	}

	negated := false
	if p.peek().Type == lexer.TokenNot {
		p.advance() // consume "not"
		negated = true
	}
	switch p.advance().Type {
	case lexer.TokenNull:
		return &ast.IsNullExpr{Operand: left, Negated: negated}, nil
	case lexer.TokenTrue:
		if negated {
			return ast.Not(ast.IsTrue(left)), nil
		}
		return ast.IsTrue(left), nil
	}
	if negated {
		return nil, fmt.Errorf("expected 'null' or 'true' after 'is not'")
	}
	return nil, fmt.Errorf("expected 'null' or 'true' after 'is'")
}

// parseStringList parses ["a", 'b', 1] into its string forms.
func (p *Parser) parseStringList() ([]string, error) {
	if _, err := p.expect(lexer.TokenLBracket); err != nil {
		return nil, err
	}
	var out []string
	for p.peek().Type != lexer.TokenRBracket {
		tok := p.advance()
		switch tok.Type {
		case lexer.TokenString, lexer.TokenInt, lexer.TokenFloat:
			out = append(out, tok.Val)
		case lexer.TokenTrue, lexer.TokenFalse:
			out = append(out, tok.Val)
		case lexer.TokenMinus:
			num := p.advance()
			if num.Type != lexer.TokenInt && num.Type != lexer.TokenFloat {
				return nil, fmt.Errorf("expected number after '-', got %s", num.Type)
			}
			out = append(out, "-"+num.Val)
		default:
			return nil, fmt.Errorf("expected literal in list, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
		}
		if p.peek().Type == lexer.TokenComma {
			p.advance()
			continue
		}
		if p.peek().Type != lexer.TokenRBracket {
			return nil, fmt.Errorf("expected ',' or ']' in list, got %s", p.peek().Type)
		}
	}
	p.advance() // consume ]
	return out, nil
}

func (p *Parser) peekBinaryOp() (string, int, bool) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenOr:
		return "or", precOr, true
	case lexer.TokenAnd:
		return "and", precAnd, true
	case lexer.TokenEq:
		return "==", precComp, true
	case lexer.TokenNeq:
		return "!=", precComp, true
	case lexer.TokenLt:
		return "<", precComp, true
	case lexer.TokenGt:
		return ">", precComp, true
	case lexer.TokenLte:
		return "<=", precComp, true
	case lexer.TokenGte:
		return ">=", precComp, true
	case lexer.TokenPlus:
		return "+", precAdd, true
	case lexer.TokenMinus:
		return "-", precAdd, true
	case lexer.TokenStar:
		return "*", precMul, true
	case lexer.TokenSlash:
		return "/", precMul, true
	}
	return "", 0, false
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.peek().Type == lexer.TokenNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "not", Operand: operand}, nil
	}
	if p.peek().Type == lexer.TokenMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.peek()

	switch tok.Type {
	case lexer.TokenInt:
		p.advance()
		v, err := strconv.ParseInt(tok.Val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", tok.Val, err)
		}
		return &ast.LiteralExpr{Value: table.IntVal(v)}, nil

	case lexer.TokenFloat:
		p.advance()
		v, err := strconv.ParseFloat(tok.Val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", tok.Val, err)
		}
		return &ast.LiteralExpr{Value: table.FloatVal(v)}, nil

	case lexer.TokenString:
		p.advance()
		return &ast.LiteralExpr{Value: table.StrVal(tok.Val)}, nil

	case lexer.TokenTrue:
		p.advance()
		return &ast.LiteralExpr{Value: table.BoolVal(true)}, nil

	case lexer.TokenFalse:
		p.advance()
		return &ast.LiteralExpr{Value: table.BoolVal(false)}, nil

	case lexer.TokenNull:
		p.advance()
		return ast.Null(), nil

	case lexer.TokenBacktickIdent:
		p.advance()
		return &ast.ColumnExpr{Name: tok.Val}, nil

	case lexer.TokenIdent:
		p.advance()
		// Check if it's a function call
		if p.peek().Type == lexer.TokenLParen {
			return p.parseFuncCall(tok.Val)
		}
		return &ast.ColumnExpr{Name: tok.Val}, nil

	case lexer.TokenLBracket:
		list, err := p.parseStringList()
		if err != nil {
			return nil, err
		}
		return &ast.LiteralExpr{Value: table.StrList(list...)}, nil

	case lexer.TokenLParen:
		p.advance() // consume (
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	default:
		return nil, fmt.Errorf("unexpected token %s (%q) at position %d in expression", tok.Type, tok.Val, tok.Pos)
	}
}

func (p *Parser) parseFuncCall(name string) (ast.Expr, error) {
	p.advance() // consume (
	name = strings.ToLower(name)

	var args []ast.Expr
	if p.peek().Type != lexer.TokenRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, fmt.Errorf("in function %s: %w", name, err)
			}
			args = append(args, arg)
			if p.peek().Type != lexer.TokenComma {
				break
			}
			p.advance() // consume comma
		}
	}

	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, fmt.Errorf("in function %s: %w", name, err)
	}

	return buildCall(name, args)
}

// buildCall maps the functions with dedicated expression nodes.
func buildCall(name string, args []ast.Expr) (ast.Expr, error) {
	switch name {
	case "path", "paths":
		if len(args) != 2 {
			return nil, etlerr.Configf("%s() takes 2 arguments, got %d", name, len(args))
		}
		raw, ok := stringLiteral(args[1])
		if !ok {
			return nil, etlerr.Configf("%s(): path must be a string literal", name)
		}
		if name == "paths" {
			return ast.PathAll(args[0], raw)
		}
		return ast.Path(args[0], raw)
	case "when", "if":
		if len(args) != 3 {
			return nil, etlerr.Configf("%s() takes 3 arguments, got %d", name, len(args))
		}
		return ast.When(args[0], args[1], args[2]), nil
	case "implode":
		if len(args) != 2 {
			return nil, etlerr.Configf("implode() takes 2 arguments, got %d", len(args))
		}
		sep, ok := stringLiteral(args[1])
		if !ok {
			return nil, etlerr.Configf("implode(): separator must be a string literal")
		}
		return ast.Implode(args[0], sep)
	case "is_true":
		if len(args) != 1 {
			return nil, etlerr.Configf("is_true() takes 1 argument, got %d", len(args))
		}
		return ast.IsTrue(args[0]), nil
	}
	return &ast.FuncCallExpr{Name: name, Args: args}, nil
}

func stringLiteral(e ast.Expr) (string, bool) {
	lit, ok := e.(*ast.LiteralExpr)
	if !ok || lit.Value.Type != table.TypeString {
		return "", false
	}
	return lit.Value.Str, true
}
