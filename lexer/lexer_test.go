package lexer

import (
	"testing"
)

func assertTypes(t *testing.T, tokens []Token, expected []TokenType) {
	t.Helper()
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d: %v", len(expected), len(tokens), tokens)
	}
	for i, tt := range expected {
		if tokens[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s (%q)", i, tt, tokens[i].Type, tokens[i].Val)
		}
	}
}

func TestLexBasic(t *testing.T) {
	tokens, err := Lex(`products.csv | head 10`)
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{TokenIdent, TokenDot, TokenIdent, TokenPipe, TokenIdent, TokenInt, TokenEOF})
}

func TestLexFilter(t *testing.T) {
	tokens, err := Lex(`filter { PRICE > 0 and CURRENCY == "EUR" }`)
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{
		TokenIdent, TokenLBrace, TokenIdent, TokenGt, TokenInt,
		TokenAnd, TokenIdent, TokenEq, TokenString, TokenRBrace, TokenEOF,
	})
	if tokens[8].Val != "EUR" {
		t.Errorf("string token value: expected 'EUR', got %q", tokens[8].Val)
	}
}

func TestLexMembership(t *testing.T) {
	tokens, err := Lex(`stock in ["Y", '1', "Yes"]`)
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{
		TokenIdent, TokenIn, TokenLBracket, TokenString, TokenComma,
		TokenString, TokenComma, TokenString, TokenRBracket, TokenEOF,
	})
	if tokens[5].Val != "1" {
		t.Errorf("single-quoted string: expected '1', got %q", tokens[5].Val)
	}
}

func TestLexJoinOn(t *testing.T) {
	tokens, err := Lex(`join existing.json on GROUPING_KEY = GROUPING_KEY`)
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{
		TokenIdent, TokenIdent, TokenDot, TokenIdent, TokenOn,
		TokenIdent, TokenEquals, TokenIdent, TokenEOF,
	})
}

func TestLexBacktick(t *testing.T) {
	tokens, err := Lex("`product name`")
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Type != TokenBacktickIdent {
		t.Errorf("expected backtick ident, got %s", tokens[0].Type)
	}
	if tokens[0].Val != "product name" {
		t.Errorf("expected 'product name', got %q", tokens[0].Val)
	}
}

func TestLexFloats(t *testing.T) {
	tokens, err := Lex("3.14")
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Type != TokenFloat {
		t.Errorf("expected FLOAT, got %s", tokens[0].Type)
	}
	if tokens[0].Val != "3.14" {
		t.Errorf("expected '3.14', got %q", tokens[0].Val)
	}
}

func TestLexNegativeNumber(t *testing.T) {
	tokens, err := Lex("PRICE > -5")
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{TokenIdent, TokenGt, TokenInt, TokenEOF})
	if tokens[2].Val != "-5" {
		t.Errorf("expected '-5', got %q", tokens[2].Val)
	}
}

func TestLexOperators(t *testing.T) {
	tokens, err := Lex("== != <= >= < > + - * /")
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{
		TokenEq, TokenNeq, TokenLte, TokenGte, TokenLt, TokenGt,
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenEOF,
	})
}

func TestLexIsNull(t *testing.T) {
	tokens, err := Lex("joined_ID is not null")
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{TokenIdent, TokenIs, TokenNot, TokenNull, TokenEOF})
}

func TestLexStringEscape(t *testing.T) {
	tokens, err := Lex(`"hello \"world\""`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Val != `hello "world"` {
		t.Errorf("expected 'hello \"world\"', got %q", tokens[0].Val)
	}
	tokens, err = Lex(`'it\'s'`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Val != "it's" {
		t.Errorf("expected \"it's\", got %q", tokens[0].Val)
	}
}

func TestLexComment(t *testing.T) {
	tokens, err := Lex("PRICE // this is a comment\n+ 5")
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{TokenIdent, TokenPlus, TokenInt, TokenEOF})
}

func TestLexUnterminated(t *testing.T) {
	if _, err := Lex(`"open`); err == nil {
		t.Error("expected error for unterminated string")
	}
	if _, err := Lex("`open"); err == nil {
		t.Error("expected error for unterminated backtick")
	}
	if _, err := Lex("a ! b"); err == nil {
		t.Error("expected error for lone '!'")
	}
}

func TestLexPositionsAndFilenames(t *testing.T) {
	tokens, err := Lex(`feeds/2024.csv | with d = -1`)
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokens, []TokenType{
		TokenIdent, TokenSlash, TokenInt, TokenDot, TokenIdent,
		TokenPipe, TokenIdent, TokenIdent, TokenEquals, TokenInt, TokenEOF,
	})
	if tokens[9].Val != "-1" {
		t.Errorf("expected negative literal -1, got %q", tokens[9].Val)
	}
	if tokens[5].Pos != 15 {
		t.Errorf("expected pipe at position 15, got %d", tokens[5].Pos)
	}
	if last := tokens[len(tokens)-1]; last.Pos != 28 {
		t.Errorf("expected EOF at position 28, got %d", last.Pos)
	}
}
