package parser

import "testing"

func tokenize(t *testing.T, src string) []Token {
	t.Helper()
	tokens, err := NewLexer(src, "test.basm").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	return tokens
}

func TestTokenizeInstructionLine(t *testing.T) {
	tokens := tokenize(t, "mov rax, 1")

	want := []struct {
		typ     TokenType
		literal string
	}{
		{TokenInstruction, "mov"},
		{TokenRegister, "rax"},
		{TokenComma, ""},
		{TokenInt, "1"},
		{TokenEOF, ""},
	}

	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, w := range want {
		if tokens[i].Type != w.typ || tokens[i].Literal != w.literal {
			t.Errorf("token %d = %s, want %s(%q)", i, tokens[i], w.typ, w.literal)
		}
	}
}

func TestTokenizeMnemonicAliases(t *testing.T) {
	tests := []struct {
		spelling  string
		canonical string
	}{
		{"pushr", "pushr"},
		{"pushreg", "pushr"},
		{"pushrf", "pushrf"},
		{"pushregf", "pushrf"},
		{"displaychar", "displaychar"},
		{"displayc", "displaychar"},
		{"putc", "displaychar"},
		{"getfromstackpointer", "getfromsp"},
		{"getfromsp", "getfromsp"},
	}

	for _, tt := range tests {
		tokens := tokenize(t, tt.spelling)
		if tokens[0].Type != TokenInstruction || tokens[0].Literal != tt.canonical {
			t.Errorf("%s lexed as %s, want INSTRUCTION(%q)", tt.spelling, tokens[0], tt.canonical)
		}
	}
}

func TestTokenizeLabelStructure(t *testing.T) {
	tokens := tokenize(t, "label main:\n  halt\nendlabel")

	wantTypes := []TokenType{
		TokenLabel, TokenIdentifier, TokenColon,
		TokenInstruction, TokenEndLabel, TokenEOF,
	}
	for i, w := range wantTypes {
		if tokens[i].Type != w {
			t.Errorf("token %d = %s, want %s", i, tokens[i], w)
		}
	}
}

func TestTokenizeNumbers(t *testing.T) {
	tests := []struct {
		src     string
		typ     TokenType
		literal string
	}{
		{"42", TokenInt, "42"},
		{"-7", TokenInt, "-7"},
		{"3.14", TokenFloat, "3.14"},
		{"-0.5", TokenFloat, "-0.5"},
	}

	for _, tt := range tests {
		tokens := tokenize(t, tt.src)
		if tokens[0].Type != tt.typ || tokens[0].Literal != tt.literal {
			t.Errorf("%s lexed as %s, want %s(%q)", tt.src, tokens[0], tt.typ, tt.literal)
		}
	}
}

func TestTokenizeRejectsDoubleDot(t *testing.T) {
	if _, err := NewLexer("1.2.3", "test.basm").Tokenize(); err == nil {
		t.Error("1.2.3 tokenized without error")
	}
}

func TestTokenizeComments(t *testing.T) {
	tokens := tokenize(t, "halt ; stop the machine\n; a full-line comment\nret")
	wantTypes := []TokenType{TokenInstruction, TokenInstruction, TokenEOF}
	if len(tokens) != len(wantTypes) {
		t.Fatalf("got %d tokens: %v", len(tokens), tokens)
	}
	for i, w := range wantTypes {
		if tokens[i].Type != w {
			t.Errorf("token %d = %s, want %s", i, tokens[i], w)
		}
	}
}

func TestTokenizeString(t *testing.T) {
	tokens := tokenize(t, `@import("lib.basm")`)

	wantTypes := []TokenType{TokenAt, TokenIdentifier, TokenLParen, TokenString, TokenRParen, TokenEOF}
	for i, w := range wantTypes {
		if tokens[i].Type != w {
			t.Fatalf("token %d = %s, want %s", i, tokens[i], w)
		}
	}
	if tokens[3].Literal != "lib.basm" {
		t.Errorf("string literal = %q", tokens[3].Literal)
	}
}

func TestTokenizeUnterminatedString(t *testing.T) {
	if _, err := NewLexer(`@import("oops`, "test.basm").Tokenize(); err == nil {
		t.Error("unterminated string tokenized without error")
	}
}

func TestTokenizeFlagsAndFloatRegisters(t *testing.T) {
	tokens := tokenize(t, "getflag rax, eqf\nmovf fa, 1.5")

	if tokens[3].Type != TokenFlag || tokens[3].Literal != "eqf" {
		t.Errorf("flag token = %s", tokens[3])
	}
	if tokens[5].Type != TokenFloatRegister || tokens[5].Literal != "fa" {
		t.Errorf("float register token = %s", tokens[5])
	}
}

func TestTokenizeRejectsUnknownCharacter(t *testing.T) {
	if _, err := NewLexer("mov rax, #1", "test.basm").Tokenize(); err == nil {
		t.Error("'#' tokenized without error")
	}
}

func TestTokenPositions(t *testing.T) {
	tokens := tokenize(t, "halt\n  ret")
	if tokens[0].Pos.Line != 1 {
		t.Errorf("halt line = %d, want 1", tokens[0].Pos.Line)
	}
	if tokens[1].Pos.Line != 2 {
		t.Errorf("ret line = %d, want 2", tokens[1].Pos.Line)
	}
}
