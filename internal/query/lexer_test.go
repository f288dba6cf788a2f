package query

import (
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
	}{
		{
			name:  "single term",
			input: "w:hello",
			expected: []Token{
				{Type: TokenTerm, Value: "w:hello"},
				{Type: TokenEOF},
			},
		},
		{
			name:  "juxtaposed terms",
			input: "w:hello t:World",
			expected: []Token{
				{Type: TokenTerm, Value: "w:hello"},
				{Type: TokenTerm, Value: "t:World"},
				{Type: TokenEOF},
			},
		},
		{
			name:  "AND and OR",
			input: "a AND b OR c",
			expected: []Token{
				{Type: TokenTerm, Value: "a"},
				{Type: TokenAnd, Value: "AND"},
				{Type: TokenTerm, Value: "b"},
				{Type: TokenOr, Value: "OR"},
				{Type: TokenTerm, Value: "c"},
				{Type: TokenEOF},
			},
		},
		{
			name:  "ALL keyword",
			input: "ALL",
			expected: []Token{
				{Type: TokenAll, Value: "ALL"},
				{Type: TokenEOF},
			},
		},
		{
			name:  "parentheses",
			input: "(w:a)",
			expected: []Token{
				{Type: TokenLParen, Value: "("},
				{Type: TokenTerm, Value: "w:a"},
				{Type: TokenRParen, Value: ")"},
				{Type: TokenEOF},
			},
		},
		{
			name:  "phrase",
			input: `"w:the w:cat"`,
			expected: []Token{
				{Type: TokenPhrase, Value: "w:the w:cat"},
				{Type: TokenEOF},
			},
		},
		{
			name:  "regex with spaces and escaped slash",
			input: `w:/a b|c\/d/ x`,
			expected: []Token{
				{Type: TokenRegex, Value: "w", Pattern: "a b|c/d"},
				{Type: TokenTerm, Value: "x"},
				{Type: TokenEOF},
			},
		},
		{
			name:  "prefix and fuzzy stay terms",
			input: "w:ca* w:helo~1",
			expected: []Token{
				{Type: TokenTerm, Value: "w:ca*"},
				{Type: TokenTerm, Value: "w:helo~1"},
				{Type: TokenEOF},
			},
		},
		{
			name:     "empty input",
			input:    "   ",
			expected: []Token{{Type: TokenEOF}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := Tokenize(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(tokens) != len(tt.expected) {
				t.Fatalf("got %d tokens %v, want %d %v", len(tokens), tokens, len(tt.expected), tt.expected)
			}
			for i, tok := range tokens {
				if tok != tt.expected[i] {
					t.Errorf("token %d: got %v, want %v", i, tok, tt.expected[i])
				}
			}
		})
	}
}

func TestTokenize_Errors(t *testing.T) {
	for _, input := range []string{`"unterminated`, `w:/open`} {
		if _, err := Tokenize(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestTokenTypeString(t *testing.T) {
	if TokenRegex.String() != "REGEX" || TokenType(99).String() != "UNKNOWN" {
		t.Error("unexpected token type names")
	}
	tok := Token{Type: TokenRegex, Value: "w", Pattern: "a."}
	if tok.String() != "REGEX(w:/a./)" {
		t.Errorf("got %q", tok.String())
	}
}
