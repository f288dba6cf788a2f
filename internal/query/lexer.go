package query

import (
	"fmt"
	"strings"
	"unicode"
)

type TokenType int

const (
	TokenTerm TokenType = iota
	TokenPhrase
	TokenRegex
	TokenAnd
	TokenOr
	TokenAll
	TokenLParen
	TokenRParen
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenTerm:
		return "TERM"
	case TokenPhrase:
		return "PHRASE"
	case TokenRegex:
		return "REGEX"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenAll:
		return "ALL"
	case TokenLParen:
		return "LPAREN"
	case TokenRParen:
		return "RPAREN"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token. Regex tokens carry the prefix in Value
// and the pattern in Pattern.
type Token struct {
	Type    TokenType
	Value   string
	Pattern string
}

func (t Token) String() string {
	if t.Type == TokenRegex {
		return fmt.Sprintf("%s(%s:/%s/)", t.Type, t.Value, t.Pattern)
	}
	if t.Value != "" {
		return fmt.Sprintf("%s(%s)", t.Type, t.Value)
	}
	return t.Type.String()
}

// Lexer tokenizes a span expression.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new lexer.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, pos: 0}
}

// Tokenize tokenizes a span expression into tokens.
func Tokenize(query string) ([]Token, error) {
	lexer := NewLexer(query)
	return lexer.TokenizeAll()
}

// TokenizeAll returns all tokens from the input.
func (l *Lexer) TokenizeAll() ([]Token, error) {
	var tokens []Token
	for {
		token, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
		if token.Type == TokenEOF {
			break
		}
	}
	return tokens, nil
}

// NextToken returns the next token.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF}, nil
	}

	switch l.input[l.pos] {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "("}, nil
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")"}, nil
	case '"':
		return l.readPhrase()
	}

	return l.readWord()
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func (l *Lexer) readPhrase() (Token, error) {
	l.pos++
	start := l.pos

	for l.pos < len(l.input) && l.input[l.pos] != '"' {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '"' {
			l.pos += 2
			continue
		}
		l.pos++
	}

	if l.pos >= len(l.input) {
		return Token{}, fmt.Errorf("unterminated phrase at position %d", start-1)
	}

	value := l.input[start:l.pos]
	value = strings.ReplaceAll(value, `\"`, `"`)
	l.pos++

	return Token{Type: TokenPhrase, Value: value}, nil
}

// readRegex reads a /pattern/ starting at the opening slash. A slash inside
// the pattern is escaped as \/.
func (l *Lexer) readRegex(prefix string) (Token, error) {
	open := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '/' {
			sb.WriteByte('/')
			l.pos += 2
			continue
		}
		if ch == '/' {
			l.pos++
			return Token{Type: TokenRegex, Value: prefix, Pattern: sb.String()}, nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return Token{}, fmt.Errorf("unterminated regex at position %d", open)
}

func (l *Lexer) readWord() (Token, error) {
	start := l.pos

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsSpace(rune(ch)) || ch == '(' || ch == ')' || ch == '"' {
			break
		}
		if ch == '/' && l.pos > start && l.input[l.pos-1] == ':' {
			return l.readRegex(l.input[start : l.pos-1])
		}
		l.pos++
	}

	word := l.input[start:l.pos]
	if word == "" {
		return Token{}, fmt.Errorf("unexpected character at position %d", l.pos)
	}

	switch word {
	case "AND":
		return Token{Type: TokenAnd, Value: word}, nil
	case "OR":
		return Token{Type: TokenOr, Value: word}, nil
	case "ALL":
		return Token{Type: TokenAll, Value: word}, nil
	}

	return Token{Type: TokenTerm, Value: word}, nil
}
