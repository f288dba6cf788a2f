package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser parses tokens into a Query AST. Precedence from loosest to
// tightest: OR, AND, juxtaposition (sequence).
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a new parser.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens, pos: 0}
}

// Parse parses tokens into a Query AST.
func Parse(tokens []Token) (Query, error) {
	parser := NewParser(tokens)
	return parser.Parse()
}

// ParseString tokenizes and parses a span expression.
func ParseString(input string) (Query, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	return Parse(tokens)
}

// Parse parses the tokens into a Query AST. An empty input matches every
// position.
func (p *Parser) Parse() (Query, error) {
	if len(p.tokens) == 0 || (len(p.tokens) == 1 && p.tokens[0].Type == TokenEOF) {
		return &MatchAllQuery{}, nil
	}

	query, err := p.parseOrExpr()
	if err != nil {
		return nil, err
	}

	if p.current().Type != TokenEOF {
		return nil, fmt.Errorf("unexpected token at position %d: %s", p.pos, p.current())
	}

	return query, nil
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	token := p.current()
	p.pos++
	return token
}

func (p *Parser) peek() Token {
	return p.current()
}

func (p *Parser) parseOrExpr() (Query, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}

	orClauses := []Query{left}
	for p.peek().Type == TokenOr {
		p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		orClauses = append(orClauses, right)
	}

	if len(orClauses) == 1 {
		return orClauses[0], nil
	}
	return &OrQuery{Clauses: orClauses}, nil
}

func (p *Parser) parseAndExpr() (Query, error) {
	left, err := p.parseSequence()
	if err != nil {
		return nil, err
	}

	andClauses := []Query{left}
	for p.peek().Type == TokenAnd {
		p.advance()
		right, err := p.parseSequence()
		if err != nil {
			return nil, err
		}
		andClauses = append(andClauses, right)
	}

	if len(andClauses) == 1 {
		return andClauses[0], nil
	}
	return &AndQuery{Clauses: andClauses}, nil
}

func (p *Parser) parseSequence() (Query, error) {
	first, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	clauses := []Query{first}
	for {
		switch p.peek().Type {
		case TokenTerm, TokenPhrase, TokenRegex, TokenAll, TokenLParen:
			next, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, next)
			continue
		}
		break
	}

	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return &SequenceQuery{Clauses: clauses}, nil
}

func (p *Parser) parsePrimary() (Query, error) {
	token := p.peek()

	switch token.Type {
	case TokenLParen:
		return p.parseGrouped()
	case TokenPhrase:
		p.advance()
		return parsePhrase(token.Value)
	case TokenRegex:
		p.advance()
		if token.Pattern == "" {
			return nil, fmt.Errorf("empty regex for prefix %q", token.Value)
		}
		return &RegexQuery{Prefix: token.Value, Pattern: token.Pattern}, nil
	case TokenAll:
		p.advance()
		return &MatchAllQuery{}, nil
	case TokenTerm:
		p.advance()
		return parseWord(token.Value)
	case TokenEOF:
		return nil, fmt.Errorf("unexpected end of query")
	default:
		return nil, fmt.Errorf("unexpected token: %s", token)
	}
}

func (p *Parser) parseGrouped() (Query, error) {
	p.advance()

	expr, err := p.parseOrExpr()
	if err != nil {
		return nil, err
	}

	if p.peek().Type != TokenRParen {
		return nil, fmt.Errorf("expected ')' at position %d, got %s", p.pos, p.peek())
	}
	p.advance()

	return expr, nil
}

// parseWord classifies prefix:value, prefix:head* and prefix:value~N.
func parseWord(word string) (Query, error) {
	prefix, value := "", word
	if i := strings.IndexByte(word, ':'); i > 0 {
		prefix, value = word[:i], word[i+1:]
	} else if i == 0 {
		return nil, fmt.Errorf("missing prefix before ':' in %q", word)
	}
	if value == "" {
		return nil, fmt.Errorf("expected value after prefix '%s:'", prefix)
	}

	if strings.HasSuffix(value, "*") {
		return &PrefixQuery{Prefix: prefix, Head: strings.TrimSuffix(value, "*")}, nil
	}
	if i := strings.LastIndexByte(value, '~'); i > 0 {
		distance, err := strconv.ParseUint(value[i+1:], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid fuzziness in %q", word)
		}
		return &FuzzyQuery{Prefix: prefix, Value: value[:i], Fuzziness: uint8(distance)}, nil
	}
	return &TermQuery{Prefix: prefix, Value: value}, nil
}

func parsePhrase(phrase string) (Query, error) {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil, fmt.Errorf("empty phrase")
	}
	terms := make([]*TermQuery, 0, len(words))
	for _, w := range words {
		q, err := parseWord(w)
		if err != nil {
			return nil, err
		}
		tq, ok := q.(*TermQuery)
		if !ok {
			return nil, fmt.Errorf("phrase accepts plain terms only, got %s", q)
		}
		terms = append(terms, tq)
	}
	return &PhraseQuery{Terms: terms}, nil
}
