package function

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokVar
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind  tokenKind
	text  string
	num   float64
	index int // argument index for $qK
	pos   int
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := rune(input[i])
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case ch == '+' || ch == '-' || ch == '*' || ch == '/':
			tokens = append(tokens, token{kind: tokOp, text: string(ch), pos: i})
			i++
		case ch == '$':
			start := i
			i++
			for i < len(input) && (unicode.IsLetter(rune(input[i])) || unicode.IsDigit(rune(input[i]))) {
				i++
			}
			tok, err := variable(input[start:i], start)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		case unicode.IsDigit(ch) || ch == '.':
			start := i
			for i < len(input) && (unicode.IsDigit(rune(input[i])) || input[i] == '.') {
				i++
			}
			if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
				i++
				if i < len(input) && (input[i] == '+' || input[i] == '-') {
					i++
				}
				for i < len(input) && unicode.IsDigit(rune(input[i])) {
					i++
				}
			}
			v, err := strconv.ParseFloat(input[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", input[start:i], start)
			}
			tokens = append(tokens, token{kind: tokNumber, text: input[start:i], num: v, pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", ch, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(input)}), nil
}

func variable(text string, pos int) (token, error) {
	switch {
	case text == "$n" || text == "$d":
		return token{kind: tokVar, text: text, pos: pos}, nil
	case len(text) > 2 && text[:2] == "$q":
		k, err := strconv.Atoi(text[2:])
		if err != nil || k < 0 {
			return token{}, fmt.Errorf("invalid argument variable %q at %d", text, pos)
		}
		return token{kind: tokVar, text: text, index: k, pos: pos}, nil
	}
	return token{}, fmt.Errorf("unknown variable %q at %d", text, pos)
}

type parser struct {
	tokens []token
	pos    int
	arity  int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// expr := term (('+' | '-') term)*
func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.text == "+" || t.text == "-"); t = p.peek() {
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binary{op: t.text[0], left: left, right: right}
	}
	return left, nil
}

// term := unary (('*' | '/') unary)*
func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.text == "*" || t.text == "/"); t = p.peek() {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binary{op: t.text[0], left: left, right: right}
	}
	return left, nil
}

func (p *parser) unary() (node, error) {
	if t := p.peek(); t.kind == tokOp && t.text == "-" {
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &negate{inner: inner}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &constant{value: t.num}, nil
	case tokVar:
		switch t.text {
		case "$n":
			return &positions{}, nil
		case "$d":
			return &documents{}, nil
		}
		if t.index >= p.arity {
			return nil, fmt.Errorf("%s used with only %d arguments", t.text, p.arity)
		}
		return &argument{index: t.index}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at %d", t.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}
