package query

import (
	"fmt"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/spans"
)

// Compiler turns a Query AST into span queries over one field.
type Compiler struct {
	Field string
	// DefaultPrefix is used for terms written without a prefix.
	DefaultPrefix string
}

// NewCompiler creates a compiler that defaults to the word prefix.
func NewCompiler(field string) *Compiler {
	return &Compiler{Field: field, DefaultPrefix: analysis.PrefixWord}
}

// Compile compiles q against field with the default compiler settings.
func Compile(q Query, field string) (spans.Query, error) {
	return NewCompiler(field).Compile(q)
}

// CompileString parses and compiles a span expression. Syntax errors are
// reported as invalid requests.
func CompileString(input, field string) (spans.Query, error) {
	q, err := ParseString(input)
	if err != nil {
		return nil, apperr.Invalidf("span expression %q: %v", input, err)
	}
	return Compile(q, field)
}

func (c *Compiler) prefix(p string) string {
	if p == "" {
		return c.DefaultPrefix
	}
	return p
}

// Compile compiles q.
func (c *Compiler) Compile(q Query) (spans.Query, error) {
	switch v := q.(type) {
	case *TermQuery:
		return spans.NewTerm(c.Field, c.prefix(v.Prefix)+":"+v.Value), nil
	case *PhraseQuery:
		clauses := make([]spans.Query, len(v.Terms))
		for i, t := range v.Terms {
			clauses[i] = spans.NewTerm(c.Field, c.prefix(t.Prefix)+":"+t.Value)
		}
		if len(clauses) == 1 {
			return clauses[0], nil
		}
		return spans.NewSequence(c.Field, clauses...), nil
	case *PrefixQuery:
		return spans.NewPrefix(c.Field, c.prefix(v.Prefix)+":"+v.Head), nil
	case *RegexQuery:
		return spans.NewRegexp(c.Field, c.prefix(v.Prefix), v.Pattern)
	case *FuzzyQuery:
		return spans.NewFuzzy(c.Field, c.prefix(v.Prefix), v.Value, v.Fuzziness)
	case *SequenceQuery:
		clauses, err := c.compileAll(v.Clauses)
		if err != nil {
			return nil, err
		}
		return spans.NewSequence(c.Field, clauses...), nil
	case *AndQuery:
		clauses, err := c.compileAll(v.Clauses)
		if err != nil {
			return nil, err
		}
		return spans.NewIntersect(c.Field, clauses...), nil
	case *OrQuery:
		clauses, err := c.compileAll(v.Clauses)
		if err != nil {
			return nil, err
		}
		return spans.NewOr(c.Field, clauses...), nil
	case *MatchAllQuery:
		return spans.NewAllPositions(c.Field), nil
	default:
		return nil, apperr.Invalidf("unknown query type: %T", q)
	}
}

func (c *Compiler) compileAll(nodes []Query) ([]spans.Query, error) {
	out := make([]spans.Query, len(nodes))
	for i, n := range nodes {
		q, err := c.Compile(n)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", n, err)
		}
		out[i] = q
	}
	return out, nil
}
