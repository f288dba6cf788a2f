package query

import (
	"fmt"
	"strings"
)

// Query is the interface for all span expression nodes.
type Query interface {
	queryNode()
	String() string
}

// TermQuery matches one annotated token. An empty Prefix means the
// compiler's default prefix.
type TermQuery struct {
	Prefix string
	Value  string
}

func (q *TermQuery) queryNode() {}

func (q *TermQuery) String() string {
	return fmt.Sprintf("term(%s:%s)", q.Prefix, q.Value)
}

// PhraseQuery is a quoted list of terms matched at adjacent positions.
type PhraseQuery struct {
	Terms []*TermQuery
}

func (q *PhraseQuery) queryNode() {}

func (q *PhraseQuery) String() string {
	parts := make([]string, len(q.Terms))
	for i, t := range q.Terms {
		parts[i] = t.Prefix + ":" + t.Value
	}
	return fmt.Sprintf("phrase(\"%s\")", strings.Join(parts, " "))
}

// PrefixQuery matches tokens whose value starts with Head.
type PrefixQuery struct {
	Prefix string
	Head   string
}

func (q *PrefixQuery) queryNode() {}

func (q *PrefixQuery) String() string {
	return fmt.Sprintf("prefix(%s:%s*)", q.Prefix, q.Head)
}

// RegexQuery matches tokens whose value matches Pattern.
type RegexQuery struct {
	Prefix  string
	Pattern string
}

func (q *RegexQuery) queryNode() {}

func (q *RegexQuery) String() string {
	return fmt.Sprintf("regex(%s:/%s/)", q.Prefix, q.Pattern)
}

// FuzzyQuery matches tokens within an edit distance of Value.
type FuzzyQuery struct {
	Prefix    string
	Value     string
	Fuzziness uint8
}

func (q *FuzzyQuery) queryNode() {}

func (q *FuzzyQuery) String() string {
	return fmt.Sprintf("fuzzy(%s:%s~%d)", q.Prefix, q.Value, q.Fuzziness)
}

// SequenceQuery matches its clauses one after another.
type SequenceQuery struct {
	Clauses []Query
}

func (q *SequenceQuery) queryNode() {}

func (q *SequenceQuery) String() string {
	return fmt.Sprintf("seq(%s)", joinNodes(q.Clauses))
}

// AndQuery matches intervals produced by every clause.
type AndQuery struct {
	Clauses []Query
}

func (q *AndQuery) queryNode() {}

func (q *AndQuery) String() string {
	return fmt.Sprintf("AND(%s)", joinNodes(q.Clauses))
}

// OrQuery matches intervals produced by any clause.
type OrQuery struct {
	Clauses []Query
}

func (q *OrQuery) queryNode() {}

func (q *OrQuery) String() string {
	return fmt.Sprintf("OR(%s)", joinNodes(q.Clauses))
}

// MatchAllQuery matches every position.
type MatchAllQuery struct{}

func (q *MatchAllQuery) queryNode() {}

func (q *MatchAllQuery) String() string { return "all" }

func joinNodes(nodes []Query) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}
