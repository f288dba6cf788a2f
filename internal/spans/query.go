package spans

import (
	stdregexp "regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/couchbase/vellum"
	"github.com/couchbase/vellum/levenshtein"
	"github.com/couchbase/vellum/regexp"

	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/segment"
)

// Query is a span query over one field. String identifies the query: two
// queries with the same field and string yield the same matches.
type Query interface {
	Field() string
	String() string
	Matches(seg *segment.Segment) ([]DocMatches, error)
	Spans(seg *segment.Segment) (Spans, error)
}

func spansOf(q Query, seg *segment.Segment) (Spans, error) {
	docs, err := q.Matches(seg)
	if err != nil {
		return nil, err
	}
	return NewListSpans(docs), nil
}

// fromPostings converts inclusive occurrence intervals into matches.
func fromPostings(postings []segment.Posting) []DocMatches {
	out := make([]DocMatches, 0, len(postings))
	for _, p := range postings {
		matches := make([]Match, len(p.Positions))
		for i, start := range p.Positions {
			end := start
			if i < len(p.Ends) {
				end = p.Ends[i]
			}
			matches[i] = Match{Start: start, End: end + 1}
		}
		out = append(out, DocMatches{Doc: uint32(p.DocNum), Matches: normalize(matches)})
	}
	return out
}

// prefixRange returns the dictionary key range holding every term of prefix.
func prefixRange(prefix string) (start, end []byte) {
	return []byte(prefix + ":"), []byte(prefix + ";")
}

// TermQuery matches every occurrence of one dictionary term.
type TermQuery struct {
	field string
	term  string
}

// NewTerm returns a query for term, a "prefix:value" key on text fields or a
// plain value on keyword fields.
func NewTerm(field, term string) *TermQuery {
	return &TermQuery{field: field, term: term}
}

func (q *TermQuery) Field() string  { return q.field }
func (q *TermQuery) String() string { return q.term }
func (q *TermQuery) Term() string   { return q.term }

func (q *TermQuery) Matches(seg *segment.Segment) ([]DocMatches, error) {
	postings, err := seg.Search(q.term, q.field, nil)
	if err != nil {
		return nil, err
	}
	return fromPostings(postings), nil
}

func (q *TermQuery) Spans(seg *segment.Segment) (Spans, error) { return spansOf(q, seg) }

// PrefixQuery matches every term starting with a "prefix:value" head.
type PrefixQuery struct {
	field string
	head  string
}

func NewPrefix(field, head string) *PrefixQuery {
	return &PrefixQuery{field: field, head: head}
}

func (q *PrefixQuery) Field() string  { return q.field }
func (q *PrefixQuery) String() string { return q.head + "*" }

func (q *PrefixQuery) Matches(seg *segment.Segment) ([]DocMatches, error) {
	var lists [][]DocMatches
	err := seg.VisitPrefix(q.field, q.head, func(_ string, postings []segment.Posting) error {
		lists = append(lists, fromPostings(postings))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return union(lists), nil
}

func (q *PrefixQuery) Spans(seg *segment.Segment) (Spans, error) { return spansOf(q, seg) }

// automatonQuery matches the terms of one prefix accepted by an automaton.
type automatonQuery struct {
	field  string
	prefix string
	aut    vellum.Automaton
}

func (q *automatonQuery) matches(seg *segment.Segment) ([]DocMatches, error) {
	start, end := prefixRange(q.prefix)
	var lists [][]DocMatches
	err := seg.VisitTerms(q.field, q.aut, start, end, func(_ string, postings []segment.Posting) error {
		lists = append(lists, fromPostings(postings))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return union(lists), nil
}

// RegexpQuery matches terms whose value matches a regular expression.
type RegexpQuery struct {
	automatonQuery
	pattern string
}

// NewRegexp compiles pattern against the value part of prefix terms.
func NewRegexp(field, prefix, pattern string) (*RegexpQuery, error) {
	aut, err := regexp.New(stdregexp.QuoteMeta(prefix+":") + "(?:" + pattern + ")")
	if err != nil {
		return nil, apperr.Invalidf("invalid regex pattern %q: %v", pattern, err)
	}
	return &RegexpQuery{
		automatonQuery: automatonQuery{field: field, prefix: prefix, aut: aut},
		pattern:        pattern,
	}, nil
}

func (q *RegexpQuery) Field() string  { return q.field }
func (q *RegexpQuery) String() string { return q.prefix + ":/" + q.pattern + "/" }

func (q *RegexpQuery) Matches(seg *segment.Segment) ([]DocMatches, error) { return q.matches(seg) }
func (q *RegexpQuery) Spans(seg *segment.Segment) (Spans, error)          { return spansOf(q, seg) }

var (
	levenshteinMu       sync.Mutex
	levenshteinBuilders = make(map[uint8]*levenshtein.LevenshteinAutomatonBuilder)
)

func levenshteinBuilder(distance uint8) (*levenshtein.LevenshteinAutomatonBuilder, error) {
	levenshteinMu.Lock()
	defer levenshteinMu.Unlock()
	if b, ok := levenshteinBuilders[distance]; ok {
		return b, nil
	}
	b, err := levenshtein.NewLevenshteinAutomatonBuilder(distance, true)
	if err != nil {
		return nil, err
	}
	levenshteinBuilders[distance] = b
	return b, nil
}

// FuzzyQuery matches terms of one prefix within an edit distance of a value.
type FuzzyQuery struct {
	automatonQuery
	value    string
	distance uint8
}

func NewFuzzy(field, prefix, value string, distance uint8) (*FuzzyQuery, error) {
	if distance > 2 {
		return nil, apperr.Invalidf("fuzziness %d above 2", distance)
	}
	b, err := levenshteinBuilder(distance)
	if err != nil {
		return nil, apperr.Invalidf("fuzziness %d: %v", distance, err)
	}
	aut, err := b.BuildDfa(prefix+":"+value, distance)
	if err != nil {
		return nil, apperr.Invalidf("fuzzy automaton for %q: %v", value, err)
	}
	return &FuzzyQuery{
		automatonQuery: automatonQuery{field: field, prefix: prefix, aut: aut},
		value:          value,
		distance:       distance,
	}, nil
}

func (q *FuzzyQuery) Field() string { return q.field }
func (q *FuzzyQuery) String() string {
	return q.prefix + ":" + q.value + "~" + strconv.Itoa(int(q.distance))
}

func (q *FuzzyQuery) Matches(seg *segment.Segment) ([]DocMatches, error) { return q.matches(seg) }
func (q *FuzzyQuery) Spans(seg *segment.Segment) (Spans, error)          { return spansOf(q, seg) }

// OrQuery matches the union of its clauses.
type OrQuery struct {
	field   string
	clauses []Query
}

func NewOr(field string, clauses ...Query) *OrQuery {
	return &OrQuery{field: field, clauses: clauses}
}

func (q *OrQuery) Field() string { return q.field }
func (q *OrQuery) String() string {
	return "(" + joinClauses(q.clauses, " OR ") + ")"
}

func (q *OrQuery) Matches(seg *segment.Segment) ([]DocMatches, error) {
	lists := make([][]DocMatches, 0, len(q.clauses))
	for _, c := range q.clauses {
		docs, err := c.Matches(seg)
		if err != nil {
			return nil, err
		}
		lists = append(lists, docs)
	}
	return union(lists), nil
}

func (q *OrQuery) Spans(seg *segment.Segment) (Spans, error) { return spansOf(q, seg) }

// SequenceQuery matches its clauses at adjacent intervals: each clause
// starts where the previous one ended.
type SequenceQuery struct {
	field   string
	clauses []Query
}

func NewSequence(field string, clauses ...Query) *SequenceQuery {
	return &SequenceQuery{field: field, clauses: clauses}
}

func (q *SequenceQuery) Field() string { return q.field }
func (q *SequenceQuery) String() string {
	return "(" + joinClauses(q.clauses, " ") + ")"
}

func (q *SequenceQuery) Matches(seg *segment.Segment) ([]DocMatches, error) {
	if len(q.clauses) == 0 {
		return nil, nil
	}
	acc, err := q.clauses[0].Matches(seg)
	if err != nil {
		return nil, err
	}
	for _, c := range q.clauses[1:] {
		if len(acc) == 0 {
			return nil, nil
		}
		next, err := c.Matches(seg)
		if err != nil {
			return nil, err
		}
		var joined []DocMatches
		joinDocs(acc, next, func(doc uint32, left, right []Match) {
			byStart := make(map[uint64][]uint64)
			for _, r := range right {
				byStart[r.Start] = append(byStart[r.Start], r.End)
			}
			var matches []Match
			for _, l := range left {
				for _, end := range byStart[l.End] {
					matches = append(matches, Match{Start: l.Start, End: end})
				}
			}
			if len(matches) > 0 {
				joined = append(joined, DocMatches{Doc: doc, Matches: normalize(matches)})
			}
		})
		acc = joined
	}
	return acc, nil
}

func (q *SequenceQuery) Spans(seg *segment.Segment) (Spans, error) { return spansOf(q, seg) }

// IntersectQuery matches intervals produced by every clause.
type IntersectQuery struct {
	field   string
	clauses []Query
}

func NewIntersect(field string, clauses ...Query) *IntersectQuery {
	return &IntersectQuery{field: field, clauses: clauses}
}

func (q *IntersectQuery) Field() string { return q.field }
func (q *IntersectQuery) String() string {
	return "(" + joinClauses(q.clauses, " AND ") + ")"
}

func (q *IntersectQuery) Matches(seg *segment.Segment) ([]DocMatches, error) {
	if len(q.clauses) == 0 {
		return nil, nil
	}
	acc, err := q.clauses[0].Matches(seg)
	if err != nil {
		return nil, err
	}
	for _, c := range q.clauses[1:] {
		if len(acc) == 0 {
			return nil, nil
		}
		next, err := c.Matches(seg)
		if err != nil {
			return nil, err
		}
		var joined []DocMatches
		joinDocs(acc, next, func(doc uint32, left, right []Match) {
			set := make(map[Match]bool, len(right))
			for _, r := range right {
				set[r] = true
			}
			var matches []Match
			for _, l := range left {
				if set[l] {
					matches = append(matches, l)
				}
			}
			if len(matches) > 0 {
				joined = append(joined, DocMatches{Doc: doc, Matches: matches})
			}
		})
		acc = joined
	}
	return acc, nil
}

func (q *IntersectQuery) Spans(seg *segment.Segment) (Spans, error) { return spansOf(q, seg) }

// AllPositionsQuery matches every single position of every document that
// has tokens in the field.
type AllPositionsQuery struct {
	field string
}

func NewAllPositions(field string) *AllPositionsQuery {
	return &AllPositionsQuery{field: field}
}

func (q *AllPositionsQuery) Field() string  { return q.field }
func (q *AllPositionsQuery) String() string { return "ALL" }

func (q *AllPositionsQuery) Matches(seg *segment.Segment) ([]DocMatches, error) {
	dir, err := seg.Directory(q.field)
	if err != nil || dir == nil {
		return nil, err
	}
	var out []DocMatches
	err = dir.ScanRecords(nil, func(rec *segment.DocumentRecord) {
		if rec.Positions() == 0 {
			return
		}
		matches := make([]Match, 0, rec.Positions())
		for p := rec.MinPosition; p <= rec.MaxPosition; p++ {
			matches = append(matches, Match{Start: p, End: p + 1})
		}
		out = append(out, DocMatches{Doc: uint32(rec.DocNum), Matches: matches})
	})
	return out, err
}

func (q *AllPositionsQuery) Spans(seg *segment.Segment) (Spans, error) { return spansOf(q, seg) }

// IsAllPositions reports whether q matches exactly one interval per position.
func IsAllPositions(q Query) bool {
	_, ok := q.(*AllPositionsQuery)
	return ok
}

func joinClauses(clauses []Query, sep string) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, sep)
}
