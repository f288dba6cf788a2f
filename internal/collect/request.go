package collect

import (
	"strings"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/spans"
)

// FieldRequest lists every output requested for one text field. Span
// queries are shared by identity: the same query used by several outputs is
// evaluated once per segment.
type FieldRequest struct {
	Field string

	StatsPositions []StatsSpec
	StatsTokens    []StatsSpec
	StatsSpans     []SpanStatsSpec
	Facets         []FacetSpec
	Groups         []GroupSpec
	TermVectors    []TermVectorSpec
	Kwics          []KwicSpec
	Lists          []ListSpec
	Indexes        []IndexSpec
	Pages          []PageSpec
	Documents      []DocumentSpec
	Prefixes       []PrefixSpec
}

// Range is an inclusive value filter. Nil bounds are open.
type Range struct {
	Min *float64
	Max *float64
}

func (r Range) active() bool { return r.Min != nil || r.Max != nil }

func (r Range) accepts(v float64) bool {
	return (r.Min == nil || v >= *r.Min) && (r.Max == nil || v <= *r.Max)
}

// StatsSpec requests statistics over the number of positions or tokens of
// each target document.
type StatsSpec struct {
	Key        string
	Statistics string
	Range      Range
}

// SpanStatsSpec requests statistics over a function of the per-document
// match counts of Queries. An empty Expression sums the counts.
type SpanStatsSpec struct {
	Key        string
	Queries    []spans.Query
	Expression string
	Statistics string
	Range      Range
}

// FacetBase is one level of a facet: a keyword field and how its values are
// bucketed and ordered.
type FacetBase struct {
	Field         string
	Number        int
	SortType      string
	SortDirection string
	// RangeSize groups numeric values into buckets of this width starting
	// at RangeBase. Zero keeps every value as its own bucket.
	RangeSize float64
	RangeBase float64
}

// FacetSpec requests hierarchical buckets over Base with statistics of a
// function of the per-document match counts of Queries. Without queries the
// function defaults to the number of positions.
type FacetSpec struct {
	Key        string
	Base       []FacetBase
	Queries    []spans.Query
	Expression string
	Statistics string
	Range      Range
}

// GroupPosition selects the prefixes read at one position of a group zone.
// Offset counts outwards from the hit for Left and Right, and inwards from
// the hit's first or last position for HitLeft and HitRight.
type GroupPosition struct {
	Offset   int
	Prefixes []string
}

// GroupSpec requests frequencies of hit shapes of Query.
type GroupSpec struct {
	Key       string
	Query     spans.Query
	Number    int
	Left      []GroupPosition
	HitLeft   []GroupPosition
	HitInside []string
	HitRight  []GroupPosition
	Right     []GroupPosition
}

// TermVectorSpec requests the terms of one prefix, optionally restricted by
// a regular expression over the value, with their frequency in the target
// documents. Number <= 0 lists every term.
type TermVectorSpec struct {
	Key           string
	Prefix        string
	Regexp        string
	Number        int
	SortType      string
	SortDirection string
	Statistics    string
}

// KwicSpec requests the hits of Query in each listed document with Left and
// Right positions of context.
type KwicSpec struct {
	Key      string
	Query    spans.Query
	Left     int
	Right    int
	Prefixes []string
	Start    int
	Number   int
}

// ListSpec requests a page of the hits of Query over the target set.
type ListSpec struct {
	Key      string
	Query    spans.Query
	Left     int
	Right    int
	Prefixes []string
	Start    int
	Number   int
}

// Block matching modes of an IndexSpec.
const (
	MatchIntersect = "intersect"
	MatchComplete  = "complete"
	MatchStart     = "start"
)

// IndexSpec partitions each listed document into blocks and counts the hits
// of Query per block. Exactly one of BlockSize, BlockCount and BlockQuery
// defines the blocks.
type IndexSpec struct {
	Key        string
	Query      spans.Query
	BlockSize  int
	BlockCount int
	BlockQuery spans.Query
	Match      string
	Prefixes   []string
}

// PageSpec requests the tokens of the inclusive position window
// [Start, End] of each listed document.
type PageSpec struct {
	Key       string
	Start     uint64
	End       uint64
	Prefixes  []string
	Hierarchy bool
}

// DocumentSpec requests, per listed document, the values of Prefix with
// their frequency and optionally the stored fields.
type DocumentSpec struct {
	Key    string
	Prefix string
	Number int
	Stored bool
}

// PrefixSpec requests the prefixes of the field with their classes.
type PrefixSpec struct {
	Key string
}

// Queries returns the distinct span queries of the request in first use
// order.
func (r *FieldRequest) Queries() []spans.Query {
	reg := newQueryRegistry()
	r.eachQuery(func(q spans.Query, _ bool) { reg.add(q) })
	return reg.queries
}

// eachQuery calls fn for every query reference; list marks references
// that need match positions rather than counts.
func (r *FieldRequest) eachQuery(fn func(q spans.Query, list bool)) {
	for _, s := range r.StatsSpans {
		for _, q := range s.Queries {
			fn(q, false)
		}
	}
	for _, s := range r.Facets {
		for _, q := range s.Queries {
			fn(q, false)
		}
	}
	for _, s := range r.Groups {
		fn(s.Query, true)
	}
	for _, s := range r.Kwics {
		fn(s.Query, true)
	}
	for _, s := range r.Lists {
		fn(s.Query, true)
	}
	for _, s := range r.Indexes {
		fn(s.Query, true)
		if s.BlockQuery != nil {
			fn(s.BlockQuery, true)
		}
	}
}

// Validate reports configuration errors before any segment is read.
func (r *FieldRequest) Validate() error {
	_, err := newPlan(r, DefaultGroupThresholds())
	return err
}

func (r *FieldRequest) validate() error {
	if r.Field == "" {
		return apperr.Invalidf("field must be set")
	}
	keys := make(map[string]bool)
	checkKey := func(kind, key string) error {
		if key == "" {
			return apperr.Invalidf("%s output without key", kind)
		}
		if keys[kind+"\x00"+key] {
			return apperr.Invalidf("duplicate %s key %q", kind, key)
		}
		keys[kind+"\x00"+key] = true
		return nil
	}
	checkQuery := func(kind, key string, q spans.Query) error {
		if q == nil {
			return apperr.Invalidf("%s %q: query must be set", kind, key)
		}
		if q.Field() != r.Field {
			return apperr.Invalidf("%s %q: query %s is on field %s, not %s", kind, key, q, q.Field(), r.Field)
		}
		return nil
	}
	checkPrefixes := func(kind, key string, prefixes []string) error {
		for _, p := range prefixes {
			if err := analysis.ValidPrefix(p); err != nil {
				return apperr.Invalidf("%s %q: %v", kind, key, err)
			}
		}
		return nil
	}
	checkWindow := func(kind, key string, left, right, start, number int) error {
		if left < 0 || right < 0 || start < 0 || number < 0 {
			return apperr.Invalidf("%s %q: negative context or paging", kind, key)
		}
		return nil
	}

	for _, s := range r.StatsPositions {
		if err := checkKey("positions", s.Key); err != nil {
			return err
		}
	}
	for _, s := range r.StatsTokens {
		if err := checkKey("tokens", s.Key); err != nil {
			return err
		}
	}
	for _, s := range r.StatsSpans {
		if err := checkKey("spans", s.Key); err != nil {
			return err
		}
		if len(s.Queries) == 0 {
			return apperr.Invalidf("spans %q: at least one query is required", s.Key)
		}
		for _, q := range s.Queries {
			if err := checkQuery("spans", s.Key, q); err != nil {
				return err
			}
		}
	}
	for _, s := range r.Facets {
		if err := checkKey("facet", s.Key); err != nil {
			return err
		}
		if len(s.Base) == 0 {
			return apperr.Invalidf("facet %q: at least one base field is required", s.Key)
		}
		for _, b := range s.Base {
			if b.Field == "" {
				return apperr.Invalidf("facet %q: base field must be set", s.Key)
			}
			if b.RangeSize < 0 {
				return apperr.Invalidf("facet %q: negative range size", s.Key)
			}
		}
		for _, q := range s.Queries {
			if err := checkQuery("facet", s.Key, q); err != nil {
				return err
			}
		}
	}
	for _, s := range r.Groups {
		if err := checkKey("group", s.Key); err != nil {
			return err
		}
		if err := checkQuery("group", s.Key, s.Query); err != nil {
			return err
		}
		if len(s.Left)+len(s.HitLeft)+len(s.HitInside)+len(s.HitRight)+len(s.Right) == 0 {
			return apperr.Invalidf("group %q: no grouping positions", s.Key)
		}
		for _, zone := range [][]GroupPosition{s.Left, s.HitLeft, s.HitRight, s.Right} {
			for _, p := range zone {
				if p.Offset < 0 {
					return apperr.Invalidf("group %q: negative offset %d", s.Key, p.Offset)
				}
				if len(p.Prefixes) == 0 {
					return apperr.Invalidf("group %q: position %d without prefixes", s.Key, p.Offset)
				}
				if err := checkPrefixes("group", s.Key, p.Prefixes); err != nil {
					return err
				}
			}
		}
		if err := checkPrefixes("group", s.Key, s.HitInside); err != nil {
			return err
		}
	}
	for _, s := range r.TermVectors {
		if err := checkKey("termvector", s.Key); err != nil {
			return err
		}
		if s.Prefix == "" {
			return apperr.Invalidf("termvector %q: prefix must be set", s.Key)
		}
		if err := checkPrefixes("termvector", s.Key, []string{s.Prefix}); err != nil {
			return err
		}
	}
	for _, s := range r.Kwics {
		if err := checkKey("kwic", s.Key); err != nil {
			return err
		}
		if err := checkQuery("kwic", s.Key, s.Query); err != nil {
			return err
		}
		if err := checkWindow("kwic", s.Key, s.Left, s.Right, s.Start, s.Number); err != nil {
			return err
		}
		if err := checkPrefixes("kwic", s.Key, s.Prefixes); err != nil {
			return err
		}
	}
	for _, s := range r.Lists {
		if err := checkKey("list", s.Key); err != nil {
			return err
		}
		if err := checkQuery("list", s.Key, s.Query); err != nil {
			return err
		}
		if err := checkWindow("list", s.Key, s.Left, s.Right, s.Start, s.Number); err != nil {
			return err
		}
		if err := checkPrefixes("list", s.Key, s.Prefixes); err != nil {
			return err
		}
	}
	for _, s := range r.Indexes {
		if err := checkKey("index", s.Key); err != nil {
			return err
		}
		if err := checkQuery("index", s.Key, s.Query); err != nil {
			return err
		}
		specifiers := 0
		if s.BlockSize > 0 {
			specifiers++
		}
		if s.BlockCount > 0 {
			specifiers++
		}
		if s.BlockQuery != nil {
			specifiers++
			if err := checkQuery("index", s.Key, s.BlockQuery); err != nil {
				return err
			}
		}
		if specifiers != 1 || s.BlockSize < 0 || s.BlockCount < 0 {
			return apperr.Invalidf("index %q: exactly one of block size, block count and block query is required", s.Key)
		}
		switch strings.ToLower(s.Match) {
		case "", MatchIntersect, MatchComplete, MatchStart:
		default:
			return apperr.Invalidf("index %q: unknown match mode %q", s.Key, s.Match)
		}
		if err := checkPrefixes("index", s.Key, s.Prefixes); err != nil {
			return err
		}
	}
	for _, s := range r.Pages {
		if err := checkKey("page", s.Key); err != nil {
			return err
		}
		if s.End < s.Start {
			return apperr.Invalidf("page %q: end %d before start %d", s.Key, s.End, s.Start)
		}
		if err := checkPrefixes("page", s.Key, s.Prefixes); err != nil {
			return err
		}
	}
	for _, s := range r.Documents {
		if err := checkKey("document", s.Key); err != nil {
			return err
		}
		if s.Prefix == "" {
			return apperr.Invalidf("document %q: prefix must be set", s.Key)
		}
		if s.Number < 0 {
			return apperr.Invalidf("document %q: negative number", s.Key)
		}
	}
	for _, s := range r.Prefixes {
		if err := checkKey("prefix", s.Key); err != nil {
			return err
		}
	}
	return nil
}

// queryRegistry deduplicates queries by their string form.
type queryRegistry struct {
	queries []spans.Query
	byKey   map[string]int
	list    []bool
}

func newQueryRegistry() *queryRegistry {
	return &queryRegistry{byKey: make(map[string]int)}
}

func (r *queryRegistry) add(q spans.Query) int {
	key := q.Field() + "\x00" + q.String()
	if i, ok := r.byKey[key]; ok {
		return i
	}
	r.byKey[key] = len(r.queries)
	r.queries = append(r.queries, q)
	r.list = append(r.list, false)
	return len(r.queries) - 1
}

func (r *queryRegistry) index(q spans.Query) int {
	return r.byKey[q.Field()+"\x00"+q.String()]
}
