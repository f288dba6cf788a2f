package collect

import (
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/stats"
)

// Result holds the outputs of one FieldRequest keyed by the caller's keys,
// in request order.
type Result struct {
	Field          string             `json:"field"`
	StatsPositions []StatsResult      `json:"statsPositions,omitempty"`
	StatsTokens    []StatsResult      `json:"statsTokens,omitempty"`
	StatsSpans     []StatsResult      `json:"statsSpans,omitempty"`
	Facets         []FacetResult      `json:"facets,omitempty"`
	Groups         []GroupResult      `json:"groups,omitempty"`
	TermVectors    []TermVectorResult `json:"termVectors,omitempty"`
	Kwics          []KwicResult       `json:"kwics,omitempty"`
	Lists          []ListResult       `json:"lists,omitempty"`
	Indexes        []IndexResult      `json:"indexes,omitempty"`
	Pages          []PageResult       `json:"pages,omitempty"`
	Documents      []DocumentResult   `json:"documents,omitempty"`
	Prefixes       []PrefixResult     `json:"prefixes,omitempty"`
}

type StatsResult struct {
	Key string `json:"key"`
	stats.Result
}

type FacetResult struct {
	Key     string        `json:"key"`
	Buckets []FacetBucket `json:"buckets"`
}

type FacetBucket struct {
	Value string        `json:"value"`
	Docs  int64         `json:"docs"`
	Stats stats.Result  `json:"stats"`
	Sub   []FacetBucket `json:"sub,omitempty"`
}

type GroupResult struct {
	Key string `json:"key"`
	// Total counts the hits that produced a shape; Invalid counts hits in
	// segments unable to resolve a requested prefix.
	Total   int64        `json:"total"`
	Invalid int64        `json:"invalid,omitempty"`
	Groups  []GroupEntry `json:"groups"`
}

type GroupEntry struct {
	Key            string    `json:"key"`
	Hit            *GroupHit `json:"hit"`
	OccurrencesN   int64     `json:"occurrencesN"`
	OccurrencesSum int64     `json:"occurrencesSum"`
}

type TermVectorResult struct {
	Key   string      `json:"key"`
	Terms []TermEntry `json:"terms"`
}

type TermEntry struct {
	Term  string       `json:"term"`
	Sum   int64        `json:"sum"`
	N     int64        `json:"n"`
	Stats stats.Result `json:"stats"`
}

// Token is a stored annotation in result form.
type Token struct {
	ID       uint64   `json:"id"`
	Prefix   string   `json:"prefix"`
	Value    string   `json:"value"`
	Start    uint64   `json:"start"`
	End      uint64   `json:"end"`
	Parent   int64    `json:"parent"`
	Children []uint64 `json:"children,omitempty"`
}

func tokenView(t segment.Token) Token {
	return Token{ID: t.ID, Prefix: t.Prefix, Value: t.Value, Start: t.Start, End: t.End, Parent: t.Parent}
}

func tokenViews(tokens []segment.Token) []Token {
	out := make([]Token, len(tokens))
	for i, t := range tokens {
		out[i] = tokenView(t)
	}
	return out
}

type KwicResult struct {
	Key  string    `json:"key"`
	Docs []KwicDoc `json:"docs"`
}

type KwicDoc struct {
	Doc   uint32    `json:"doc"`
	ID    string    `json:"id"`
	Total int       `json:"total"`
	Hits  []KwicHit `json:"hits"`
}

// KwicHit is a match [Start, End) with its context tokens.
type KwicHit struct {
	Start  uint64  `json:"start"`
	End    uint64  `json:"end"`
	Tokens []Token `json:"tokens"`
}

type ListResult struct {
	Key   string    `json:"key"`
	Total int64     `json:"total"`
	Hits  []ListHit `json:"hits"`
}

type ListHit struct {
	Doc    uint32  `json:"doc"`
	ID     string  `json:"id"`
	Start  uint64  `json:"start"`
	End    uint64  `json:"end"`
	Tokens []Token `json:"tokens"`
}

type IndexResult struct {
	Key  string     `json:"key"`
	Docs []IndexDoc `json:"docs"`
}

type IndexDoc struct {
	Doc    uint32       `json:"doc"`
	ID     string       `json:"id"`
	Blocks []IndexBlock `json:"blocks"`
}

// IndexBlock is the inclusive position block [Start, End] with the number of
// hits matched to it and, when prefixes were requested, its term counts.
type IndexBlock struct {
	Start uint64         `json:"start"`
	End   uint64         `json:"end"`
	Count int64          `json:"count"`
	Terms map[string]int `json:"terms,omitempty"`
}

type PageResult struct {
	Key  string    `json:"key"`
	Docs []PageDoc `json:"docs"`
}

type PageDoc struct {
	Doc    uint32  `json:"doc"`
	ID     string  `json:"id"`
	Tokens []Token `json:"tokens"`
}

type DocumentResult struct {
	Key  string        `json:"key"`
	Docs []DocumentDoc `json:"docs"`
}

type DocumentDoc struct {
	Doc    uint32         `json:"doc"`
	ID     string         `json:"id"`
	Values []ValueCount   `json:"values"`
	Stored map[string]any `json:"stored,omitempty"`
}

type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type PrefixResult struct {
	Key      string       `json:"key"`
	Prefixes []PrefixInfo `json:"prefixes"`
}

type PrefixInfo struct {
	Prefix  string   `json:"prefix"`
	Classes []string `json:"classes"`
}
