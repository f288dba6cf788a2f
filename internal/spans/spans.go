// Package spans evaluates span queries against a segment. A span query
// yields, per document, ordered half-open position intervals.
//
// Every query materializes its matches for one segment as a list of
// DocMatches sorted by document; Spans iterates such a list with the usual
// doc-then-position cursor protocol.
package spans

import (
	"math"
	"sort"
)

const (
	NoMoreDocs      = math.MaxInt32
	NoMorePositions = math.MaxInt32
)

// Match is a half-open position interval [Start, End).
type Match struct {
	Start uint64
	End   uint64
}

// DocMatches holds the matches of one document in (Start, End) order.
type DocMatches struct {
	Doc     uint32
	Matches []Match
}

// Spans is a forward-only cursor over documents and their match positions.
// DocID is -1 before the first call to NextDoc or Advance. Within a document
// StartPosition and EndPosition are -1 until NextStartPosition is called.
type Spans interface {
	DocID() int
	NextDoc() int
	// Advance moves to the first document >= target beyond the current one.
	Advance(target int) int
	NextStartPosition() int
	StartPosition() int
	EndPosition() int
	// Cost is the number of documents the cursor can visit.
	Cost() int
}

type listSpans struct {
	docs []DocMatches
	di   int
	pi   int
}

// NewListSpans returns a cursor over docs, which must be sorted by Doc.
func NewListSpans(docs []DocMatches) Spans {
	return &listSpans{docs: docs, di: -1, pi: -1}
}

func (s *listSpans) DocID() int {
	switch {
	case s.di < 0:
		return -1
	case s.di >= len(s.docs):
		return NoMoreDocs
	}
	return int(s.docs[s.di].Doc)
}

func (s *listSpans) NextDoc() int {
	if s.di < len(s.docs) {
		s.di++
	}
	s.pi = -1
	return s.DocID()
}

func (s *listSpans) Advance(target int) int {
	from := s.di + 1
	if from > len(s.docs) {
		from = len(s.docs)
	}
	rest := s.docs[from:]
	s.di = from + sort.Search(len(rest), func(i int) bool {
		return int(rest[i].Doc) >= target
	})
	s.pi = -1
	return s.DocID()
}

func (s *listSpans) current() []Match {
	if s.di < 0 || s.di >= len(s.docs) {
		return nil
	}
	return s.docs[s.di].Matches
}

func (s *listSpans) NextStartPosition() int {
	m := s.current()
	if s.pi < len(m) {
		s.pi++
	}
	return s.StartPosition()
}

func (s *listSpans) StartPosition() int {
	m := s.current()
	switch {
	case s.pi < 0:
		return -1
	case s.pi >= len(m):
		return NoMorePositions
	}
	return int(m[s.pi].Start)
}

func (s *listSpans) EndPosition() int {
	m := s.current()
	switch {
	case s.pi < 0:
		return -1
	case s.pi >= len(m):
		return NoMorePositions
	}
	return int(m[s.pi].End)
}

func (s *listSpans) Cost() int { return len(s.docs) }

// normalize sorts matches by (Start, End) and drops duplicates in place.
func normalize(matches []Match) []Match {
	if len(matches) < 2 {
		return matches
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End < matches[j].End
	})
	out := matches[:1]
	for _, m := range matches[1:] {
		if m != out[len(out)-1] {
			out = append(out, m)
		}
	}
	return out
}

// union merges doc lists sorted by Doc into one, concatenating the matches
// of shared documents.
func union(lists [][]DocMatches) []DocMatches {
	byDoc := make(map[uint32][]Match)
	for _, list := range lists {
		for _, dm := range list {
			byDoc[dm.Doc] = append(byDoc[dm.Doc], dm.Matches...)
		}
	}
	out := make([]DocMatches, 0, len(byDoc))
	for doc, matches := range byDoc {
		out = append(out, DocMatches{Doc: doc, Matches: normalize(matches)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Doc < out[j].Doc })
	return out
}

// joinDocs calls fn for every document present in both sorted lists.
func joinDocs(a, b []DocMatches, fn func(doc uint32, x, y []Match)) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Doc < b[j].Doc:
			i++
		case a[i].Doc > b[j].Doc:
			j++
		default:
			fn(a[i].Doc, a[i].Matches, b[j].Matches)
			i++
			j++
		}
	}
}

// Count returns the number of matches per document.
func Count(docs []DocMatches) map[uint32]int {
	counts := make(map[uint32]int, len(docs))
	for _, dm := range docs {
		counts[dm.Doc] = len(dm.Matches)
	}
	return counts
}
