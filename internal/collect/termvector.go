package collect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/couchbase/vellum"
	vregexp "github.com/couchbase/vellum/regexp"

	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/metrics"
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/stats"
	"harshagw/spanstats/internal/topk"
)

// termVectorComponent ranks the terms of one prefix by their frequency in
// the target documents. Segments report their local lists in round one;
// further rounds run once every segment has been seen.
type termVectorComponent struct {
	spec      TermVectorSpec
	field     string
	sort      stats.Sort
	types     []stats.Type
	automaton vellum.Automaton
	start     []byte
	end       []byte

	ranker  *topk.Ranker
	metrics *metrics.Metrics
	final   []TermEntry
}

func newTermVector(spec TermVectorSpec, field string) (*termVectorComponent, error) {
	sortType := spec.SortType
	if sortType == "" {
		sortType = string(stats.SortSum)
	}
	sort, err := stats.ParseSort(sortType, spec.SortDirection)
	if err != nil {
		return nil, fmt.Errorf("termvector %q: %w", spec.Key, err)
	}
	types, err := stats.ParseTypes(spec.Statistics)
	if err != nil {
		return nil, fmt.Errorf("termvector %q: %w", spec.Key, err)
	}
	c := &termVectorComponent{
		spec:  spec,
		field: field,
		sort:  sort,
		types: types,
		start: []byte(spec.Prefix + ":"),
		end:   []byte(spec.Prefix + ";"),
	}
	if spec.Regexp != "" {
		aut, err := vregexp.New(regexp.QuoteMeta(spec.Prefix+":") + "(?:" + spec.Regexp + ")")
		if err != nil {
			return nil, apperr.Invalidf("termvector %q: regexp %q: %v", spec.Key, spec.Regexp, err)
		}
		c.automaton = aut
	}
	return c, nil
}

func (c *termVectorComponent) begin(col *Collector) {
	c.ranker = topk.NewRanker(c.spec.Number, c.sort, len(col.snapshot.Segments()))
	c.metrics = col.metrics
}

// entryFor restricts a posting list to docs.
func entryFor(term string, postings []segment.Posting, docs *roaring.Bitmap) stats.Entry {
	e := stats.Entry{Key: term}
	for _, p := range postings {
		if docs.Contains(uint32(p.DocNum)) {
			e.N++
			e.Sum += float64(p.Frequency)
		}
	}
	return e
}

func (c *termVectorComponent) visit(sc *segmentContext, fn func(stats.Entry)) error {
	return sc.seg.VisitTerms(c.field, c.automaton, c.start, c.end, func(term string, postings []segment.Posting) error {
		if e := entryFor(term, postings, sc.docs.set); e.N > 0 {
			fn(e)
		}
		return nil
	})
}

func (c *termVectorComponent) collectSegment(sc *segmentContext) error {
	candidates := c.ranker.Segment(sc.ord)
	return c.visit(sc, candidates.Add)
}

// rounds runs the rounds the ranker asks for after round one and computes
// the statistics of the final terms.
func (c *termVectorComponent) rounds(contexts []*segmentContext) error {
	c.metrics.TermVectorRound("1")
	c.ranker.CloseRound()
	for c.ranker.State() == topk.RecomputePending {
		c.metrics.TermVectorRound(strconv.Itoa(c.ranker.Round()))
		for ord, sc := range contexts {
			q := c.ranker.Request(ord)
			if q.Empty() || sc.docs.set.IsEmpty() {
				continue
			}
			if err := c.recompute(sc, q); err != nil {
				return err
			}
		}
		c.ranker.CloseRound()
	}

	final := c.ranker.Final()
	c.final = make([]TermEntry, len(final))
	for i, e := range final {
		st, err := c.termStats(contexts, e.Key)
		if err != nil {
			return err
		}
		value, _ := strings.CutPrefix(e.Key, c.spec.Prefix+":")
		c.final[i] = TermEntry{Term: value, Sum: int64(e.Sum), N: e.N, Stats: st}
	}
	return nil
}

// recompute answers one segment's request: exact entries for the listed
// keys and, when asked, every local entry reaching the threshold.
func (c *termVectorComponent) recompute(sc *segmentContext, q topk.Request) error {
	for _, key := range q.Keys {
		postings, err := sc.seg.Search(key, c.field, sc.ss.Deleted())
		if err != nil {
			return err
		}
		if e := entryFor(key, postings, sc.docs.set); e.N > 0 {
			c.ranker.Report(sc.ord, e)
		}
	}
	if !q.Discover {
		return nil
	}
	return c.visit(sc, func(e stats.Entry) {
		if c.sort.Value(e) >= q.Threshold {
			c.ranker.Report(sc.ord, e)
		}
	})
}

// termStats reduces the per-document frequencies of one term.
func (c *termVectorComponent) termStats(contexts []*segmentContext, term string) (stats.Result, error) {
	collector := stats.NewCollector(c.types)
	for _, sc := range contexts {
		if sc.docs.set.IsEmpty() {
			continue
		}
		postings, err := sc.seg.Search(term, c.field, sc.ss.Deleted())
		if err != nil {
			return stats.Result{}, err
		}
		if collector.AcceptsAggregate() {
			e := entryFor(term, postings, sc.docs.set)
			if e.N > 0 {
				collector.AddAggregate(e.Sum, e.N)
			}
			continue
		}
		values := make([]float64, 0, len(postings))
		for _, p := range postings {
			if sc.docs.set.Contains(uint32(p.DocNum)) {
				values = append(values, float64(p.Frequency))
			}
		}
		collector.AddValues(values)
	}
	return collector.Result(), nil
}

func (c *termVectorComponent) finish(res *Result, _ []uint32) {
	res.TermVectors = append(res.TermVectors, TermVectorResult{Key: c.spec.Key, Terms: c.final})
}
