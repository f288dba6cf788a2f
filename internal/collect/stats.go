package collect

import (
	"fmt"

	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/function"
	"harshagw/spanstats/internal/spans"
	"harshagw/spanstats/internal/stats"
)

type docKind int

const (
	positionsKind docKind = iota
	tokensKind
)

// documentStats reduces the number of positions or tokens per document.
type documentStats struct {
	spec      StatsSpec
	kind      docKind
	collector *stats.Collector
}

func newDocumentStats(spec StatsSpec, kind docKind) (*documentStats, error) {
	types, err := stats.ParseTypes(spec.Statistics)
	if err != nil {
		return nil, fmt.Errorf("stats %q: %w", spec.Key, err)
	}
	return &documentStats{spec: spec, kind: kind, collector: stats.NewCollector(types)}, nil
}

func (c *documentStats) collectSegment(sc *segmentContext) error {
	values := sc.positions
	if c.kind == tokensKind {
		values = sc.tokens
	}
	docs := sc.docs.setDocs()
	batch := make([]float64, 0, len(docs))
	for _, doc := range docs {
		n, ok := values[doc]
		if !ok {
			continue
		}
		v := float64(n)
		if c.spec.Range.accepts(v) {
			batch = append(batch, v)
		}
	}
	local := stats.NewCollector(c.collector.Types())
	local.AddValues(batch)
	c.collector.Merge(local)
	return nil
}

func (c *documentStats) finish(res *Result, _ []uint32) {
	r := StatsResult{Key: c.spec.Key, Result: c.collector.Result()}
	if c.kind == tokensKind {
		res.StatsTokens = append(res.StatsTokens, r)
	} else {
		res.StatsPositions = append(res.StatsPositions, r)
	}
}

// spanStats reduces a function of the match counts per document.
type spanStats struct {
	spec      SpanStatsSpec
	queries   []int
	fn        *function.Function
	collector *stats.Collector
}

func newSpanStats(spec SpanStatsSpec, reg *queryRegistry) (*spanStats, error) {
	fn, err := function.Parse(spec.Expression, len(spec.Queries))
	if err != nil {
		return nil, fmt.Errorf("spans %q: %w", spec.Key, err)
	}
	types, err := stats.ParseTypes(spec.Statistics)
	if err != nil {
		return nil, fmt.Errorf("spans %q: %w", spec.Key, err)
	}
	return &spanStats{
		spec:      spec,
		queries:   queryIndexes(reg, spec.Queries),
		fn:        fn,
		collector: stats.NewCollector(types),
	}, nil
}

func (c *spanStats) collectSegment(sc *segmentContext) error {
	local := stats.NewCollector(c.collector.Types())
	errs := addFunctionValues(sc, sc.docs.setDocs(), c.queries, c.fn, c.spec.Range, c.spec.Key, local)
	if errs > 0 {
		sc.log.Warn("function failed", "key", c.spec.Key, "segment", sc.ss.ID(), "errors", errs)
	}
	c.collector.Merge(local)
	return nil
}

func (c *spanStats) finish(res *Result, _ []uint32) {
	res.StatsSpans = append(res.StatsSpans, StatsResult{Key: c.spec.Key, Result: c.collector.Result()})
}

func queryIndexes(reg *queryRegistry, queries []spans.Query) []int {
	out := make([]int, len(queries))
	for i, q := range queries {
		out[i] = reg.index(q)
	}
	return out
}

// sumRule reports whether the function can be applied once to the summed
// counts of a document set instead of once per document.
func sumRule(fn *function.Function, collector *stats.Collector, rng Range) bool {
	return fn.SumRule() && !fn.NeedsPositions() && collector.AcceptsAggregate() && !rng.active()
}

// addFunctionValues feeds the function value of every document into
// collector and returns the number of failed documents. Failures are
// recorded in the collector under key.
func addFunctionValues(sc *segmentContext, docs []uint32, queries []int, fn *function.Function,
	rng Range, key string, collector *stats.Collector) int {
	if len(docs) == 0 {
		return 0
	}
	args := make([]int64, len(queries))

	if sumRule(fn, collector, rng) {
		for _, doc := range docs {
			for k, qi := range queries {
				args[k] += int64(sc.count(qi, doc))
			}
		}
		v, err := fn.Compute(args, 0, int64(len(docs)))
		if err != nil {
			collector.AddError(&apperr.KeyError{Key: key, Err: err})
			return 1
		}
		collector.AddAggregate(v, int64(len(docs)))
		return 0
	}

	errs := 0
	values := make([]float64, 0, len(docs))
	for _, doc := range docs {
		for k, qi := range queries {
			args[k] = int64(sc.count(qi, doc))
		}
		v, err := fn.Compute(args, int64(sc.positions[doc]), 1)
		if err != nil {
			collector.AddError(&apperr.KeyError{Key: key, Err: err})
			errs++
			continue
		}
		if rng.accepts(v) {
			values = append(values, v)
		}
	}
	collector.AddValues(values)
	return errs
}
