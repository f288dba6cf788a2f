package collect

import (
	"fmt"
	"math"
	"strconv"

	"github.com/RoaringBitmap/roaring"

	"harshagw/spanstats/internal/function"
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/stats"
)

// facet buckets the target documents by the values of one or more keyword
// fields and reduces a function of the match counts per bucket.
type facet struct {
	spec    FacetSpec
	queries []int
	fn      *function.Function
	types   []stats.Type
	sorts   []stats.Sort
	root    *facetNode
}

// facetNode holds the buckets of one level below a parent bucket.
type facetNode struct {
	buckets map[string]*facetBucket
}

type facetBucket struct {
	value     string
	docs      int64
	collector *stats.Collector
	sub       *facetNode
}

func newFacet(spec FacetSpec, reg *queryRegistry) (*facet, error) {
	fn, err := function.Parse(spec.Expression, len(spec.Queries))
	if err != nil {
		return nil, fmt.Errorf("facet %q: %w", spec.Key, err)
	}
	types, err := stats.ParseTypes(spec.Statistics)
	if err != nil {
		return nil, fmt.Errorf("facet %q: %w", spec.Key, err)
	}
	sorts := make([]stats.Sort, len(spec.Base))
	for i, b := range spec.Base {
		if sorts[i], err = stats.ParseSort(b.SortType, b.SortDirection); err != nil {
			return nil, fmt.Errorf("facet %q, base %s: %w", spec.Key, b.Field, err)
		}
	}
	return &facet{
		spec:    spec,
		queries: queryIndexes(reg, spec.Queries),
		fn:      fn,
		types:   types,
		sorts:   sorts,
		root:    newFacetNode(),
	}, nil
}

func newFacetNode() *facetNode {
	return &facetNode{buckets: make(map[string]*facetBucket)}
}

func (c *facet) collectSegment(sc *segmentContext) error {
	values := make([]map[string]*roaring.Bitmap, len(c.spec.Base))
	return c.collectLevel(sc, 0, sc.docs.set, c.root, values)
}

// collectLevel intersects the value lists of level with working and
// recurses into the next level with every non-empty bucket.
func (c *facet) collectLevel(sc *segmentContext, level int, working *roaring.Bitmap,
	node *facetNode, cache []map[string]*roaring.Bitmap) error {
	if working.IsEmpty() {
		return nil
	}
	if cache[level] == nil {
		buckets, err := c.bucketDocs(sc.seg, c.spec.Base[level])
		if err != nil {
			return err
		}
		cache[level] = buckets
	}

	for value, docs := range cache[level] {
		matched := roaring.And(docs, working)
		if matched.IsEmpty() {
			continue
		}
		b, ok := node.buckets[value]
		if !ok {
			b = &facetBucket{value: value, collector: stats.NewCollector(c.types)}
			node.buckets[value] = b
		}
		b.docs += int64(matched.GetCardinality())

		local := stats.NewCollector(c.types)
		errs := addFunctionValues(sc, matched.ToArray(), c.queries, c.fn, c.spec.Range, value, local)
		if errs > 0 {
			sc.log.Warn("function failed", "key", c.spec.Key, "bucket", value, "segment", sc.ss.ID(), "errors", errs)
		}
		b.collector.Merge(local)

		if level+1 < len(c.spec.Base) {
			if b.sub == nil {
				b.sub = newFacetNode()
			}
			if err := c.collectLevel(sc, level+1, matched, b.sub, cache); err != nil {
				return err
			}
		}
	}
	return nil
}

// bucketDocs reads the document list of every value of a keyword field,
// merging values that fall into the same range bucket.
func (c *facet) bucketDocs(seg *segment.Segment, base FacetBase) (map[string]*roaring.Bitmap, error) {
	out := make(map[string]*roaring.Bitmap)
	err := seg.VisitTerms(base.Field, nil, nil, nil, func(term string, postings []segment.Posting) error {
		key, ok := bucketKey(term, base)
		if !ok {
			return nil
		}
		docs, exists := out[key]
		if !exists {
			docs = roaring.New()
			out[key] = docs
		}
		for _, p := range postings {
			docs.Add(uint32(p.DocNum))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("facet field %s: %w", base.Field, err)
	}
	return out, nil
}

// bucketKey maps a value to its bucket. Without a range size the value is
// its own bucket. The key format follows the range configuration: with an
// integral size and base every bucket is written "lo-hi" (inclusive),
// otherwise "[lo,hi)". Values that are not numbers have no range bucket.
func bucketKey(value string, base FacetBase) (string, bool) {
	if base.RangeSize <= 0 {
		return value, true
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	lo := base.RangeBase + math.Floor((v-base.RangeBase)/base.RangeSize)*base.RangeSize
	if base.RangeSize == math.Trunc(base.RangeSize) && base.RangeBase == math.Trunc(base.RangeBase) {
		l := int64(lo)
		return strconv.FormatInt(l, 10) + "-" + strconv.FormatInt(l+int64(base.RangeSize)-1, 10), true
	}
	return "[" + formatFloat(lo) + "," + formatFloat(lo+base.RangeSize) + ")", true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *facet) finish(res *Result, _ []uint32) {
	res.Facets = append(res.Facets, FacetResult{Key: c.spec.Key, Buckets: c.buckets(c.root, 0)})
}

func (c *facet) buckets(node *facetNode, level int) []FacetBucket {
	entries := make([]stats.Entry, 0, len(node.buckets))
	for value, b := range node.buckets {
		sum, _ := b.collector.Value(stats.Sum)
		entries = append(entries, stats.Entry{Key: value, Sum: sum, N: b.docs})
	}
	entries = c.sorts[level].Top(entries, c.spec.Base[level].Number)

	out := make([]FacetBucket, len(entries))
	for i, e := range entries {
		b := node.buckets[e.Key]
		out[i] = FacetBucket{Value: b.value, Docs: b.docs, Stats: b.collector.Result()}
		if b.sub != nil {
			out[i].Sub = c.buckets(b.sub, level+1)
		}
	}
	return out
}
