package collect

import (
	"fmt"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/index"
	"harshagw/spanstats/internal/logger"
	"harshagw/spanstats/internal/spans"
)

const field = "text"

// newSnapshot indexes one flushed segment per argument. Documents are named
// d0, d1, ... in global order.
func newSnapshot(t *testing.T, segments ...[]map[string]any) *index.IndexSnapshot {
	t.Helper()
	config := index.DefaultConfig(t.TempDir())
	config.FlushThreshold = 10000
	config.Logger = logger.Nop()

	idx, err := index.New(config)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	n := 0
	for _, docs := range segments {
		for _, doc := range docs {
			require.NoError(t, idx.Index(fmt.Sprintf("d%d", n), doc))
			n++
		}
		require.NoError(t, idx.Flush())
	}
	snap, err := idx.Snapshot()
	require.NoError(t, err)
	return snap
}

func texts(values ...string) []map[string]any {
	out := make([]map[string]any, len(values))
	for i, v := range values {
		out[i] = map[string]any{field: v}
	}
	return out
}

func newTestCollector(snap *index.IndexSnapshot) *Collector {
	return New(snap, WithLogger(logger.Nop()))
}

func docSet(ids ...uint32) Target {
	return Target{DocSet: roaring.BitmapOf(ids...)}
}

// threeSegments holds docs 0-2, 3-5 and 6-8; doc i has i+1 positions.
func threeSegments(t *testing.T) *index.IndexSnapshot {
	t.Helper()
	doc := func(i int) string { return strings.TrimSpace(strings.Repeat("the ", i+1)) }
	return newSnapshot(t,
		texts(doc(0), doc(1), doc(2)),
		texts(doc(3), doc(4), doc(5)),
		texts(doc(6), doc(7), doc(8)),
	)
}

func TestCollect_PositionStatsOverSegments(t *testing.T) {
	snap := threeSegments(t)
	require.Len(t, snap.Segments(), 3)

	status := NewStatus()
	res, err := newTestCollector(snap).Collect(docSet(1, 4, 7), &FieldRequest{
		Field:          field,
		StatsPositions: []StatsSpec{{Key: "len", Statistics: "sum,n"}},
	}, status)
	require.NoError(t, err)

	require.Len(t, res.StatsPositions, 1)
	assert.Equal(t, map[string]float64{"sum": 2 + 5 + 8, "n": 3}, res.StatsPositions[0].Values)

	s := status.Snapshot()
	assert.Equal(t, int64(3), s.NumberSegmentsTotal)
	assert.Equal(t, int64(3), s.NumberSegmentsFinished)
	assert.Equal(t, int64(3), s.NumberDocumentsTotal)
	assert.Equal(t, int64(3), s.NumberDocumentsFound)
	assert.Equal(t, int64(3), s.NumberDocumentsFinished)
}

func TestCollect_SpanStatsShareQueries(t *testing.T) {
	snap := threeSegments(t)
	the := spans.NewTerm(field, "w:the")
	all := spans.NewAllPositions(field)

	req := &FieldRequest{
		Field: field,
		StatsSpans: []SpanStatsSpec{
			{Key: "count", Queries: []spans.Query{the}, Statistics: "sum,n,max"},
			{Key: "ratio", Queries: []spans.Query{spans.NewTerm(field, "w:the"), all}, Expression: "$q0/$q1", Statistics: "mean"},
			{Key: "missing", Queries: []spans.Query{spans.NewTerm(field, "w:dog")}, Statistics: "sum"},
		},
	}
	assert.Len(t, req.Queries(), 3)

	res, err := newTestCollector(snap).Collect(docSet(0, 2, 8), req, nil)
	require.NoError(t, err)
	require.Len(t, res.StatsSpans, 3)

	assert.Equal(t, map[string]float64{"sum": 1 + 3 + 9, "n": 3, "max": 9}, res.StatsSpans[0].Values)
	assert.InDelta(t, 1.0, res.StatsSpans[1].Values["mean"], 1e-9)
	assert.Equal(t, 0.0, res.StatsSpans[2].Values["sum"])
}

func TestCollect_FunctionErrorsAreKeyed(t *testing.T) {
	snap := newSnapshot(t, texts("a b", "b c", "a"))
	res, err := newTestCollector(snap).Collect(docSet(0, 1, 2), &FieldRequest{
		Field: field,
		StatsSpans: []SpanStatsSpec{{
			Key:        "ratio",
			Queries:    []spans.Query{spans.NewTerm(field, "w:b"), spans.NewTerm(field, "w:a")},
			Expression: "$q0/$q1",
			Statistics: "sum,n",
		}},
	}, nil)
	require.NoError(t, err)

	r := res.StatsSpans[0]
	assert.Equal(t, 2.0, r.Values["n"], "doc 1 has no w:a and fails")
	assert.Equal(t, 1.0, r.Values["sum"])
	require.Len(t, r.Errors, 1)
	for msg, n := range r.Errors {
		assert.Contains(t, msg, "ratio")
		assert.Equal(t, 1, n)
	}
}

func TestCollect_DeletedDocumentsAreSkipped(t *testing.T) {
	config := index.DefaultConfig(t.TempDir())
	config.Logger = logger.Nop()
	idx, err := index.New(config)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, idx.Index("a", map[string]any{field: "x x"}))
	require.NoError(t, idx.Index("b", map[string]any{field: "x x x"}))
	require.NoError(t, idx.Flush())
	require.NoError(t, idx.Delete("b"))

	snap, err := idx.Snapshot()
	require.NoError(t, err)
	res, err := newTestCollector(snap).Collect(docSet(0, 1), &FieldRequest{
		Field:      field,
		StatsSpans: []SpanStatsSpec{{Key: "x", Queries: []spans.Query{spans.NewTerm(field, "w:x")}}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"n": 1, "sum": 2}, res.StatsSpans[0].Values)
}

func TestCollect_CollectAllTracksFields(t *testing.T) {
	snap := threeSegments(t)
	status := NewStatus()
	out, err := newTestCollector(snap).CollectAll(docSet(0, 1), []*FieldRequest{
		{Field: field, StatsTokens: []StatsSpec{{Key: "tokens", Statistics: "sum"}}},
	}, status)
	require.NoError(t, err)
	require.Len(t, out, 1)

	// Each word yields a t and a w token plus one sentence token.
	assert.Equal(t, 2.0*1+1+2.0*2+1, out[0].StatsTokens[0].Values["sum"])
	sub := status.Snapshot().Subs[field]
	assert.Equal(t, int64(3), sub.NumberSegmentsFinished)
}

func TestCollect_RangeFiltersDocuments(t *testing.T) {
	snap := threeSegments(t)
	lo, hi := 3.0, 6.0
	res, err := newTestCollector(snap).Collect(docSet(0, 1, 2, 3, 4, 5, 6, 7, 8), &FieldRequest{
		Field:          field,
		StatsPositions: []StatsSpec{{Key: "mid", Statistics: "n,min,max", Range: Range{Min: &lo, Max: &hi}}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"n": 4, "min": 3, "max": 6}, res.StatsPositions[0].Values)
}

func TestValidate(t *testing.T) {
	the := spans.NewTerm(field, "w:the")
	tests := []struct {
		name string
		req  *FieldRequest
	}{
		{"no field", &FieldRequest{}},
		{"duplicate key", &FieldRequest{Field: field, StatsPositions: []StatsSpec{{Key: "a"}, {Key: "a"}}}},
		{"unknown statistic", &FieldRequest{Field: field, StatsTokens: []StatsSpec{{Key: "a", Statistics: "modus"}}}},
		{"foreign query", &FieldRequest{Field: field, StatsSpans: []SpanStatsSpec{{Key: "a", Queries: []spans.Query{spans.NewTerm("other", "w:x")}}}}},
		{"arity", &FieldRequest{Field: field, StatsSpans: []SpanStatsSpec{{Key: "a", Queries: []spans.Query{the}, Expression: "$q1"}}}},
		{"two block specifiers", &FieldRequest{Field: field, Indexes: []IndexSpec{{Key: "a", Query: the, BlockSize: 10, BlockCount: 2}}}},
		{"no block specifier", &FieldRequest{Field: field, Indexes: []IndexSpec{{Key: "a", Query: the}}}},
		{"match mode", &FieldRequest{Field: field, Indexes: []IndexSpec{{Key: "a", Query: the, BlockSize: 10, Match: "partial"}}}},
		{"group without positions", &FieldRequest{Field: field, Groups: []GroupSpec{{Key: "a", Query: the}}}},
		{"bad prefix", &FieldRequest{Field: field, Kwics: []KwicSpec{{Key: "a", Query: the, Prefixes: []string{"w:x"}}}}},
		{"termvector regexp", &FieldRequest{Field: field, TermVectors: []TermVectorSpec{{Key: "a", Prefix: "w", Regexp: "(["}}}},
		{"facet sort", &FieldRequest{Field: field, Facets: []FacetSpec{{Key: "a", Base: []FacetBase{{Field: "genre", SortType: "size"}}}}}},
		{"page window", &FieldRequest{Field: field, Pages: []PageSpec{{Key: "a", Start: 5, End: 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.True(t, apperr.IsInvalid(err), "got %v", err)
		})
	}

	ok := &FieldRequest{Field: field, Indexes: []IndexSpec{{Key: "a", Query: the, BlockCount: 3, Match: "Start"}}}
	assert.NoError(t, ok.Validate())
}

func TestCollect_InvalidRequestReadsNothing(t *testing.T) {
	snap := threeSegments(t)
	status := NewStatus()
	_, err := newTestCollector(snap).Collect(docSet(1), &FieldRequest{Field: field, StatsPositions: []StatsSpec{{}}}, status)
	require.Error(t, err)
	assert.True(t, apperr.IsInvalid(err))
	assert.Zero(t, status.Snapshot().NumberSegmentsFinished)
}

func TestClip(t *testing.T) {
	snap := threeSegments(t)
	ss := snap.Segments()[1]

	d := clip(ss, Target{DocSet: roaring.BitmapOf(1, 3, 5, 7), DocList: []uint32{5, 4, 5, 0}})
	assert.Equal(t, []uint32{0, 2}, d.setDocs())
	assert.Equal(t, []uint32{2, 1}, d.list)
	assert.Equal(t, []uint32{0, 1, 2}, d.all)

	d = clip(ss, docSet(4))
	assert.Equal(t, []uint32{1}, d.list)
	assert.Equal(t, 1, d.Count())
}

func TestMergeJoin(t *testing.T) {
	sp := spans.NewListSpans([]spans.DocMatches{
		{Doc: 1, Matches: []spans.Match{{Start: 0, End: 1}}},
		{Doc: 3, Matches: []spans.Match{{Start: 0, End: 2}, {Start: 4, End: 5}}},
		{Doc: 9, Matches: []spans.Match{{Start: 2, End: 3}}},
	})
	counts, matches := mergeJoin(sp, []uint32{0, 3, 4, 9}, true)
	assert.Equal(t, map[uint32]int{3: 2, 9: 1}, counts)
	assert.Equal(t, []spans.Match{{Start: 0, End: 2}, {Start: 4, End: 5}}, matches[3])
	assert.NotContains(t, matches, uint32(1))
}
