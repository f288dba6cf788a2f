package main

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"harshagw/spanstats/internal/collect"
	"harshagw/spanstats/internal/index"
	"harshagw/spanstats/internal/logger"
	"harshagw/spanstats/internal/spans"
)

const field = "text"

// Check is one named verification run against a fresh index.
type Check struct {
	Name string
	Run  func(dir string) error
}

// CheckCategory groups related checks.
type CheckCategory struct {
	Name   string
	Checks []Check
}

func main() {
	fmt.Println("Span Statistics Verification")
	fmt.Println("============================")

	dir, err := os.MkdirTemp("", "verify-*")
	if err != nil {
		fmt.Printf("Error creating temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	passed := 0
	failed := 0
	for _, category := range getCheckCategories() {
		fmt.Printf("\n%s\n", category.Name)
		fmt.Println(strings.Repeat("-", len(category.Name)))

		for i, c := range category.Checks {
			sub := filepath.Join(dir, fmt.Sprintf("%s-%d", strings.ToLower(strings.ReplaceAll(category.Name, " ", "-")), i))
			if err := c.Run(sub); err != nil {
				fmt.Printf("  ✗ %s\n", c.Name)
				fmt.Printf("    %v\n", err)
				failed++
				continue
			}
			fmt.Printf("  ✓ %s\n", c.Name)
			passed++
		}
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Printf("Results: %d passed, %d failed, %d total\n", passed, failed, passed+failed)

	if failed > 0 {
		os.Exit(1)
	}
	fmt.Println("\nAll checks passed!")
}

// buildSnapshot indexes one flushed segment per element of segments and
// returns a snapshot over them. Documents are named d0, d1, ... in order.
func buildSnapshot(dir string, segments ...[]map[string]any) (*index.IndexSnapshot, func(), error) {
	cfg := index.DefaultConfig(dir)
	cfg.FlushThreshold = 100000
	cfg.Logger = logger.Nop()
	idx, err := index.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	n := 0
	for _, docs := range segments {
		for _, doc := range docs {
			if err := idx.Index(fmt.Sprintf("d%d", n), doc); err != nil {
				idx.Close()
				return nil, nil, err
			}
			n++
		}
		if err := idx.Flush(); err != nil {
			idx.Close()
			return nil, nil, err
		}
	}

	snap, err := idx.Snapshot()
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	return snap, func() {
		snap.Close()
		idx.Close()
	}, nil
}

func texts(values ...string) []map[string]any {
	out := make([]map[string]any, len(values))
	for i, v := range values {
		out[i] = map[string]any{field: v}
	}
	return out
}

func run(snap *index.IndexSnapshot, target collect.Target, req *collect.FieldRequest) (*collect.Result, error) {
	return collect.New(snap, collect.WithLogger(logger.Nop())).Collect(target, req, collect.NewStatus())
}

func allDocs(snap *index.IndexSnapshot) collect.Target {
	docs := roaring.New()
	docs.AddRange(0, snap.MaxDoc())
	return collect.Target{DocSet: docs}
}

func getCheckCategories() []CheckCategory {
	return []CheckCategory{
		{
			Name: "END TO END",
			Checks: []Check{
				{"position stats over three segments", checkPositionStats},
				{"span stats over three segments", checkSpanStats},
			},
		},
		{
			Name: "INDEX BLOCKS",
			Checks: []Check{
				{"intersect counts both blocks", blockCheck(collect.MatchIntersect, []int64{1, 1})},
				{"complete counts neither block", blockCheck(collect.MatchComplete, []int64{0, 0})},
				{"start counts the first block", blockCheck(collect.MatchStart, []int64{1, 0})},
			},
		},
		{
			Name: "TERM VECTORS",
			Checks: []Check{
				{"top 2 by sum", termVectorCheck("sum", 2)},
				{"top 3 by n", termVectorCheck("n", 3)},
				{"all terms", termVectorCheck("sum", 0)},
			},
		},
		{
			Name: "FACETS",
			Checks: []Check{
				{"bucket counts intersect the target", checkFacet},
			},
		},
		{
			Name: "GROUPS",
			Checks: []Check{
				{"identical hits share one shape", checkGroup},
			},
		},
	}
}

// threeSegments holds docs 0-2, 3-5 and 6-8; doc i is "the" repeated i+1
// times.
func threeSegments(dir string) (*index.IndexSnapshot, func(), error) {
	doc := func(i int) string { return strings.TrimSpace(strings.Repeat("the ", i+1)) }
	return buildSnapshot(dir,
		texts(doc(0), doc(1), doc(2)),
		texts(doc(3), doc(4), doc(5)),
		texts(doc(6), doc(7), doc(8)),
	)
}

func checkPositionStats(dir string) error {
	snap, done, err := threeSegments(dir)
	if err != nil {
		return err
	}
	defer done()

	res, err := run(snap, collect.Target{DocSet: roaring.BitmapOf(1, 4, 7)}, &collect.FieldRequest{
		Field:          field,
		StatsPositions: []collect.StatsSpec{{Key: "positions", Statistics: "sum,n"}},
	})
	if err != nil {
		return err
	}
	return expectValues(res.StatsPositions[0].Values, map[string]float64{"sum": 2 + 5 + 8, "n": 3})
}

func checkSpanStats(dir string) error {
	snap, done, err := threeSegments(dir)
	if err != nil {
		return err
	}
	defer done()

	res, err := run(snap, collect.Target{DocSet: roaring.BitmapOf(1, 4, 7)}, &collect.FieldRequest{
		Field: field,
		StatsSpans: []collect.SpanStatsSpec{{
			Key:        "the",
			Queries:    []spans.Query{spans.NewTerm(field, "w:the")},
			Statistics: "sum,n",
		}},
	})
	if err != nil {
		return err
	}
	return expectValues(res.StatsSpans[0].Values, map[string]float64{"sum": 2 + 5 + 8, "n": 3})
}

func expectValues(got, want map[string]float64) error {
	for k, v := range want {
		if got[k] != v {
			return fmt.Errorf("%s: expected %v, got %v (all: %v)", k, v, got[k], got)
		}
	}
	return nil
}

// blockCheck splits a 20 position document into blocks [0,9] and [10,19]
// and matches the hit covering positions 5 to 14 with mode.
func blockCheck(mode string, want []int64) func(string) error {
	return func(dir string) error {
		words := make([]string, 20)
		for i := range words {
			words[i] = fmt.Sprintf("p%d", i)
		}
		snap, done, err := buildSnapshot(dir, texts(strings.Join(words, " ")))
		if err != nil {
			return err
		}
		defer done()

		clauses := make([]spans.Query, 0, 10)
		for i := 5; i < 15; i++ {
			clauses = append(clauses, spans.NewTerm(field, "w:"+words[i]))
		}
		res, err := run(snap, collect.Target{DocList: []uint32{0}}, &collect.FieldRequest{
			Field: field,
			Indexes: []collect.IndexSpec{{
				Key:       "blocks",
				Query:     spans.NewSequence(field, clauses...),
				BlockSize: 10,
				Match:     mode,
			}},
		})
		if err != nil {
			return err
		}
		if len(res.Indexes[0].Docs) != 1 {
			return fmt.Errorf("expected 1 document, got %d", len(res.Indexes[0].Docs))
		}
		blocks := res.Indexes[0].Docs[0].Blocks
		got := make([]int64, len(blocks))
		for i, b := range blocks {
			got[i] = b.Count
		}
		if !slices.Equal(got, want) {
			return fmt.Errorf("expected block counts %v, got %v", want, got)
		}
		return nil
	}
}

// skewedSegments spreads terms so that no segment's local leaders are the
// global leaders.
var skewedSegments = [][]string{
	{"x x x x y", "z q"},
	{"y y z z", "z q q"},
	{"y w w w", "w z q"},
}

type refEntry struct {
	term string
	sum  int64
	n    int64
}

// referenceTermVector ranks the w terms of every document in a single pass.
func referenceTermVector(sortType string, number int) []refEntry {
	byTerm := make(map[string]*refEntry)
	for _, seg := range skewedSegments {
		for _, text := range seg {
			seen := make(map[string]bool)
			for _, w := range strings.Fields(text) {
				e, ok := byTerm[w]
				if !ok {
					e = &refEntry{term: w}
					byTerm[w] = e
				}
				e.sum++
				if !seen[w] {
					seen[w] = true
					e.n++
				}
			}
		}
	}
	out := make([]refEntry, 0, len(byTerm))
	for _, e := range byTerm {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b refEntry) int {
		va, vb := a.sum, b.sum
		if sortType == "n" {
			va, vb = a.n, b.n
		}
		if d := cmp.Compare(vb, va); d != 0 {
			return d
		}
		return cmp.Compare(a.term, b.term)
	})
	if number > 0 && len(out) > number {
		out = out[:number]
	}
	return out
}

func termVectorCheck(sortType string, number int) func(string) error {
	return func(dir string) error {
		segments := make([][]map[string]any, len(skewedSegments))
		for i, seg := range skewedSegments {
			segments[i] = texts(seg...)
		}
		snap, done, err := buildSnapshot(dir, segments...)
		if err != nil {
			return err
		}
		defer done()

		res, err := run(snap, allDocs(snap), &collect.FieldRequest{
			Field: field,
			TermVectors: []collect.TermVectorSpec{{
				Key:           "w",
				Prefix:        "w",
				Number:        number,
				SortType:      sortType,
				SortDirection: "desc",
				Statistics:    "sum,n",
			}},
		})
		if err != nil {
			return err
		}

		want := referenceTermVector(sortType, number)
		got := res.TermVectors[0].Terms
		if len(got) != len(want) {
			return fmt.Errorf("expected %d terms, got %d", len(want), len(got))
		}
		for i := range want {
			if got[i].Term != want[i].term || got[i].Sum != want[i].sum || got[i].N != want[i].n {
				return fmt.Errorf("rank %d: expected %+v, got %s sum=%d n=%d", i, want[i], got[i].Term, got[i].Sum, got[i].N)
			}
		}
		return nil
	}
}

func checkFacet(dir string) error {
	genres := []string{"poem", "prose", "poem", "drama", "prose", "poem"}
	docs := make([]map[string]any, len(genres))
	for i, g := range genres {
		docs[i] = map[string]any{field: "a b c", "genre": g}
	}
	snap, done, err := buildSnapshot(dir, docs[:3], docs[3:])
	if err != nil {
		return err
	}
	defer done()

	target := roaring.BitmapOf(0, 1, 2, 4)
	res, err := run(snap, collect.Target{DocSet: target}, &collect.FieldRequest{
		Field: field,
		Facets: []collect.FacetSpec{{
			Key:        "genre",
			Base:       []collect.FacetBase{{Field: "genre"}},
			Statistics: "n",
		}},
	})
	if err != nil {
		return err
	}

	want := make(map[string]int64)
	target.Iterate(func(doc uint32) bool {
		want[genres[doc]]++
		return true
	})
	got := make(map[string]int64)
	var total int64
	for _, b := range res.Facets[0].Buckets {
		got[b.Value] = b.Docs
		total += b.Docs
	}
	for k, v := range want {
		if got[k] != v {
			return fmt.Errorf("bucket %s: expected %d docs, got %d", k, v, got[k])
		}
	}
	if len(got) != len(want) || total != int64(target.GetCardinality()) {
		return fmt.Errorf("expected buckets %v, got %v", want, got)
	}
	return nil
}

func checkGroup(dir string) error {
	snap, done, err := buildSnapshot(dir,
		texts("the big red dog", "a big red dog barks"),
		texts("big red dogs"),
	)
	if err != nil {
		return err
	}
	defer done()

	q := spans.NewSequence(field, spans.NewTerm(field, "w:big"), spans.NewTerm(field, "w:red"))
	res, err := run(snap, allDocs(snap), &collect.FieldRequest{
		Field: field,
		Groups: []collect.GroupSpec{{
			Key:       "big red",
			Query:     q,
			HitInside: []string{"w"},
			Right:     []collect.GroupPosition{{Offset: 0, Prefixes: []string{"w"}}},
		}},
	})
	if err != nil {
		return err
	}

	groups := res.Groups[0].Groups
	if len(groups) != 2 {
		return fmt.Errorf("expected 2 shapes, got %d", len(groups))
	}
	if groups[0].OccurrencesN != 2 || groups[1].OccurrencesN != 1 {
		return fmt.Errorf("expected shape counts [2 1], got [%d %d]", groups[0].OccurrencesN, groups[1].OccurrencesN)
	}
	if !groups[0].Hit.Equal(&collect.GroupHit{
		HitInside: [][]string{{"w:big"}, {"w:red"}},
		Right:     [][]string{{"w:dog"}},
	}) {
		return fmt.Errorf("unexpected leading shape %s", groups[0].Hit)
	}
	return nil
}
