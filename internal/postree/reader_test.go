package postree

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"harshagw/spanstats/internal/apperr"
)

// buildTree writes items behind a small junk prefix so offsets are non-zero.
func buildTree(t *testing.T, items []Interval, opts Options) *Tree {
	t.Helper()
	buf := []byte{0xde, 0xad, 0xbe, 0xef}
	buf, off := Append(buf, 0, items, opts)
	tree, err := Open(buf, off, Limits{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return tree
}

func randomIntervals(r *rand.Rand, n int, maxPos uint64) []Interval {
	items := make([]Interval, n)
	for i := range items {
		left := uint64(r.Int63n(int64(maxPos)))
		width := uint64(r.Int63n(6))
		if r.Intn(4) == 0 {
			width = 0
		}
		items[i] = Interval{Left: left, Right: left + width, Ref: int64(1000 + i)}
	}
	return items
}

func naiveSearch(items []Interval, start, end uint64) []Hit {
	var out []Hit
	for _, it := range items {
		if it.Left <= end && it.Right >= start {
			out = append(out, it)
		}
	}
	sortHits(out)
	return out
}

func naiveAdvance(items []Interval, p uint64) []Hit {
	best := ^uint64(0)
	for _, it := range items {
		if it.Left >= p && it.Left < best {
			best = it.Left
		}
	}
	var out []Hit
	for _, it := range items {
		if it.Left == best {
			out = append(out, it)
		}
	}
	sortHits(out)
	return out
}

func sameHits(a, b []Hit) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTree_SearchMatchesNaiveFilter(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		items := randomIntervals(r, 1+r.Intn(200), 120)
		tree := buildTree(t, items, Options{RefBase: 1000})

		for q := 0; q < 50; q++ {
			start := uint64(r.Int63n(130))
			end := start + uint64(r.Int63n(8))
			got, err := tree.Search(start, end)
			if err != nil {
				t.Fatalf("Search(%d,%d) error: %v", start, end, err)
			}
			want := naiveSearch(items, start, end)
			if !sameHits(got, want) {
				t.Fatalf("round %d Search(%d,%d) = %v, want %v", round, start, end, got, want)
			}
		}
	}
}

func TestTree_PointSearch(t *testing.T) {
	items := []Interval{
		{Left: 0, Right: 0, Ref: 1},
		{Left: 0, Right: 4, Ref: 2},
		{Left: 2, Right: 2, Ref: 3},
		{Left: 3, Right: 9, Ref: 4},
	}
	tree := buildTree(t, items, Options{})

	got, err := tree.PointSearch(3)
	if err != nil {
		t.Fatalf("PointSearch error: %v", err)
	}
	var refs []int64
	for _, h := range got {
		refs = append(refs, h.Ref)
	}
	if len(refs) != 2 || refs[0] != 2 || refs[1] != 4 {
		t.Errorf("PointSearch(3) refs = %v, want [2 4]", refs)
	}
}

func TestTree_AdvanceReturnsMinimalLeft(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for round := 0; round < 20; round++ {
		items := randomIntervals(r, 1+r.Intn(150), 80)
		tree := buildTree(t, items, Options{})

		for p := uint64(0); p < 90; p++ {
			got, err := tree.Advance(p)
			if err != nil {
				t.Fatalf("Advance(%d) error: %v", p, err)
			}
			want := naiveAdvance(items, p)
			if !sameHits(got, want) {
				t.Fatalf("round %d Advance(%d) = %v, want %v", round, p, got, want)
			}
		}
	}
}

func TestTree_AdvanceIsMonotone(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	items := randomIntervals(r, 300, 200)
	tree := buildTree(t, items, Options{})

	var last uint64
	for p := uint64(0); p <= 200; p += uint64(1 + r.Intn(3)) {
		hits, err := tree.Advance(p)
		if err != nil {
			t.Fatalf("Advance(%d) error: %v", p, err)
		}
		if len(hits) == 0 {
			break
		}
		if hits[0].Left < p {
			t.Fatalf("Advance(%d) returned left %d", p, hits[0].Left)
		}
		if hits[0].Left < last {
			t.Fatalf("Advance(%d) moved backwards: %d < %d", p, hits[0].Left, last)
		}
		last = hits[0].Left
	}
}

func TestTree_AuxValuesRoundTrip(t *testing.T) {
	items := []Interval{
		{Left: 5, Right: 5, Ref: 40, AuxID: 2, AuxRef: 17},
		{Left: 5, Right: 5, Ref: 10, AuxID: 1, AuxRef: 3},
		{Left: 1, Right: 7, Ref: -4, AuxID: 3, AuxRef: 0},
	}
	tree := buildTree(t, items, Options{Aux: true, RefBase: 10})

	hits, err := tree.Search(0, 10)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	want := naiveSearch(items, 0, 10)
	if !sameHits(hits, want) {
		t.Errorf("Search = %v, want %v", hits, want)
	}
	if tree.Count() != 2 {
		t.Errorf("Count = %d, want 2 merged intervals", tree.Count())
	}
}

func TestTree_Empty(t *testing.T) {
	tree := buildTree(t, nil, Options{})
	if !tree.Empty() {
		t.Fatal("expected empty tree")
	}
	hits, err := tree.Search(0, 100)
	if err != nil || len(hits) != 0 {
		t.Errorf("Search on empty tree = %v, %v", hits, err)
	}
	hits, err = tree.Advance(0)
	if err != nil || len(hits) != 0 {
		t.Errorf("Advance on empty tree = %v, %v", hits, err)
	}
}

func TestTree_HeightIsLogarithmic(t *testing.T) {
	items := make([]Interval, 1023)
	for i := range items {
		items[i] = Interval{Left: uint64(i), Right: uint64(i), Ref: int64(i)}
	}
	tree := buildTree(t, items, Options{})
	if tree.Height() != 10 {
		t.Errorf("Height = %d, want 10", tree.Height())
	}
}

func TestTree_VisitCapExceeded(t *testing.T) {
	// every interval covers the query point, so all nodes must be visited
	items := make([]Interval, 500)
	for i := range items {
		items[i] = Interval{Left: 0, Right: uint64(1000 + i), Ref: int64(i)}
	}
	buf, off := Append(nil, 0, items, Options{})
	tree, err := Open(buf, off, Limits{VisitBase: 10, PerPosition: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	_, err = tree.PointSearch(500)
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}

	tree, _ = Open(buf, off, Limits{})
	hits, err := tree.PointSearch(500)
	if err != nil {
		t.Fatalf("default limits error: %v", err)
	}
	if len(hits) != 500 {
		t.Errorf("got %d hits, want 500", len(hits))
	}
}

func TestTree_CorruptRootPointer(t *testing.T) {
	items := []Interval{{Left: 1, Right: 2, Ref: 1}}
	buf, off := Append(nil, 0, items, Options{})

	// rootDelta is the last byte of the preamble
	buf[len(buf)-1] = 0x7f
	if _, err := Open(buf, off, Limits{}); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestTree_TruncatedNode(t *testing.T) {
	items := []Interval{{Left: 1, Right: 2, Ref: 1}, {Left: 3, Right: 4, Ref: 2}}
	buf, off := Append(nil, 0, items, Options{})
	tree, err := Open(buf, off, Limits{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	tree.data = buf[:2]
	if _, err := tree.Search(0, 10); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestAppend_OriginOffsetsAreAbsolute(t *testing.T) {
	items := []Interval{{Left: 4, Right: 4, Ref: 9}}
	region, off := Append(nil, 500, items, Options{})
	data := append(make([]byte, 500), region...)

	tree, err := Open(data, off, Limits{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	hits, err := tree.PointSearch(4)
	if err != nil || len(hits) != 1 || hits[0].Ref != 9 {
		t.Fatalf("PointSearch = %v, %v", hits, err)
	}
}

func TestSortHitsOrder(t *testing.T) {
	hits := []Hit{{Left: 2, Right: 3, Ref: 1}, {Left: 1, Right: 5, Ref: 2}, {Left: 1, Right: 5, Ref: 0}}
	sortHits(hits)
	if !sort.SliceIsSorted(hits, func(i, j int) bool {
		if hits[i].Left != hits[j].Left {
			return hits[i].Left < hits[j].Left
		}
		if hits[i].Right != hits[j].Right {
			return hits[i].Right < hits[j].Right
		}
		return hits[i].Ref < hits[j].Ref
	}) {
		t.Errorf("hits not sorted: %v", hits)
	}
}
