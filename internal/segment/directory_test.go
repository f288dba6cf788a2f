package segment

import (
	"errors"
	"testing"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/apperr"
)

func openDirectory(t *testing.T, seg *Segment) *Directory {
	t.Helper()
	dir, err := seg.Directory("text")
	if err != nil {
		t.Fatalf("Directory error: %v", err)
	}
	if dir == nil {
		t.Fatal("expected directory for text field")
	}
	return dir
}

func TestDirectory_GetDoc(t *testing.T) {
	seg := makeSegment(t,
		testDoc{"a", text("one two three")},
		testDoc{"b", map[string]any{"genre": "empty"}},
		testDoc{"c", text("four five")},
	)
	dir := openDirectory(t, seg)

	rec, err := dir.GetDoc(0)
	if err != nil || rec == nil {
		t.Fatalf("GetDoc(0) = %v, %v", rec, err)
	}
	if rec.Positions() != 3 || rec.MinPosition != 0 || rec.MaxPosition != 2 {
		t.Errorf("doc 0 record: %+v", rec)
	}
	// 3 words x (t, w) + 1 sentence
	if rec.Tokens != 7 {
		t.Errorf("doc 0 tokens: got %d, want 7", rec.Tokens)
	}

	rec, err = dir.GetDoc(1)
	if err != nil || rec != nil {
		t.Errorf("GetDoc(1) = %v, %v; want no data", rec, err)
	}

	rec, err = dir.GetNextDoc(1)
	if err != nil || rec == nil || rec.DocNum != 2 {
		t.Errorf("GetNextDoc(1) = %v, %v; want doc 2", rec, err)
	}
	rec, err = dir.GetNextDoc(3)
	if err != nil || rec != nil {
		t.Errorf("GetNextDoc(3) = %v, %v; want nil", rec, err)
	}
}

func TestDirectory_NumberOfPositionsBulkAndLookupAgree(t *testing.T) {
	var docs []testDoc
	for i := 0; i < 40; i++ {
		words := ""
		for j := 0; j <= i%7; j++ {
			words += "w "
		}
		docs = append(docs, testDoc{id: string(rune('A' + i)), fields: text(words)})
	}
	seg := makeSegment(t, docs...)
	dir := openDirectory(t, seg)

	selected := []uint32{1, 5, 9, 30, 39}
	bulk, err := dir.AllNumberOfPositions(selected)
	if err != nil {
		t.Fatalf("bulk error: %v", err)
	}
	single, err := dir.lookup(selected, (*DocumentRecord).Positions)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	for _, d := range selected {
		want := uint64(d%7) + 1
		if bulk[d] != want || single[d] != want {
			t.Errorf("doc %d: bulk=%d single=%d want %d", d, bulk[d], single[d], want)
		}
	}

	tokens, err := dir.NumberOfTokens([]uint32{2})
	if err != nil || tokens[2] != 2*3+1 {
		t.Errorf("NumberOfTokens: %v, %v", tokens, err)
	}
}

func TestDirectory_UseBulk(t *testing.T) {
	var docs []testDoc
	for i := 0; i < 100; i++ {
		docs = append(docs, testDoc{id: string(rune(0x100 + i)), fields: text("x")})
	}
	dir := openDirectory(t, makeSegment(t, docs...))

	// ln(100) ~ 4.6
	if dir.UseBulk(4) {
		t.Error("4 docs should use lookups")
	}
	if !dir.UseBulk(5) {
		t.Error("5 docs should use a bulk scan")
	}
}

func TestDirectory_KeywordFieldRejected(t *testing.T) {
	seg := makeSegment(t, testDoc{"a", map[string]any{"text": "x", "genre": "g"}})

	if _, err := seg.Directory("genre"); !apperr.IsInvalid(err) {
		t.Errorf("expected invalid request, got %v", err)
	}
	dir, err := seg.Directory("missing")
	if err != nil || dir != nil {
		t.Errorf("missing field: got %v, %v", dir, err)
	}
}

func TestDirectory_ObjectsByPosition(t *testing.T) {
	seg := makeSegment(t, testDoc{"a", text("The cat sat. It slept")})
	dir := openDirectory(t, seg)
	rec, _ := dir.GetDoc(0)

	tokens, err := dir.ObjectsByPosition(rec, 1, 2, []string{"w"})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if len(tokens) != 2 || tokens[0].Value != "cat" || tokens[1].Value != "sat" {
		t.Fatalf("got %+v", tokens)
	}
	if tokens[0].Start != 1 || tokens[0].Parent < 0 {
		t.Errorf("cat token: %+v", tokens[0])
	}

	all, err := dir.ObjectsByPosition(rec, 3, 3, nil)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	// t:It, w:it and the second sentence
	if len(all) != 3 {
		t.Errorf("position 3: got %d tokens %+v", len(all), all)
	}

	none, err := dir.ObjectsByPosition(rec, 0, 4, []string{"unknown"})
	if err != nil || len(none) != 0 {
		t.Errorf("unknown prefix: got %v, %v", none, err)
	}
}

func TestDirectory_ObjectByIDAndParent(t *testing.T) {
	seg := makeSegment(t, testDoc{"a", text("alpha beta gamma. delta")})
	dir := openDirectory(t, seg)
	rec, _ := dir.GetDoc(0)

	tokens := analysis.NewAnnotating().Analyze("alpha beta gamma. delta")
	for id, want := range tokens {
		got, err := dir.ObjectByID(rec, uint64(id))
		if err != nil {
			t.Fatalf("ObjectByID(%d) error: %v", id, err)
		}
		if got.ID != uint64(id) || got.Prefix != want.Prefix || got.Value != want.Value ||
			got.Start != want.Start || got.End != want.End || got.Parent != int64(want.Parent) {
			t.Errorf("ObjectByID(%d) = %+v, want %+v", id, got, want)
		}
	}

	if _, err := dir.ObjectByID(rec, rec.Tokens); !apperr.IsInvalid(err) {
		t.Errorf("expected invalid request for id past the end, got %v", err)
	}

	// token 0 is the first sentence, parent of six word tokens
	children, err := dir.ObjectsByParent(rec, 0)
	if err != nil {
		t.Fatalf("ObjectsByParent error: %v", err)
	}
	if len(children) != 6 {
		t.Errorf("children of sentence 0: got %d", len(children))
	}
	for _, c := range children {
		if c.Parent != 0 {
			t.Errorf("child %+v has wrong parent", c)
		}
	}
}

func TestDirectory_TermAndCorruptReferences(t *testing.T) {
	seg := makeSegment(t, testDoc{"a", text("x y")})
	dir := openDirectory(t, seg)
	rec, _ := dir.GetDoc(0)

	hits, err := dir.HitsByPosition(rec, 0, 0, dir.PrefixFilter([]string{"w"}))
	if err != nil || len(hits) != 1 {
		t.Fatalf("HitsByPosition: %v, %v", hits, err)
	}
	term, err := dir.Term(int64(hits[0].AuxRef))
	if err != nil || term != "w:x" {
		t.Errorf("Term = %q, %v", term, err)
	}

	if _, err := dir.Token(-1); !errors.Is(err, apperr.ErrStorage) {
		t.Errorf("expected storage error, got %v", err)
	}
	if _, err := dir.Term(int64(len(seg.data) + 10)); !errors.Is(err, apperr.ErrStorage) {
		t.Errorf("expected storage error, got %v", err)
	}
}
