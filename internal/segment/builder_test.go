package segment

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"harshagw/spanstats/internal/analysis"
)

func newTestBuilder() *Builder {
	return NewBuilder(analysis.NewAnnotating(), []string{"text"})
}

func TestBuilder_Add_ReturnsDocNum(t *testing.T) {
	b := newTestBuilder()

	docNum0 := b.Add("doc1", map[string]any{"text": "first"})
	docNum1 := b.Add("doc2", map[string]any{"text": "second"})

	if docNum0 != 0 || docNum1 != 1 {
		t.Errorf("expected docNums 0,1 got %d,%d", docNum0, docNum1)
	}
	if b.NumDocs() != 2 {
		t.Errorf("expected 2 docs, got %d", b.NumDocs())
	}
}

func TestBuilder_Add_IndexesPrefixedTerms(t *testing.T) {
	b := newTestBuilder()
	b.Add("doc1", map[string]any{"text": "Hello World"})

	terms := b.Fields["text"]
	if terms == nil {
		t.Fatal("text field not indexed")
	}
	for _, term := range []string{"w:hello", "w:world", "t:Hello", "s:0"} {
		if _, ok := terms[term]; !ok {
			t.Errorf("%q not indexed", term)
		}
	}
}

func TestBuilder_Add_TracksOccurrences(t *testing.T) {
	b := newTestBuilder()
	b.Add("doc1", map[string]any{"text": "go go go"})

	posting := b.Fields["text"]["w:go"][0]
	if posting.Frequency != 3 {
		t.Errorf("frequency: got %d, want 3", posting.Frequency)
	}
	if !reflect.DeepEqual(posting.Positions, []uint64{0, 1, 2}) {
		t.Errorf("positions: got %v", posting.Positions)
	}

	sentence := b.Fields["text"]["s:0"][0]
	if sentence.Positions[0] != 0 || sentence.Ends[0] != 2 {
		t.Errorf("sentence occurrence: got [%d,%d], want [0,2]", sentence.Positions[0], sentence.Ends[0])
	}
}

func TestBuilder_Add_KeywordFields(t *testing.T) {
	b := newTestBuilder()
	b.Add("doc1", map[string]any{"year": float64(1999), "tags": []any{"a", "b", "a"}, "score": 2.5})

	if _, ok := b.Fields["year"]["1999"]; !ok {
		t.Errorf("year keyword not indexed: %v", b.Fields["year"])
	}
	if _, ok := b.Fields["score"]["2.5"]; !ok {
		t.Errorf("score keyword not indexed: %v", b.Fields["score"])
	}
	if p := b.Fields["tags"]["a"][0]; p.Frequency != 2 {
		t.Errorf("tag a frequency: got %d, want 2", p.Frequency)
	}
	if b.IsTextField("year") {
		t.Error("year should be a keyword field")
	}
}

func TestBuilder_AddTokens(t *testing.T) {
	b := newTestBuilder()
	b.Add("doc1", map[string]any{"other": "x"})

	err := b.AddTokens("text", []analysis.Token{
		{Prefix: "pos", Value: "NN", Start: 0, End: 0, Parent: -1},
		{Prefix: "ent", Value: "PER", Start: 0, End: 2, Parent: -1},
	})
	if err != nil {
		t.Fatalf("AddTokens error: %v", err)
	}
	if _, ok := b.Fields["text"]["ent:PER"]; !ok {
		t.Error("ent:PER not indexed")
	}

	if err := b.AddTokens("text", nil); err == nil {
		t.Error("expected error for second token set")
	}
	if err := b.AddTokens("other", nil); err == nil {
		t.Error("expected error for keyword field")
	}
	bad := []analysis.Token{{Prefix: "a:b", Value: "x"}}
	b.Add("doc2", nil)
	if err := b.AddTokens("text", bad); err == nil {
		t.Error("expected error for prefix containing ':'")
	}
}

func TestBuilder_Delete_MarksDeleted(t *testing.T) {
	b := newTestBuilder()
	b.Add("doc1", map[string]any{"text": "hello"})
	b.Add("doc2", map[string]any{"text": "world"})

	if !b.Delete("doc1") {
		t.Error("Delete should return true")
	}
	if !b.IsDeleted(0) {
		t.Error("doc1 (docNum 0) should be marked deleted")
	}
	if b.IsDeleted(1) {
		t.Error("doc2 (docNum 1) should not be deleted")
	}
	if b.Delete("doc1") {
		t.Error("second Delete should return false")
	}
	if b.NumDocs() != 1 || b.TotalDocs() != 2 {
		t.Errorf("NumDocs=%d TotalDocs=%d, want 1 and 2", b.NumDocs(), b.TotalDocs())
	}
}

func TestBuilder_Build_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	b := newTestBuilder()
	b.Add("doc1", map[string]any{"text": "hello world"})

	segPath, err := b.Build(dir, "seg1")
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if filepath.Base(segPath) != "seg1.seg" {
		t.Errorf("unexpected path %s", segPath)
	}
	if _, err := os.Stat(segPath); err != nil {
		t.Errorf("segment file missing: %v", err)
	}
	if _, err := os.Stat(segPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestCollectPrefixStats(t *testing.T) {
	stats := make(map[string]*prefixStats)
	collectPrefixStats(stats, []analysis.Token{
		{Prefix: "w", Start: 0, End: 0},
		{Prefix: "w", Start: 1, End: 1},
		{Prefix: "lemma", Start: 0, End: 0},
		{Prefix: "lemma", Start: 0, End: 0},
		{Prefix: "ent", Start: 0, End: 3},
		{Prefix: "ent", Start: 2, End: 5},
	})
	attrs := computeAttributes(stats)

	if attrs.SinglePosition != "lemma|w" {
		t.Errorf("single: got %q", attrs.SinglePosition)
	}
	if attrs.MultiplePosition != "ent" {
		t.Errorf("multiple: got %q", attrs.MultiplePosition)
	}
	if attrs.SetPosition != "lemma" {
		t.Errorf("set: got %q", attrs.SetPosition)
	}
	if attrs.Intersecting != "ent" {
		t.Errorf("intersecting: got %q", attrs.Intersecting)
	}
}

func TestAttributes_Merge(t *testing.T) {
	a := Attributes{SinglePosition: "s|w", SetPosition: "w"}
	b := Attributes{SinglePosition: "t", MultiplePosition: "s"}
	m := a.Merge(b)

	if m.SinglePosition != "t|w" || m.MultiplePosition != "s" || m.SetPosition != "w" {
		t.Errorf("unexpected merge %+v", m)
	}
	if !m.Declares("t") || m.Declares("x") {
		t.Error("Declares mismatch")
	}
	if got := m.Classes("w"); !reflect.DeepEqual(got, []string{"single", "set"}) {
		t.Errorf("Classes(w) = %v", got)
	}
}
