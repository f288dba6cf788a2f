package index

import (
	"testing"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/logger"
)

func newTestIndex(t *testing.T, dir string) *Index {
	t.Helper()
	config := DefaultConfig(dir)
	config.FlushThreshold = 10000
	config.Logger = logger.Nop()

	idx, err := New(config)
	if err != nil {
		t.Fatalf("New index error: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func mustIndex(t *testing.T, idx *Index, id, text string) {
	t.Helper()
	if err := idx.Index(id, map[string]any{"text": text}); err != nil {
		t.Fatalf("Index(%s) error: %v", id, err)
	}
}

func mustSnapshot(t *testing.T, idx *Index) *IndexSnapshot {
	t.Helper()
	snap, err := idx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	return snap
}

func TestIndex_SnapshotSeesOnlyFlushedSegments(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	mustIndex(t, idx, "a", "one")
	mustIndex(t, idx, "b", "two")

	if snap := mustSnapshot(t, idx); snap.TotalDocs() != 0 || len(snap.Segments()) != 0 {
		t.Errorf("unflushed docs visible: %d docs", snap.TotalDocs())
	}
	if idx.PendingDocs() != 2 {
		t.Errorf("PendingDocs = %d, want 2", idx.PendingDocs())
	}

	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	snap := mustSnapshot(t, idx)
	if snap.TotalDocs() != 2 || snap.MaxDoc() != 2 {
		t.Errorf("TotalDocs=%d MaxDoc=%d, want 2 and 2", snap.TotalDocs(), snap.MaxDoc())
	}
}

func TestIndex_DocBasesAndResolve(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	for seg := 0; seg < 3; seg++ {
		for d := 0; d < 3; d++ {
			mustIndex(t, idx, string(rune('a'+seg*3+d)), "w")
		}
		if err := idx.Flush(); err != nil {
			t.Fatalf("Flush error: %v", err)
		}
	}

	snap := mustSnapshot(t, idx)
	segs := snap.Segments()
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	for i, ss := range segs {
		if ss.DocBase() != uint32(i*3) {
			t.Errorf("segment %d doc base = %d", i, ss.DocBase())
		}
	}

	ss, local, ok := snap.Resolve(4)
	if !ok || ss != segs[1] || local != 1 {
		t.Errorf("Resolve(4) = %v, %d, %v", ss, local, ok)
	}
	if _, _, ok := snap.Resolve(9); ok {
		t.Error("Resolve(9) should fail")
	}
	if id, ok := snap.ExternalID(7); !ok || id != "h" {
		t.Errorf("ExternalID(7) = %q, %v", id, ok)
	}

	global, found, err := idx.Lookup("e")
	if err != nil || !found || global != 4 {
		t.Errorf("Lookup(e) = %d, %v, %v", global, found, err)
	}
}

func TestIndex_ReplaceAndDelete(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	mustIndex(t, idx, "a", "old text")
	mustIndex(t, idx, "b", "keep")
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	mustIndex(t, idx, "a", "new text")
	if err := idx.Delete("b"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	// deletions of flushed docs apply immediately
	snap := mustSnapshot(t, idx)
	if snap.TotalDocs() != 0 {
		t.Errorf("TotalDocs = %d, want 0", snap.TotalDocs())
	}
	if _, found, _ := idx.Lookup("b"); found {
		t.Error("deleted doc still found")
	}

	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	snap = mustSnapshot(t, idx)
	if snap.TotalDocs() != 1 {
		t.Errorf("TotalDocs = %d, want 1", snap.TotalDocs())
	}
	global, found, err := idx.Lookup("a")
	if err != nil || !found || global != 2 {
		t.Errorf("Lookup(a) = %d, %v, %v", global, found, err)
	}

	postings, err := idx.DumpPostings("text", "w:old")
	if err != nil || len(postings) != 1 {
		t.Fatalf("DumpPostings = %v, %v", postings, err)
	}
	deleted, err := idx.DumpDeletions(postings[0].SegmentID)
	if err != nil || len(deleted) != 2 {
		t.Errorf("DumpDeletions = %v, %v", deleted, err)
	}
}

func TestIndex_ReopenLoadsSegmentsAndAttributes(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig(dir)
	config.Logger = logger.Nop()

	idx, err := New(config)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		mustIndex(t, idx, id, "The cat sat. A dog ran")
		if err := idx.Flush(); err != nil {
			t.Fatalf("Flush error: %v", err)
		}
	}
	idx.Close()

	reopened := newTestIndex(t, dir)
	if reopened.NumSegments() != 3 {
		t.Fatalf("NumSegments = %d, want 3", reopened.NumSegments())
	}
	snap := mustSnapshot(t, reopened)
	attrs := snap.Attributes("text")
	if !attrs.Declares("w") || !attrs.Declares("s") {
		t.Errorf("attributes not persisted: %+v", attrs)
	}
	if snap.Epoch() != 3 {
		t.Errorf("Epoch = %d, want 3", snap.Epoch())
	}
}

func TestIndex_AnnotateAddsTokenLayer(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	if err := idx.Index("a", map[string]any{"title": "x"}); err != nil {
		t.Fatalf("Index error: %v", err)
	}
	err := idx.Annotate("text", []analysis.Token{
		{Prefix: "pos", Value: "NN", Start: 0, End: 0, Parent: -1},
		{Prefix: "pos", Value: "VB", Start: 1, End: 1, Parent: -1},
	})
	if err != nil {
		t.Fatalf("Annotate error: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	postings, err := idx.DumpPostings("text", "pos:VB")
	if err != nil || len(postings) != 1 || postings[0].Positions[0] != 1 {
		t.Errorf("pos:VB postings = %v, %v", postings, err)
	}
}

func TestIndex_ForceMerge(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	mustIndex(t, idx, "a", "alpha")
	mustIndex(t, idx, "b", "beta")
	idx.Flush()
	mustIndex(t, idx, "c", "gamma")
	idx.Delete("a")
	idx.Flush()

	if err := idx.ForceMerge(); err != nil {
		t.Fatalf("ForceMerge error: %v", err)
	}
	segs := idx.Segments()
	if len(segs) != 1 || segs[0].NumDocs != 2 {
		t.Fatalf("segments after merge: %+v", segs)
	}

	stats, err := idx.SegmentStats(segs[0].ID)
	if err != nil || stats.NumDeleted != 0 {
		t.Errorf("SegmentStats = %+v, %v", stats, err)
	}
	if _, found, _ := idx.Lookup("a"); found {
		t.Error("deleted doc survived merge")
	}
	global, found, err := idx.Lookup("c")
	if err != nil || !found || global != 1 {
		t.Errorf("Lookup(c) = %d, %v, %v", global, found, err)
	}
	doc, err := idx.LoadDoc(segs[0].ID, 0)
	if err != nil || doc["text"] != "beta" {
		t.Errorf("LoadDoc = %v, %v", doc, err)
	}
}

func TestIndex_MergeKeepsAnnotationLayers(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	mustIndex(t, idx, "a", "Big dogs.")
	idx.Flush()
	if err := idx.Index("b", map[string]any{"title": "tagged"}); err != nil {
		t.Fatalf("Index error: %v", err)
	}
	err := idx.Annotate("text", []analysis.Token{
		{Prefix: "w", Value: "run", Start: 0, End: 0, Parent: -1},
		{Prefix: "pos", Value: "VB", Start: 0, End: 0, Parent: -1},
	})
	if err != nil {
		t.Fatalf("Annotate error: %v", err)
	}
	idx.Flush()

	if err := idx.ForceMerge(); err != nil {
		t.Fatalf("ForceMerge error: %v", err)
	}
	postings, err := idx.DumpPostings("text", "pos:VB")
	if err != nil || len(postings) != 1 || postings[0].DocNum != 1 {
		t.Errorf("pos:VB postings after merge = %+v, %v", postings, err)
	}

	snap := mustSnapshot(t, idx)
	defer snap.Close()
	seg := snap.Segments()[0].Segment()
	dir, err := seg.Directory("text")
	if err != nil || dir == nil {
		t.Fatalf("Directory = %v, %v", dir, err)
	}
	rec, err := dir.GetDoc(0)
	if err != nil || rec == nil {
		t.Fatalf("GetDoc = %v, %v", rec, err)
	}
	tokens, err := dir.DocTokens(rec)
	if err != nil {
		t.Fatalf("DocTokens error: %v", err)
	}
	// The sentence token parents the word tokens of the analyzed document.
	if len(tokens) != 5 || tokens[0].Prefix != "s" || tokens[1].Parent != 0 || tokens[4].Value != "dogs" {
		t.Errorf("tokens after merge = %+v", tokens)
	}
	if !snap.Attributes("text").Declares("pos") {
		t.Error("pos layer not declared after merge")
	}
}

func TestIndex_ClosedRejectsWrites(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	idx.Close()
	if err := idx.Index("a", nil); err == nil {
		t.Error("expected error on closed index")
	}
	if _, err := idx.Snapshot(); err == nil {
		t.Error("expected snapshot error on closed index")
	}
}
