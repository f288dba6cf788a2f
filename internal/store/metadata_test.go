package store

import (
	"testing"

	"github.com/RoaringBitmap/roaring"

	"harshagw/spanstats/internal/segment"
)

func openTestMetadata(t *testing.T) *Metadata {
	t.Helper()
	m, err := NewMetadata(t.TempDir())
	if err != nil {
		t.Fatalf("NewMetadata error: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMetadata_SegmentsAndEpoch(t *testing.T) {
	m := openTestMetadata(t)

	segs, err := m.GetSegments()
	if err != nil || len(segs) != 0 {
		t.Fatalf("empty store: got %v, %v", segs, err)
	}

	err = m.Update(func(tx *Tx) error {
		if _, err := tx.IncrementEpoch(); err != nil {
			return err
		}
		return tx.SetSegments([]SegmentRecord{{ID: "a", NumDocs: 3}, {ID: "b", NumDocs: 2}})
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}

	segs, err = m.GetSegments()
	if err != nil || len(segs) != 2 || segs[1].ID != "b" || segs[1].NumDocs != 2 {
		t.Errorf("GetSegments = %v, %v", segs, err)
	}
	epoch, err := m.GetEpoch()
	if err != nil || epoch != 1 {
		t.Errorf("GetEpoch = %d, %v", epoch, err)
	}
}

func TestMetadata_Deletions(t *testing.T) {
	m := openTestMetadata(t)

	bm := roaring.BitmapOf(1, 4)
	if err := m.Update(func(tx *Tx) error { return tx.SetDeletions("a", bm) }); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	got, err := m.GetDeletions("a")
	if err != nil || !got.Equals(bm) {
		t.Errorf("GetDeletions = %v, %v", got.ToArray(), err)
	}
	none, err := m.GetDeletions("missing")
	if err != nil || !none.IsEmpty() {
		t.Errorf("missing segment deletions = %v, %v", none.ToArray(), err)
	}
}

func TestMetadata_DocMapping(t *testing.T) {
	m := openTestMetadata(t)

	if err := m.Update(func(tx *Tx) error { return tx.SetDocMapping("doc-1", "seg", 7) }); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	segID, docNum, found, err := m.GetDocMapping("doc-1")
	if err != nil || !found || segID != "seg" || docNum != 7 {
		t.Errorf("GetDocMapping = %s %d %v %v", segID, docNum, found, err)
	}
	_, _, found, _ = m.GetDocMapping("nope")
	if found {
		t.Error("unexpected mapping for unknown id")
	}
}

func TestMetadata_MergeAttributes(t *testing.T) {
	m := openTestMetadata(t)

	err := m.Update(func(tx *Tx) error {
		if err := tx.MergeAttributes("text", segment.Attributes{SinglePosition: "s|w"}); err != nil {
			return err
		}
		return tx.MergeAttributes("text", segment.Attributes{MultiplePosition: "s", SinglePosition: "t"})
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}

	attrs, err := m.GetAttributes()
	if err != nil {
		t.Fatalf("GetAttributes error: %v", err)
	}
	got := attrs["text"]
	if got.SinglePosition != "t|w" || got.MultiplePosition != "s" {
		t.Errorf("merged attributes = %+v", got)
	}
}
