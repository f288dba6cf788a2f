package segment

import (
	"errors"
	"reflect"
	"testing"

	"github.com/RoaringBitmap/roaring"

	"harshagw/spanstats/internal/apperr"
)

func TestEncodeDecodePostings_Empty(t *testing.T) {
	encoded := EncodePostings([]Posting{})
	decoded, err := DecodePostings(encoded)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("expected empty, got %d postings", len(decoded))
	}
}

func TestEncodeDecodePostings_DeltaEncoding(t *testing.T) {
	// DocNums 1000, 1001, 2000 - tests delta encoding with large gaps
	postings := []Posting{
		{DocNum: 1000, Frequency: 1, Positions: []uint64{0}},
		{DocNum: 1001, Frequency: 1, Positions: []uint64{0}},
		{DocNum: 2000, Frequency: 1, Positions: []uint64{0}},
	}
	encoded := EncodePostings(postings)
	decoded, err := DecodePostings(encoded)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if decoded[0].DocNum != 1000 || decoded[1].DocNum != 1001 || decoded[2].DocNum != 2000 {
		t.Errorf("docNums mismatch: got %d, %d, %d", decoded[0].DocNum, decoded[1].DocNum, decoded[2].DocNum)
	}
}

func TestEncodeDecodePostings_OccurrenceIntervals(t *testing.T) {
	postings := []Posting{
		{DocNum: 0, Frequency: 3, Positions: []uint64{0, 5, 10}, Ends: []uint64{0, 8, 10}},
	}
	encoded := EncodePostings(postings)
	decoded, err := DecodePostings(encoded)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if decoded[0].Frequency != 3 {
		t.Errorf("frequency: got %d, want 3", decoded[0].Frequency)
	}
	if !reflect.DeepEqual(decoded[0].Positions, []uint64{0, 5, 10}) {
		t.Errorf("positions: got %v, want [0 5 10]", decoded[0].Positions)
	}
	if !reflect.DeepEqual(decoded[0].Ends, []uint64{0, 8, 10}) {
		t.Errorf("ends: got %v, want [0 8 10]", decoded[0].Ends)
	}
}

func TestEncodeDecodePostings_MissingEndsAreSinglePositions(t *testing.T) {
	decoded, err := DecodePostings(EncodePostings([]Posting{{DocNum: 2, Frequency: 2, Positions: []uint64{3, 7}}}))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if !reflect.DeepEqual(decoded[0].Ends, []uint64{3, 7}) {
		t.Errorf("ends: got %v, want [3 7]", decoded[0].Ends)
	}
}

func TestDecodePostings_Truncated(t *testing.T) {
	encoded := EncodePostings([]Posting{{DocNum: 1, Frequency: 2, Positions: []uint64{1, 2}}})
	_, err := DecodePostings(encoded[:len(encoded)-2])
	if !errors.Is(err, apperr.ErrStorage) {
		t.Errorf("expected storage error, got %v", err)
	}
}

func TestOneHitEncoding(t *testing.T) {
	v := EncodeOneHit(42)
	if !IsOneHit(v) || DecodeOneHit(v) != 42 {
		t.Errorf("one-hit round trip failed: %x", v)
	}
	if IsOneHit(42) {
		t.Error("plain offset reported as one-hit")
	}
}

func TestDocumentRecord_Encoding(t *testing.T) {
	rec := DocumentRecord{
		DocNum: 7, PositionTree: 100, ParentTree: 200, IDArray: 300,
		Smallest: 50, Offset: -3, Quotient: 6.5, Width: WidthShort,
		Tokens: 12, MinPosition: 2, MaxPosition: 9,
	}
	buf := appendRecord([]byte{1, 2, 3}, rec)
	if len(buf) != 3+RecordSize {
		t.Fatalf("record size: got %d, want %d", len(buf)-3, RecordSize)
	}
	got, err := decodeRecord(buf, 3)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if *got != rec {
		t.Errorf("got %+v, want %+v", *got, rec)
	}
	if got.Positions() != 8 {
		t.Errorf("Positions: got %d, want 8", got.Positions())
	}

	buf[3+56] = 3
	if _, err := decodeRecord(buf, 3); !errors.Is(err, apperr.ErrStorage) {
		t.Errorf("expected storage error for bad width, got %v", err)
	}
	if _, err := decodeRecord(buf, int64(len(buf))); !errors.Is(err, apperr.ErrStorage) {
		t.Errorf("expected storage error for out of range record, got %v", err)
	}
}

func TestCorrections_Widths(t *testing.T) {
	cases := []struct {
		values []int64
		width  uint8
	}{
		{[]int64{-5, 0, 127}, WidthByte},
		{[]int64{-300, 2}, WidthShort},
		{[]int64{70000}, WidthInt},
		{[]int64{-1 << 40}, WidthLong},
	}
	for _, tc := range cases {
		w := widthFor(tc.values)
		if w != tc.width {
			t.Errorf("widthFor(%v) = %d, want %d", tc.values, w, tc.width)
			continue
		}
		var buf []byte
		for _, v := range tc.values {
			buf = appendCorrection(buf, w, v)
		}
		for i, v := range tc.values {
			got, err := readCorrection(buf, int64(i)*int64(w), w)
			if err != nil || got != v {
				t.Errorf("readCorrection[%d] = %d, %v; want %d", i, got, err, v)
			}
		}
	}
}

func TestApproximate_CorrectionsRecoverOffsets(t *testing.T) {
	refs := []int64{1000, 1007, 1011, 1030, 1032, 1100}
	rec := &DocumentRecord{}
	corrections := approximate(rec, refs)
	for i, ref := range refs {
		if got := rec.predict(uint64(i)) + corrections[i]; got != ref {
			t.Errorf("id %d: got %d, want %d", i, got, ref)
		}
	}
	if rec.Width != WidthByte {
		t.Errorf("width: got %d, want %d", rec.Width, WidthByte)
	}
}

func newTestBitmap(vals ...uint32) *roaring.Bitmap {
	bm := roaring.New()
	for _, v := range vals {
		bm.Add(v)
	}
	return bm
}
