package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring"

	"harshagw/spanstats/internal/segment"
)

// SegmentSnapshot represents a segment with its deletion bitmap and the
// global id of its first document.
type SegmentSnapshot struct {
	seg     *segment.Segment
	deleted *roaring.Bitmap
	docBase uint32
}

// NewSegmentSnapshot wraps a segment opened outside an Index.
func NewSegmentSnapshot(seg *segment.Segment, deleted *roaring.Bitmap, docBase uint32) *SegmentSnapshot {
	if deleted == nil {
		deleted = roaring.New()
	}
	return &SegmentSnapshot{seg: seg, deleted: deleted, docBase: docBase}
}

// Segment returns the underlying segment.
func (s *SegmentSnapshot) Segment() *segment.Segment { return s.seg }

// Deleted returns the deletion bitmap.
func (s *SegmentSnapshot) Deleted() *roaring.Bitmap { return s.deleted }

// ID returns the segment ID.
func (s *SegmentSnapshot) ID() string { return s.seg.ID() }

// DocBase returns the global id of local document 0.
func (s *SegmentSnapshot) DocBase() uint32 { return s.docBase }

// MaxDoc returns the number of documents in the segment, deleted included.
func (s *SegmentSnapshot) MaxDoc() uint32 { return uint32(s.seg.NumDocs()) }

// IsLive reports whether the local document exists and is not deleted.
func (s *SegmentSnapshot) IsLive(docNum uint32) bool {
	return uint64(docNum) < s.seg.NumDocs() && !s.deleted.Contains(docNum)
}

// Search searches for a term in a field.
func (s *SegmentSnapshot) Search(term, field string) ([]segment.Posting, error) {
	return s.seg.Search(term, field, s.deleted)
}

// IndexSnapshot represents a point-in-time view of the index.
type IndexSnapshot struct {
	segments   []*SegmentSnapshot
	epoch      uint64
	maxDoc     uint64
	attributes map[string]segment.Attributes
}

// NewIndexSnapshot assembles a snapshot from segment snapshots whose doc
// bases are already assigned. Attributes are merged from the segments.
func NewIndexSnapshot(segments []*SegmentSnapshot) *IndexSnapshot {
	s := &IndexSnapshot{segments: segments, attributes: make(map[string]segment.Attributes)}
	for _, ss := range segments {
		if end := uint64(ss.docBase) + ss.seg.NumDocs(); end > s.maxDoc {
			s.maxDoc = end
		}
		for _, field := range ss.seg.Fields() {
			if ss.seg.IsText(field) {
				s.attributes[field] = s.attributes[field].Merge(ss.seg.Attributes(field))
			}
		}
	}
	return s
}

// Segments returns the segment snapshots in doc base order.
func (s *IndexSnapshot) Segments() []*SegmentSnapshot { return s.segments }

// Epoch returns the metadata epoch the snapshot was taken at.
func (s *IndexSnapshot) Epoch() uint64 { return s.epoch }

// MaxDoc returns one past the largest global document id.
func (s *IndexSnapshot) MaxDoc() uint64 { return s.maxDoc }

// Attributes returns the prefix classes of a text field merged over all
// segments ever flushed.
func (s *IndexSnapshot) Attributes(field string) segment.Attributes {
	return s.attributes[field]
}

// TotalDocs returns the number of live documents across all segments.
func (s *IndexSnapshot) TotalDocs() uint64 {
	var total uint64
	for _, seg := range s.segments {
		total += seg.seg.NumDocs()
		if seg.deleted != nil {
			total -= seg.deleted.GetCardinality()
		}
	}
	return total
}

// Resolve maps a global document id to its segment and local number.
func (s *IndexSnapshot) Resolve(global uint32) (*SegmentSnapshot, uint32, bool) {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].docBase > global
	}) - 1
	if i < 0 {
		return nil, 0, false
	}
	ss := s.segments[i]
	local := global - ss.docBase
	if uint64(local) >= ss.seg.NumDocs() {
		return nil, 0, false
	}
	return ss, local, true
}

// ExternalID returns the external id of a global document id.
func (s *IndexSnapshot) ExternalID(global uint32) (string, bool) {
	ss, local, ok := s.Resolve(global)
	if !ok {
		return "", false
	}
	return ss.seg.ExternalID(uint64(local))
}

// Close releases snapshot resources.
func (s *IndexSnapshot) Close() error {
	return nil
}
