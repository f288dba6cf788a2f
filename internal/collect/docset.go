package collect

import (
	"github.com/RoaringBitmap/roaring"

	"harshagw/spanstats/internal/index"
)

// Target selects the documents of a request by global id. Aggregating
// outputs use DocSet; per-document outputs use DocList in its order and fall
// back to DocSet when DocList is nil.
type Target struct {
	DocSet  *roaring.Bitmap
	DocList []uint32
}

// ordered returns the documents per-document outputs are reported for.
func (t Target) ordered() []uint32 {
	if t.DocList != nil {
		return t.DocList
	}
	if t.DocSet == nil {
		return nil
	}
	return t.DocSet.ToArray()
}

// size returns the number of distinct target documents.
func (t Target) size() uint64 {
	all := roaring.New()
	if t.DocSet != nil {
		all.Or(t.DocSet)
	}
	all.AddMany(t.DocList)
	return all.GetCardinality()
}

// segmentDocs holds the live target documents of one segment as local
// document numbers.
type segmentDocs struct {
	set  *roaring.Bitmap
	list []uint32
	all  []uint32
}

// clip restricts the target to the live documents of one segment.
func clip(ss *index.SegmentSnapshot, target Target) segmentDocs {
	base := ss.DocBase()
	end := uint64(base) + uint64(ss.MaxDoc())

	set := roaring.New()
	if target.DocSet != nil {
		it := target.DocSet.Iterator()
		it.AdvanceIfNeeded(base)
		for it.HasNext() {
			global := it.PeekNext()
			if uint64(global) >= end {
				break
			}
			it.Next()
			set.Add(global - base)
		}
		set.AndNot(ss.Deleted())
	}

	var list []uint32
	listed := roaring.New()
	for _, global := range target.DocList {
		if global < base || uint64(global) >= end {
			continue
		}
		local := global - base
		if !ss.IsLive(local) || listed.Contains(local) {
			continue
		}
		listed.Add(local)
		list = append(list, local)
	}
	if target.DocList == nil {
		list = set.ToArray()
		listed = set
	}

	return segmentDocs{
		set:  set,
		list: list,
		all:  roaring.Or(set, listed).ToArray(),
	}
}

// IsEmpty returns true if the segment holds no target document.
func (d segmentDocs) IsEmpty() bool {
	return len(d.all) == 0
}

// Count returns the number of target documents in the segment.
func (d segmentDocs) Count() int {
	return len(d.all)
}

// setDocs returns the DocSet members in ascending order.
func (d segmentDocs) setDocs() []uint32 {
	return d.set.ToArray()
}

// unionAll merges document bitmaps, skipping empty ones.
func unionAll(sets []*roaring.Bitmap) *roaring.Bitmap {
	nonEmpty := make([]*roaring.Bitmap, 0, len(sets))
	for _, s := range sets {
		if s != nil && !s.IsEmpty() {
			nonEmpty = append(nonEmpty, s)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return roaring.New()
	case 1:
		return nonEmpty[0].Clone()
	}
	return roaring.FastOr(nonEmpty...)
}
