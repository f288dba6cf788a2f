package index

import (
	"fmt"
	"os"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/store"
)

// Merge rewrites the live documents of segmentIDs into one new segment
// appended at the end of the segment list. Token layers are copied from the
// document directories of the sources, so annotations added with Annotate
// survive and text is not analyzed again. Global document ids of every
// segment after the first merged one shift.
func (idx *Index) Merge(segmentIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}
	if len(segmentIDs) < 2 {
		return fmt.Errorf("need at least 2 segments to merge")
	}

	sources, err := idx.mergeSources(segmentIDs)
	if err != nil {
		return err
	}

	builder := idx.newBuilder()
	for _, ss := range sources {
		if err := copyLiveDocs(builder, ss); err != nil {
			return fmt.Errorf("merge: %w", err)
		}
	}

	next, err := idx.meta.GetEpoch()
	if err != nil {
		return err
	}
	mergedID := fmt.Sprintf("%012d", next+1)
	path, err := builder.Build(idx.dir, mergedID)
	if err != nil {
		return err
	}
	merged, err := segment.Open(path, mergedID, idx.limits)
	if err != nil {
		os.Remove(path)
		return err
	}

	kept := make([]*segment.Segment, 0, len(idx.segments)-len(sources)+1)
	for _, seg := range idx.segments {
		if !containsSegment(sources, seg.ID()) {
			kept = append(kept, seg)
		}
	}
	kept = append(kept, merged)

	epoch, err := idx.commitMerge(builder, mergedID, segmentIDs, kept)
	if err != nil {
		merged.Close()
		os.Remove(path)
		return err
	}

	for _, ss := range sources {
		delete(idx.pendingDeletions, ss.ID())
		ss.Segment().Close()
		os.Remove(ss.Segment().Path())
	}
	idx.segments = kept
	idx.epoch = epoch
	idx.log.Info("segments merged", "sources", len(sources), "segment", mergedID,
		"docs", merged.NumDocs(), "text_fields", len(idx.textFields))
	return nil
}

// mergeSources pairs each named segment with its persisted deletions, in
// segment order.
func (idx *Index) mergeSources(segmentIDs []string) ([]*SegmentSnapshot, error) {
	wanted := make(map[string]bool, len(segmentIDs))
	for _, id := range segmentIDs {
		wanted[id] = true
	}
	var sources []*SegmentSnapshot
	for _, seg := range idx.segments {
		if !wanted[seg.ID()] {
			continue
		}
		deleted, err := idx.getDeletions(seg.ID())
		if err != nil {
			return nil, err
		}
		sources = append(sources, NewSegmentSnapshot(seg, deleted, 0))
	}
	if len(sources) != len(wanted) {
		return nil, fmt.Errorf("merge: %d of %d segments not found", len(wanted)-len(sources), len(wanted))
	}
	return sources, nil
}

// copyLiveDocs adds every live document of ss to builder with its stored
// fields and the token layers of each text field.
func copyLiveDocs(builder *segment.Builder, ss *SegmentSnapshot) error {
	seg := ss.Segment()
	dirs := make(map[string]*segment.Directory)
	for _, field := range seg.Fields() {
		if !seg.IsText(field) {
			continue
		}
		dir, err := seg.Directory(field)
		if err != nil {
			return fmt.Errorf("segment %s field %s: %w", seg.ID(), field, err)
		}
		if dir != nil {
			dirs[field] = dir
		}
	}

	for docNum := range ss.MaxDoc() {
		if !ss.IsLive(docNum) {
			continue
		}
		extID, ok := seg.ExternalID(uint64(docNum))
		if !ok {
			continue
		}
		doc, err := seg.LoadDoc(uint64(docNum))
		if err != nil {
			return fmt.Errorf("segment %s doc %d: %w", seg.ID(), docNum, err)
		}

		layers := make(map[string][]analysis.Token, len(dirs))
		for field, dir := range dirs {
			rec, err := dir.GetDoc(docNum)
			if err != nil {
				return fmt.Errorf("segment %s doc %d field %s: %w", seg.ID(), docNum, field, err)
			}
			if rec == nil {
				continue
			}
			if layers[field], err = dir.DocTokens(rec); err != nil {
				return fmt.Errorf("segment %s doc %d field %s: %w", seg.ID(), docNum, field, err)
			}
		}
		builder.AddAnalyzed(extID, doc, layers)
	}
	return nil
}

// commitMerge records the merged segment, its document mapping and the new
// segment list in one transaction, and drops the sources' deletions.
func (idx *Index) commitMerge(builder *segment.Builder, mergedID string, sourceIDs []string, segments []*segment.Segment) (uint64, error) {
	var epoch uint64
	err := idx.meta.Update(func(tx *store.Tx) error {
		var err error
		if epoch, err = tx.IncrementEpoch(); err != nil {
			return err
		}
		for docNum, externalID := range builder.DocIDs {
			if err := tx.SetDocMapping(externalID, mergedID, uint64(docNum)); err != nil {
				return err
			}
		}
		for _, id := range sourceIDs {
			if err := tx.DeleteDeletions(id); err != nil {
				return err
			}
		}
		if err := mergeSegmentAttributes(tx, segments[len(segments)-1]); err != nil {
			return err
		}
		records := make([]store.SegmentRecord, len(segments))
		for i, seg := range segments {
			records[i] = store.SegmentRecord{ID: seg.ID(), NumDocs: seg.NumDocs()}
		}
		return tx.SetSegments(records)
	})
	return epoch, err
}

func containsSegment(sources []*SegmentSnapshot, id string) bool {
	for _, ss := range sources {
		if ss.ID() == id {
			return true
		}
	}
	return false
}
