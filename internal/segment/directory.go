package segment

import (
	"math"

	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/postree"
)

// Directory resolves document numbers of one text field to their records.
type Directory struct {
	seg  *Segment
	meta *FieldMeta
	tree *postree.Tree
}

// Directory returns the document directory of a text field. It returns nil
// without error when the segment holds no such field.
func (s *Segment) Directory(field string) (*Directory, error) {
	s.dirsMu.Lock()
	defer s.dirsMu.Unlock()

	if d, ok := s.dirs[field]; ok {
		return d, nil
	}
	meta := s.getFieldMeta(field)
	if meta == nil {
		return nil, nil
	}
	if meta.Kind != KindText {
		return nil, apperr.Invalidf("field %s is not a text field", field)
	}
	tree, err := postree.Open(s.data, int64(meta.DocTree), s.limits)
	if err != nil {
		return nil, apperr.WrapStorage(err, "open document tree of "+field)
	}
	d := &Directory{seg: s, meta: meta, tree: tree}
	if s.dirs != nil {
		s.dirs[field] = d
	}
	return d, nil
}

// Field returns the field name.
func (d *Directory) Field() string { return d.meta.Name }

// Segment returns the segment the directory reads from.
func (d *Directory) Segment() *Segment { return d.seg }

// MaxDoc returns the number of documents in the segment.
func (d *Directory) MaxDoc() uint64 { return d.seg.NumDocs() }

// Len returns the number of records.
func (d *Directory) Len() int { return int(d.meta.RecordCount) }

// GetDoc returns the record of docNum, or nil if the document has no tokens
// in this field.
func (d *Directory) GetDoc(docNum uint32) (*DocumentRecord, error) {
	hits, err := d.tree.PointSearch(uint64(docNum))
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return d.record(hits[0].Ref, uint64(docNum))
}

// GetNextDoc returns the record with the smallest docNum >= docNum, or nil
// when there is none.
func (d *Directory) GetNextDoc(docNum uint32) (*DocumentRecord, error) {
	hits, err := d.tree.Advance(uint64(docNum))
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return d.record(hits[0].Ref, hits[0].Left)
}

func (d *Directory) record(offset int64, docNum uint64) (*DocumentRecord, error) {
	lo := int64(d.meta.RecordsOffset)
	hi := lo + int64(d.meta.RecordCount)*RecordSize
	if offset < lo || offset >= hi || (offset-lo)%RecordSize != 0 {
		return nil, apperr.Storagef("record offset %d outside records of %s", offset, d.meta.Name)
	}
	rec, err := decodeRecord(d.seg.data, offset)
	if err != nil {
		return nil, err
	}
	if rec.DocNum != docNum {
		return nil, apperr.Storagef("record at %d holds doc %d, want %d", offset, rec.DocNum, docNum)
	}
	return rec, nil
}

// ScanRecords reads every record sequentially and calls fn for those whose
// docNum is in docs (sorted ascending). A nil docs selects every record.
func (d *Directory) ScanRecords(docs []uint32, fn func(*DocumentRecord)) error {
	j := 0
	for i := uint64(0); i < d.meta.RecordCount; i++ {
		if docs != nil && j >= len(docs) {
			return nil
		}
		rec, err := decodeRecord(d.seg.data, int64(d.meta.RecordsOffset+i*RecordSize))
		if err != nil {
			return err
		}
		if docs == nil {
			fn(rec)
			continue
		}
		for j < len(docs) && uint64(docs[j]) < rec.DocNum {
			j++
		}
		if j < len(docs) && uint64(docs[j]) == rec.DocNum {
			fn(rec)
			j++
		}
	}
	return nil
}

// UseBulk reports whether reading n documents is cheaper with one
// sequential scan than with n tree lookups.
func (d *Directory) UseBulk(n int) bool {
	maxDoc := d.MaxDoc()
	if maxDoc <= 1 {
		return true
	}
	return float64(n) >= math.Log(float64(maxDoc))
}

// AllNumberOfPositions scans every record and returns the number of
// positions of each document in docs that has data.
func (d *Directory) AllNumberOfPositions(docs []uint32) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64, len(docs))
	err := d.ScanRecords(docs, func(r *DocumentRecord) {
		out[uint32(r.DocNum)] = r.Positions()
	})
	return out, err
}

// AllNumberOfTokens scans every record and returns the token count of each
// document in docs that has data.
func (d *Directory) AllNumberOfTokens(docs []uint32) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64, len(docs))
	err := d.ScanRecords(docs, func(r *DocumentRecord) {
		out[uint32(r.DocNum)] = r.Tokens
	})
	return out, err
}

// NumberOfPositions returns positions per document, choosing between a
// bulk scan and per-document lookups.
func (d *Directory) NumberOfPositions(docs []uint32) (map[uint32]uint64, error) {
	if d.UseBulk(len(docs)) {
		return d.AllNumberOfPositions(docs)
	}
	return d.lookup(docs, (*DocumentRecord).Positions)
}

// NumberOfTokens returns tokens per document, choosing between a bulk scan
// and per-document lookups.
func (d *Directory) NumberOfTokens(docs []uint32) (map[uint32]uint64, error) {
	if d.UseBulk(len(docs)) {
		return d.AllNumberOfTokens(docs)
	}
	return d.lookup(docs, func(r *DocumentRecord) uint64 { return r.Tokens })
}

func (d *Directory) lookup(docs []uint32, value func(*DocumentRecord) uint64) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64, len(docs))
	for _, doc := range docs {
		rec, err := d.GetDoc(doc)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[doc] = value(rec)
		}
	}
	return out, nil
}
