package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"
	"github.com/boltdb/bolt"

	"harshagw/spanstats/internal/segment"
)

var (
	bucketSegments   = []byte("segments")
	bucketDeletions  = []byte("deletions")
	bucketDocIDs     = []byte("docids")
	bucketMeta       = []byte("meta")
	bucketAttributes = []byte("attributes")
	keySegmentList   = []byte("list")
	keyEpoch         = []byte("epoch")
)

// SegmentRecord describes one persisted segment. Segment order in the list
// defines the global document numbering.
type SegmentRecord struct {
	ID      string `json:"id"`
	NumDocs uint64 `json:"docs"`
}

// DocMapping stores segment ID and docNum for an external ID.
type DocMapping struct {
	SegmentID string `json:"s"`
	DocNum    uint64 `json:"d"`
}

// Metadata provides persistent storage for index metadata using BoltDB.
type Metadata struct {
	db *bolt.DB
}

// NewMetadata opens or creates a metadata store.
func NewMetadata(dir string) (*Metadata, error) {
	dbPath := filepath.Join(dir, "meta.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}

	// Initialize buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSegments, bucketDeletions, bucketDocIDs, bucketMeta, bucketAttributes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Metadata{db: db}, nil
}

// GetSegments returns the persisted segments in order.
func (m *Metadata) GetSegments() ([]SegmentRecord, error) {
	var segments []SegmentRecord
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSegments)
		data := b.Get(keySegmentList)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &segments)
	})
	return segments, err
}

// GetDeletions returns the deletion bitmap for a segment.
func (m *Metadata) GetDeletions(segmentID string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeletions)
		data := b.Get([]byte(segmentID))
		if data == nil {
			return nil
		}
		_, err := bm.ReadFrom(bytes.NewReader(data))
		return err
	})
	return bm, err
}

// GetDocMapping returns the segment ID and docNum for an external ID.
func (m *Metadata) GetDocMapping(externalID string) (segmentID string, docNum uint64, found bool, err error) {
	var mapping DocMapping
	err = m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocIDs)
		data := b.Get([]byte(externalID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &mapping)
	})
	return mapping.SegmentID, mapping.DocNum, found, err
}

// GetEpoch returns the current epoch.
func (m *Metadata) GetEpoch() (uint64, error) {
	var epoch uint64
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data := b.Get(keyEpoch)
		if data == nil {
			return nil
		}
		epoch = binary.BigEndian.Uint64(data)
		return nil
	})
	return epoch, err
}

// GetAttributes returns the prefix attributes of every text field, merged
// over all segments ever flushed.
func (m *Metadata) GetAttributes() (map[string]segment.Attributes, error) {
	out := make(map[string]segment.Attributes)
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttributes).ForEach(func(k, v []byte) error {
			var a segment.Attributes
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out[string(k)] = a
			return nil
		})
	})
	return out, err
}

func (m *Metadata) Close() error {
	return m.db.Close()
}

// Update runs fn within a write transaction.
func (m *Metadata) Update(fn func(*Tx) error) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Tx provides write operations within a transaction.
type Tx struct {
	tx *bolt.Tx
}

// GetSegments returns the persisted segments in order.
func (t *Tx) GetSegments() ([]SegmentRecord, error) {
	var segments []SegmentRecord
	data := t.tx.Bucket(bucketSegments).Get(keySegmentList)
	if data == nil {
		return nil, nil
	}
	err := json.Unmarshal(data, &segments)
	return segments, err
}

// SetSegments sets the list of segments.
func (t *Tx) SetSegments(segments []SegmentRecord) error {
	b := t.tx.Bucket(bucketSegments)
	data, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	return b.Put(keySegmentList, data)
}

// SetDeletions sets the deletion bitmap for a segment.
func (t *Tx) SetDeletions(segmentID string, bm *roaring.Bitmap) error {
	b := t.tx.Bucket(bucketDeletions)
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return err
	}
	return b.Put([]byte(segmentID), buf.Bytes())
}

// GetDeletions returns the deletion bitmap for a segment.
func (t *Tx) GetDeletions(segmentID string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	b := t.tx.Bucket(bucketDeletions)
	data := b.Get([]byte(segmentID))
	if data == nil {
		return bm, nil
	}
	_, err := bm.ReadFrom(bytes.NewReader(data))
	return bm, err
}

// DeleteDeletions removes the deletion bitmap for a segment.
func (t *Tx) DeleteDeletions(segmentID string) error {
	b := t.tx.Bucket(bucketDeletions)
	return b.Delete([]byte(segmentID))
}

// SetDocMapping sets the mapping from external ID to segment/docNum.
func (t *Tx) SetDocMapping(externalID, segmentID string, docNum uint64) error {
	b := t.tx.Bucket(bucketDocIDs)
	data, err := json.Marshal(DocMapping{SegmentID: segmentID, DocNum: docNum})
	if err != nil {
		return err
	}
	return b.Put([]byte(externalID), data)
}

// IncrementEpoch increments and returns the epoch.
func (t *Tx) IncrementEpoch() (uint64, error) {
	b := t.tx.Bucket(bucketMeta)
	var epoch uint64
	data := b.Get(keyEpoch)
	if data != nil {
		epoch = binary.BigEndian.Uint64(data)
	}
	epoch++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, epoch)
	return epoch, b.Put(keyEpoch, buf)
}

// MergeAttributes folds the attributes of a new segment into the stored
// attributes of field.
func (t *Tx) MergeAttributes(field string, attrs segment.Attributes) error {
	b := t.tx.Bucket(bucketAttributes)
	var current segment.Attributes
	if data := b.Get([]byte(field)); data != nil {
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
	}
	data, err := json.Marshal(current.Merge(attrs))
	if err != nil {
		return err
	}
	return b.Put([]byte(field), data)
}
