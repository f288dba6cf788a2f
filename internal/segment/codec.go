package segment

import (
	"encoding/binary"
	"math"

	"harshagw/spanstats/internal/apperr"
)

// Segment file format constants
const (
	SegmentMagic   = "ZAP\x00"
	SegmentVersion = uint32(2)
	ChunkSize      = 1024 // Documents per chunk for stored fields
)

// Field kinds recorded in FieldMeta.
const (
	KindText    = "text"
	KindKeyword = "keyword"
)

// OneHitFlag - high bit set means value encodes a single docNum inline.
const OneHitFlag = uint64(1 << 63)

// IsOneHit checks if a value uses 1-hit encoding.
func IsOneHit(val uint64) bool {
	return (val & OneHitFlag) != 0
}

// EncodeOneHit encodes a single docNum inline.
func EncodeOneHit(docNum uint64) uint64 {
	return OneHitFlag | docNum
}

// DecodeOneHit extracts the docNum from a 1-hit encoded value.
func DecodeOneHit(val uint64) uint64 {
	return val &^ OneHitFlag
}

// Posting lists the occurrences of one term in one document. Occurrence i
// covers the inclusive positions [Positions[i], Ends[i]]. Keyword fields use
// the index of the value within the document's value list as position.
type Posting struct {
	DocNum    uint64
	Frequency uint64
	Positions []uint64
	Ends      []uint64
}

type Footer struct {
	StoredFieldsOffset uint64      `json:"stored_offset"`
	FieldsIndexOffset  uint64      `json:"fields_offset"`
	ChunkOffsets       []uint64    `json:"chunks"`
	FieldsMeta         []FieldMeta `json:"fields"`
	DocIDs             []string    `json:"doc_ids"`
	NumDocs            uint64      `json:"num_docs"`
}

type FieldMeta struct {
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	DictOffset     uint64 `json:"dict_offset"`
	DictSize       uint64 `json:"dict_size"`
	PostingsOffset uint64 `json:"postings_offset"`
	PostingsSize   uint64 `json:"postings_size"`
	TotalTokens    uint64 `json:"total_tokens,omitempty"`
	DocCount       uint64 `json:"doc_count,omitempty"`

	// Text fields only.
	Prefixes      []string   `json:"prefixes,omitempty"`
	Attributes    Attributes `json:"attributes,omitempty"`
	RecordsOffset uint64     `json:"records_offset,omitempty"`
	RecordCount   uint64     `json:"record_count,omitempty"`
	DocTree       uint64     `json:"doc_tree,omitempty"`
}

// EncodePostings encodes a posting list with delta encoding.
func EncodePostings(postings []Posting) []byte {
	buf := make([]byte, 0, len(postings)*32)
	tmp := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(tmp, uint64(len(postings)))
	buf = append(buf, tmp[:n]...)

	var prevDocNum uint64
	for _, p := range postings {
		delta := p.DocNum - prevDocNum
		n = binary.PutUvarint(tmp, delta)
		buf = append(buf, tmp[:n]...)
		prevDocNum = p.DocNum
	}

	for _, p := range postings {
		n = binary.PutUvarint(tmp, p.Frequency)
		buf = append(buf, tmp[:n]...)
	}

	for _, p := range postings {
		n = binary.PutUvarint(tmp, uint64(len(p.Positions)))
		buf = append(buf, tmp[:n]...)

		var prevPos uint64
		for i, pos := range p.Positions {
			delta := pos - prevPos
			n = binary.PutUvarint(tmp, delta)
			buf = append(buf, tmp[:n]...)
			prevPos = pos

			var width uint64
			if i < len(p.Ends) {
				width = p.Ends[i] - pos
			}
			n = binary.PutUvarint(tmp, width)
			buf = append(buf, tmp[:n]...)
		}
	}

	return buf
}

// DecodePostings decodes a posting list.
func DecodePostings(data []byte) ([]Posting, error) {
	r := newByteReader(data)

	count, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(data)) {
		return nil, apperr.Storagef("posting count %d exceeds %d bytes", count, len(data))
	}

	postings := make([]Posting, count)

	var prevDocNum uint64
	for i := uint64(0); i < count; i++ {
		delta, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		postings[i].DocNum = prevDocNum + delta
		prevDocNum = postings[i].DocNum
	}

	for i := uint64(0); i < count; i++ {
		freq, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		postings[i].Frequency = freq
	}

	for i := uint64(0); i < count; i++ {
		posCount, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if posCount > uint64(len(data)) {
			return nil, apperr.Storagef("position count %d exceeds %d bytes", posCount, len(data))
		}
		postings[i].Positions = make([]uint64, posCount)
		postings[i].Ends = make([]uint64, posCount)

		var prevPos uint64
		for j := uint64(0); j < posCount; j++ {
			delta, err := r.ReadUvarint()
			if err != nil {
				return nil, err
			}
			width, err := r.ReadUvarint()
			if err != nil {
				return nil, err
			}
			postings[i].Positions[j] = prevPos + delta
			postings[i].Ends[j] = postings[i].Positions[j] + width
			prevPos = postings[i].Positions[j]
		}
	}

	return postings, nil
}

// Storage width flags of the id array corrections.
const (
	WidthByte  = uint8(1)
	WidthShort = uint8(2)
	WidthInt   = uint8(4)
	WidthLong  = uint8(8)
)

// RecordSize is the encoded size of a DocumentRecord.
const RecordSize = 8*10 + 1

// DocumentRecord locates the data of one document in a text field.
type DocumentRecord struct {
	DocNum       uint64
	PositionTree int64 // preamble offset of the tree keyed by position
	ParentTree   int64 // preamble offset of the tree keyed by parent id
	IDArray      int64 // first correction of the id array
	Smallest     int64 // offset of the first object
	Offset       int64 // intercept of the id -> offset approximation
	Quotient     float64
	Width        uint8
	Tokens       uint64
	MinPosition  uint64
	MaxPosition  uint64
}

// Positions returns the number of positions spanned by the document.
func (r *DocumentRecord) Positions() uint64 {
	if r.Tokens == 0 {
		return 0
	}
	return r.MaxPosition - r.MinPosition + 1
}

// predict returns the approximated object offset of token id.
func (r *DocumentRecord) predict(id uint64) int64 {
	return r.Smallest + r.Offset + int64(math.Floor(r.Quotient*float64(id)))
}

func appendRecord(buf []byte, r DocumentRecord) []byte {
	buf = binary.BigEndian.AppendUint64(buf, r.DocNum)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.PositionTree))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.ParentTree))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.IDArray))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Smallest))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Offset))
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(r.Quotient))
	buf = append(buf, r.Width)
	buf = binary.BigEndian.AppendUint64(buf, r.Tokens)
	buf = binary.BigEndian.AppendUint64(buf, r.MinPosition)
	buf = binary.BigEndian.AppendUint64(buf, r.MaxPosition)
	return buf
}

func decodeRecord(data []byte, offset int64) (*DocumentRecord, error) {
	if offset < 0 || offset+RecordSize > int64(len(data)) {
		return nil, apperr.Storagef("document record at %d out of range", offset)
	}
	b := data[offset : offset+RecordSize]
	r := &DocumentRecord{
		DocNum:       binary.BigEndian.Uint64(b[0:]),
		PositionTree: int64(binary.BigEndian.Uint64(b[8:])),
		ParentTree:   int64(binary.BigEndian.Uint64(b[16:])),
		IDArray:      int64(binary.BigEndian.Uint64(b[24:])),
		Smallest:     int64(binary.BigEndian.Uint64(b[32:])),
		Offset:       int64(binary.BigEndian.Uint64(b[40:])),
		Quotient:     math.Float64frombits(binary.BigEndian.Uint64(b[48:])),
		Width:        b[56],
		Tokens:       binary.BigEndian.Uint64(b[57:]),
		MinPosition:  binary.BigEndian.Uint64(b[65:]),
		MaxPosition:  binary.BigEndian.Uint64(b[73:]),
	}
	switch r.Width {
	case WidthByte, WidthShort, WidthInt, WidthLong:
	default:
		return nil, apperr.Storagef("document record at %d: bad width flag %d", offset, r.Width)
	}
	return r, nil
}

// widthFor returns the narrowest width that holds every correction.
func widthFor(corrections []int64) uint8 {
	var lo, hi int64
	for _, c := range corrections {
		lo = min(lo, c)
		hi = max(hi, c)
	}
	switch {
	case lo >= math.MinInt8 && hi <= math.MaxInt8:
		return WidthByte
	case lo >= math.MinInt16 && hi <= math.MaxInt16:
		return WidthShort
	case lo >= math.MinInt32 && hi <= math.MaxInt32:
		return WidthInt
	default:
		return WidthLong
	}
}

func appendCorrection(buf []byte, width uint8, c int64) []byte {
	switch width {
	case WidthByte:
		return append(buf, byte(int8(c)))
	case WidthShort:
		return binary.BigEndian.AppendUint16(buf, uint16(int16(c)))
	case WidthInt:
		return binary.BigEndian.AppendUint32(buf, uint32(int32(c)))
	default:
		return binary.BigEndian.AppendUint64(buf, uint64(c))
	}
}

func readCorrection(data []byte, at int64, width uint8) (int64, error) {
	if at < 0 || at+int64(width) > int64(len(data)) {
		return 0, apperr.Storagef("id array read at %d out of range", at)
	}
	b := data[at:]
	switch width {
	case WidthByte:
		return int64(int8(b[0])), nil
	case WidthShort:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case WidthInt:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	default:
		return int64(binary.BigEndian.Uint64(b)), nil
	}
}
