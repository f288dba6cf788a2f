package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/RoaringBitmap/roaring"

	"harshagw/spanstats/internal/analysis"
)

// IDField is the special field name used to store document IDs for lookup.
const IDField = "_id"

// Builder accumulates documents before flushing to an immutable segment.
// Fields listed as text fields are analyzed into annotated tokens; every
// other field is indexed as a keyword field with one term per value.
type Builder struct {
	Fields  map[string]map[string][]Posting // field -> term -> postings
	Tokens  map[string][][]analysis.Token   // text field -> docNum -> tokens
	Docs    []map[string]any                // stored documents
	DocIDs  []string                        // external IDs by docNum
	Deleted *roaring.Bitmap                 // deleted docNums
	numDocs uint64

	analyzer   analysis.Analyzer
	textFields map[string]bool
}

// NewBuilder creates a new segment builder.
func NewBuilder(analyzer analysis.Analyzer, textFields []string) *Builder {
	tf := make(map[string]bool, len(textFields))
	for _, f := range textFields {
		tf[f] = true
	}
	return &Builder{
		Fields:     make(map[string]map[string][]Posting),
		Tokens:     make(map[string][][]analysis.Token),
		Docs:       make([]map[string]any, 0),
		DocIDs:     make([]string, 0),
		Deleted:    roaring.New(),
		analyzer:   analyzer,
		textFields: tf,
	}
}

// IsTextField reports whether field is analyzed.
func (b *Builder) IsTextField(field string) bool {
	return b.textFields[field]
}

// Add adds a document to the builder and returns its docNum.
func (b *Builder) Add(externalID string, doc map[string]any) uint64 {
	return b.add(externalID, doc, nil)
}

// AddAnalyzed adds a document whose text fields are already tokenized.
// Text fields of doc are stored but not analyzed again; tokens may also
// cover text fields doc does not store.
func (b *Builder) AddAnalyzed(externalID string, doc map[string]any, tokens map[string][]analysis.Token) uint64 {
	docNum := b.add(externalID, doc, tokens)
	for field, toks := range tokens {
		if b.textFields[field] && len(toks) > 0 {
			b.addText(field, docNum, toks)
		}
	}
	return docNum
}

func (b *Builder) add(externalID string, doc map[string]any, analyzed map[string][]analysis.Token) uint64 {
	docNum := b.numDocs
	b.numDocs++

	b.Docs = append(b.Docs, doc)
	b.DocIDs = append(b.DocIDs, externalID)

	b.addKeyword(IDField, docNum, []string{externalID})

	for fieldName, value := range doc {
		if fieldName == IDField {
			continue
		}
		if b.textFields[fieldName] {
			text, ok := value.(string)
			if !ok || analyzed != nil {
				continue
			}
			b.addText(fieldName, docNum, b.analyzer.Analyze(text))
			continue
		}
		if values := KeywordValues(value); len(values) > 0 {
			b.addKeyword(fieldName, docNum, values)
		}
	}

	return docNum
}

// AddTokens adds pre-analyzed tokens for a text field of the document added
// last. It is used for annotation layers that no analyzer produces.
func (b *Builder) AddTokens(field string, tokens []analysis.Token) error {
	if b.numDocs == 0 {
		return fmt.Errorf("no document to annotate")
	}
	if !b.textFields[field] {
		return fmt.Errorf("field %s is not a text field", field)
	}
	for _, t := range tokens {
		if err := analysis.ValidPrefix(t.Prefix); err != nil {
			return err
		}
		if t.End < t.Start {
			return fmt.Errorf("token %s has end %d before start %d", t.Term(), t.End, t.Start)
		}
	}
	docNum := b.numDocs - 1
	docs := b.Tokens[field]
	if uint64(len(docs)) > docNum && len(docs[docNum]) > 0 {
		return fmt.Errorf("field %s of document %d already has tokens", field, docNum)
	}
	b.addText(field, docNum, tokens)
	return nil
}

func (b *Builder) addText(field string, docNum uint64, tokens []analysis.Token) {
	if b.Fields[field] == nil {
		b.Fields[field] = make(map[string][]Posting)
	}
	for uint64(len(b.Tokens[field])) <= docNum {
		b.Tokens[field] = append(b.Tokens[field], nil)
	}
	b.Tokens[field][docNum] = tokens

	type occurrence struct{ start, end uint64 }
	byTerm := make(map[string][]occurrence)
	for _, t := range tokens {
		byTerm[t.Term()] = append(byTerm[t.Term()], occurrence{t.Start, t.End})
	}
	for term, occ := range byTerm {
		sort.Slice(occ, func(i, j int) bool {
			if occ[i].start != occ[j].start {
				return occ[i].start < occ[j].start
			}
			return occ[i].end < occ[j].end
		})
		p := Posting{DocNum: docNum, Frequency: uint64(len(occ))}
		for _, o := range occ {
			p.Positions = append(p.Positions, o.start)
			p.Ends = append(p.Ends, o.end)
		}
		b.Fields[field][term] = append(b.Fields[field][term], p)
	}
}

func (b *Builder) addKeyword(field string, docNum uint64, values []string) {
	if b.Fields[field] == nil {
		b.Fields[field] = make(map[string][]Posting)
	}
	byValue := make(map[string][]uint64)
	for i, v := range values {
		byValue[v] = append(byValue[v], uint64(i))
	}
	for v, positions := range byValue {
		b.Fields[field][v] = append(b.Fields[field][v], Posting{
			DocNum:    docNum,
			Frequency: uint64(len(positions)),
			Positions: positions,
			Ends:      positions,
		})
	}
}

// KeywordValues converts a stored field value into keyword terms. Integral
// numbers are formatted without a fraction so that range facets can parse
// them as integers.
func KeywordValues(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case bool:
		return []string{strconv.FormatBool(v)}
	case int:
		return []string{strconv.Itoa(v)}
	case int64:
		return []string{strconv.FormatInt(v, 10)}
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return []string{strconv.FormatInt(int64(v), 10)}
		}
		return []string{strconv.FormatFloat(v, 'g', -1, 64)}
	case json.Number:
		return []string{v.String()}
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, KeywordValues(item)...)
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Delete marks a document as deleted. Returns true if found.
func (b *Builder) Delete(externalID string) bool {
	for i, id := range b.DocIDs {
		if id == externalID && !b.Deleted.Contains(uint32(i)) {
			b.Deleted.Add(uint32(i))
			return true
		}
	}
	return false
}

// IsDeleted checks if a docNum is deleted.
func (b *Builder) IsDeleted(docNum uint64) bool {
	return b.Deleted.Contains(uint32(docNum))
}

// NumDocs returns the number of non-deleted documents in the builder.
func (b *Builder) NumDocs() uint64 {
	return b.numDocs - b.Deleted.GetCardinality()
}

// TotalDocs returns the total number of documents (including deleted) for persistence.
func (b *Builder) TotalDocs() uint64 {
	return b.numDocs
}

// Build writes the segment to disk and returns the segment path.
func (b *Builder) Build(dir, segmentID string) (string, error) {
	segPath := filepath.Join(dir, segmentID+".seg")
	tmpPath := segPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	// Write header
	if _, err := file.WriteString(SegmentMagic); err != nil {
		return "", err
	}
	if err := binary.Write(file, binary.BigEndian, SegmentVersion); err != nil {
		return "", err
	}
	if err := binary.Write(file, binary.BigEndian, b.TotalDocs()); err != nil {
		return "", err
	}

	// Reserve space for offsets
	offsetsPos, _ := file.Seek(0, 1)
	placeholder := make([]byte, 16)
	if _, err := file.Write(placeholder); err != nil {
		return "", err
	}

	// Write stored fields
	storedFieldsOffset, _ := file.Seek(0, 1)
	chunkOffsets, err := b.writeStoredFields(file)
	if err != nil {
		return "", err
	}

	// Write fields index
	fieldsIndexOffset, _ := file.Seek(0, 1)
	fieldsMeta, err := b.writeFieldsIndex(file)
	if err != nil {
		return "", err
	}

	footerOffset, _ := file.Seek(0, 1)
	footer := Footer{
		StoredFieldsOffset: uint64(storedFieldsOffset),
		FieldsIndexOffset:  uint64(fieldsIndexOffset),
		ChunkOffsets:       chunkOffsets,
		FieldsMeta:         fieldsMeta,
		DocIDs:             b.DocIDs,
		NumDocs:            b.TotalDocs(),
	}
	footerData, err := json.Marshal(footer)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(footerData); err != nil {
		return "", err
	}

	binary.Write(file, binary.BigEndian, uint64(footerOffset))
	binary.Write(file, binary.BigEndian, uint64(len(footerData)))

	// Go back and write the actual offsets
	file.Seek(offsetsPos, 0)
	binary.Write(file, binary.BigEndian, uint64(storedFieldsOffset))
	binary.Write(file, binary.BigEndian, uint64(fieldsIndexOffset))

	if err := file.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, segPath); err != nil {
		return "", err
	}

	return segPath, nil
}
