package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/couchbase/vellum"
	"github.com/golang/snappy"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/postree"
)

// writeStoredFields writes chunked, compressed stored documents.
func (b *Builder) writeStoredFields(file *os.File) ([]uint64, error) {
	var chunkOffsets []uint64

	for i := 0; i < len(b.Docs); i += ChunkSize {
		end := i + ChunkSize
		if end > len(b.Docs) {
			end = len(b.Docs)
		}
		chunk := b.Docs[i:end]

		// Serialize chunk
		chunkData, err := json.Marshal(chunk)
		if err != nil {
			return nil, err
		}

		// Compress with snappy
		compressed := snappy.Encode(nil, chunkData)

		// Record offset
		offset, err := file.Seek(0, 1)
		if err != nil {
			return nil, err
		}
		chunkOffsets = append(chunkOffsets, uint64(offset))

		// Write length + compressed data
		if err := binary.Write(file, binary.BigEndian, uint32(len(compressed))); err != nil {
			return nil, err
		}
		if _, err := file.Write(compressed); err != nil {
			return nil, err
		}
	}

	return chunkOffsets, nil
}

// writeFieldsIndex writes the FST dictionary and postings for each field,
// followed by the token region of text fields.
func (b *Builder) writeFieldsIndex(file *os.File) ([]FieldMeta, error) {
	var fieldsMeta []FieldMeta

	// Get sorted field names
	fieldNames := make([]string, 0, len(b.Fields))
	for name := range b.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	for _, fieldName := range fieldNames {
		terms := b.Fields[fieldName]
		meta, err := b.writeFieldIndex(file, fieldName, terms)
		if err != nil {
			return nil, err
		}
		if meta.Kind == KindText {
			if err := b.writeTextRegion(file, &meta); err != nil {
				return nil, err
			}
		}
		fieldsMeta = append(fieldsMeta, meta)
	}

	return fieldsMeta, nil
}

// writeFieldIndex writes FST and postings for a single field. Keyword terms
// held by exactly one value of one document are inlined with 1-hit encoding.
func (b *Builder) writeFieldIndex(file *os.File, fieldName string, terms map[string][]Posting) (FieldMeta, error) {
	meta := FieldMeta{Name: fieldName, Kind: KindKeyword}
	if b.textFields[fieldName] {
		meta.Kind = KindText
	}

	// Get sorted terms
	termList := make([]string, 0, len(terms))
	for term := range terms {
		termList = append(termList, term)
	}
	sort.Strings(termList)

	// Write postings first, collect offsets
	postingsStart, _ := file.Seek(0, 1)
	meta.PostingsOffset = uint64(postingsStart)

	termValues := make(map[string]uint64)
	for _, term := range termList {
		postings := terms[term]

		// Sort postings by docNum
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocNum < postings[j].DocNum
		})

		if meta.Kind == KindKeyword && len(postings) == 1 &&
			postings[0].Frequency == 1 && postings[0].Positions[0] == 0 {
			termValues[term] = EncodeOneHit(postings[0].DocNum)
			continue
		}

		offset, _ := file.Seek(0, 1)
		termValues[term] = uint64(offset) - meta.PostingsOffset
		encoded := EncodePostings(postings)
		if _, err := file.Write(encoded); err != nil {
			return meta, err
		}
	}

	postingsEnd, _ := file.Seek(0, 1)
	meta.PostingsSize = uint64(postingsEnd) - meta.PostingsOffset

	// Write FST dictionary
	dictStart, _ := file.Seek(0, 1)
	meta.DictOffset = uint64(dictStart)

	var fstBuf bytes.Buffer
	fstBuilder, err := vellum.New(&fstBuf, nil)
	if err != nil {
		return meta, err
	}

	for _, term := range termList {
		if err := fstBuilder.Insert([]byte(term), termValues[term]); err != nil {
			return meta, err
		}
	}
	if err := fstBuilder.Close(); err != nil {
		return meta, err
	}

	// Write FST size and data
	if err := binary.Write(file, binary.BigEndian, uint64(fstBuf.Len())); err != nil {
		return meta, err
	}
	if _, err := file.Write(fstBuf.Bytes()); err != nil {
		return meta, err
	}

	dictEnd, _ := file.Seek(0, 1)
	meta.DictSize = uint64(dictEnd) - meta.DictOffset

	return meta, nil
}

// writeTextRegion writes the term store, then per document the objects, the
// id array, the position tree and the parent tree, then the fixed-width
// document records and the tree keyed by docNum that locates them. All
// offsets are absolute file offsets.
func (b *Builder) writeTextRegion(file *os.File, meta *FieldMeta) error {
	start, err := file.Seek(0, 1)
	if err != nil {
		return err
	}
	docs := b.Tokens[meta.Name]

	prefixSet := make(map[string]bool)
	termSet := make(map[string]bool)
	for _, tokens := range docs {
		for _, t := range tokens {
			prefixSet[t.Prefix] = true
			termSet[t.Term()] = true
		}
	}
	prefixes := sortedKeys(prefixSet)
	prefixIDs := make(map[string]uint64, len(prefixes))
	for i, p := range prefixes {
		prefixIDs[p] = uint64(i)
	}

	buf := make([]byte, 0, 4096)
	at := func() int64 { return start + int64(len(buf)) }

	termRefs := make(map[string]int64, len(termSet))
	for _, term := range sortedKeys(termSet) {
		termRefs[term] = at()
		buf = binary.AppendUvarint(buf, uint64(len(term)))
		buf = append(buf, term...)
	}

	stats := make(map[string]*prefixStats)
	var records []DocumentRecord
	for docNum, tokens := range docs {
		if len(tokens) == 0 {
			continue
		}
		rec := DocumentRecord{DocNum: uint64(docNum), Tokens: uint64(len(tokens))}
		rec.MinPosition, rec.MaxPosition = tokens[0].Start, tokens[0].End

		refs := make([]int64, len(tokens))
		for id, t := range tokens {
			refs[id] = at()
			buf = appendObject(buf, uint64(id), prefixIDs[t.Prefix], termRefs[t.Term()], t)
			rec.MinPosition = min(rec.MinPosition, t.Start)
			rec.MaxPosition = max(rec.MaxPosition, t.End)
		}

		corrections := approximate(&rec, refs)
		rec.IDArray = at()
		for _, c := range corrections {
			buf = appendCorrection(buf, rec.Width, c)
		}

		items := make([]postree.Interval, 0, len(tokens))
		var parents []postree.Interval
		for id, t := range tokens {
			items = append(items, postree.Interval{
				Left:   t.Start,
				Right:  t.End,
				Ref:    refs[id],
				AuxID:  prefixIDs[t.Prefix],
				AuxRef: uint64(termRefs[t.Term()]),
			})
			if t.Parent >= 0 && t.Parent < len(tokens) {
				parents = append(parents, postree.Interval{
					Left:  uint64(t.Parent),
					Right: uint64(t.Parent),
					Ref:   refs[id],
				})
			}
		}
		buf, rec.PositionTree = postree.Append(buf, start, items, postree.Options{Aux: true, RefBase: rec.Smallest})
		buf, rec.ParentTree = postree.Append(buf, start, parents, postree.Options{RefBase: rec.Smallest})

		if !b.IsDeleted(uint64(docNum)) {
			collectPrefixStats(stats, tokens)
			meta.TotalTokens += rec.Tokens
			meta.DocCount++
		}
		records = append(records, rec)
	}

	meta.RecordsOffset = uint64(at())
	meta.RecordCount = uint64(len(records))
	docItems := make([]postree.Interval, len(records))
	for i, rec := range records {
		docItems[i] = postree.Interval{Left: rec.DocNum, Right: rec.DocNum, Ref: at()}
		buf = appendRecord(buf, rec)
	}
	var docTree int64
	buf, docTree = postree.Append(buf, start, docItems, postree.Options{RefBase: int64(meta.RecordsOffset)})

	meta.DocTree = uint64(docTree)
	meta.Prefixes = prefixes
	meta.Attributes = computeAttributes(stats)

	_, err = file.Write(buf)
	return err
}

// appendObject encodes one token: id, prefix id, term reference, start,
// width and parent id + 1 (0 when the token has no parent).
func appendObject(buf []byte, id, prefixID uint64, termRef int64, t analysis.Token) []byte {
	buf = binary.AppendUvarint(buf, id)
	buf = binary.AppendUvarint(buf, prefixID)
	buf = binary.AppendUvarint(buf, uint64(termRef))
	buf = binary.AppendUvarint(buf, t.Start)
	buf = binary.AppendUvarint(buf, t.End-t.Start)
	buf = binary.AppendUvarint(buf, uint64(t.Parent+1))
	return buf
}

// approximate fits the linear id -> offset prediction of rec to refs and
// returns the per-id corrections.
func approximate(rec *DocumentRecord, refs []int64) []int64 {
	rec.Smallest = refs[0]
	if n := len(refs); n > 1 {
		rec.Quotient = float64(refs[n-1]-refs[0]) / float64(n-1)
	}
	diffs := make([]int64, len(refs))
	lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
	for i, r := range refs {
		diffs[i] = r - (rec.Smallest + int64(math.Floor(rec.Quotient*float64(i))))
		lo = min(lo, diffs[i])
		hi = max(hi, diffs[i])
	}
	rec.Offset = lo + (hi-lo)/2
	for i := range diffs {
		diffs[i] -= rec.Offset
	}
	rec.Width = widthFor(diffs)
	return diffs
}

// collectPrefixStats records, per prefix, whether tokens span several
// positions, share a start position, or overlap without being equal.
func collectPrefixStats(stats map[string]*prefixStats, tokens []analysis.Token) {
	byPrefix := make(map[string][]analysis.Token)
	for _, t := range tokens {
		byPrefix[t.Prefix] = append(byPrefix[t.Prefix], t)
	}
	for p, list := range byPrefix {
		s := stats[p]
		if s == nil {
			s = &prefixStats{}
			stats[p] = s
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Start != list[j].Start {
				return list[i].Start < list[j].Start
			}
			return list[i].End < list[j].End
		})
		var reach uint64
		for i, t := range list {
			if t.End > t.Start {
				s.multiple = true
			}
			if i > 0 {
				prev := list[i-1]
				if t.Start == prev.Start {
					s.set = true
				}
				if t.Start <= reach && (t.Start != prev.Start || t.End != prev.End) {
					s.intersecting = true
				}
			}
			if i == 0 || t.End > reach {
				reach = t.End
			}
		}
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
