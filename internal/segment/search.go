package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/couchbase/vellum"
	"github.com/couchbase/vellum/levenshtein"
	"github.com/couchbase/vellum/regexp"

	"harshagw/spanstats/internal/apperr"
)

// getFieldMeta returns metadata for a field using O(1) map lookup.
func (s *Segment) getFieldMeta(fieldName string) *FieldMeta {
	return s.fieldMetaByName[fieldName]
}

// getFST returns the FST for a field, loading it lazily.
func (s *Segment) getFST(fieldName string) (*vellum.FST, error) {
	s.fstsMu.RLock()
	fst, ok := s.fsts[fieldName]
	s.fstsMu.RUnlock()
	if ok {
		return fst, nil
	}

	s.fstsMu.Lock()
	defer s.fstsMu.Unlock()

	// Double-check after acquiring write lock
	if fst, ok := s.fsts[fieldName]; ok {
		return fst, nil
	}

	meta := s.getFieldMeta(fieldName)
	if meta == nil {
		return nil, nil
	}

	// FST data starts after the 8-byte size prefix
	fstOffset := meta.DictOffset
	if fstOffset+8 > uint64(len(s.data)) {
		return nil, apperr.Storagef("dictionary of field %s out of range", fieldName)
	}
	fstSize := binary.BigEndian.Uint64(s.data[fstOffset:])
	if fstOffset+8+fstSize > uint64(len(s.data)) {
		return nil, apperr.Storagef("dictionary of field %s out of range", fieldName)
	}
	fstData := s.data[fstOffset+8 : fstOffset+8+fstSize]

	fst, err := vellum.Load(fstData)
	if err != nil {
		return nil, apperr.WrapStorage(err, fmt.Sprintf("load FST for field %s", fieldName))
	}

	s.fsts[fieldName] = fst
	return fst, nil
}

// Search searches for a term in a specific field. Unknown fields and terms
// yield no postings.
func (s *Segment) Search(term, fieldName string, deleted *roaring.Bitmap) ([]Posting, error) {
	fst, err := s.getFST(fieldName)
	if err != nil || fst == nil {
		return nil, err
	}

	val, exists, err := fst.Get([]byte(term))
	if err != nil {
		return nil, apperr.WrapStorage(err, "dictionary lookup")
	}
	if !exists {
		return nil, nil
	}

	postings, err := s.postings(s.getFieldMeta(fieldName), val)
	if err != nil {
		return nil, err
	}
	return filterDeleted(postings, deleted), nil
}

// postings decodes the posting list a dictionary value points to.
func (s *Segment) postings(meta *FieldMeta, val uint64) ([]Posting, error) {
	// Check for 1-hit encoding
	if IsOneHit(val) {
		docNum := DecodeOneHit(val)
		return []Posting{{DocNum: docNum, Frequency: 1, Positions: []uint64{0}, Ends: []uint64{0}}}, nil
	}

	// Regular posting list
	if val >= meta.PostingsSize {
		return nil, apperr.Storagef("postings offset %d of field %s out of range", val, meta.Name)
	}
	postingsOffset := meta.PostingsOffset + val
	end := meta.PostingsOffset + meta.PostingsSize
	return DecodePostings(s.data[postingsOffset:end])
}

func filterDeleted(postings []Posting, deleted *roaring.Bitmap) []Posting {
	if deleted == nil || deleted.IsEmpty() {
		return postings
	}
	filtered := make([]Posting, 0, len(postings))
	for _, p := range postings {
		if !deleted.Contains(uint32(p.DocNum)) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// VisitTerms calls fn for every term of field accepted by aut (nil accepts
// everything) within the key range [start, end), in key order. Iteration
// stops at the first error returned by fn.
func (s *Segment) VisitTerms(fieldName string, aut vellum.Automaton, start, end []byte,
	fn func(term string, postings []Posting) error) error {
	fst, err := s.getFST(fieldName)
	if err != nil || fst == nil {
		return err
	}
	meta := s.getFieldMeta(fieldName)

	var iter *vellum.FSTIterator
	if aut != nil {
		iter, err = fst.Search(aut, start, end)
	} else {
		iter, err = fst.Iterator(start, end)
	}
	for err == nil {
		key, val := iter.Current()
		postings, perr := s.postings(meta, val)
		if perr != nil {
			return perr
		}
		if ferr := fn(string(key), postings); ferr != nil {
			return ferr
		}
		err = iter.Next()
	}
	if err != vellum.ErrIteratorDone {
		return apperr.WrapStorage(err, "iterate dictionary")
	}
	return nil
}

// searchWithAutomaton is a helper that searches FST using any vellum automaton.
func (s *Segment) searchWithAutomaton(fieldName string, aut vellum.Automaton) ([]string, error) {
	var terms []string
	err := s.VisitTerms(fieldName, aut, nil, nil, func(term string, _ []Posting) error {
		terms = append(terms, term)
		return nil
	})
	return terms, err
}

// MatchingTerms returns all terms in a field that match the given regex pattern.
func (s *Segment) MatchingTerms(pattern, fieldName string) ([]string, error) {
	aut, err := regexp.New(pattern)
	if err != nil {
		return nil, apperr.Invalidf("invalid regex pattern %q: %v", pattern, err)
	}
	return s.searchWithAutomaton(fieldName, aut)
}

// FuzzyTerms returns all terms in a field within edit distance of the query.
func (s *Segment) FuzzyTerms(term string, fuzziness uint8, fieldName string) ([]string, error) {
	builder, err := levenshtein.NewLevenshteinAutomatonBuilder(fuzziness, true)
	if err != nil {
		return nil, apperr.Invalidf("fuzziness %d: %v", fuzziness, err)
	}

	aut, err := builder.BuildDfa(term, fuzziness)
	if err != nil {
		return nil, apperr.Invalidf("fuzzy automaton for %q: %v", term, err)
	}

	return s.searchWithAutomaton(fieldName, aut)
}

// PrefixTerms returns all terms in a field that start with the given prefix.
// Uses efficient FST range scan instead of automaton.
func (s *Segment) PrefixTerms(prefix, fieldName string) ([]string, error) {
	var terms []string
	err := s.VisitPrefix(fieldName, prefix, func(term string, _ []Posting) error {
		terms = append(terms, term)
		return nil
	})
	return terms, err
}

// VisitPrefix calls fn for every term of field starting with prefix.
func (s *Segment) VisitPrefix(fieldName, prefix string, fn func(term string, postings []Posting) error) error {
	start := []byte(prefix)
	return s.VisitTerms(fieldName, nil, start, prefixSuccessor(start), fn)
}
