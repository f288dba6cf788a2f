package segment

import (
	"strings"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/postree"
)

// Token is one stored annotation of a document.
type Token struct {
	ID     uint64
	Prefix string
	Value  string
	Start  uint64 // inclusive
	End    uint64 // inclusive
	Parent int64  // token id of the parent, -1 if none
	Ref    int64  // object offset
}

// Term returns the dictionary key "prefix:value".
func (t Token) Term() string {
	return t.Prefix + ":" + t.Value
}

// PrefixID returns the numeric id of prefix in this field.
func (d *Directory) PrefixID(prefix string) (uint64, bool) {
	for i, p := range d.meta.Prefixes {
		if p == prefix {
			return uint64(i), true
		}
	}
	return 0, false
}

// PrefixName returns the prefix with numeric id id.
func (d *Directory) PrefixName(id uint64) (string, error) {
	if id >= uint64(len(d.meta.Prefixes)) {
		return "", apperr.Storagef("prefix id %d out of range in %s", id, d.meta.Name)
	}
	return d.meta.Prefixes[id], nil
}

// PrefixFilter maps prefix names to ids. Unknown prefixes are dropped. A nil
// result means no filtering.
func (d *Directory) PrefixFilter(prefixes []string) map[uint64]bool {
	if prefixes == nil {
		return nil
	}
	ids := make(map[uint64]bool, len(prefixes))
	for _, p := range prefixes {
		if id, ok := d.PrefixID(p); ok {
			ids[id] = true
		}
	}
	return ids
}

// Term reads the "prefix:value" string stored at ref.
func (d *Directory) Term(ref int64) (string, error) {
	if ref < 0 || ref >= int64(len(d.seg.data)) {
		return "", apperr.Storagef("term reference %d out of range", ref)
	}
	r := &byteReader{data: d.seg.data, pos: int(ref)}
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Token reads the object stored at ref.
func (d *Directory) Token(ref int64) (Token, error) {
	if ref < 0 || ref >= int64(len(d.seg.data)) {
		return Token{}, apperr.Storagef("object reference %d out of range", ref)
	}
	r := &byteReader{data: d.seg.data, pos: int(ref)}
	var vals [6]uint64
	for i := range vals {
		v, err := r.ReadUvarint()
		if err != nil {
			return Token{}, err
		}
		vals[i] = v
	}
	prefix, err := d.PrefixName(vals[1])
	if err != nil {
		return Token{}, err
	}
	term, err := d.Term(int64(vals[2]))
	if err != nil {
		return Token{}, err
	}
	value, ok := strings.CutPrefix(term, prefix+":")
	if !ok {
		return Token{}, apperr.Storagef("object %d: term %q does not carry prefix %q", ref, term, prefix)
	}
	return Token{
		ID:     vals[0],
		Prefix: prefix,
		Value:  value,
		Start:  vals[3],
		End:    vals[3] + vals[4],
		Parent: int64(vals[5]) - 1,
		Ref:    ref,
	}, nil
}

// HitsByPosition returns the raw tree hits intersecting [start, end],
// restricted to the prefix ids in filter (nil keeps all). AuxID holds the
// prefix id and AuxRef the term reference of each hit.
func (d *Directory) HitsByPosition(rec *DocumentRecord, start, end uint64, filter map[uint64]bool) ([]postree.Hit, error) {
	tree, err := postree.Open(d.seg.data, rec.PositionTree, d.seg.limits)
	if err != nil {
		return nil, err
	}
	hits, err := tree.Search(start, end)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return hits, nil
	}
	kept := hits[:0]
	for _, h := range hits {
		if filter[h.AuxID] {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// ObjectsByPosition returns the tokens intersecting [start, end] whose
// prefix is in prefixes (nil keeps all), ordered by position.
func (d *Directory) ObjectsByPosition(rec *DocumentRecord, start, end uint64, prefixes []string) ([]Token, error) {
	filter := d.PrefixFilter(prefixes)
	if filter != nil && len(filter) == 0 {
		return nil, nil
	}
	hits, err := d.HitsByPosition(rec, start, end, filter)
	if err != nil {
		return nil, err
	}
	return d.resolve(hits)
}

// ObjectsByParent returns the tokens whose parent is parentID.
func (d *Directory) ObjectsByParent(rec *DocumentRecord, parentID uint64) ([]Token, error) {
	tree, err := postree.Open(d.seg.data, rec.ParentTree, d.seg.limits)
	if err != nil {
		return nil, err
	}
	hits, err := tree.PointSearch(parentID)
	if err != nil {
		return nil, err
	}
	return d.resolve(hits)
}

// ObjectByID returns the token with the given id. The object offset is
// predicted linearly from the id and corrected from the id array.
func (d *Directory) ObjectByID(rec *DocumentRecord, id uint64) (Token, error) {
	if id >= rec.Tokens {
		return Token{}, apperr.Invalidf("token id %d out of range for doc %d", id, rec.DocNum)
	}
	c, err := readCorrection(d.seg.data, rec.IDArray+int64(id)*int64(rec.Width), rec.Width)
	if err != nil {
		return Token{}, err
	}
	tok, err := d.Token(rec.predict(id) + c)
	if err != nil {
		return Token{}, err
	}
	if tok.ID != id {
		return Token{}, apperr.Storagef("id array of doc %d resolved id %d to object %d", rec.DocNum, id, tok.ID)
	}
	return tok, nil
}

func (d *Directory) resolve(hits []postree.Hit) ([]Token, error) {
	out := make([]Token, 0, len(hits))
	for _, h := range hits {
		tok, err := d.Token(h.Ref)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

// DocTokens returns every token of the document in id order, which is the
// order the analyzer produced them in, so parent ids index the result.
func (d *Directory) DocTokens(rec *DocumentRecord) ([]analysis.Token, error) {
	out := make([]analysis.Token, rec.Tokens)
	for id := range rec.Tokens {
		t, err := d.ObjectByID(rec, id)
		if err != nil {
			return nil, err
		}
		out[id] = analysis.Token{Prefix: t.Prefix, Value: t.Value, Start: t.Start, End: t.End, Parent: int(t.Parent)}
	}
	return out, nil
}
