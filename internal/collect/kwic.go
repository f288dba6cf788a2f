package collect

import (
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/spans"
)

// contextTokens reads the tokens of a match widened by left and right
// positions, clipped to the document.
func contextTokens(dir *segment.Directory, rec *segment.DocumentRecord, m spans.Match, left, right int,
	prefixes []string) ([]Token, error) {
	if rec.Tokens == 0 {
		return nil, nil
	}
	lo := rec.MinPosition
	if m.Start > lo+uint64(left) {
		lo = m.Start - uint64(left)
	}
	hi := rec.MaxPosition
	last := m.Start
	if m.End > m.Start {
		last = m.End - 1
	}
	if last+uint64(right) < hi {
		hi = last + uint64(right)
	}
	if lo > hi {
		return nil, nil
	}
	tokens, err := dir.ObjectsByPosition(rec, lo, hi, prefixes)
	if err != nil {
		return nil, err
	}
	return tokenViews(tokens), nil
}

// pageRange returns the window [start, start+number) of n items; number 0 keeps
// everything from start.
func pageRange(n, start, number int) (int, int) {
	if start >= n {
		return n, n
	}
	if number == 0 || start+number > n {
		return start, n
	}
	return start, start + number
}

// kwic lists the hits of a query with context per listed document.
type kwic struct {
	spec  KwicSpec
	query int
	docs  map[uint32]KwicDoc
}

func newKwic(spec KwicSpec, reg *queryRegistry) *kwic {
	return &kwic{spec: spec, query: reg.index(spec.Query), docs: make(map[uint32]KwicDoc)}
}

func (c *kwic) collectSegment(sc *segmentContext) error {
	if sc.dir == nil {
		return nil
	}
	for _, doc := range sc.docs.list {
		hits := sc.matches[c.query][doc]
		out := KwicDoc{Doc: sc.global(doc), ID: sc.externalID(doc), Total: len(hits), Hits: []KwicHit{}}
		from, to := pageRange(len(hits), c.spec.Start, c.spec.Number)
		if from < to {
			rec, err := sc.dir.GetDoc(doc)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			for _, m := range hits[from:to] {
				tokens, err := contextTokens(sc.dir, rec, m, c.spec.Left, c.spec.Right, c.spec.Prefixes)
				if err != nil {
					return err
				}
				out.Hits = append(out.Hits, KwicHit{Start: m.Start, End: m.End, Tokens: tokens})
			}
		}
		c.docs[out.Doc] = out
	}
	return nil
}

func (c *kwic) finish(res *Result, order []uint32) {
	out := KwicResult{Key: c.spec.Key, Docs: []KwicDoc{}}
	for _, doc := range order {
		if d, ok := c.docs[doc]; ok {
			out.Docs = append(out.Docs, d)
			delete(c.docs, doc)
		}
	}
	res.Kwics = append(res.Kwics, out)
}

// hitList pages through the hits of a query over the whole target set in
// document order.
type hitList struct {
	spec  ListSpec
	query int
	total int64
	hits  []ListHit
}

func newList(spec ListSpec, reg *queryRegistry) *hitList {
	return &hitList{spec: spec, query: reg.index(spec.Query), hits: []ListHit{}}
}

func (c *hitList) collectSegment(sc *segmentContext) error {
	if sc.dir == nil {
		return nil
	}
	for _, doc := range sc.docs.setDocs() {
		hits := sc.matches[c.query][doc]
		if len(hits) == 0 {
			continue
		}
		first := c.total
		c.total += int64(len(hits))
		from := max(int64(c.spec.Start)-first, 0)
		to := int64(len(hits))
		if c.spec.Number > 0 {
			to = min(to, int64(c.spec.Start+c.spec.Number)-first)
		}
		if from >= to {
			continue
		}
		rec, err := sc.dir.GetDoc(doc)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		for _, m := range hits[from:to] {
			tokens, err := contextTokens(sc.dir, rec, m, c.spec.Left, c.spec.Right, c.spec.Prefixes)
			if err != nil {
				return err
			}
			c.hits = append(c.hits, ListHit{
				Doc:    sc.global(doc),
				ID:     sc.externalID(doc),
				Start:  m.Start,
				End:    m.End,
				Tokens: tokens,
			})
		}
	}
	return nil
}

func (c *hitList) finish(res *Result, _ []uint32) {
	res.Lists = append(res.Lists, ListResult{Key: c.spec.Key, Total: c.total, Hits: c.hits})
}
