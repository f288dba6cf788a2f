package collect

import (
	"cmp"
	"slices"

	"harshagw/spanstats/internal/segment"
)

// page dumps the tokens of a position window of every listed document.
type page struct {
	spec PageSpec
	docs map[uint32]PageDoc
}

func newPage(spec PageSpec) *page {
	return &page{spec: spec, docs: make(map[uint32]PageDoc)}
}

func (c *page) collectSegment(sc *segmentContext) error {
	if sc.dir == nil {
		return nil
	}
	for _, doc := range sc.docs.list {
		rec, err := sc.dir.GetDoc(doc)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		tokens, err := sc.dir.ObjectsByPosition(rec, c.spec.Start, c.spec.End, c.spec.Prefixes)
		if err != nil {
			return err
		}
		views := tokenViews(tokens)
		if c.spec.Hierarchy {
			if views, err = c.hierarchy(sc.dir, rec, views); err != nil {
				return err
			}
		}
		c.docs[sc.global(doc)] = PageDoc{Doc: sc.global(doc), ID: sc.externalID(doc), Tokens: views}
	}
	return nil
}

// hierarchy adds the ancestors of the window's tokens and lists the
// children of every token.
func (c *page) hierarchy(dir *segment.Directory, rec *segment.DocumentRecord, tokens []Token) ([]Token, error) {
	seen := make(map[uint64]bool, len(tokens))
	for _, t := range tokens {
		seen[t.ID] = true
	}
	for i := 0; i < len(tokens); i++ {
		parent := tokens[i].Parent
		if parent < 0 || seen[uint64(parent)] {
			continue
		}
		p, err := dir.ObjectByID(rec, uint64(parent))
		if err != nil {
			return nil, err
		}
		seen[p.ID] = true
		tokens = append(tokens, tokenView(p))
	}
	for i := range tokens {
		children, err := dir.ObjectsByParent(rec, tokens[i].ID)
		if err != nil {
			return nil, err
		}
		for _, ch := range children {
			tokens[i].Children = append(tokens[i].Children, ch.ID)
		}
		slices.Sort(tokens[i].Children)
	}
	slices.SortFunc(tokens, func(a, b Token) int {
		if d := cmp.Compare(a.Start, b.Start); d != 0 {
			return d
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return tokens, nil
}

func (c *page) finish(res *Result, order []uint32) {
	out := PageResult{Key: c.spec.Key, Docs: []PageDoc{}}
	for _, doc := range order {
		if d, ok := c.docs[doc]; ok {
			out.Docs = append(out.Docs, d)
		}
	}
	res.Pages = append(res.Pages, out)
}
