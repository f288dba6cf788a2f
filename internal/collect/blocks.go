package collect

import (
	"strings"

	"harshagw/spanstats/internal/intervaltree"
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/spans"
)

// indexBlocks partitions each listed document into position blocks and
// counts the hits of a query per block.
type indexBlocks struct {
	spec       IndexSpec
	query      int
	blockQuery int
	match      string
	docs       map[uint32]IndexDoc
}

func newIndexBlocks(spec IndexSpec, reg *queryRegistry) *indexBlocks {
	c := &indexBlocks{
		spec:       spec,
		query:      reg.index(spec.Query),
		blockQuery: -1,
		match:      strings.ToLower(spec.Match),
		docs:       make(map[uint32]IndexDoc),
	}
	if c.match == "" {
		c.match = MatchIntersect
	}
	if spec.BlockQuery != nil {
		c.blockQuery = reg.index(spec.BlockQuery)
	}
	return c
}

func (c *indexBlocks) collectSegment(sc *segmentContext) error {
	if sc.dir == nil {
		return nil
	}
	for _, doc := range sc.docs.list {
		rec, err := sc.dir.GetDoc(doc)
		if err != nil {
			return err
		}
		if rec == nil || rec.Tokens == 0 {
			continue
		}
		tree := intervaltree.New[*IndexBlock]()
		for _, b := range c.blocks(sc, doc, rec) {
			tree.Insert(b.Start, b.End, b)
		}
		for _, m := range sc.matches[c.query][doc] {
			matchBlocks(tree, m, c.match, func(b *IndexBlock) { b.Count++ })
		}
		if c.spec.Prefixes != nil {
			if err := c.collectTerms(sc.dir, rec, tree); err != nil {
				return err
			}
		}

		out := IndexDoc{Doc: sc.global(doc), ID: sc.externalID(doc), Blocks: make([]IndexBlock, 0, tree.Len())}
		tree.Walk(func(it *intervaltree.Item[*IndexBlock]) { out.Blocks = append(out.Blocks, *it.Value) })
		c.docs[out.Doc] = out
	}
	return nil
}

// blocks returns the inclusive blocks of one document.
func (c *indexBlocks) blocks(sc *segmentContext, doc uint32, rec *segment.DocumentRecord) []*IndexBlock {
	if c.blockQuery >= 0 {
		matches := sc.matches[c.blockQuery][doc]
		out := make([]*IndexBlock, 0, len(matches))
		for _, m := range matches {
			if m.End > m.Start {
				out = append(out, &IndexBlock{Start: m.Start, End: m.End - 1})
			}
		}
		return out
	}
	size := uint64(c.spec.BlockSize)
	if c.spec.BlockCount > 0 {
		count := uint64(c.spec.BlockCount)
		size = (rec.Positions() + count - 1) / count
	}
	var out []*IndexBlock
	for start := rec.MinPosition; start <= rec.MaxPosition; start += size {
		out = append(out, &IndexBlock{Start: start, End: min(start+size-1, rec.MaxPosition)})
	}
	return out
}

// collectTerms counts the terms of the requested prefixes per block by the
// position each token starts at.
func (c *indexBlocks) collectTerms(dir *segment.Directory, rec *segment.DocumentRecord, tree *intervaltree.Tree[*IndexBlock]) error {
	tokens, err := dir.ObjectsByPosition(rec, rec.MinPosition, rec.MaxPosition, c.spec.Prefixes)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		tree.At(t.Start, func(it *intervaltree.Item[*IndexBlock]) {
			if it.Value.Terms == nil {
				it.Value.Terms = make(map[string]int)
			}
			it.Value.Terms[t.Term()]++
		})
	}
	return nil
}

// matchBlocks calls fn for every block a match counts towards: blocks it
// overlaps (intersect), blocks containing all of it (complete) or the
// blocks holding its first position (start).
func matchBlocks[T any](tree *intervaltree.Tree[T], m spans.Match, mode string, fn func(T)) {
	last := m.Start
	if m.End > m.Start {
		last = m.End - 1
	}
	visit := func(it *intervaltree.Item[T]) { fn(it.Value) }
	switch mode {
	case MatchComplete:
		tree.Containing(m.Start, last, visit)
	case MatchStart:
		tree.At(m.Start, visit)
	default:
		tree.Overlapping(m.Start, last, visit)
	}
}

func (c *indexBlocks) finish(res *Result, order []uint32) {
	out := IndexResult{Key: c.spec.Key, Docs: []IndexDoc{}}
	for _, doc := range order {
		if d, ok := c.docs[doc]; ok {
			out.Docs = append(out.Docs, d)
		}
	}
	res.Indexes = append(res.Indexes, out)
}
