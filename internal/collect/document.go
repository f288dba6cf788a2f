package collect

import (
	"cmp"
	"slices"
)

// document lists, per listed document, the values of one prefix with their
// frequency and optionally the stored fields.
type document struct {
	spec DocumentSpec
	docs map[uint32]DocumentDoc
}

func newDocument(spec DocumentSpec) *document {
	return &document{spec: spec, docs: make(map[uint32]DocumentDoc)}
}

func (c *document) collectSegment(sc *segmentContext) error {
	for _, doc := range sc.docs.list {
		out := DocumentDoc{Doc: sc.global(doc), ID: sc.externalID(doc), Values: []ValueCount{}}
		if sc.dir != nil {
			rec, err := sc.dir.GetDoc(doc)
			if err != nil {
				return err
			}
			if rec != nil && rec.Tokens > 0 {
				tokens, err := sc.dir.ObjectsByPosition(rec, rec.MinPosition, rec.MaxPosition, []string{c.spec.Prefix})
				if err != nil {
					return err
				}
				counts := make(map[string]int)
				for _, t := range tokens {
					counts[t.Value]++
				}
				out.Values = topValues(counts, c.spec.Number)
			}
		}
		if c.spec.Stored {
			stored, err := sc.seg.LoadDoc(uint64(doc))
			if err != nil {
				return err
			}
			out.Stored = stored
		}
		c.docs[out.Doc] = out
	}
	return nil
}

// topValues orders values by count descending, then value, keeping at most
// number of them; number 0 keeps all.
func topValues(counts map[string]int, number int) []ValueCount {
	out := make([]ValueCount, 0, len(counts))
	for v, n := range counts {
		out = append(out, ValueCount{Value: v, Count: n})
	}
	slices.SortFunc(out, func(a, b ValueCount) int {
		if d := cmp.Compare(b.Count, a.Count); d != 0 {
			return d
		}
		return cmp.Compare(a.Value, b.Value)
	})
	if number > 0 && len(out) > number {
		out = out[:number]
	}
	return out
}

func (c *document) finish(res *Result, order []uint32) {
	out := DocumentResult{Key: c.spec.Key, Docs: []DocumentDoc{}}
	for _, doc := range order {
		if d, ok := c.docs[doc]; ok {
			out.Docs = append(out.Docs, d)
		}
	}
	res.Documents = append(res.Documents, out)
}
