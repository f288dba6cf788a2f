package collect

import (
	"encoding/binary"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"harshagw/spanstats/internal/intervaltree"
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/spans"
	"harshagw/spanstats/internal/stats"
)

// GroupHit is the shape of one match: for every requested position of each
// zone, the sorted "prefix:value" terms found there. Positions outside the
// document or the hit hold no terms.
type GroupHit struct {
	Left      [][]string `json:"left,omitempty"`
	HitLeft   [][]string `json:"hitLeft,omitempty"`
	HitInside [][]string `json:"hitInside,omitempty"`
	HitRight  [][]string `json:"hitRight,omitempty"`
	Right     [][]string `json:"right,omitempty"`
}

func (h *GroupHit) zones() [5][][]string {
	return [5][][]string{h.Left, h.HitLeft, h.HitInside, h.HitRight, h.Right}
}

// Hash returns a structural hash: equal shapes hash equally.
func (h *GroupHit) Hash() uint64 {
	d := xxhash.New()
	var buf [binary.MaxVarintLen64]byte
	for _, zone := range h.zones() {
		d.Write(buf[:binary.PutUvarint(buf[:], uint64(len(zone)))])
		for _, terms := range zone {
			d.Write(buf[:binary.PutUvarint(buf[:], uint64(len(terms)))])
			for _, t := range terms {
				d.Write(buf[:binary.PutUvarint(buf[:], uint64(len(t)))])
				d.WriteString(t)
			}
		}
	}
	return d.Sum64()
}

// Equal reports whether h and o have the same shape.
func (h *GroupHit) Equal(o *GroupHit) bool {
	a, b := h.zones(), o.zones()
	for z := range a {
		if len(a[z]) != len(b[z]) {
			return false
		}
		for i := range a[z] {
			if !slices.Equal(a[z][i], b[z][i]) {
				return false
			}
		}
	}
	return true
}

// String renders the shape as zones separated by " | ", positions by spaces
// and terms at one position by '&'. Empty positions render as "-".
func (h *GroupHit) String() string {
	var sb strings.Builder
	for z, zone := range h.zones() {
		if z > 0 {
			sb.WriteString(" | ")
		}
		for i, terms := range zone {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if len(terms) == 0 {
				sb.WriteByte('-')
				continue
			}
			sb.WriteString(strings.Join(terms, "&"))
		}
	}
	return sb.String()
}

type groupEntry struct {
	hit     *GroupHit
	docs    int64
	sum     int64
	lastDoc int64
}

// maxHot bounds the shapes compared before hashing.
const maxHot = 16

// group counts the distinct shapes of the hits of one query.
type group struct {
	spec     GroupSpec
	query    int
	prefixes []string

	total   int64
	invalid int64
	buckets map[uint64][]*groupEntry
	hot     []*groupEntry
	order   []*groupEntry

	batch    float64
	frequent float64
	growth   float64
}

func newGroup(spec GroupSpec, reg *queryRegistry, t GroupThresholds) (*group, error) {
	var prefixes []string
	for _, zone := range [][]GroupPosition{spec.Left, spec.HitLeft, spec.HitRight, spec.Right} {
		for _, p := range zone {
			prefixes = append(prefixes, p.Prefixes...)
		}
	}
	prefixes = append(prefixes, spec.HitInside...)
	slices.Sort(prefixes)
	prefixes = slices.Compact(prefixes)

	growth := t.Growth
	if growth < 1 {
		growth = 1
	}
	return &group{
		spec:     spec,
		query:    reg.index(spec.Query),
		prefixes: prefixes,
		buckets:  make(map[uint64][]*groupEntry),
		batch:    t.Batch,
		frequent: t.Frequent,
		growth:   growth,
	}, nil
}

// resolvable reports whether the segment can read every requested prefix
// the field declares. Declared prefixes missing from the segment's prefix
// table mean the segment lost that layer and its shapes would be wrong.
func (c *group) resolvable(sc *segmentContext) bool {
	for _, p := range c.prefixes {
		if _, ok := sc.dir.PrefixID(p); !ok && sc.attributes.Declares(p) {
			return false
		}
	}
	return true
}

func (c *group) collectSegment(sc *segmentContext) error {
	matches := sc.matches[c.query]
	if len(matches) == 0 || sc.dir == nil {
		return nil
	}
	if !c.resolvable(sc) {
		for _, doc := range sc.docs.setDocs() {
			c.invalid += int64(len(matches[doc]))
		}
		sc.log.Debug("group prefixes unresolvable", "key", c.spec.Key, "segment", sc.ss.ID())
		return nil
	}

	for _, doc := range sc.docs.setDocs() {
		hits := matches[doc]
		if len(hits) == 0 {
			continue
		}
		rec, err := sc.dir.GetDoc(doc)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		src, err := c.source(sc.dir, rec, hits)
		if err != nil {
			return err
		}
		global := int64(sc.global(doc))
		for _, m := range hits {
			hit, err := c.shape(src, rec, m)
			if err != nil {
				return err
			}
			c.count(hit, global)
		}
	}
	return nil
}

// source picks how the context of a document's hits is read: one sweep over
// the hull of all hits into an interval tree once a document has enough
// hits, positional reads per hit otherwise.
func (c *group) source(dir *segment.Directory, rec *segment.DocumentRecord, hits []spans.Match) (contextSource, error) {
	if !c.sweep(len(hits)) {
		return &directSource{dir: dir, rec: rec}, nil
	}

	lo, hi := c.window(hits[0])
	for _, m := range hits[1:] {
		l, h := c.window(m)
		lo, hi = min(lo, l), max(hi, h)
	}
	tokens, err := dir.ObjectsByPosition(rec, lo, hi, c.prefixes)
	if err != nil {
		return nil, err
	}
	items := make([]intervaltree.Item[string], len(tokens))
	for i, t := range tokens {
		items[i] = intervaltree.Item[string]{Start: t.Start, End: t.End, Value: t.Term()}
	}
	tree := intervaltree.New[string]()
	tree.InsertAll(items)
	return &treeSource{tree: tree}, nil
}

// sweep reports whether a document with hits hits is read in one sweep.
// Crossing the threshold widens it by the growth factor, but never beyond
// the hit count that crossed it.
func (c *group) sweep(hits int) bool {
	n := float64(hits)
	if n < c.batch {
		return false
	}
	c.batch = min(c.batch*c.growth, n)
	return true
}

// window returns the inclusive positions a hit's shape may read.
func (c *group) window(m spans.Match) (uint64, uint64) {
	left, right := 0, 0
	for _, p := range c.spec.Left {
		left = max(left, p.Offset+1)
	}
	for _, p := range c.spec.Right {
		right = max(right, p.Offset+1)
	}
	lo := m.Start
	if uint64(left) > lo {
		lo = 0
	} else {
		lo -= uint64(left)
	}
	hi := m.End - 1
	if m.End == 0 {
		hi = 0
	}
	return lo, hi + uint64(right)
}

// shape builds the GroupHit of one match.
func (c *group) shape(src contextSource, rec *segment.DocumentRecord, m spans.Match) (*GroupHit, error) {
	at := func(pos int64, prefixes []string, inside bool) ([]string, error) {
		if pos < int64(rec.MinPosition) || pos > int64(rec.MaxPosition) || rec.Tokens == 0 {
			return nil, nil
		}
		if inside && (pos < int64(m.Start) || pos >= int64(m.End)) {
			return nil, nil
		}
		return src.terms(uint64(pos), prefixes)
	}
	zone := func(positions []GroupPosition, pos func(offset int) int64, inside bool) ([][]string, error) {
		if len(positions) == 0 {
			return nil, nil
		}
		out := make([][]string, len(positions))
		for i, p := range positions {
			terms, err := at(pos(p.Offset), p.Prefixes, inside)
			if err != nil {
				return nil, err
			}
			out[i] = terms
		}
		return out, nil
	}

	start, end := int64(m.Start), int64(m.End)
	hit := &GroupHit{}
	var err error
	if hit.Left, err = zone(c.spec.Left, func(o int) int64 { return start - 1 - int64(o) }, false); err != nil {
		return nil, err
	}
	if hit.HitLeft, err = zone(c.spec.HitLeft, func(o int) int64 { return start + int64(o) }, true); err != nil {
		return nil, err
	}
	if len(c.spec.HitInside) > 0 {
		for pos := start; pos < end; pos++ {
			terms, err := at(pos, c.spec.HitInside, true)
			if err != nil {
				return nil, err
			}
			hit.HitInside = append(hit.HitInside, terms)
		}
	}
	if hit.HitRight, err = zone(c.spec.HitRight, func(o int) int64 { return end - 1 - int64(o) }, true); err != nil {
		return nil, err
	}
	if hit.Right, err = zone(c.spec.Right, func(o int) int64 { return end + int64(o) }, false); err != nil {
		return nil, err
	}
	return hit, nil
}

// count records one occurrence of hit in global document doc.
func (c *group) count(hit *GroupHit, doc int64) {
	c.total++
	e := c.lookup(hit)
	e.sum++
	if e.lastDoc != doc {
		e.lastDoc = doc
		e.docs++
		if float64(e.docs) >= c.frequent && len(c.hot) < maxHot && !slices.Contains(c.hot, e) {
			c.hot = append(c.hot, e)
			c.frequent *= c.growth
		}
	}
}

func (c *group) lookup(hit *GroupHit) *groupEntry {
	for _, e := range c.hot {
		if e.hit.Equal(hit) {
			return e
		}
	}
	h := hit.Hash()
	for _, e := range c.buckets[h] {
		if e.hit.Equal(hit) {
			return e
		}
	}
	e := &groupEntry{hit: hit, lastDoc: -1}
	c.buckets[h] = append(c.buckets[h], e)
	c.order = append(c.order, e)
	return e
}

func (c *group) finish(res *Result, _ []uint32) {
	entries := make([]stats.Entry, len(c.order))
	for i, e := range c.order {
		entries[i] = stats.Entry{Key: e.hit.String(), Sum: float64(e.sum), N: e.docs}
	}
	// Shapes are ranked by index: distinct shapes may render alike.
	sorter := stats.Sort{Type: stats.SortSum, Direction: stats.Desc}
	ranked := make([]int, len(entries))
	for i := range ranked {
		ranked[i] = i
	}
	slices.SortStableFunc(ranked, func(a, b int) int { return sorter.Compare(entries[a], entries[b]) })
	if n := c.spec.Number; n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}

	out := GroupResult{Key: c.spec.Key, Total: c.total, Invalid: c.invalid, Groups: make([]GroupEntry, len(ranked))}
	for i, r := range ranked {
		e := c.order[r]
		out.Groups[i] = GroupEntry{Key: entries[r].Key, Hit: e.hit, OccurrencesN: e.docs, OccurrencesSum: e.sum}
	}
	res.Groups = append(res.Groups, out)
}

// contextSource reads the terms of selected prefixes at one position.
type contextSource interface {
	terms(pos uint64, prefixes []string) ([]string, error)
}

type treeSource struct {
	tree *intervaltree.Tree[string]
}

func (s *treeSource) terms(pos uint64, prefixes []string) ([]string, error) {
	var out []string
	s.tree.At(pos, func(it *intervaltree.Item[string]) {
		if hasPrefix(it.Value, prefixes) {
			out = append(out, it.Value)
		}
	})
	return normalize(out), nil
}

type directSource struct {
	dir *segment.Directory
	rec *segment.DocumentRecord
}

func (s *directSource) terms(pos uint64, prefixes []string) ([]string, error) {
	tokens, err := s.dir.ObjectsByPosition(s.rec, pos, pos, prefixes)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term()
	}
	return normalize(out), nil
}

func hasPrefix(term string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(term) > len(p) && term[len(p)] == ':' && strings.HasPrefix(term, p) {
			return true
		}
	}
	return false
}

func normalize(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	slices.Sort(terms)
	return slices.Compact(terms)
}
