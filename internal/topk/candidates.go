package topk

import (
	"harshagw/spanstats/internal/stats"
)

type mode int

const (
	// keepAll lists every term: unbounded lists, ascending or mean sorts.
	keepAll mode = iota
	// byKey keeps the first N terms in key order.
	byKey
	// byValue keeps the N best values plus ties and bounds the rest.
	byValue
)

// Candidates is the round one list of one segment. Entries whose ranking
// value falls below the acceptance boundary are evicted, and the largest
// evicted value bounds every term the list does not hold.
type Candidates struct {
	number int
	sort   stats.Sort
	mode   mode

	entries     []stats.Entry
	boundary    stats.Entry
	hasBoundary bool
	maxEvicted  float64
	evicted     bool
	closed      bool

	// watermark is the list length that triggers the next compaction. It
	// doubles with the entries kept, so boundary ties compact a logarithmic
	// number of times.
	watermark   int
	compactions int
}

func newCandidates(number int, sort stats.Sort, m mode) *Candidates {
	return &Candidates{number: number, sort: sort, mode: m}
}

// Add registers the local value of one term. Terms with neither sum nor
// count are ignored.
func (c *Candidates) Add(e stats.Entry) {
	if c.closed || (e.Sum == 0 && e.N == 0) {
		return
	}
	if c.hasBoundary && c.sort.Compare(e, c.boundary) > 0 && !c.tiesBoundary(e) {
		c.evict(e)
		return
	}
	c.entries = append(c.entries, e)
	if c.mode != keepAll && len(c.entries) >= max(2*c.number, c.watermark) {
		c.compact()
	}
}

// tiesBoundary reports whether e ranks equal to the boundary by value.
func (c *Candidates) tiesBoundary(e stats.Entry) bool {
	return c.mode == byValue && c.sort.Value(e) == c.sort.Value(c.boundary)
}

func (c *Candidates) evict(e stats.Entry) {
	c.evicted = true
	if v := c.sort.Value(e); v > c.maxEvicted {
		c.maxEvicted = v
	}
}

// compact keeps the first number entries, plus entries tying the last kept
// value, and raises the boundary to the last kept entry.
func (c *Candidates) compact() {
	if len(c.entries) <= c.number {
		return
	}
	c.sort.SortEntries(c.entries)
	last := c.entries[c.number-1]
	keep := c.number
	for keep < len(c.entries) && c.mode == byValue && c.sort.Value(c.entries[keep]) == c.sort.Value(last) {
		keep++
	}
	for _, e := range c.entries[keep:] {
		c.evict(e)
	}
	c.entries = c.entries[:keep]
	c.boundary = last
	c.hasBoundary = true
	c.watermark = 2 * keep
	c.compactions++
}

// Close ends round one for the segment.
func (c *Candidates) Close() {
	if c.closed {
		return
	}
	if c.mode != keepAll {
		c.compact()
	}
	c.closed = true
}

// Entries returns the listed entries.
func (c *Candidates) Entries() []stats.Entry { return c.entries }

// Complete reports whether the list holds every term of the segment.
func (c *Candidates) Complete() bool { return !c.evicted }

// MaxEvicted returns an upper bound of the ranking value of every term not
// in the list.
func (c *Candidates) MaxEvicted() float64 { return c.maxEvicted }
