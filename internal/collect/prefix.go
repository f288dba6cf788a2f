package collect

import (
	"slices"

	"harshagw/spanstats/internal/segment"
)

// prefixList reports the prefixes of the field: those declared by the
// merged field attributes with their classes, plus those only found in
// segment prefix tables.
type prefixList struct {
	spec       PrefixSpec
	field      string
	attributes segment.Attributes
	seen       map[string]bool
}

func newPrefix(spec PrefixSpec, field string) *prefixList {
	return &prefixList{spec: spec, field: field, seen: make(map[string]bool)}
}

func (c *prefixList) begin(col *Collector) {
	c.attributes = col.snapshot.Attributes(c.field)
	for _, ss := range col.snapshot.Segments() {
		for _, p := range ss.Segment().Prefixes(c.field) {
			c.seen[p] = true
		}
	}
}

func (c *prefixList) collectSegment(*segmentContext) error { return nil }

func (c *prefixList) finish(res *Result, _ []uint32) {
	for _, p := range c.attributes.Known() {
		c.seen[p] = true
	}
	names := make([]string, 0, len(c.seen))
	for p := range c.seen {
		names = append(names, p)
	}
	slices.Sort(names)

	out := PrefixResult{Key: c.spec.Key, Prefixes: make([]PrefixInfo, len(names))}
	for i, p := range names {
		classes := c.attributes.Classes(p)
		if classes == nil {
			classes = []string{}
		}
		out.Prefixes[i] = PrefixInfo{Prefix: p, Classes: classes}
	}
	res.Prefixes = append(res.Prefixes, out)
}
