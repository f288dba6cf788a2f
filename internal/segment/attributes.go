package segment

import (
	"slices"
	"strings"
)

// AttributeDelimiter separates prefixes inside one attribute list.
const AttributeDelimiter = "|"

// Attributes classify the prefixes of a text field. Every list is a
// '|'-delimited, sorted set of prefixes.
type Attributes struct {
	// SinglePosition holds prefixes whose tokens always cover one position.
	SinglePosition string `json:"single,omitempty"`
	// MultiplePosition holds prefixes with at least one token spanning more
	// than one position.
	MultiplePosition string `json:"multiple,omitempty"`
	// SetPosition holds prefixes with more than one token at the same position
	// in some document.
	SetPosition string `json:"set,omitempty"`
	// Intersecting holds prefixes with overlapping tokens in some document.
	Intersecting string `json:"intersecting,omitempty"`
}

// SplitPrefixes parses one attribute list.
func SplitPrefixes(list string) []string {
	if list == "" {
		return nil
	}
	return strings.Split(list, AttributeDelimiter)
}

// JoinPrefixes builds one attribute list from a set of prefixes.
func JoinPrefixes(prefixes []string) string {
	sorted := slices.Clone(prefixes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return strings.Join(sorted, AttributeDelimiter)
}

// Known returns every prefix named by any list.
func (a Attributes) Known() []string {
	all := SplitPrefixes(a.SinglePosition)
	all = append(all, SplitPrefixes(a.MultiplePosition)...)
	all = append(all, SplitPrefixes(a.SetPosition)...)
	all = append(all, SplitPrefixes(a.Intersecting)...)
	slices.Sort(all)
	return slices.Compact(all)
}

// Declares reports whether prefix is named by any list.
func (a Attributes) Declares(prefix string) bool {
	return slices.Contains(a.Known(), prefix)
}

// Classes returns the names of the lists that contain prefix.
func (a Attributes) Classes(prefix string) []string {
	var out []string
	if slices.Contains(SplitPrefixes(a.SinglePosition), prefix) {
		out = append(out, "single")
	}
	if slices.Contains(SplitPrefixes(a.MultiplePosition), prefix) {
		out = append(out, "multiple")
	}
	if slices.Contains(SplitPrefixes(a.SetPosition), prefix) {
		out = append(out, "set")
	}
	if slices.Contains(SplitPrefixes(a.Intersecting), prefix) {
		out = append(out, "intersecting")
	}
	return out
}

// Merge returns the union of a and b. A prefix that is multi-position in any
// segment is no longer single-position.
func (a Attributes) Merge(b Attributes) Attributes {
	multiple := append(SplitPrefixes(a.MultiplePosition), SplitPrefixes(b.MultiplePosition)...)
	var single []string
	for _, p := range append(SplitPrefixes(a.SinglePosition), SplitPrefixes(b.SinglePosition)...) {
		if !slices.Contains(multiple, p) {
			single = append(single, p)
		}
	}
	return Attributes{
		SinglePosition:   JoinPrefixes(single),
		MultiplePosition: JoinPrefixes(multiple),
		SetPosition:      JoinPrefixes(append(SplitPrefixes(a.SetPosition), SplitPrefixes(b.SetPosition)...)),
		Intersecting:     JoinPrefixes(append(SplitPrefixes(a.Intersecting), SplitPrefixes(b.Intersecting)...)),
	}
}

// prefixStats accumulates attribute facts for one prefix while building.
type prefixStats struct {
	multiple     bool
	set          bool
	intersecting bool
}

// computeAttributes turns the facts gathered per prefix into lists.
func computeAttributes(stats map[string]*prefixStats) Attributes {
	var single, multiple, set, intersecting []string
	for p, s := range stats {
		if s.multiple {
			multiple = append(multiple, p)
		} else {
			single = append(single, p)
		}
		if s.set {
			set = append(set, p)
		}
		if s.intersecting {
			intersecting = append(intersecting, p)
		}
	}
	return Attributes{
		SinglePosition:   JoinPrefixes(single),
		MultiplePosition: JoinPrefixes(multiple),
		SetPosition:      JoinPrefixes(set),
		Intersecting:     JoinPrefixes(intersecting),
	}
}
