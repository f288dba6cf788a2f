package stats

import (
	"cmp"
	"slices"
	"strings"

	"harshagw/spanstats/internal/apperr"
)

// SortType selects the value keyed outputs are ordered by.
type SortType string

const (
	SortTerm SortType = "term"
	SortSum  SortType = "sum"
	SortN    SortType = "n"
	SortMean SortType = "mean"
)

// Direction is the sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort orders keyed entries. Ties are broken by key ascending.
type Sort struct {
	Type      SortType
	Direction Direction
}

// ParseSort parses a sort type and direction. Empty values default to
// term ascending and, for value sorts, descending.
func ParseSort(sortType, direction string) (Sort, error) {
	s := Sort{Type: SortType(strings.ToLower(strings.TrimSpace(sortType)))}
	switch s.Type {
	case "":
		s.Type = SortTerm
	case SortTerm, SortSum, SortN, SortMean:
	default:
		return Sort{}, apperr.Invalidf("unknown sort type %q", sortType)
	}
	switch d := Direction(strings.ToLower(strings.TrimSpace(direction))); d {
	case "":
		s.Direction = Desc
		if s.Type == SortTerm {
			s.Direction = Asc
		}
	case Asc, Desc:
		s.Direction = d
	default:
		return Sort{}, apperr.Invalidf("unknown sort direction %q", direction)
	}
	return s, nil
}

// Entry is one keyed value.
type Entry struct {
	Key string
	Sum float64
	N   int64
}

// Value returns the number e is ranked by.
func (s Sort) Value(e Entry) float64 {
	switch s.Type {
	case SortN:
		return float64(e.N)
	case SortMean:
		if e.N == 0 {
			return 0
		}
		return e.Sum / float64(e.N)
	}
	return e.Sum
}

// ByValue reports whether the sort ranks by a number rather than the key.
func (s Sort) ByValue() bool { return s.Type != SortTerm }

// Compare orders a before b when negative.
func (s Sort) Compare(a, b Entry) int {
	if s.Type == SortTerm {
		if s.Direction == Desc {
			return strings.Compare(b.Key, a.Key)
		}
		return strings.Compare(a.Key, b.Key)
	}
	c := cmp.Compare(s.Value(a), s.Value(b))
	if s.Direction == Desc {
		c = -c
	}
	if c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}

// SortEntries sorts entries in place.
func (s Sort) SortEntries(entries []Entry) {
	slices.SortFunc(entries, s.Compare)
}

// Top sorts entries and keeps at most number of them; number <= 0 keeps all.
func (s Sort) Top(entries []Entry, number int) []Entry {
	s.SortEntries(entries)
	if number > 0 && len(entries) > number {
		entries = entries[:number]
	}
	return entries
}
