package topk

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harshagw/spanstats/internal/stats"
)

type segmentTerms map[string]float64

// run drives a ranker the way a collector does: list every term in round
// one, then answer requests and discoveries until done.
func run(t *testing.T, r *Ranker, segments []segmentTerms) []stats.Entry {
	t.Helper()
	for ord, terms := range segments {
		c := r.Segment(ord)
		for _, key := range sortedKeys(terms) {
			c.Add(stats.Entry{Key: key, Sum: terms[key], N: 1})
		}
	}
	r.CloseRound()
	for rounds := 0; r.State() == RecomputePending; rounds++ {
		require.Less(t, rounds, 3, "too many rounds")
		for ord, terms := range segments {
			q := r.Request(ord)
			for _, key := range q.Keys {
				if v, ok := terms[key]; ok {
					r.Report(ord, stats.Entry{Key: key, Sum: v, N: 1})
				}
			}
			if q.Discover {
				for _, key := range sortedKeys(terms) {
					if terms[key] >= q.Threshold {
						r.Report(ord, stats.Entry{Key: key, Sum: terms[key], N: 1})
					}
				}
			}
		}
		r.CloseRound()
	}
	require.Equal(t, Done, r.State())
	return r.Final()
}

func reference(s stats.Sort, number int, segments []segmentTerms) []stats.Entry {
	totals := make(map[string]*stats.Entry)
	for _, terms := range segments {
		for key, v := range terms {
			e, ok := totals[key]
			if !ok {
				e = &stats.Entry{Key: key}
				totals[key] = e
			}
			e.Sum += v
			e.N++
		}
	}
	entries := make([]stats.Entry, 0, len(totals))
	for _, e := range totals {
		entries = append(entries, *e)
	}
	return s.Top(entries, number)
}

func sortedKeys(terms segmentTerms) []string {
	keys := make([]string, 0, len(terms))
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestRanker_LocalTopMissesGlobalWinner(t *testing.T) {
	segments := []segmentTerms{
		{"a": 10, "b": 9, "x": 7, "c": 6, "d": 5},
		{"x": 10, "e": 9, "f": 8, "g": 1},
		{"x": 5},
	}
	s := stats.Sort{Type: stats.SortSum, Direction: stats.Desc}
	r := NewRanker(2, s, len(segments))

	got := run(t, r, segments)
	assert.Equal(t, []stats.Entry{
		{Key: "x", Sum: 22, N: 3},
		{Key: "a", Sum: 10, N: 1},
	}, got)
	assert.Equal(t, 10.0, r.Threshold())
	assert.Equal(t, 3, r.Round())
}

func TestRanker_RoundOneListsAndBounds(t *testing.T) {
	s := stats.Sort{Type: stats.SortSum, Direction: stats.Desc}
	r := NewRanker(2, s, 1)
	c := r.Segment(0)
	for _, e := range []stats.Entry{
		{Key: "a", Sum: 10}, {Key: "b", Sum: 9}, {Key: "x", Sum: 7}, {Key: "c", Sum: 6}, {Key: "d", Sum: 5},
	} {
		c.Add(e)
	}
	c.Close()

	assert.False(t, c.Complete())
	assert.Equal(t, 7.0, c.MaxEvicted())
	assert.Len(t, c.Entries(), 2)
}

func TestCandidates_KeepsTies(t *testing.T) {
	s := stats.Sort{Type: stats.SortSum, Direction: stats.Desc}
	c := newCandidates(2, s, byValue)
	for _, key := range []string{"a", "b", "c", "d"} {
		c.Add(stats.Entry{Key: key, Sum: 4})
	}
	c.Add(stats.Entry{Key: "e", Sum: 3})
	c.Add(stats.Entry{Key: "f", Sum: 0})
	c.Close()

	assert.Len(t, c.Entries(), 4)
	assert.False(t, c.Complete())
	assert.Equal(t, 3.0, c.MaxEvicted())
}

func TestCandidates_TiedValuesCompactRarely(t *testing.T) {
	s := stats.Sort{Type: stats.SortSum, Direction: stats.Desc}
	c := newCandidates(10, s, byValue)
	const terms = 50000
	for i := 0; i < terms; i++ {
		c.Add(stats.Entry{Key: fmt.Sprintf("t%05d", i), Sum: 1, N: 1})
	}
	c.Close()

	assert.Len(t, c.Entries(), terms)
	assert.True(t, c.Complete())
	assert.LessOrEqual(t, c.compactions, 16)
}

func TestRanker_CompleteSegmentsFinishInOneRound(t *testing.T) {
	segments := []segmentTerms{{"a": 1, "b": 2}, {"b": 1, "c": 5}}
	s := stats.Sort{Type: stats.SortSum, Direction: stats.Desc}
	r := NewRanker(2, s, len(segments))

	got := run(t, r, segments)
	assert.Equal(t, 1, r.Round())
	assert.Equal(t, reference(s, 2, segments), got)
}

func TestRanker_TermSortKeepsFirstKeys(t *testing.T) {
	segments := []segmentTerms{
		{"d": 1, "a": 1, "f": 1, "c": 1, "g": 1},
		{"b": 2, "e": 2, "a": 3},
	}
	s := stats.Sort{Type: stats.SortTerm, Direction: stats.Asc}
	r := NewRanker(3, s, len(segments))

	got := run(t, r, segments)
	assert.Equal(t, 1, r.Round())
	assert.Equal(t, []stats.Entry{
		{Key: "a", Sum: 4, N: 2},
		{Key: "b", Sum: 2, N: 1},
		{Key: "c", Sum: 1, N: 1},
	}, got)
}

func TestRanker_AscendingKeepsEverything(t *testing.T) {
	segments := []segmentTerms{
		{"a": 5, "b": 1, "c": 7, "d": 2, "e": 9},
		{"b": 8, "f": 1},
	}
	s := stats.Sort{Type: stats.SortSum, Direction: stats.Asc}
	r := NewRanker(2, s, len(segments))

	got := run(t, r, segments)
	assert.Equal(t, reference(s, 2, segments), got)
	assert.Equal(t, []string{"f", "d"}, []string{got[0].Key, got[1].Key})
}

func TestRanker_MatchesGlobalSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, sortType := range []stats.SortType{stats.SortSum, stats.SortN} {
		s := stats.Sort{Type: sortType, Direction: stats.Desc}
		for trial := 0; trial < 300; trial++ {
			segments := make([]segmentTerms, 1+rng.Intn(5))
			for i := range segments {
				segments[i] = segmentTerms{}
				for j := rng.Intn(40); j > 0; j-- {
					segments[i][fmt.Sprintf("t%02d", rng.Intn(30))] = float64(1 + rng.Intn(20))
				}
			}
			number := 1 + rng.Intn(5)

			got := run(t, NewRanker(number, s, len(segments)), segments)
			require.Equal(t, reference(s, number, segments), got, "sort %s trial %d", sortType, trial)
		}
	}
}

func TestRanker_States(t *testing.T) {
	r := NewRanker(1, stats.Sort{Type: stats.SortSum, Direction: stats.Desc}, 1)
	assert.Equal(t, Collecting, r.State())
	assert.Nil(t, r.Final())
	assert.True(t, r.Request(0).Empty())

	r.Segment(0).Add(stats.Entry{Key: "a", Sum: 1, N: 1})
	r.CloseRound()
	assert.Equal(t, Done, r.State())
	assert.Equal(t, "done", r.State().String())
	assert.Equal(t, []stats.Entry{{Key: "a", Sum: 1, N: 1}}, r.Final())
}
