// Package topk ranks keyed values spread over segments and returns the exact
// global top N without materializing every key of every segment.
//
// Round one lists the best local values per segment and bounds everything
// else. Closing the round yields a threshold from the lower bounds; keys
// whose upper bound reaches it are recomputed in the segments that evicted
// them, and segments whose evictions could still hide a winner rescan for
// local values of at least threshold / incomplete segments. Keys discovered
// that way get exact lookups in a final round.
package topk

import (
	"fmt"
	"slices"

	"harshagw/spanstats/internal/stats"
)

// State is the phase of a ranker.
type State int

const (
	Collecting State = iota
	BoundaryKnown
	RecomputePending
	Done
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case BoundaryKnown:
		return "boundary-known"
	case RecomputePending:
		return "recompute-pending"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Request is the work one segment owes in a recompute round.
type Request struct {
	// Keys need their exact local entries, zero when absent.
	Keys []string
	// Discover asks for every other key with a local ranking value of at
	// least Threshold.
	Discover  bool
	Threshold float64
}

// Empty reports whether the segment has nothing to do.
func (q Request) Empty() bool { return len(q.Keys) == 0 && !q.Discover }

type keyState struct {
	exact      map[int]stats.Entry
	discovered bool
	pruned     bool
}

// Ranker runs the exact top N protocol over a fixed number of segments. It
// is not safe for concurrent use.
type Ranker struct {
	number   int
	sort     stats.Sort
	mode     mode
	state    State
	round    int
	segments []*Candidates

	keys      map[string]*keyState
	threshold float64
	requests  []Request
	requested []map[string]bool
}

// NewRanker returns a ranker keeping number entries ordered by sort over
// segments segments. number <= 0 keeps every key.
func NewRanker(number int, sort stats.Sort, segments int) *Ranker {
	m := byValue
	switch {
	case number <= 0:
		m = keepAll
	case sort.Type == stats.SortTerm:
		m = byKey
	case sort.Direction == stats.Asc || sort.Type == stats.SortMean:
		// Lower bounds only exist for additive values ranked descending.
		m = keepAll
	}
	r := &Ranker{
		number:   number,
		sort:     sort,
		mode:     m,
		round:    1,
		segments: make([]*Candidates, segments),
		keys:     make(map[string]*keyState),
	}
	for i := range r.segments {
		r.segments[i] = newCandidates(number, sort, m)
	}
	return r
}

// State returns the current phase.
func (r *Ranker) State() State { return r.state }

// Round returns the current round, starting at one.
func (r *Ranker) Round() int { return r.round }

// Threshold returns the value the final N-th entry is known to reach.
func (r *Ranker) Threshold() float64 { return r.threshold }

// Segment returns the round one list of segment ord.
func (r *Ranker) Segment(ord int) *Candidates { return r.segments[ord] }

// Request returns the work of segment ord in the pending round.
func (r *Ranker) Request(ord int) Request {
	if r.state != RecomputePending {
		return Request{}
	}
	return r.requests[ord]
}

// Report records an exact local entry of segment ord during a recompute
// round. Entries for keys the segment was not asked about are treated as
// discoveries.
func (r *Ranker) Report(ord int, e stats.Entry) {
	if r.state != RecomputePending {
		return
	}
	ks, ok := r.keys[e.Key]
	if !ok {
		ks = &keyState{exact: make(map[int]stats.Entry), discovered: true}
		r.keys[e.Key] = ks
	}
	if ks.pruned {
		return
	}
	if _, known := ks.exact[ord]; known && !r.requested[ord][e.Key] {
		return
	}
	ks.exact[ord] = e
}

// CloseRound is the barrier between rounds. It closes any open segment list
// and decides what the next round needs.
func (r *Ranker) CloseRound() {
	switch r.state {
	case Collecting:
		for _, c := range r.segments {
			c.Close()
		}
		r.state = BoundaryKnown
		r.closeFirstRound()
	case RecomputePending:
		r.fillRequested()
		if r.round == 2 {
			r.closeDiscoveryRound()
		} else {
			r.finish()
		}
	}
}

func (r *Ranker) closeFirstRound() {
	for ord, c := range r.segments {
		for _, e := range c.Entries() {
			ks, ok := r.keys[e.Key]
			if !ok {
				ks = &keyState{exact: make(map[int]stats.Entry)}
				r.keys[e.Key] = ks
			}
			ks.exact[ord] = e
		}
	}
	incomplete := r.incomplete()
	if r.mode != byValue || len(incomplete) == 0 {
		r.finish()
		return
	}

	lower := make([]float64, 0, len(r.keys))
	for _, ks := range r.keys {
		lower = append(lower, r.sort.Value(r.sum(ks)))
	}
	r.threshold = nthLargest(lower, r.number)

	r.newRound()
	for key, ks := range r.keys {
		if r.upper(ks, incomplete, nil) < r.threshold {
			ks.pruned = true
			continue
		}
		for _, ord := range incomplete {
			if _, ok := ks.exact[ord]; !ok {
				r.request(ord, key)
			}
		}
	}

	var unseen float64
	for _, ord := range incomplete {
		unseen += r.segments[ord].MaxEvicted()
	}
	if unseen >= r.threshold {
		theta := r.threshold / float64(len(incomplete))
		for _, ord := range incomplete {
			r.requests[ord].Discover = true
			r.requests[ord].Threshold = theta
		}
	}
	r.state = RecomputePending
}

// closeDiscoveryRound bounds discovered keys by the discovery threshold in
// the segments that did not report them and schedules exact lookups for
// those still able to reach the threshold.
func (r *Ranker) closeDiscoveryRound() {
	incomplete := r.incomplete()
	theta := make(map[int]float64, len(incomplete))
	for _, ord := range incomplete {
		if q := r.requests[ord]; q.Discover {
			theta[ord] = q.Threshold
		}
	}

	r.newRound()
	pending := false
	for key, ks := range r.keys {
		if !ks.discovered || ks.pruned {
			continue
		}
		if r.upper(ks, incomplete, theta) < r.threshold {
			ks.pruned = true
			continue
		}
		for _, ord := range incomplete {
			if _, ok := ks.exact[ord]; !ok {
				r.request(ord, key)
				pending = true
			}
		}
	}
	if !pending {
		r.finish()
	}
}

func (r *Ranker) newRound() {
	r.round++
	r.requests = make([]Request, len(r.segments))
	r.requested = make([]map[string]bool, len(r.segments))
	for i := range r.requested {
		r.requested[i] = make(map[string]bool)
	}
}

func (r *Ranker) request(ord int, key string) {
	r.requests[ord].Keys = append(r.requests[ord].Keys, key)
	r.requested[ord][key] = true
}

// fillRequested records requested keys a segment did not report as absent.
func (r *Ranker) fillRequested() {
	for ord, keys := range r.requested {
		for key := range keys {
			ks := r.keys[key]
			if _, ok := ks.exact[ord]; !ok {
				ks.exact[ord] = stats.Entry{Key: key}
			}
		}
	}
}

func (r *Ranker) finish() {
	r.state = Done
	r.requests = nil
	r.requested = nil
}

func (r *Ranker) incomplete() []int {
	var out []int
	for ord, c := range r.segments {
		if !c.Complete() {
			out = append(out, ord)
		}
	}
	return out
}

// sum adds the known exact entries of a key.
func (r *Ranker) sum(ks *keyState) stats.Entry {
	var total stats.Entry
	for _, e := range ks.exact {
		total.Sum += e.Sum
		total.N += e.N
	}
	return total
}

// upper bounds the ranking value of a key. Unknown local values are bounded
// by the segment's largest eviction and, when given, its discovery
// threshold.
func (r *Ranker) upper(ks *keyState, incomplete []int, theta map[int]float64) float64 {
	v := r.sort.Value(r.sum(ks))
	for _, ord := range incomplete {
		if _, ok := ks.exact[ord]; ok {
			continue
		}
		bound := r.segments[ord].MaxEvicted()
		if t, ok := theta[ord]; ok && t < bound {
			bound = t
		}
		v += bound
	}
	return v
}

// Final returns the exact top entries. It is only meaningful once the
// ranker is done.
func (r *Ranker) Final() []stats.Entry {
	if r.state != Done {
		return nil
	}
	entries := make([]stats.Entry, 0, len(r.keys))
	for key, ks := range r.keys {
		if ks.pruned {
			continue
		}
		e := r.sum(ks)
		e.Key = key
		entries = append(entries, e)
	}
	return r.sort.Top(entries, r.number)
}

// nthLargest returns the n-th largest value, or zero when there are fewer.
func nthLargest(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return 0
	}
	slices.Sort(values)
	return values[len(values)-n]
}
