package collect

import (
	"sync"
	"sync/atomic"
)

// Status tracks the progress of a request. It is written by the collector
// and may be polled concurrently.
type Status struct {
	docsFound    atomic.Int64
	docsFinished atomic.Int64
	docsTotal    atomic.Int64
	segsFinished atomic.Int64
	segsTotal    atomic.Int64

	mu   sync.Mutex
	subs map[string]*Status
}

func NewStatus() *Status {
	return &Status{}
}

// Sub returns the named sub-status, creating it on first use.
func (s *Status) Sub(name string) *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[string]*Status)
	}
	sub, ok := s.subs[name]
	if !ok {
		sub = NewStatus()
		s.subs[name] = sub
	}
	return sub
}

func (s *Status) start(docs uint64, segments int) {
	storeMax(&s.docsTotal, int64(docs))
	storeMax(&s.segsTotal, int64(segments))
}

func (s *Status) segmentFound(docs int) {
	s.docsFound.Add(int64(docs))
}

func (s *Status) segmentDone(docs int) {
	s.docsFinished.Add(int64(docs))
	s.segsFinished.Add(1)
}

func storeMax(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

// StatusSnapshot is a point in time copy of a Status.
type StatusSnapshot struct {
	NumberDocumentsFound    int64                     `json:"numberDocumentsFound"`
	NumberDocumentsFinished int64                     `json:"numberDocumentsFinished"`
	NumberDocumentsTotal    int64                     `json:"numberDocumentsTotal"`
	NumberSegmentsFinished  int64                     `json:"numberSegmentsFinished"`
	NumberSegmentsTotal     int64                     `json:"numberSegmentsTotal"`
	Subs                    map[string]StatusSnapshot `json:"subs,omitempty"`
}

// Snapshot reads every counter, including sub-statuses.
func (s *Status) Snapshot() StatusSnapshot {
	out := StatusSnapshot{
		NumberDocumentsFound:    s.docsFound.Load(),
		NumberDocumentsFinished: s.docsFinished.Load(),
		NumberDocumentsTotal:    s.docsTotal.Load(),
		NumberSegmentsFinished:  s.segsFinished.Load(),
		NumberSegmentsTotal:     s.segsTotal.Load(),
	}
	s.mu.Lock()
	subs := make(map[string]*Status, len(s.subs))
	for name, sub := range s.subs {
		subs[name] = sub
	}
	s.mu.Unlock()

	for name, sub := range subs {
		if out.Subs == nil {
			out.Subs = make(map[string]StatusSnapshot, len(subs))
		}
		out.Subs[name] = sub.Snapshot()
	}
	return out
}
