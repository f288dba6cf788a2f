// Package collect evaluates span queries over the segments of an index
// snapshot and aggregates the matches into statistics, facets, groups, term
// vectors and per-document views.
//
// Segments are processed one after the other. For every segment the target
// documents are clipped to its live documents, each distinct span query is
// evaluated once by a merge join against them, and every requested output
// consumes the shared counts and match lists. Term vectors may need further
// passes over the segments once all of them have been seen.
package collect

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"harshagw/spanstats/internal/apperr"
	"harshagw/spanstats/internal/index"
	"harshagw/spanstats/internal/logger"
	"harshagw/spanstats/internal/metrics"
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/spans"
)

// GroupThresholds tune how group shapes are collected. They affect
// throughput only.
type GroupThresholds struct {
	// Batch is the number of hits in a document from which its context is
	// read in one sweep instead of per hit.
	Batch float64
	// Frequent is the document count from which a shape is looked up by key
	// before hashing.
	Frequent float64
	// Growth widens both thresholds each time they are crossed.
	Growth float64
}

// DefaultGroupThresholds returns the thresholds used when none are set.
func DefaultGroupThresholds() GroupThresholds {
	return GroupThresholds{Batch: 1, Frequent: 5, Growth: 1.2}
}

// Collector runs requests against one index snapshot.
type Collector struct {
	snapshot   *index.IndexSnapshot
	log        *slog.Logger
	metrics    *metrics.Metrics
	thresholds GroupThresholds
}

// Option configures a Collector.
type Option func(*Collector)

func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

func WithGroupThresholds(t GroupThresholds) Option {
	return func(c *Collector) { c.thresholds = t }
}

// New returns a collector over snapshot.
func New(snapshot *index.IndexSnapshot, opts ...Option) *Collector {
	c := &Collector{
		snapshot:   snapshot,
		thresholds: DefaultGroupThresholds(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.WithComponent("collect")
	}
	return c
}

// CollectAll runs one request per field, tracking each under a sub-status
// named after the field.
func (c *Collector) CollectAll(target Target, reqs []*FieldRequest, status *Status) ([]*Result, error) {
	if status == nil {
		status = NewStatus()
	}
	out := make([]*Result, 0, len(reqs))
	for _, req := range reqs {
		res, err := c.Collect(target, req, status.Sub(req.Field))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Collect runs one request. Configuration errors are reported before any
// segment is read; storage errors abort the request.
func (c *Collector) Collect(target Target, req *FieldRequest, status *Status) (*Result, error) {
	if req == nil {
		return nil, apperr.Invalidf("nil request")
	}
	start := time.Now()
	res, err := c.collect(target, req, status)

	outcome := "ok"
	switch {
	case apperr.IsInvalid(err):
		outcome = "invalid"
	case err != nil:
		outcome = "storage"
	}
	c.metrics.ObserveCollect(req.Field, outcome, time.Since(start))
	if err != nil {
		c.log.Warn("collect failed", "field", req.Field, "outcome", outcome, "error", err)
		return nil, err
	}
	c.log.Info("collect finished", "field", req.Field, "segments", len(c.snapshot.Segments()),
		"elapsed", time.Since(start))
	return res, nil
}

func (c *Collector) collect(target Target, req *FieldRequest, status *Status) (*Result, error) {
	p, err := newPlan(req, c.thresholds)
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = NewStatus()
	}
	segments := c.snapshot.Segments()
	status.start(target.size(), len(segments))
	for _, comp := range p.components {
		if b, ok := comp.(beginner); ok {
			b.begin(c)
		}
	}

	contexts := make([]*segmentContext, len(segments))
	for i, ss := range segments {
		sc, err := c.collectSegment(i, ss, target, p, status)
		if err != nil {
			return nil, fmt.Errorf("field %s, segment %s: %w", req.Field, ss.ID(), err)
		}
		contexts[i] = sc
	}

	for _, tv := range p.termVectors {
		if err := tv.rounds(contexts); err != nil {
			return nil, fmt.Errorf("field %s, termvector %s: %w", req.Field, tv.spec.Key, err)
		}
	}

	res := &Result{Field: req.Field}
	order := target.ordered()
	for _, comp := range p.components {
		comp.finish(res, order)
	}
	return res, nil
}

func (c *Collector) collectSegment(ord int, ss *index.SegmentSnapshot, target Target, p *plan, status *Status) (*segmentContext, error) {
	sc := &segmentContext{
		ord:        ord,
		ss:         ss,
		seg:        ss.Segment(),
		docs:       clip(ss, target),
		attributes: c.snapshot.Attributes(p.field),
		counts:     make([]map[uint32]int, len(p.reg.queries)),
		matches:    make([]map[uint32][]spans.Match, len(p.reg.queries)),
		log:        c.log,
		metrics:    c.metrics,
	}
	status.segmentFound(sc.docs.Count())

	dir, err := sc.seg.Directory(p.field)
	if err != nil {
		return nil, err
	}
	sc.dir = dir

	if !sc.docs.IsEmpty() {
		if err := sc.loadDocumentData(p); err != nil {
			return nil, err
		}
		if err := sc.collectMatches(p); err != nil {
			return nil, err
		}
		for _, comp := range p.components {
			if err := comp.collectSegment(sc); err != nil {
				return nil, err
			}
		}
	}

	c.log.Debug("segment collected", "segment", ss.ID(), "docs", sc.docs.Count(), "matches", sc.matchCount)
	c.metrics.SegmentDone(sc.docs.Count())
	status.segmentDone(sc.docs.Count())
	sc.release()
	return sc, nil
}

// plan is a validated request with its shared queries and components.
type plan struct {
	field       string
	reg         *queryRegistry
	components  []component
	termVectors []*termVectorComponent
	positions   bool
	tokens      bool
}

// component is one requested output. collectSegment consumes the shared
// segment data; finish appends the output to the result.
type component interface {
	collectSegment(sc *segmentContext) error
	finish(res *Result, order []uint32)
}

// beginner is implemented by components that need the collector before the
// first segment.
type beginner interface {
	begin(c *Collector)
}

func newPlan(req *FieldRequest, thresholds GroupThresholds) (*plan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	p := &plan{field: req.Field, reg: newQueryRegistry()}
	req.eachQuery(func(q spans.Query, list bool) {
		i := p.reg.add(q)
		p.reg.list[i] = p.reg.list[i] || list
	})
	for i, q := range p.reg.queries {
		if !p.reg.list[i] && spans.IsAllPositions(q) {
			p.positions = true
		}
	}

	add := func(comp component, err error) error {
		if err != nil {
			return err
		}
		p.components = append(p.components, comp)
		return nil
	}
	for _, s := range req.StatsPositions {
		if err := add(newDocumentStats(s, positionsKind)); err != nil {
			return nil, err
		}
		p.positions = true
	}
	for _, s := range req.StatsTokens {
		if err := add(newDocumentStats(s, tokensKind)); err != nil {
			return nil, err
		}
		p.tokens = true
	}
	for _, s := range req.StatsSpans {
		comp, err := newSpanStats(s, p.reg)
		if err := add(comp, err); err != nil {
			return nil, err
		}
		p.positions = p.positions || comp.fn.NeedsPositions()
	}
	for _, s := range req.Facets {
		comp, err := newFacet(s, p.reg)
		if err := add(comp, err); err != nil {
			return nil, err
		}
		p.positions = p.positions || comp.fn.NeedsPositions()
	}
	for _, s := range req.Groups {
		if err := add(newGroup(s, p.reg, thresholds)); err != nil {
			return nil, err
		}
	}
	for _, s := range req.TermVectors {
		comp, err := newTermVector(s, req.Field)
		if err := add(comp, err); err != nil {
			return nil, err
		}
		p.termVectors = append(p.termVectors, comp)
	}
	for _, s := range req.Kwics {
		p.components = append(p.components, newKwic(s, p.reg))
	}
	for _, s := range req.Lists {
		p.components = append(p.components, newList(s, p.reg))
	}
	for _, s := range req.Indexes {
		p.components = append(p.components, newIndexBlocks(s, p.reg))
	}
	for _, s := range req.Pages {
		p.components = append(p.components, newPage(s))
	}
	for _, s := range req.Documents {
		p.components = append(p.components, newDocument(s))
	}
	for _, s := range req.Prefixes {
		p.components = append(p.components, newPrefix(s, req.Field))
	}
	return p, nil
}

// segmentContext is the shared per-segment state of one request.
type segmentContext struct {
	ord        int
	ss         *index.SegmentSnapshot
	seg        *segment.Segment
	dir        *segment.Directory
	docs       segmentDocs
	attributes segment.Attributes

	counts     []map[uint32]int
	matches    []map[uint32][]spans.Match
	positions  map[uint32]uint64
	tokens     map[uint32]uint64
	matchCount int

	log     *slog.Logger
	metrics *metrics.Metrics
}

// global returns the global id of a local document.
func (sc *segmentContext) global(local uint32) uint32 {
	return sc.ss.DocBase() + local
}

// externalID returns the external id of a local document.
func (sc *segmentContext) externalID(local uint32) string {
	id, _ := sc.seg.ExternalID(uint64(local))
	return id
}

// loadDocumentData reads position and token totals when some output needs
// them, with one bulk scan or per-document lookups.
func (sc *segmentContext) loadDocumentData(p *plan) error {
	sc.positions = map[uint32]uint64{}
	sc.tokens = map[uint32]uint64{}
	if sc.dir == nil {
		return nil
	}
	var err error
	if p.positions {
		if sc.positions, err = sc.dir.NumberOfPositions(sc.docs.all); err != nil {
			return err
		}
	}
	if p.tokens {
		if sc.tokens, err = sc.dir.NumberOfTokens(sc.docs.all); err != nil {
			return err
		}
	}
	return nil
}

// collectMatches evaluates every distinct query once against the segment's
// target documents.
func (sc *segmentContext) collectMatches(p *plan) error {
	for qi, q := range p.reg.queries {
		list := p.reg.list[qi]
		if !list && spans.IsAllPositions(q) {
			counts := make(map[uint32]int, len(sc.positions))
			for doc, n := range sc.positions {
				counts[doc] = int(n)
			}
			sc.counts[qi] = counts
			sc.metrics.SpanEvaluated("shortcut")
			continue
		}
		sp, err := q.Spans(sc.seg)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", q, err)
		}
		sc.counts[qi], sc.matches[qi] = mergeJoin(sp, sc.docs.all, list)
		for _, n := range sc.counts[qi] {
			sc.matchCount += n
		}
		if list {
			sc.metrics.SpanEvaluated("list")
		} else {
			sc.metrics.SpanEvaluated("count")
		}
	}
	return nil
}

// mergeJoin advances the span cursor and the sorted documents in lock step
// and drains the matches of every document both contain.
func mergeJoin(sp spans.Spans, docs []uint32, list bool) (map[uint32]int, map[uint32][]spans.Match) {
	counts := make(map[uint32]int)
	var matches map[uint32][]spans.Match
	if list {
		matches = make(map[uint32][]spans.Match)
	}
	i := 0
	for i < len(docs) {
		target := int(docs[i])
		d := sp.DocID()
		if d < target {
			d = sp.Advance(target)
		}
		if d == spans.NoMoreDocs {
			break
		}
		if d > target {
			rest := docs[i:]
			i += sort.Search(len(rest), func(k int) bool { return int(rest[k]) >= d })
			continue
		}
		n := 0
		for sp.NextStartPosition() != spans.NoMorePositions {
			n++
			if list {
				matches[docs[i]] = append(matches[docs[i]], spans.Match{
					Start: uint64(sp.StartPosition()),
					End:   uint64(sp.EndPosition()),
				})
			}
		}
		if n > 0 {
			counts[docs[i]] = n
		}
		i++
	}
	return counts, matches
}

// count returns the number of matches of query qi in a local document.
func (sc *segmentContext) count(qi int, doc uint32) int {
	return sc.counts[qi][doc]
}

// release drops the per-document data once every component is done with
// the segment. Later term vector rounds only need the documents.
func (sc *segmentContext) release() {
	sc.counts = nil
	sc.matches = nil
	sc.positions = nil
	sc.tokens = nil
}
