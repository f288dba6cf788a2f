package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"harshagw/spanstats/internal/analysis"
	"harshagw/spanstats/internal/logger"
	"harshagw/spanstats/internal/metrics"
	"harshagw/spanstats/internal/postree"
	"harshagw/spanstats/internal/segment"
	"harshagw/spanstats/internal/store"
)

type Index struct {
	mu sync.RWMutex

	dir              string
	meta             *store.Metadata
	segments         []*segment.Segment
	builder          *segment.Builder
	epoch            uint64
	pendingDeletions map[string]*roaring.Bitmap

	analyzer       analysis.Analyzer
	textFields     []string
	flushThreshold int
	limits         postree.Limits
	log            *slog.Logger
	metrics        *metrics.Metrics

	closed bool
}

type Config struct {
	Dir            string
	FlushThreshold int
	Analyzer       analysis.Analyzer
	TextFields     []string
	Limits         postree.Limits
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		FlushThreshold: 1000,
		Analyzer:       analysis.NewAnnotating(),
		TextFields:     []string{"text"},
		Limits:         postree.DefaultLimits,
	}
}

// New creates or opens an index at the given directory.
func New(config Config) (*Index, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if config.Analyzer == nil {
		config.Analyzer = analysis.NewAnnotating()
	}
	if config.FlushThreshold <= 0 {
		config.FlushThreshold = 1000
	}
	log := config.Logger
	if log == nil {
		log = logger.WithComponent("index")
	}

	meta, err := store.NewMetadata(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	idx := &Index{
		dir:              config.Dir,
		meta:             meta,
		segments:         make([]*segment.Segment, 0),
		pendingDeletions: make(map[string]*roaring.Bitmap),
		analyzer:         config.Analyzer,
		textFields:       config.TextFields,
		flushThreshold:   config.FlushThreshold,
		limits:           config.Limits,
		log:              log,
		metrics:          config.Metrics,
	}

	idx.builder = idx.newBuilder()

	if err := idx.loadSegments(); err != nil {
		meta.Close()
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}

	idx.epoch, _ = meta.GetEpoch()
	idx.log.Info("index opened", "dir", config.Dir, "segments", len(idx.segments), "epoch", idx.epoch)

	return idx, nil
}

func (idx *Index) newBuilder() *segment.Builder {
	return segment.NewBuilder(idx.analyzer, idx.textFields)
}

// loadSegments opens all segments from the metadata store concurrently,
// keeping their persisted order.
func (idx *Index) loadSegments() error {
	records, err := idx.meta.GetSegments()
	if err != nil {
		return err
	}

	segments := make([]*segment.Segment, len(records))
	var g errgroup.Group
	g.SetLimit(8)
	for i, rec := range records {
		g.Go(func() error {
			segPath := filepath.Join(idx.dir, rec.ID+".seg")
			seg, err := segment.Open(segPath, rec.ID, idx.limits)
			if err != nil {
				return fmt.Errorf("failed to open segment %s: %w", rec.ID, err)
			}
			segments[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, seg := range segments {
			if seg != nil {
				seg.Close()
			}
		}
		return err
	}

	idx.segments = append(idx.segments, segments...)
	return nil
}

// Index indexes a document. A document with the same ID is replaced.
func (idx *Index) Index(docID string, doc map[string]any) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	idx.builder.Delete(docID)
	idx.markObsoletes([]string{docID})
	idx.builder.Add(docID, doc)
	idx.metrics.DocIndexed()

	if idx.builder.NumDocs() >= uint64(idx.flushThreshold) {
		return idx.flushInternal()
	}

	return nil
}

// Annotate adds pre-analyzed tokens to a text field of the document that was
// indexed last and not yet flushed.
func (idx *Index) Annotate(field string, tokens []analysis.Token) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}
	return idx.builder.AddTokens(field, tokens)
}

func (idx *Index) Delete(docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	idx.builder.Delete(docID)
	idx.markObsoletes([]string{docID})
	return nil
}

// markObsoletes updates deletion bitmaps for docs in persisted segments.
func (idx *Index) markObsoletes(docIDs []string) {
	for _, seg := range idx.segments {
		obsoletes := seg.DocNumbers(docIDs)
		if obsoletes.IsEmpty() {
			continue
		}
		segID := seg.ID()
		if idx.pendingDeletions[segID] == nil {
			idx.pendingDeletions[segID] = roaring.New()
		}
		idx.pendingDeletions[segID].Or(obsoletes)
	}
}
