package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/c-bata/go-prompt"
	"github.com/prometheus/client_golang/prometheus"

	"harshagw/spanstats/internal/collect"
	"harshagw/spanstats/internal/config"
	"harshagw/spanstats/internal/index"
	"harshagw/spanstats/internal/logger"
	"harshagw/spanstats/internal/metrics"
	"harshagw/spanstats/internal/postree"
	"harshagw/spanstats/internal/query"
	"harshagw/spanstats/internal/spans"
)

type REPL struct {
	idx        *index.Index
	cfg        *config.Config
	metrics    *metrics.Metrics
	log        *slog.Logger
	thresholds collect.GroupThresholds
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, reg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(ctx)
		}()
	}

	fmt.Println("Span Statistics REPL")
	fmt.Println()
	printHelp()
	fmt.Println()

	ic := index.DefaultConfig(cfg.Index.Dir)
	ic.FlushThreshold = cfg.Index.FlushThreshold
	ic.TextFields = cfg.Index.TextFields
	ic.Limits = postree.Limits{VisitBase: cfg.Limits.VisitBase, PerPosition: cfg.Limits.PerPosition}
	ic.Metrics = m
	idx, err := index.New(ic)
	if err != nil {
		fmt.Printf("Error opening index: %v\n", err)
		os.Exit(1)
	}

	r := &REPL{
		idx:     idx,
		cfg:     cfg,
		metrics: m,
		log:     logger.WithComponent("repl"),
		thresholds: collect.GroupThresholds{
			Batch:    cfg.Group.BatchStart,
			Frequent: cfg.Group.FrequentStart,
			Growth:   cfg.Group.Growth,
		},
	}
	fmt.Printf("Index loaded from %s (%d segments)\n\n", cfg.Index.Dir, idx.NumSegments())

	p := prompt.New(
		r.executor,
		completer,
		prompt.OptionPrefix("spanstats >> "),
		prompt.OptionTitle("spanstats"),
	)
	p.Run()
}

var commands = []prompt.Suggest{
	{Text: "index", Description: "Add document to batch"},
	{Text: "delete", Description: "Mark document as deleted"},
	{Text: "flush", Description: "Write batch to new segment"},
	{Text: "merge", Description: "Merge all segments"},
	{Text: "segments", Description: "List all segments"},
	{Text: "segment", Description: "Show segment details"},
	{Text: "count", Description: "Position and token statistics"},
	{Text: "stats", Description: "Statistics of per-document hit counts"},
	{Text: "termvector", Description: "Top terms of a prefix"},
	{Text: "group", Description: "Frequent hit shapes"},
	{Text: "kwic", Description: "Hits in context"},
	{Text: "facet", Description: "Hit counts bucketed by a keyword field"},
	{Text: "prefixes", Description: "Known prefixes of the field"},
	{Text: "page", Description: "Tokens of a position window of a document"},
	{Text: "document", Description: "Value frequencies of a document"},
	{Text: "doc", Description: "Load stored document"},
	{Text: "dump", Description: "Show postings or deletions"},
	{Text: "help", Description: "Show help"},
	{Text: "quit", Description: "Exit"},
}

func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  index <docID> <json>                  - Add document to batch")
	fmt.Println("  delete <docID>                        - Mark document as deleted")
	fmt.Println("  flush                                 - Write batch to new segment")
	fmt.Println("  merge                                 - Merge all segments")
	fmt.Println("  segments                              - List all segments")
	fmt.Println("  segment <id> stats                    - Show segment details")
	fmt.Println("  count [--field=F]                     - Position and token statistics")
	fmt.Println("  stats [--field=F] <query>             - Statistics of hit counts per document")
	fmt.Println("  termvector [--field=F] <prefix> [n] [regexp]")
	fmt.Println("                                        - Top n terms of a prefix")
	fmt.Println("  group [--field=F] <n> <query>         - Top n hit shapes (word values)")
	fmt.Println("  kwic [--field=F] <n> <query>          - Hits with n positions of context")
	fmt.Println("  facet [--field=F] <keyword> <query>   - Hits bucketed by a keyword field")
	fmt.Println("  prefixes [--field=F]                  - Known prefixes and their classes")
	fmt.Println("  page [--field=F] <docID> <start> <end>")
	fmt.Println("                                        - Token hierarchy of a position window")
	fmt.Println("  document [--field=F] <docID> <prefix> - Value frequencies and stored fields")
	fmt.Println("  doc <segment> <docNum>                - Load stored document")
	fmt.Println("  dump postings <field> <term>          - Show posting list")
	fmt.Println("  dump deletions <segment>              - Show deletion bitmap")
	fmt.Println("  help                                  - Show this help")
	fmt.Println("  quit                                  - Exit")
	fmt.Println()
	fmt.Println("Queries: w:dog, w:do*, w:/d.g/, \"t:The w:dog\", a AND b, a OR b, ALL")
}

func (r *REPL) executor(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	parts := strings.Fields(input)
	cmd := parts[0]

	switch cmd {
	case "index":
		r.cmdIndex(input)
	case "delete":
		r.cmdDelete(parts[1:])
	case "flush":
		r.cmdFlush()
	case "merge":
		r.cmdMerge()
	case "segments":
		r.cmdSegments()
	case "segment":
		r.cmdSegment(parts[1:])
	case "count":
		r.cmdCount(parts[1:])
	case "stats":
		r.cmdStats(parts[1:])
	case "termvector":
		r.cmdTermVector(parts[1:])
	case "group":
		r.cmdGroup(parts[1:])
	case "kwic":
		r.cmdKwic(parts[1:])
	case "facet":
		r.cmdFacet(parts[1:])
	case "prefixes":
		r.cmdPrefixes(parts[1:])
	case "page":
		r.cmdPage(parts[1:])
	case "document":
		r.cmdDocument(parts[1:])
	case "doc":
		r.cmdDoc(parts[1:])
	case "dump":
		r.cmdDump(parts[1:])
	case "help":
		printHelp()
	case "quit", "exit":
		fmt.Println("Goodbye!")
		r.idx.Close()
		os.Exit(0)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
	}
}

func (r *REPL) cmdIndex(input string) {
	parts := strings.SplitN(input, " ", 3)
	if len(parts) < 3 {
		fmt.Println("Usage: index <docID> <json>")
		return
	}

	docID := parts[1]
	var doc map[string]any
	if err := json.Unmarshal([]byte(parts[2]), &doc); err != nil {
		fmt.Printf("Error parsing JSON: %v\n", err)
		return
	}

	if err := r.idx.Index(docID, doc); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Indexed '%s' (%d fields)\n", docID, len(doc))
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: delete <docID>")
		return
	}
	if err := r.idx.Delete(args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Deleted '%s'\n", args[0])
}

func (r *REPL) cmdFlush() {
	if err := r.idx.Flush(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Flushed. %d segments.\n", r.idx.NumSegments())
}

func (r *REPL) cmdMerge() {
	if err := r.idx.ForceMerge(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Merged. %d segments.\n", r.idx.NumSegments())
}

func (r *REPL) cmdSegments() {
	segs := r.idx.Segments()
	if len(segs) == 0 {
		fmt.Println("No segments")
		return
	}
	fmt.Printf("%d segments:\n", len(segs))
	for _, seg := range segs {
		fmt.Printf("  %s: %d docs (base %d)\n", seg.ID, seg.NumDocs, seg.DocBase)
	}
}

func (r *REPL) cmdSegment(args []string) {
	if len(args) < 2 || args[1] != "stats" {
		fmt.Println("Usage: segment <id> stats")
		return
	}

	info, err := r.idx.SegmentStats(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Segment %s:\n", args[0])
	fmt.Printf("  Documents: %d\n", info.NumDocs)
	fmt.Printf("  Deleted: %d\n", info.NumDeleted)
	fmt.Printf("  Fields: %v\n", info.Fields)
	for field, prefixes := range info.Prefixes {
		fmt.Printf("  Prefixes of %s: %v\n", field, prefixes)
	}
}

func (r *REPL) cmdDoc(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: doc <segment> <docNum>")
		return
	}
	docNum, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid docNum: %v\n", err)
		return
	}
	doc, err := r.idx.LoadDoc(args[0], docNum)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(doc)
}

func (r *REPL) cmdDump(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: dump postings <field> <term>")
		fmt.Println("       dump deletions <segment>")
		return
	}

	switch args[0] {
	case "postings":
		if len(args) < 3 {
			fmt.Println("Usage: dump postings <field> <term>")
			return
		}
		postings, err := r.idx.DumpPostings(args[1], args[2])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if len(postings) == 0 {
			fmt.Printf("No postings for %s:%s\n", args[1], args[2])
			return
		}
		fmt.Printf("Postings for %s:%s (%d docs):\n", args[1], args[2], len(postings))
		for _, p := range postings {
			fmt.Printf("  seg=%s doc=%d freq=%d pos=%v ends=%v\n", p.SegmentID, p.DocNum, p.Freq, p.Positions, p.Ends)
		}
	case "deletions":
		deleted, err := r.idx.DumpDeletions(args[1])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if len(deleted) == 0 {
			fmt.Printf("No deletions in segment %s\n", args[1])
			return
		}
		fmt.Printf("Deletions in %s: %v\n", args[1], deleted)
	default:
		fmt.Printf("Unknown dump type: %s\n", args[0])
	}
}

func (r *REPL) cmdCount(args []string) {
	field, _ := r.fieldArg(args)
	r.run(nil, &collect.FieldRequest{
		Field:          field,
		StatsPositions: []collect.StatsSpec{{Key: "positions", Statistics: "n,sum,mean,min,max"}},
		StatsTokens:    []collect.StatsSpec{{Key: "tokens", Statistics: "n,sum,mean,min,max"}},
	})
}

func (r *REPL) cmdStats(args []string) {
	field, args := r.fieldArg(args)
	if len(args) < 1 {
		fmt.Println("Usage: stats [--field=F] <query>")
		return
	}
	q, err := query.CompileString(strings.Join(args, " "), field)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	r.run(nil, &collect.FieldRequest{
		Field: field,
		StatsSpans: []collect.SpanStatsSpec{{
			Key:        q.String(),
			Queries:    []spans.Query{q},
			Statistics: "n,sum,mean,min,max",
		}},
	})
}

func (r *REPL) cmdTermVector(args []string) {
	field, args := r.fieldArg(args)
	if len(args) < 1 {
		fmt.Println("Usage: termvector [--field=F] <prefix> [n] [regexp]")
		return
	}
	spec := collect.TermVectorSpec{Key: args[0], Prefix: args[0], Number: 10, Statistics: "sum,n"}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("Invalid number: %v\n", err)
			return
		}
		spec.Number = n
	}
	if len(args) > 2 {
		spec.Regexp = args[2]
	}
	r.run(nil, &collect.FieldRequest{Field: field, TermVectors: []collect.TermVectorSpec{spec}})
}

func (r *REPL) cmdGroup(args []string) {
	field, args := r.fieldArg(args)
	if len(args) < 2 {
		fmt.Println("Usage: group [--field=F] <n> <query>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Invalid number: %v\n", err)
		return
	}
	q, err := query.CompileString(strings.Join(args[1:], " "), field)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	r.run(nil, &collect.FieldRequest{
		Field: field,
		Groups: []collect.GroupSpec{{
			Key:       q.String(),
			Query:     q,
			Number:    n,
			HitInside: []string{"w"},
		}},
	})
}

func (r *REPL) cmdKwic(args []string) {
	field, args := r.fieldArg(args)
	if len(args) < 2 {
		fmt.Println("Usage: kwic [--field=F] <n> <query>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Invalid number: %v\n", err)
		return
	}
	q, err := query.CompileString(strings.Join(args[1:], " "), field)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	r.run(nil, &collect.FieldRequest{
		Field: field,
		Lists: []collect.ListSpec{{
			Key:      q.String(),
			Query:    q,
			Left:     n,
			Right:    n,
			Prefixes: []string{"t"},
			Number:   20,
		}},
	})
}

func (r *REPL) cmdFacet(args []string) {
	field, args := r.fieldArg(args)
	if len(args) < 2 {
		fmt.Println("Usage: facet [--field=F] <keyword> <query>")
		return
	}
	q, err := query.CompileString(strings.Join(args[1:], " "), field)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	r.run(nil, &collect.FieldRequest{
		Field: field,
		Facets: []collect.FacetSpec{{
			Key:        args[0],
			Base:       []collect.FacetBase{{Field: args[0], Number: 20, SortType: "sum"}},
			Queries:    []spans.Query{q},
			Statistics: "n,sum",
		}},
	})
}

func (r *REPL) cmdPrefixes(args []string) {
	field, _ := r.fieldArg(args)
	r.run(nil, &collect.FieldRequest{Field: field, Prefixes: []collect.PrefixSpec{{Key: field}}})
}

func (r *REPL) cmdPage(args []string) {
	field, args := r.fieldArg(args)
	if len(args) < 3 {
		fmt.Println("Usage: page [--field=F] <docID> <start> <end>")
		return
	}
	start, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid start: %v\n", err)
		return
	}
	end, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		fmt.Printf("Invalid end: %v\n", err)
		return
	}
	docs, ok := r.lookup(args[0])
	if !ok {
		return
	}
	r.run(docs, &collect.FieldRequest{
		Field: field,
		Pages: []collect.PageSpec{{Key: args[0], Start: start, End: end, Hierarchy: true}},
	})
}

func (r *REPL) cmdDocument(args []string) {
	field, args := r.fieldArg(args)
	if len(args) < 2 {
		fmt.Println("Usage: document [--field=F] <docID> <prefix>")
		return
	}
	docs, ok := r.lookup(args[0])
	if !ok {
		return
	}
	r.run(docs, &collect.FieldRequest{
		Field:     field,
		Documents: []collect.DocumentSpec{{Key: args[0], Prefix: args[1], Number: 20, Stored: true}},
	})
}

// lookup resolves an external document id to a one element doc list.
func (r *REPL) lookup(docID string) ([]uint32, bool) {
	global, found, err := r.idx.Lookup(docID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return nil, false
	}
	if !found {
		fmt.Printf("Document '%s' not found in flushed segments\n", docID)
		return nil, false
	}
	return []uint32{global}, true
}

// fieldArg strips a leading --field flag, defaulting to the first text
// field.
func (r *REPL) fieldArg(args []string) (string, []string) {
	if len(args) > 0 {
		if f, ok := strings.CutPrefix(args[0], "--field="); ok {
			return f, args[1:]
		}
	}
	if len(r.cfg.Index.TextFields) == 0 {
		return "text", args
	}
	return r.cfg.Index.TextFields[0], args
}

// run collects req over a fresh snapshot and prints the result with the
// final status. A nil docList targets every document.
func (r *REPL) run(docList []uint32, req *collect.FieldRequest) {
	snap, err := r.idx.Snapshot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer snap.Close()

	target := collect.Target{DocList: docList}
	if docList == nil {
		target.DocSet = roaring.New()
		target.DocSet.AddRange(0, snap.MaxDoc())
	} else {
		target.DocSet = roaring.BitmapOf(docList...)
	}

	c := collect.New(snap,
		collect.WithLogger(r.log),
		collect.WithMetrics(r.metrics),
		collect.WithGroupThresholds(r.thresholds),
	)
	status := collect.NewStatus()
	start := time.Now()
	res, err := c.Collect(target, req, status)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(res)

	s := status.Snapshot()
	fmt.Printf("%d/%d documents, %d/%d segments in %v\n",
		s.NumberDocumentsFinished, s.NumberDocumentsTotal,
		s.NumberSegmentsFinished, s.NumberSegmentsTotal,
		time.Since(start).Round(time.Microsecond))
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
