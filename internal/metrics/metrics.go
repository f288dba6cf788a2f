// Package metrics defines the Prometheus collectors for the aggregation
// engine and exposes an HTTP server for scraping.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	CollectTotal       *prometheus.CounterVec
	CollectDuration    *prometheus.HistogramVec
	SegmentsProcessed  prometheus.Counter
	DocumentsProcessed prometheus.Counter
	SpansEvaluated     *prometheus.CounterVec
	TermVectorRounds   *prometheus.CounterVec
	DocsIndexedTotal   prometheus.Counter
	IndexFlushesTotal  *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CollectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spanstats_collect_total",
				Help: "Total collect requests by outcome (ok, invalid, storage).",
			},
			[]string{"outcome"},
		),
		CollectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spanstats_collect_duration_seconds",
				Help:    "Collect latency in seconds per field.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"field"},
		),
		SegmentsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spanstats_segments_processed_total",
				Help: "Total segments processed by collect requests.",
			},
		),
		DocumentsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spanstats_documents_processed_total",
				Help: "Total live target documents processed.",
			},
		),
		SpansEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spanstats_span_evaluations_total",
				Help: "Span query evaluations per segment by mode (count, list, shortcut).",
			},
			[]string{"mode"},
		),
		TermVectorRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spanstats_termvector_rounds_total",
				Help: "Term vector passes by round.",
			},
			[]string{"round"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spanstats_docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spanstats_index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.CollectTotal,
			m.CollectDuration,
			m.SegmentsProcessed,
			m.DocumentsProcessed,
			m.SpansEvaluated,
			m.TermVectorRounds,
			m.DocsIndexedTotal,
			m.IndexFlushesTotal,
		)
	}
	return m
}

// ObserveCollect records one finished field collection.
func (m *Metrics) ObserveCollect(field, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CollectTotal.WithLabelValues(outcome).Inc()
	m.CollectDuration.WithLabelValues(field).Observe(elapsed.Seconds())
}

// SegmentDone records one processed segment and its live target documents.
func (m *Metrics) SegmentDone(docs int) {
	if m == nil {
		return
	}
	m.SegmentsProcessed.Inc()
	m.DocumentsProcessed.Add(float64(docs))
}

// SpanEvaluated records one (query, segment) evaluation.
func (m *Metrics) SpanEvaluated(mode string) {
	if m == nil {
		return
	}
	m.SpansEvaluated.WithLabelValues(mode).Inc()
}

// TermVectorRound records one term vector pass.
func (m *Metrics) TermVectorRound(round string) {
	if m == nil {
		return
	}
	m.TermVectorRounds.WithLabelValues(round).Inc()
}

// DocIndexed records one indexed document.
func (m *Metrics) DocIndexed() {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Inc()
}

// Flushed records one flush attempt.
func (m *Metrics) Flushed(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IndexFlushesTotal.WithLabelValues(status).Inc()
}

// StartServer serves /metrics for gatherer on port and returns its shutdown
// function.
func StartServer(port int, gatherer prometheus.Gatherer) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}
