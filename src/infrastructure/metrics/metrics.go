// Package metrics exposes Prometheus collectors for the ingestion and ask paths.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ragvault/src/core/knowledgebase"
)

const namespace = "ragvault"

// Recorder implements knowledgebase.Metrics.
type Recorder struct {
	DocumentsIngested *prometheus.CounterVec
	Chunks            *prometheus.CounterVec
	QuotaHalts        prometheus.Counter
	StoreChunks       prometheus.Gauge

	AskTotal     *prometheus.CounterVec
	AskDuration  prometheus.Histogram
	AskBestScore prometheus.Histogram
}

var _ knowledgebase.Metrics = (*Recorder)(nil)

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		DocumentsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents run through the ingestor, by outcome",
		}, []string{"outcome"}),
		Chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks seen by the ingestor, by result",
		}, []string{"result"}),
		QuotaHalts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_halts_total",
			Help:      "Documents cut short by a provider quota signal",
		}),
		StoreChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_chunks",
			Help:      "Chunks currently held by the vector store",
		}),
		AskTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_total",
			Help:      "Questions answered, by status and whether context was injected",
		}, []string{"status", "context"}),
		AskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "End-to-end duration of ask requests",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		AskBestScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_best_score",
			Help:      "Best cosine similarity found for each question",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

func (r *Recorder) ObserveIngest(report *knowledgebase.Report) {
	if report == nil {
		return
	}
	outcome := "completed"
	switch {
	case report.HaltedByQuota:
		outcome = "halted"
		r.QuotaHalts.Inc()
	case report.ChunksAdded == 0 && report.ChunksTotal > 0 && report.ChunksSkipped == report.ChunksTotal:
		outcome = "unchanged"
	}
	r.DocumentsIngested.WithLabelValues(outcome).Inc()

	r.Chunks.WithLabelValues("added").Add(float64(report.ChunksAdded))
	r.Chunks.WithLabelValues("skipped").Add(float64(report.ChunksSkipped))
	r.Chunks.WithLabelValues("failed").Add(float64(report.ChunksFailed))
}

func (r *Recorder) ObserveAsk(retrieval *knowledgebase.Retrieval, elapsed time.Duration, err error) {
	r.AskDuration.Observe(elapsed.Seconds())

	contextLabel := "none"
	if retrieval != nil {
		if retrieval.ContextUsed() {
			contextLabel = "used"
		}
		if retrieval.Scanned > 0 {
			r.AskBestScore.Observe(retrieval.BestScore)
		}
	}
	r.AskTotal.WithLabelValues(askStatus(err), contextLabel).Inc()
}

func (r *Recorder) SetStoreSize(n int) {
	r.StoreChunks.Set(float64(n))
}

func askStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, knowledgebase.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, knowledgebase.ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
