package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Handler struct {
	RequestsReceived      *prometheus.CounterVec
	IngestRecordsTotal    *prometheus.CounterVec
	IngestRejectedTotal   *prometheus.CounterVec
	BatchFlushesTotal     *prometheus.CounterVec
	BatchSizeRecords      prometheus.Histogram
	BatchAgeSeconds       *prometheus.HistogramVec
	DispatchAttemptsTotal *prometheus.CounterVec
	DispatchRetriesTotal  *prometheus.CounterVec
	DispatchFailuresTotal *prometheus.CounterVec
	DispatchInflight      prometheus.Gauge
	AnalyzerLatency       *prometheus.HistogramVec
	FindingsTotal         *prometheus.CounterVec
	ReportsEmittedTotal   *prometheus.CounterVec
	RawlogRecordsTotal    *prometheus.CounterVec
	FeedSessionsTotal     *prometheus.CounterVec
	StreamClients         prometheus.Gauge
}

type Options struct {
	// Additional labels necessary
}

func New(name string) (*Handler, error) {
	return &Handler{
		RequestsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_received",
			Help: "The total number of http requests received",
		}, []string{"status"}),
		IngestRecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "The total number of records accepted into the pipeline",
		}, []string{"source"}),
		IngestRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rejected_total",
			Help: "The total number of records rejected at ingress",
		}, []string{"reason"}),
		BatchFlushesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_flushes_total",
			Help: "The total number of batches flushed",
		}, []string{"trigger"}),
		BatchSizeRecords: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_size_records",
			Help:    "Record count of flushed batches",
			Buckets: []float64{1, 2, 5, 10, 15, 25, 50, 100},
		}),
		BatchAgeSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_age_seconds",
			Help:    "Time a batch stayed open before flushing",
			Buckets: prometheus.DefBuckets,
		}, []string{"trigger"}),
		DispatchAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "The total number of analyzer calls attempted",
		}, []string{"outcome"}),
		DispatchRetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_retries_total",
			Help: "The total number of analyzer retries scheduled",
		}, []string{"reason"}),
		DispatchFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_failures_total",
			Help: "The total number of batches dropped without analysis",
		}, []string{"reason"}),
		DispatchInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_inflight",
			Help: "Dispatch flows currently executing",
		}),
		AnalyzerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_latency_seconds",
			Help:    "The latency of analyzer calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"success"}),
		FindingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "findings_total",
			Help: "The total number of threat findings emitted",
		}, []string{"action"}),
		ReportsEmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reports_emitted_total",
			Help: "The total number of report events emitted",
		}, []string{"type"}),
		RawlogRecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rawlog_records_total",
			Help: "Raw log tap records by outcome",
		}, []string{"status"}),
		FeedSessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_sessions_total",
			Help: "Edge feed session creations by outcome",
		}, []string{"outcome"}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stream_clients",
			Help: "Connected findings stream subscribers",
		}),
	}, nil
}

// IncRequestsReceived increments the http request counter
func (h *Handler) IncRequestsReceived(status string) {
	h.RequestsReceived.WithLabelValues(status).Inc()
}

// IncIngestRecordsTotal increments the accepted records counter
func (h *Handler) IncIngestRecordsTotal(source string) {
	h.IngestRecordsTotal.WithLabelValues(source).Inc()
}

// IncIngestRejectedTotal increments the rejected records counter
func (h *Handler) IncIngestRejectedTotal(reason string) {
	h.IngestRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveBatchFlush records one flushed batch
func (h *Handler) ObserveBatchFlush(trigger string, size int, age time.Duration) {
	h.BatchFlushesTotal.WithLabelValues(trigger).Inc()
	h.BatchSizeRecords.Observe(float64(size))
	h.BatchAgeSeconds.WithLabelValues(trigger).Observe(age.Seconds())
}

// IncDispatchAttemptsTotal increments the analyzer attempt counter
func (h *Handler) IncDispatchAttemptsTotal(outcome string) {
	h.DispatchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// IncDispatchRetriesTotal increments the retry counter
func (h *Handler) IncDispatchRetriesTotal(reason string) {
	h.DispatchRetriesTotal.WithLabelValues(reason).Inc()
}

// IncDispatchFailuresTotal increments the dropped batch counter
func (h *Handler) IncDispatchFailuresTotal(reason string) {
	h.DispatchFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveAnalyzerLatency records the latency of one analyzer call
func (h *Handler) ObserveAnalyzerLatency(duration time.Duration, success bool) {
	successStr := "true"
	if !success {
		successStr = "false"
	}
	h.AnalyzerLatency.WithLabelValues(successStr).Observe(duration.Seconds())
}

// IncFindingsTotal increments the findings counter for an action
func (h *Handler) IncFindingsTotal(action string) {
	h.FindingsTotal.WithLabelValues(action).Inc()
}

// IncReportsEmittedTotal increments the emitted events counter
func (h *Handler) IncReportsEmittedTotal(eventType string) {
	h.ReportsEmittedTotal.WithLabelValues(eventType).Inc()
}

// IncRawlogRecordsTotal increments the raw tap counter
func (h *Handler) IncRawlogRecordsTotal(status string) {
	h.RawlogRecordsTotal.WithLabelValues(status).Inc()
}

// IncFeedSessionsTotal increments the feed session counter
func (h *Handler) IncFeedSessionsTotal(outcome string) {
	h.FeedSessionsTotal.WithLabelValues(outcome).Inc()
}
