package pipeline

import (
	"context"
	"errors"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// ErrPipelineClosed is returned for records submitted after shutdown
// has begun. Caller error, never retried by the pipeline.
var ErrPipelineClosed = errors.New("pipeline closed")

// Analyzer is the external analysis boundary: one call per dispatch
// attempt, findings or an error back.
type Analyzer interface {
	Analyze(ctx context.Context, req *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error)
}

// Emitter is the report boundary. Every batch ends here exactly once:
// a report after successful analysis, or a failure event when it was
// dropped.
type Emitter interface {
	EmitReport(ctx context.Context, report *logtypes.Report) error
	EmitFailure(ctx context.Context, failure *logtypes.DispatchFailure) error
}

// Handler owns one pipeline instance: the batcher that accumulates
// records and the dispatcher that delivers flushed batches. Instances
// are independent, so tests can run several side by side.
type Handler struct {
	config     *Config
	log        *logger.Handler
	metric     *metrics.Handler
	batcher    *Batcher
	dispatcher *Dispatcher
}

// Snapshot is a point-in-time view of pipeline progress.
type Snapshot struct {
	OpenRecords  int    `json:"open_records"`
	NextSequence uint64 `json:"next_sequence"`
	Queued       int    `json:"queued"`
	Inflight     int    `json:"inflight"`
	Closed       bool   `json:"closed"`
}

// New builds a pipeline from config and the two collaborator
// boundaries.
func New(cfg *Config, log *logger.Handler, metric *metrics.Handler, analyzer Analyzer, emitter Emitter) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dispatcher := NewDispatcher(cfg, log, metric, analyzer, emitter)
	batcher := NewBatcher(cfg, log, metric, dispatcher)

	return &Handler{
		config:     cfg,
		log:        log,
		metric:     metric,
		batcher:    batcher,
		dispatcher: dispatcher,
	}, nil
}

// Start launches the dispatch workers.
func (h *Handler) Start() {
	h.dispatcher.Start()
	h.log.Info().
		Int("max_batch_size", h.config.MaxBatchSize).
		Dur("max_batch_interval", h.config.MaxBatchInterval).
		Int("dispatch_concurrency", h.config.MaxDispatchConcurrency).
		Msg("pipeline started")
}

// Accept is the pipeline's only ingress.
func (h *Handler) Accept(record logtypes.LogRecord) error {
	return h.batcher.Accept(record)
}

// Stop closes intake, force-flushes any partial batch, then waits for
// in-flight dispatches within the grace bound of ctx. Safe to call
// more than once.
func (h *Handler) Stop(ctx context.Context) error {
	h.batcher.Shutdown()

	if err := h.dispatcher.Stop(ctx); err != nil {
		h.log.Warn().Err(err).Msg("dispatch drain cut short")
		return err
	}
	h.log.Info().Msg("pipeline stopped")
	return nil
}

// Snapshot reports current progress for the stats endpoint.
func (h *Handler) Snapshot() Snapshot {
	open, next, closed := h.batcher.state()
	return Snapshot{
		OpenRecords:  open,
		NextSequence: next,
		Queued:       h.dispatcher.Queued(),
		Inflight:     h.dispatcher.Inflight(),
		Closed:       closed,
	}
}
