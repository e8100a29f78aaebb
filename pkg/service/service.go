package service

import (
	"context"
	"sync"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
	"github.com/kumarabd/detection-plane/pkg/pipeline"
	"github.com/kumarabd/detection-plane/pkg/report"
	"github.com/kumarabd/detection-plane/pkg/sink/rawlog"
	"github.com/kumarabd/detection-plane/pkg/source"
)

// Config aggregates the runtime's component configs.
type Config struct {
	Pipeline *pipeline.Config `json:"pipeline" yaml:"pipeline"`
	Source   *source.Config   `json:"source" yaml:"source"`
	Report   *report.Config   `json:"report" yaml:"report"`
	Rawlog   *rawlog.Config   `json:"rawlog" yaml:"rawlog"`
}

// Handler assembles the runtime: the configured record source feeding
// the pipeline, the raw-log tap alongside it, and the report handler
// at the far end. It is also the Acceptor the HTTP inject endpoint
// and the sources push into.
type Handler struct {
	log    *logger.Handler
	config *Config
	metric *metrics.Handler

	pipeline *pipeline.Handler
	report   *report.Handler
	tap      *rawlog.Sink
	source   source.Source

	sourceCtx    context.Context
	sourceCancel context.CancelFunc
	sourceWg     sync.WaitGroup
}

// New wires the components together. The analyzer is injected so the
// runtime can be assembled against a stub in tests.
func New(l *logger.Handler, m *metrics.Handler, analyzer pipeline.Analyzer, sConfig *Config) (*Handler, error) {
	reportHandler, err := report.New(sConfig.Report, l, m)
	if err != nil {
		return nil, err
	}

	pipelineHandler, err := pipeline.New(sConfig.Pipeline, l, m, analyzer, reportHandler)
	if err != nil {
		return nil, err
	}

	var tap *rawlog.Sink
	if sConfig.Rawlog != nil && sConfig.Rawlog.Enabled() {
		tap, err = rawlog.New(sConfig.Rawlog, l, m)
		if err != nil {
			return nil, err
		}
	}

	src, err := source.New(sConfig.Source, l, m)
	if err != nil {
		return nil, err
	}

	sourceCtx, sourceCancel := context.WithCancel(context.Background())
	return &Handler{
		log:          l,
		config:       sConfig,
		metric:       m,
		pipeline:     pipelineHandler,
		report:       reportHandler,
		tap:          tap,
		source:       src,
		sourceCtx:    sourceCtx,
		sourceCancel: sourceCancel,
	}, nil
}

// Accept pushes one record into the runtime: best-effort copy to the
// tap, then the pipeline. The tap never rejects; only the pipeline's
// verdict is returned.
func (h *Handler) Accept(record logtypes.LogRecord) error {
	if h.tap != nil {
		h.tap.Offer(record)
	}
	return h.pipeline.Accept(record)
}

// Start launches the dispatch workers and the configured source.
func (h *Handler) Start() error {
	h.pipeline.Start()

	if h.source != nil {
		h.sourceWg.Add(1)
		go func() {
			defer h.sourceWg.Done()
			if err := h.source.Run(h.sourceCtx, h); err != nil && h.sourceCtx.Err() == nil {
				h.log.Error().Err(err).Msg("record source stopped")
			}
		}()
	}
	return nil
}

// Stop tears the runtime down front to back: source first so no new
// records arrive, then the pipeline (final flush + dispatch drain
// bounded by ctx), then the tap and report outputs.
func (h *Handler) Stop(ctx context.Context) error {
	h.sourceCancel()
	h.sourceWg.Wait()

	err := h.pipeline.Stop(ctx)

	if h.tap != nil {
		if terr := h.tap.Close(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	if rerr := h.report.Close(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Report exposes the report handler for the HTTP query surface.
func (h *Handler) Report() *report.Handler {
	return h.report
}

// Stats is the runtime snapshot served by the stats endpoint.
type Stats struct {
	Pipeline    pipeline.Snapshot `json:"pipeline"`
	Store       report.Stats      `json:"store"`
	Subscribers int               `json:"subscribers"`
}

// Stats reports current progress across the runtime.
func (h *Handler) Stats() Stats {
	return Stats{
		Pipeline:    h.pipeline.Snapshot(),
		Store:       h.report.Store().Stats(),
		Subscribers: h.report.Hub().Subscribers(),
	}
}
