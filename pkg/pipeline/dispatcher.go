package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kumarabd/gokit/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/analyzer"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

var tracer = otel.Tracer("detection-plane/pipeline")

const maxBackoff = 30 * time.Second

// Dispatcher delivers flushed batches to the analyzer with bounded
// concurrency. Failures are always resolved locally: transient errors
// are retried with backoff, everything else drops the batch with
// exactly one failure event. Nothing here ever reaches back into the
// batcher.
type Dispatcher struct {
	config   *Config
	log      *logger.Handler
	metric   *metrics.Handler
	analyzer Analyzer
	emitter  Emitter

	queue    chan *logtypes.Batch
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher creates a dispatcher; workers start on Start.
func NewDispatcher(cfg *Config, log *logger.Handler, metric *metrics.Handler, a Analyzer, e Emitter) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:   cfg,
		log:      log,
		metric:   metric,
		analyzer: a,
		emitter:  e,
		queue:    make(chan *logtypes.Batch, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool. Worker count is the concurrency
// bound: no more dispatch flows can exist than workers.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.config.MaxDispatchConcurrency; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Enqueue hands a flushed batch to the workers without ever blocking
// the caller. A full queue drops the batch with a failure event so
// the analysis gap stays visible downstream.
func (d *Dispatcher) Enqueue(batch *logtypes.Batch) {
	select {
	case d.queue <- batch:
	default:
		d.metric.IncDispatchFailuresTotal("queue_full")
		d.log.Warn().
			Uint64("sequence", batch.Sequence).
			Int("records", batch.Size()).
			Msg("dispatch queue full, dropping batch")
		d.emitFailure(batch.Sequence, "dispatch queue full", 0)
	}
}

// Stop closes the queue and waits for the workers to drain it. When
// ctx expires first, the dispatch context is canceled so in-flight
// attempts and backoff sleeps abort promptly; remaining batches still
// produce their failure events on the way out.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.queue)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Queued reports batches waiting for a worker.
func (d *Dispatcher) Queued() int {
	return len(d.queue)
}

// Inflight reports dispatch flows currently executing.
func (d *Dispatcher) Inflight() int {
	return int(d.inflight.Load())
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for batch := range d.queue {
		d.process(batch)
	}
}

// process runs one dispatch flow: exactly one report or one failure
// event per batch, never both, never neither.
func (d *Dispatcher) process(batch *logtypes.Batch) {
	d.inflight.Add(1)
	d.metric.DispatchInflight.Inc()
	defer func() {
		d.inflight.Add(-1)
		d.metric.DispatchInflight.Dec()
	}()

	dispatchID := uuid.NewString()
	ctx, span := tracer.Start(d.ctx, "dispatcher.dispatch", trace.WithAttributes(
		attribute.String("dispatch.id", dispatchID),
		attribute.Int64("batch.sequence", int64(batch.Sequence)),
		attribute.Int("batch.records", batch.Size()),
		attribute.String("batch.trigger", batch.Trigger),
	))
	defer span.End()

	req := logtypes.NewAnalysisRequest(batch, d.config.FieldAllowList)

	result, attempts, err := d.analyze(ctx, req)
	span.SetAttributes(attribute.Int("dispatch.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")

		reason := failureClass(err)
		d.metric.IncDispatchFailuresTotal(reason)
		d.log.Error().Err(err).
			Uint64("sequence", batch.Sequence).
			Int("records", batch.Size()).
			Int("attempts", attempts).
			Str("dispatch_id", dispatchID).
			Msg("batch dropped without analysis")
		d.emitFailure(batch.Sequence, err.Error(), attempts)
		return
	}

	report := &logtypes.Report{
		BatchSequence: batch.Sequence,
		RecordCount:   batch.Size(),
		Findings:      result.Findings,
		EmittedAt:     time.Now(),
	}
	span.SetAttributes(attribute.Int("findings", len(report.Findings)))

	if err := d.emitter.EmitReport(ctx, report); err != nil {
		d.log.Error().Err(err).Uint64("sequence", batch.Sequence).Msg("report emission failed")
		return
	}
	d.metric.IncReportsEmittedTotal("report")
	d.log.Info().
		Uint64("sequence", batch.Sequence).
		Int("records", batch.Size()).
		Int("findings", len(report.Findings)).
		Int("attempts", attempts).
		Msg("batch analyzed")
}

// analyze runs the retry loop for one batch. Transient failures back
// off exponentially with jitter; non-retryable errors abort at once.
func (d *Dispatcher) analyze(ctx context.Context, req *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= d.config.MaxRetryAttempts; attempt++ {
		attempts++
		start := time.Now()
		result, err := d.analyzer.Analyze(ctx, req)
		duration := time.Since(start)

		if err == nil {
			d.metric.IncDispatchAttemptsTotal("success")
			d.metric.ObserveAnalyzerLatency(duration, true)
			return result, attempts, nil
		}
		lastErr = err
		d.metric.IncDispatchAttemptsTotal("error")
		d.metric.ObserveAnalyzerLatency(duration, false)

		if !analyzer.IsRetryable(err) {
			return nil, attempts, err
		}

		if attempt < d.config.MaxRetryAttempts {
			delay := d.backoff(attempt)
			d.metric.IncDispatchRetriesTotal(analyzer.RetryReason(err))
			d.log.Warn().Err(err).
				Int("attempt", attempts).
				Dur("backoff", delay).
				Msg("analyzer call failed, retrying")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempts, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil, attempts, lastErr
}

// backoff derives the sleep before the next attempt: base doubled per
// attempt, capped, plus up to 100ms of jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.config.RetryBackoffBase
	for i := 0; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay + time.Duration(rand.Intn(100))*time.Millisecond
}

func (d *Dispatcher) emitFailure(sequence uint64, reason string, attempts int) {
	failure := &logtypes.DispatchFailure{
		BatchSequence: sequence,
		Reason:        reason,
		Attempts:      attempts,
		EmittedAt:     time.Now(),
	}
	if err := d.emitter.EmitFailure(d.ctx, failure); err != nil {
		d.log.Error().Err(err).Uint64("sequence", sequence).Msg("failure emission failed")
		return
	}
	d.metric.IncReportsEmittedTotal("failure")
}

func failureClass(err error) string {
	var perr *analyzer.ParseError
	if errors.As(err, &perr) {
		return "parse_error"
	}
	return "retries_exhausted"
}
