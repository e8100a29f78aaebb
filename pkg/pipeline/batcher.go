package pipeline

import (
	"sync"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// BatchSink receives ownership of flushed batches. Enqueue must not
// block: ingestion continues regardless of what happens downstream.
type BatchSink interface {
	Enqueue(batch *logtypes.Batch)
}

// Batcher turns the unbounded record stream into bounded, timely
// batches. Both flush triggers are explicit state checks under one
// mutex, so a size/time tie resolves to a single flush and a flushed
// batch is never touched again by the ingestion side.
type Batcher struct {
	maxBatch int
	maxWait  time.Duration

	mu       sync.Mutex
	open     []logtypes.LogRecord
	openedAt time.Time
	nextSeq  uint64
	closed   bool
	timer    *time.Timer

	out    BatchSink
	metric *metrics.Handler
	log    *logger.Handler
}

// NewBatcher creates a batcher that hands flushed batches to out.
func NewBatcher(cfg *Config, log *logger.Handler, metric *metrics.Handler, out BatchSink) *Batcher {
	return &Batcher{
		maxBatch: cfg.MaxBatchSize,
		maxWait:  cfg.MaxBatchInterval,
		open:     make([]logtypes.LogRecord, 0, cfg.MaxBatchSize),
		nextSeq:  1,
		out:      out,
		metric:   metric,
		log:      log,
	}
}

// Accept appends a record to the open batch. The first record of a
// batch arms the flush deadline; reaching the size bound flushes
// immediately. Records arriving after shutdown are rejected.
func (b *Batcher) Accept(record logtypes.LogRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrPipelineClosed
	}

	if len(b.open) == 0 {
		b.openedAt = time.Now()
		b.armTimer()
	}
	b.open = append(b.open, record)

	if len(b.open) >= b.maxBatch {
		b.flushLocked(logtypes.TriggerSize)
	}
	return nil
}

// deadline runs when the flush timer fires. State is re-checked under
// the mutex: a size flush that won the race leaves nothing to do, and
// a fire belonging to an already-flushed batch fails the age check.
func (b *Batcher) deadline() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.open) == 0 {
		return
	}
	if time.Since(b.openedAt) < b.maxWait {
		return
	}
	b.flushLocked(logtypes.TriggerInterval)
}

// Shutdown stops intake and force-flushes any partial batch. Safe to
// call more than once.
func (b *Batcher) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if len(b.open) > 0 {
		b.flushLocked(logtypes.TriggerShutdown)
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.log.Info().Uint64("next_sequence", b.nextSeq).Msg("batcher closed")
}

// flushLocked hands the open batch to the dispatcher and opens a
// fresh one. Caller holds b.mu and guarantees the batch is non-empty.
func (b *Batcher) flushLocked(trigger string) {
	if b.timer != nil {
		b.timer.Stop()
	}

	batch := &logtypes.Batch{
		Sequence:  b.nextSeq,
		Records:   b.open,
		OpenedAt:  b.openedAt,
		FlushedAt: time.Now(),
		Trigger:   trigger,
	}
	b.nextSeq++
	b.open = make([]logtypes.LogRecord, 0, b.maxBatch)

	b.metric.ObserveBatchFlush(trigger, batch.Size(), batch.Age())
	b.log.Debug().
		Uint64("sequence", batch.Sequence).
		Int("records", batch.Size()).
		Str("trigger", trigger).
		Msg("batch flushed")

	b.out.Enqueue(batch)
}

func (b *Batcher) armTimer() {
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, b.deadline)
		return
	}
	b.timer.Reset(b.maxWait)
}

func (b *Batcher) state() (open int, next uint64, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open), b.nextSeq, b.closed
}
