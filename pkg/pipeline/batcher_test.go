package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

var (
	testLog    *logger.Handler
	testMetric *metrics.Handler
	testOnce   sync.Once
)

// testDeps returns shared logger/metrics handlers. Metrics register in
// the default prometheus registry, so they are created once per test
// binary.
func testDeps(t *testing.T) (*logger.Handler, *metrics.Handler) {
	t.Helper()
	testOnce.Do(func() {
		var err error
		testLog, err = logger.New("test", logger.Options{Format: logger.JSONLogFormat})
		if err != nil {
			panic(err)
		}
		testMetric, err = metrics.New("test")
		if err != nil {
			panic(err)
		}
	})
	return testLog, testMetric
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// batchCollector records flushed batches for inspection.
type batchCollector struct {
	mu      sync.Mutex
	batches []*logtypes.Batch
}

func (c *batchCollector) Enqueue(b *logtypes.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *batchCollector) all() []*logtypes.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*logtypes.Batch, len(c.batches))
	copy(out, c.batches)
	return out
}

func (c *batchCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func record(i int) logtypes.LogRecord {
	return logtypes.LogRecord{"RayID": string(rune('a'+i%26)) + "-ray", "index": i}
}

func TestBatcherSizeTrigger(t *testing.T) {
	log, metric := testDeps(t)
	sink := &batchCollector{}
	b := NewBatcher(&Config{
		MaxBatchSize:     3,
		MaxBatchInterval: time.Hour,
	}, log, metric, sink)

	total := 10
	for i := 0; i < total; i++ {
		if err := b.Accept(record(i)); err != nil {
			t.Fatalf("Accept(%d) failed: %v", i, err)
		}
	}

	// 10 records at size 3: three full batches flushed, one record open.
	if got := sink.count(); got != 3 {
		t.Fatalf("expected 3 size-triggered batches, got %d", got)
	}

	b.Shutdown()

	batches := sink.all()
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches after shutdown, got %d", len(batches))
	}

	seen := 0
	for i, batch := range batches {
		if batch.Sequence != uint64(i+1) {
			t.Errorf("batch %d: sequence = %d, want %d", i, batch.Sequence, i+1)
		}
		if len(batch.Records) == 0 || len(batch.Records) > 3 {
			t.Errorf("batch %d: size %d out of bounds", i, len(batch.Records))
		}
		for _, rec := range batch.Records {
			if rec["index"] != seen {
				t.Fatalf("record order broken: got index %v, want %d", rec["index"], seen)
			}
			seen++
		}
	}
	if seen != total {
		t.Fatalf("records across batches = %d, want %d", seen, total)
	}

	if batches[0].Trigger != logtypes.TriggerSize {
		t.Errorf("first batch trigger = %q, want %q", batches[0].Trigger, logtypes.TriggerSize)
	}
	if batches[3].Trigger != logtypes.TriggerShutdown {
		t.Errorf("final batch trigger = %q, want %q", batches[3].Trigger, logtypes.TriggerShutdown)
	}
}

func TestBatcherIntervalTrigger(t *testing.T) {
	log, metric := testDeps(t)
	sink := &batchCollector{}
	b := NewBatcher(&Config{
		MaxBatchSize:     100,
		MaxBatchInterval: 60 * time.Millisecond,
	}, log, metric, sink)
	defer b.Shutdown()

	if err := b.Accept(record(0)); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	batches := sink.all()
	if len(batches[0].Records) != 1 {
		t.Fatalf("expected single-record batch, got %d records", len(batches[0].Records))
	}
	if batches[0].Trigger != logtypes.TriggerInterval {
		t.Errorf("trigger = %q, want %q", batches[0].Trigger, logtypes.TriggerInterval)
	}

	// Idle pipeline: the timer must not force empty flushes.
	time.Sleep(150 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Fatalf("idle period produced %d extra batches", got-1)
	}
}

func TestBatcherNeverFlushesEmpty(t *testing.T) {
	log, metric := testDeps(t)
	sink := &batchCollector{}
	b := NewBatcher(&Config{
		MaxBatchSize:     5,
		MaxBatchInterval: 30 * time.Millisecond,
	}, log, metric, sink)

	time.Sleep(120 * time.Millisecond)
	b.Shutdown()

	if got := sink.count(); got != 0 {
		t.Fatalf("empty pipeline flushed %d batches", got)
	}
}

func TestBatcherSizeFlushDisarmsTimer(t *testing.T) {
	log, metric := testDeps(t)
	sink := &batchCollector{}
	b := NewBatcher(&Config{
		MaxBatchSize:     2,
		MaxBatchInterval: 50 * time.Millisecond,
	}, log, metric, sink)
	defer b.Shutdown()

	b.Accept(record(0))
	b.Accept(record(1))

	if got := sink.count(); got != 1 {
		t.Fatalf("expected immediate size flush, got %d batches", got)
	}

	// The pending deadline belongs to the flushed batch; it must not
	// fire a second flush.
	time.Sleep(140 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Fatalf("timer double-flushed: %d batches", got)
	}
}

func TestBatcherShutdown(t *testing.T) {
	log, metric := testDeps(t)
	sink := &batchCollector{}
	b := NewBatcher(&Config{
		MaxBatchSize:     5,
		MaxBatchInterval: time.Hour,
	}, log, metric, sink)

	b.Accept(record(0))
	b.Accept(record(1))
	b.Shutdown()

	batches := sink.all()
	if len(batches) != 1 {
		t.Fatalf("expected exactly one final batch, got %d", len(batches))
	}
	if len(batches[0].Records) != 2 {
		t.Errorf("final batch size = %d, want 2", len(batches[0].Records))
	}

	if err := b.Accept(record(2)); err != ErrPipelineClosed {
		t.Fatalf("Accept after shutdown = %v, want ErrPipelineClosed", err)
	}

	// Idempotent: a second shutdown must not flush again.
	b.Shutdown()
	if got := sink.count(); got != 1 {
		t.Fatalf("second shutdown produced %d batches", got)
	}
}

func TestBatcherArrivalPattern(t *testing.T) {
	log, metric := testDeps(t)
	sink := &batchCollector{}
	b := NewBatcher(&Config{
		MaxBatchSize:     3,
		MaxBatchInterval: 200 * time.Millisecond,
	}, log, metric, sink)

	// R1..R3 fill a batch: size trigger.
	b.Accept(record(1))
	b.Accept(record(2))
	b.Accept(record(3))
	if got := sink.count(); got != 1 {
		t.Fatalf("expected size flush after R3, got %d batches", got)
	}

	// R4 opens a fresh batch whose age is measured from R4's arrival.
	b.Accept(record(4))
	waitFor(t, time.Second, func() bool { return sink.count() == 2 })

	// R5 arrives late and leaves with the shutdown flush.
	b.Accept(record(5))
	b.Shutdown()

	batches := sink.all()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	wantTriggers := []string{logtypes.TriggerSize, logtypes.TriggerInterval, logtypes.TriggerShutdown}
	wantSizes := []int{3, 1, 1}
	for i, batch := range batches {
		if batch.Trigger != wantTriggers[i] {
			t.Errorf("batch %d trigger = %q, want %q", i, batch.Trigger, wantTriggers[i])
		}
		if len(batch.Records) != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(batch.Records), wantSizes[i])
		}
	}
	if batches[1].Records[0]["index"] != 4 {
		t.Errorf("interval batch carries index %v, want 4", batches[1].Records[0]["index"])
	}
}
