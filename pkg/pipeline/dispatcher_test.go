package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kumarabd/detection-plane/pkg/analyzer"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// stubAnalyzer delegates to fn and tracks call/concurrency counts.
type stubAnalyzer struct {
	fn            func(ctx context.Context, req *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error)
	calls         atomic.Int64
	concurrent    atomic.Int64
	maxConcurrent atomic.Int64
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
	s.calls.Add(1)
	cur := s.concurrent.Add(1)
	defer s.concurrent.Add(-1)
	for {
		max := s.maxConcurrent.Load()
		if cur <= max || s.maxConcurrent.CompareAndSwap(max, cur) {
			break
		}
	}
	return s.fn(ctx, req)
}

// eventCollector implements Emitter, recording everything emitted.
type eventCollector struct {
	mu       sync.Mutex
	reports  []*logtypes.Report
	failures []*logtypes.DispatchFailure
}

func (c *eventCollector) EmitReport(_ context.Context, r *logtypes.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *eventCollector) EmitFailure(_ context.Context, f *logtypes.DispatchFailure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
	return nil
}

func (c *eventCollector) counts() (reports, failures int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports), len(c.failures)
}

func testBatch(seq uint64, records int) *logtypes.Batch {
	b := &logtypes.Batch{
		Sequence:  seq,
		OpenedAt:  time.Now().Add(-time.Second),
		FlushedAt: time.Now(),
		Trigger:   logtypes.TriggerSize,
	}
	for i := 0; i < records; i++ {
		b.Records = append(b.Records, record(i))
	}
	return b
}

func dispatcherConfig(concurrency, retries, queue int) *Config {
	return &Config{
		MaxBatchSize:           15,
		MaxBatchInterval:       time.Minute,
		MaxDispatchConcurrency: concurrency,
		MaxRetryAttempts:       retries,
		RetryBackoffBase:       time.Millisecond,
		QueueSize:              queue,
		FieldAllowList:         []string{"RayID", "index"},
	}
}

func TestDispatcherSuccess(t *testing.T) {
	log, metric := testDeps(t)
	stub := &stubAnalyzer{fn: func(_ context.Context, req *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
		return &logtypes.AnalysisResult{Findings: []logtypes.Finding{
			{Subject: "203.0.113.1", SubjectType: "IP", Reason: "probing", Action: logtypes.ActionBlock, Confidence: 0.9},
		}}, nil
	}}
	sink := &eventCollector{}

	d := NewDispatcher(dispatcherConfig(2, 3, 8), log, metric, stub, sink)
	d.Start()
	d.Enqueue(testBatch(1, 3))

	waitFor(t, time.Second, func() bool { r, _ := sink.counts(); return r == 1 })
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	reports, failures := sink.counts()
	if reports != 1 || failures != 0 {
		t.Fatalf("reports=%d failures=%d, want 1/0", reports, failures)
	}
	rep := sink.reports[0]
	if rep.BatchSequence != 1 || rep.RecordCount != 3 || len(rep.Findings) != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("analyzer called %d times, want 1", got)
	}
}

func TestDispatcherRetryExhaustion(t *testing.T) {
	log, metric := testDeps(t)
	stub := &stubAnalyzer{fn: func(_ context.Context, _ *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
		return nil, context.DeadlineExceeded
	}}
	sink := &eventCollector{}

	retries := 3
	d := NewDispatcher(dispatcherConfig(1, retries, 8), log, metric, stub, sink)
	d.Start()
	d.Enqueue(testBatch(9, 2))

	waitFor(t, 3*time.Second, func() bool { _, f := sink.counts(); return f == 1 })
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	reports, failures := sink.counts()
	if reports != 0 || failures != 1 {
		t.Fatalf("reports=%d failures=%d, want 0/1", reports, failures)
	}
	fail := sink.failures[0]
	if fail.BatchSequence != 9 {
		t.Errorf("failure sequence = %d, want 9", fail.BatchSequence)
	}
	if fail.Attempts != retries+1 {
		t.Errorf("failure attempts = %d, want %d", fail.Attempts, retries+1)
	}
	if got := stub.calls.Load(); got != int64(retries+1) {
		t.Errorf("analyzer called %d times, want %d", got, retries+1)
	}
}

func TestDispatcherRecoversMidRetry(t *testing.T) {
	log, metric := testDeps(t)
	stub := &stubAnalyzer{}
	stub.fn = func(_ context.Context, _ *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
		if stub.calls.Load() < 3 {
			return nil, context.DeadlineExceeded
		}
		return &logtypes.AnalysisResult{Findings: []logtypes.Finding{}}, nil
	}
	sink := &eventCollector{}

	d := NewDispatcher(dispatcherConfig(1, 3, 8), log, metric, stub, sink)
	d.Start()
	d.Enqueue(testBatch(2, 1))

	waitFor(t, 3*time.Second, func() bool { r, _ := sink.counts(); return r == 1 })
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	reports, failures := sink.counts()
	if reports != 1 || failures != 0 {
		t.Fatalf("reports=%d failures=%d, want 1/0", reports, failures)
	}
	if got := stub.calls.Load(); got != 3 {
		t.Fatalf("analyzer called %d times, want 3", got)
	}
}

func TestDispatcherParseErrorNotRetried(t *testing.T) {
	log, metric := testDeps(t)
	stub := &stubAnalyzer{fn: func(_ context.Context, _ *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
		return nil, &analyzer.ParseError{Reason: "threat arguments malformed"}
	}}
	sink := &eventCollector{}

	d := NewDispatcher(dispatcherConfig(1, 5, 8), log, metric, stub, sink)
	d.Start()
	d.Enqueue(testBatch(4, 2))

	waitFor(t, time.Second, func() bool { _, f := sink.counts(); return f == 1 })
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("parse error retried: %d calls", got)
	}
	fail := sink.failures[0]
	if fail.Attempts != 1 {
		t.Errorf("failure attempts = %d, want 1", fail.Attempts)
	}
	if !strings.Contains(fail.Reason, "parse error") {
		t.Errorf("failure reason %q does not mention parse error", fail.Reason)
	}
}

func TestDispatcherConcurrencyBound(t *testing.T) {
	log, metric := testDeps(t)
	stub := &stubAnalyzer{fn: func(_ context.Context, _ *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
		time.Sleep(40 * time.Millisecond)
		return &logtypes.AnalysisResult{Findings: []logtypes.Finding{}}, nil
	}}
	sink := &eventCollector{}

	bound := 2
	d := NewDispatcher(dispatcherConfig(bound, 0, 16), log, metric, stub, sink)
	d.Start()
	for i := 1; i <= 8; i++ {
		d.Enqueue(testBatch(uint64(i), 1))
	}

	waitFor(t, 3*time.Second, func() bool { r, _ := sink.counts(); return r == 8 })
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := stub.maxConcurrent.Load(); got > int64(bound) {
		t.Fatalf("observed %d concurrent dispatches, bound is %d", got, bound)
	}
}

func TestDispatcherQueueFullDropsWithEvent(t *testing.T) {
	log, metric := testDeps(t)
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	stub := &stubAnalyzer{fn: func(_ context.Context, _ *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
		started <- struct{}{}
		<-release
		return &logtypes.AnalysisResult{Findings: []logtypes.Finding{}}, nil
	}}
	sink := &eventCollector{}

	d := NewDispatcher(dispatcherConfig(1, 0, 1), log, metric, stub, sink)
	d.Start()

	d.Enqueue(testBatch(1, 1))
	<-started // worker is busy with batch 1
	d.Enqueue(testBatch(2, 1)) // fills the queue
	d.Enqueue(testBatch(3, 1)) // dropped

	_, failures := sink.counts()
	if failures != 1 {
		t.Fatalf("expected immediate failure event for dropped batch, got %d", failures)
	}
	if sink.failures[0].BatchSequence != 3 {
		t.Errorf("dropped sequence = %d, want 3", sink.failures[0].BatchSequence)
	}
	if !strings.Contains(sink.failures[0].Reason, "queue full") {
		t.Errorf("drop reason %q does not mention queue full", sink.failures[0].Reason)
	}

	close(release)
	waitFor(t, time.Second, func() bool { r, _ := sink.counts(); return r == 2 })
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestDispatcherStopGraceBound(t *testing.T) {
	log, metric := testDeps(t)
	started := make(chan struct{}, 1)
	stub := &stubAnalyzer{fn: func(ctx context.Context, _ *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	sink := &eventCollector{}

	d := NewDispatcher(dispatcherConfig(1, 0, 4), log, metric, stub, sink)
	d.Start()
	d.Enqueue(testBatch(1, 1))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}

	// The stuck batch still produced its failure event on the way out.
	_, failures := sink.counts()
	if failures != 1 {
		t.Fatalf("forced stop swallowed the failure event: %d", failures)
	}
}
