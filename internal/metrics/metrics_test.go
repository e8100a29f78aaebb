package metrics

import (
	"testing"
	"time"
)

func TestMetricsHandler(t *testing.T) {
	handler, err := New("test")
	if err != nil {
		t.Fatalf("Failed to create metrics handler: %v", err)
	}

	// Ingress counters
	handler.IncRequestsReceived("200")
	handler.IncRequestsReceived("503")
	handler.IncIngestRecordsTotal("cloudflare")
	handler.IncIngestRecordsTotal("http")
	handler.IncIngestRejectedTotal("pipeline_closed")

	// Batch lifecycle
	handler.ObserveBatchFlush("size", 15, 2*time.Second)
	handler.ObserveBatchFlush("interval", 3, 15*time.Second)

	// Dispatch side
	handler.IncDispatchAttemptsTotal("success")
	handler.IncDispatchRetriesTotal("rate_limit")
	handler.IncDispatchFailuresTotal("retries_exhausted")
	handler.DispatchInflight.Inc()
	handler.DispatchInflight.Dec()
	handler.ObserveAnalyzerLatency(300*time.Millisecond, true)
	handler.ObserveAnalyzerLatency(30*time.Second, false)

	// Emission side
	handler.IncFindingsTotal("block")
	handler.IncFindingsTotal("monitor")
	handler.IncReportsEmittedTotal("report")
	handler.IncReportsEmittedTotal("failure")
	handler.IncRawlogRecordsTotal("written")
	handler.IncFeedSessionsTotal("created")

	// If we get here without panicking, the metrics are working
	t.Log("All metrics operations completed successfully")
}
