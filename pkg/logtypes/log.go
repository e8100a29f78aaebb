package logtypes

import (
	"time"
)

// LogRecord is one raw log event from the edge feed: a flat mapping of
// field name to string/number value as decoded from an NDJSON line.
// Records are treated as immutable once accepted by the pipeline.
type LogRecord map[string]any

// Project returns a copy of the record restricted to the allow-listed
// fields. Fields absent from the record are simply omitted.
func (r LogRecord) Project(allow []string) LogRecord {
	out := make(LogRecord, len(allow))
	for _, f := range allow {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Field returns the named field rendered as a string, or "" when absent.
func (r LogRecord) Field(name string) string {
	v, ok := r[name]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Flush triggers recorded on a batch.
const (
	TriggerSize     = "size"
	TriggerInterval = "interval"
	TriggerShutdown = "shutdown"
)

// Batch is a bounded, ordered group of records flushed together.
// Sequence numbers are assigned at flush time and increase monotonically.
// A flushed batch is immutable and owned by exactly one dispatch flow.
type Batch struct {
	Sequence  uint64      `json:"sequence"`
	Records   []LogRecord `json:"records"`
	OpenedAt  time.Time   `json:"opened_at"`
	FlushedAt time.Time   `json:"flushed_at"`
	Trigger   string      `json:"trigger"`
}

// Size returns the record count of the batch.
func (b *Batch) Size() int {
	return len(b.Records)
}

// Age reports how long the batch was open before it flushed.
func (b *Batch) Age() time.Duration {
	return b.FlushedAt.Sub(b.OpenedAt)
}

// AnalysisRequest is the point-in-time snapshot of one batch handed to
// the analyzer: records projected to the configured field allow-list,
// insertion order preserved. The same request is reused across retries
// of its batch and never shared beyond them.
type AnalysisRequest struct {
	Records   []LogRecord `json:"records"`
	BatchSize int         `json:"batch_size"`
}

// NewAnalysisRequest projects every record of the batch onto the field
// allow-list. An empty allow-list passes records through unprojected.
func NewAnalysisRequest(b *Batch, allow []string) *AnalysisRequest {
	req := &AnalysisRequest{
		Records:   make([]LogRecord, 0, len(b.Records)),
		BatchSize: len(b.Records),
	}
	for _, rec := range b.Records {
		if len(allow) == 0 {
			req.Records = append(req.Records, rec)
			continue
		}
		req.Records = append(req.Records, rec.Project(allow))
	}
	return req
}

// AnalysisResult is the analyzer's decoded response for one request.
type AnalysisResult struct {
	Findings []Finding `json:"findings"`
}

// Report is emitted per successfully analyzed batch.
type Report struct {
	BatchSequence uint64    `json:"batch_sequence"`
	RecordCount   int       `json:"record_count"`
	Findings      []Finding `json:"findings"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// DispatchFailure is emitted exactly once for every batch dropped
// without analysis, whether retries were exhausted, the response was
// unparseable, or the dispatch queue was full.
type DispatchFailure struct {
	BatchSequence uint64    `json:"batch_sequence"`
	Reason        string    `json:"reason"`
	Attempts      int       `json:"attempts"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// DefaultFieldList is the edge feed field set requested at session
// creation and allow-listed into analysis requests.
var DefaultFieldList = []string{
	"RayID",
	"EdgeStartTimestamp",
	"ClientIP",
	"ClientRequestHost",
	"ClientRequestMethod",
	"ClientRequestURI",
	"EdgeResponseStatus",
	"ClientCountry",
	"ClientASN",
	"ClientASNDescription",
	"ClientRequestUserAgent",
	"FirewallMatchesActions",
	"FirewallMatchesRuleIDs",
	"FirewallMatchesSources",
	"WAFAction",
	"WAFRuleID",
	"WAFRuleMessage",
	"SecurityLevelAction",
	"ClientRequestReferer",
	"ClientRequestBytes",
	"EdgeResponseBytes",
}
