package report

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// Handler is the report emitter boundary. Every completed dispatch
// lands here exactly once and is routed to the TTL store, the stream
// hub, metrics, and the configured output.
type Handler struct {
	config *Config
	log    *logger.Handler
	metric *metrics.Handler
	store  *Store
	hub    *Hub

	mu   sync.Mutex
	file *os.File
}

// New creates the report handler.
func New(cfg *Config, log *logger.Handler, metric *metrics.Handler) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		config: cfg,
		log:    log,
		metric: metric,
		store:  NewStore(cfg.StoreTTL),
		hub:    NewHub(cfg.HubBuffer, log, metric),
	}

	if cfg.Output == OutputNDJSON {
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("report: output open failed: %w", err)
		}
		h.file = f
	}

	return h, nil
}

// Store exposes the TTL store backing the query API.
func (h *Handler) Store() *Store {
	return h.store
}

// Hub exposes the findings stream hub.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// EmitReport handles one successfully analyzed batch.
func (h *Handler) EmitReport(ctx context.Context, report *logtypes.Report) error {
	for _, f := range report.Findings {
		h.metric.IncFindingsTotal(string(f.Action))
	}

	event := &Event{Type: EventReport, Report: report}
	h.store.Put(event)
	h.hub.Broadcast(event)
	return h.write(event)
}

// EmitFailure handles one batch dropped without analysis.
func (h *Handler) EmitFailure(ctx context.Context, failure *logtypes.DispatchFailure) error {
	event := &Event{Type: EventDispatchFailed, Failure: failure}
	h.store.Put(event)
	h.hub.Broadcast(event)
	return h.write(event)
}

// Close disconnects stream subscribers and closes the output file.
func (h *Handler) Close() error {
	h.hub.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file != nil {
		err := h.file.Close()
		h.file = nil
		return err
	}
	return nil
}

func (h *Handler) write(event *Event) error {
	switch h.config.Output {
	case OutputStdout:
		h.writeConsole(event)
		return nil
	case OutputNDJSON:
		return h.writeNDJSON(event)
	default:
		return nil
	}
}

// writeConsole renders the event through the logger, one line per
// finding, mirroring the operator console the system is known by.
func (h *Handler) writeConsole(event *Event) {
	if event.Failure != nil {
		h.log.Error().
			Uint64("batch_sequence", event.Failure.BatchSequence).
			Int("attempts", event.Failure.Attempts).
			Str("reason", event.Failure.Reason).
			Msg("batch analysis failed")
		return
	}

	report := event.Report
	if len(report.Findings) == 0 {
		h.log.Info().
			Uint64("batch_sequence", report.BatchSequence).
			Int("records", report.RecordCount).
			Msg("batch processed, no threats reported")
		return
	}

	h.log.Info().
		Uint64("batch_sequence", report.BatchSequence).
		Int("records", report.RecordCount).
		Int("threats", len(report.Findings)).
		Msg("threats detected")
	for _, f := range report.Findings {
		h.log.Info().
			Uint64("batch_sequence", report.BatchSequence).
			Str("entity_type", f.SubjectType).
			Str("entity_value", f.Subject).
			Str("reason", f.Reason).
			Str("suggested_action", string(f.Action)).
			Float64("confidence", f.Confidence).
			Msg("threat finding")
	}
}

type ndjsonEvent struct {
	Time time.Time `json:"time"`
	*Event
}

func (h *Handler) writeNDJSON(event *Event) error {
	line, err := json.Marshal(ndjsonEvent{Time: time.Now().UTC(), Event: event})
	if err != nil {
		return fmt.Errorf("report: event encoding failed: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return fmt.Errorf("report: output closed")
	}
	if _, err := h.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("report: output write failed: %w", err)
	}
	return nil
}
