package source

import (
	"bytes"
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/kumarabd/gokit/logger"
	"golang.org/x/text/unicode/norm"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// Acceptor is the pipeline's ingress as seen from a source.
type Acceptor interface {
	Accept(record logtypes.LogRecord) error
}

// Source pushes log records into an Acceptor until ctx is canceled or
// the pipeline closes. Connection management, authentication and
// reconnection all live behind this interface.
type Source interface {
	Run(ctx context.Context, out Acceptor) error
}

// New builds the configured source. Mode "none" returns nil: the
// HTTP inject endpoint is then the only ingress.
func New(cfg *Config, log *logger.Handler, metric *metrics.Handler) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeCloudflare:
		return NewCloudflare(cfg, log, metric), nil
	case ModeReplay:
		return NewReplay(cfg, log, metric), nil
	default:
		return nil, nil
	}
}

// DecodeRecord decodes one NDJSON line into a LogRecord. String values
// are NFC-normalized so downstream comparisons and prompts see one
// canonical form regardless of how the edge encoded them.
func DecodeRecord(line []byte) (logtypes.LogRecord, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var record logtypes.LogRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}

	for k, v := range record {
		if s, ok := v.(string); ok {
			record[k] = norm.NFC.String(s)
		}
	}
	return record, nil
}

// SplitFrame splits one feed message into its NDJSON lines. A frame
// usually carries a single record, but the feed may pack several.
func SplitFrame(frame []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}
