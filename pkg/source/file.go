package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/pipeline"
)

// Replay feeds a captured NDJSON file through the pipeline at a fixed
// pace. Used for development and demos; it exercises the same decode
// path as the live feed.
type Replay struct {
	config *Config
	log    *logger.Handler
	metric *metrics.Handler
}

// NewReplay creates the file replay source.
func NewReplay(cfg *Config, log *logger.Handler, metric *metrics.Handler) *Replay {
	return &Replay{
		config: cfg,
		log:    log,
		metric: metric,
	}
}

// Run replays the capture once, then returns.
func (s *Replay) Run(ctx context.Context, out Acceptor) error {
	f, err := os.Open(s.config.ReplayPath)
	if err != nil {
		return fmt.Errorf("source: replay open failed: %w", err)
	}
	defer f.Close()

	s.log.Info().Str("path", s.config.ReplayPath).Msg("replaying capture")

	pushed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := DecodeRecord(scanner.Bytes())
		if err != nil {
			s.metric.IncIngestRejectedTotal("malformed")
			s.log.Warn().Err(err).Msg("replay record discarded")
			continue
		}
		if err := out.Accept(record); err != nil {
			if errors.Is(err, pipeline.ErrPipelineClosed) {
				s.log.Info().Int("pushed", pushed).Msg("pipeline closed, replay stopping")
				return nil
			}
			return err
		}
		s.metric.IncIngestRecordsTotal("replay")
		pushed++

		if s.config.ReplayDelay > 0 {
			timer := time.NewTimer(s.config.ReplayDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("source: replay read failed: %w", err)
	}

	s.log.Info().Int("pushed", pushed).Msg("replay complete")
	return nil
}
