package rawlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// Config contains configuration for the raw log tap
type Config struct {
	Path          string        `json:"path,omitempty" yaml:"path,omitempty"`
	Buffer        int           `json:"buffer" yaml:"buffer" default:"1024"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" default:"2s"`
}

// Enabled reports whether a tap should run at all.
func (c *Config) Enabled() bool {
	return c.Path != ""
}

// Sink appends every accepted record to an NDJSON capture file. The
// tap is strictly best-effort: Offer never blocks, and when the
// buffer is full the record is counted as dropped so ingestion keeps
// its pace regardless of disk speed. Paths ending in .gz are
// gzip-compressed.
type Sink struct {
	config *Config
	log    *logger.Handler
	metric *metrics.Handler

	ch     chan logtypes.LogRecord
	file   *os.File
	gz     *gzip.Writer
	writer *bufio.Writer

	quit      chan struct{}
	finishErr error
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New opens the capture file and starts the writer goroutine.
func New(cfg *Config, log *logger.Handler, metric *metrics.Handler) (*Sink, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rawlog: open failed: %w", err)
	}

	s := &Sink{
		config: cfg,
		log:    log,
		metric: metric,
		ch:     make(chan logtypes.LogRecord, cfg.Buffer),
		quit:   make(chan struct{}),
		file:   f,
	}

	var out io.Writer = f
	if strings.HasSuffix(cfg.Path, ".gz") {
		s.gz = gzip.NewWriter(f)
		out = s.gz
	}
	s.writer = bufio.NewWriterSize(out, 64*1024)

	s.wg.Add(1)
	go s.run()

	s.log.Info().Str("path", cfg.Path).Msg("raw log tap started")
	return s, nil
}

// Offer hands a record to the tap without blocking.
func (s *Sink) Offer(record logtypes.LogRecord) {
	select {
	case s.ch <- record:
	default:
		s.metric.IncRawlogRecordsTotal("dropped")
	}
}

// Close drains buffered records and closes the file, bounded by ctx.
// The writer goroutine owns the file end to end: on grace expiry the
// drain is abandoned via quit and Close still waits for the goroutine
// to finish the file before returning.
func (s *Sink) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.ch)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			close(s.quit)
			<-done
			err = ctx.Err()
		}

		if err == nil {
			err = s.finishErr
		}
	})
	return err
}

func (s *Sink) run() {
	defer s.wg.Done()
	defer func() {
		s.finishErr = s.finish()
		if s.finishErr != nil {
			s.log.Error().Err(s.finishErr).Msg("raw log tap close failed")
		}
	}()

	flush := time.NewTicker(s.config.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case record, ok := <-s.ch:
			if !ok {
				return
			}
			s.append(record)
		case <-s.quit:
			// quit is only closed after ch, so the drain terminates.
			dropped := 0
			for range s.ch {
				s.metric.IncRawlogRecordsTotal("dropped")
				dropped++
			}
			if dropped > 0 {
				s.log.Warn().Int("dropped", dropped).Msg("raw log backlog abandoned at shutdown")
			}
			return
		case <-flush.C:
			if err := s.writer.Flush(); err != nil {
				s.log.Error().Err(err).Msg("raw log flush failed")
			}
		}
	}
}

func (s *Sink) append(record logtypes.LogRecord) {
	line, err := json.Marshal(record)
	if err != nil {
		s.metric.IncRawlogRecordsTotal("dropped")
		s.log.Warn().Err(err).Msg("raw log record encoding failed")
		return
	}
	line = append(line, '\n')
	if _, err := s.writer.Write(line); err != nil {
		s.metric.IncRawlogRecordsTotal("dropped")
		s.log.Error().Err(err).Msg("raw log write failed")
		return
	}
	s.metric.IncRawlogRecordsTotal("written")
}

func (s *Sink) finish() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("rawlog: flush failed: %w", err)
	}
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return fmt.Errorf("rawlog: gzip close failed: %w", err)
		}
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("rawlog: close failed: %w", err)
	}
	s.log.Info().Str("path", s.config.Path).Msg("raw log tap closed")
	return nil
}
