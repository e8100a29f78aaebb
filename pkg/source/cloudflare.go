package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
	"github.com/kumarabd/detection-plane/pkg/pipeline"
)

// Cloudflare streams records from a Cloudflare Instant Logs job.
// Each job yields a short-lived WebSocket session; sessions are
// renewed before the feed's one-hour expiry, and both session
// creation and the socket itself are retried indefinitely until
// shutdown.
type Cloudflare struct {
	config *Config
	log    *logger.Handler
	metric *metrics.Handler
	client *http.Client
	dialer *websocket.Dialer
}

// NewCloudflare creates the Instant Logs source.
func NewCloudflare(cfg *Config, log *logger.Handler, metric *metrics.Handler) *Cloudflare {
	return &Cloudflare{
		config: cfg,
		log:    log,
		metric: metric,
		client: &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// sessionRequest is the Instant Logs job creation payload.
type sessionRequest struct {
	Fields string `json:"fields"`
	Sample int    `json:"sample"`
	Filter string `json:"filter"`
	Kind   string `json:"kind"`
}

// sessionResponse is the subset of the job creation response we use.
type sessionResponse struct {
	Success bool `json:"success"`
	Result  struct {
		ID              string `json:"id"`
		DestinationConf string `json:"destination_conf"`
	} `json:"result"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Run drives the session lifecycle until ctx is canceled or the
// pipeline closes. One iteration = one Instant Logs session.
func (s *Cloudflare) Run(ctx context.Context, out Acceptor) error {
	for {
		wsURL, sessionID, err := s.createSession(ctx)
		if err != nil {
			return err
		}

		sessionCtx, cancel := context.WithTimeout(ctx, s.config.SessionTTL)
		err = s.stream(sessionCtx, wsURL, sessionID, out)
		cancel()

		if errors.Is(err, pipeline.ErrPipelineClosed) {
			s.log.Info().Str("session_id", sessionID).Msg("pipeline closed, feed stopping")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Info().Str("session_id", sessionID).Msg("feed session expired, renewing")
	}
}

// createSession creates an Instant Logs job and returns its WebSocket
// destination. Failures are retried until ctx is canceled.
func (s *Cloudflare) createSession(ctx context.Context) (wsURL, sessionID string, err error) {
	url := fmt.Sprintf("%s/zones/%s/logpush/edge/jobs", s.config.APIBase, s.config.ZoneID)

	fields := s.config.Fields
	if len(fields) == 0 {
		fields = logtypes.DefaultFieldList
	}
	payload, err := json.Marshal(sessionRequest{
		Fields: strings.Join(fields, ","),
		Sample: s.config.Sample,
		Filter: s.config.Filter,
		Kind:   "instant-logs",
	})
	if err != nil {
		return "", "", fmt.Errorf("source: session payload encoding failed: %w", err)
	}

	for {
		wsURL, sessionID, err = s.postSession(ctx, url, payload)
		if err == nil {
			s.metric.IncFeedSessionsTotal("created")
			s.log.Info().
				Str("session_id", sessionID).
				Msg("instant logs session created")
			return wsURL, sessionID, nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}

		s.metric.IncFeedSessionsTotal("failed")
		s.log.Warn().Err(err).
			Dur("retry_in", s.config.SessionRetryDelay).
			Msg("instant logs session creation failed")

		timer := time.NewTimer(s.config.SessionRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Cloudflare) postSession(ctx context.Context, url string, payload []byte) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("session create returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded sessionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", "", fmt.Errorf("session response malformed: %w", err)
	}
	if !decoded.Success || decoded.Result.DestinationConf == "" {
		if len(decoded.Errors) > 0 {
			return "", "", fmt.Errorf("session create rejected: code %d: %s", decoded.Errors[0].Code, decoded.Errors[0].Message)
		}
		return "", "", fmt.Errorf("session create rejected without error detail")
	}

	wsURL := decoded.Result.DestinationConf
	parts := strings.Split(wsURL, "/")
	return wsURL, parts[len(parts)-1], nil
}

// stream connects to the session's WebSocket and pushes records until
// the session context expires. Read failures reconnect to the same
// session after ReconnectDelay.
func (s *Cloudflare) stream(ctx context.Context, wsURL, sessionID string, out Acceptor) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			s.log.Warn().Err(err).
				Str("session_id", sessionID).
				Dur("retry_in", s.config.ReconnectDelay).
				Msg("feed websocket dial failed")
			if werr := s.waitReconnect(ctx); werr != nil {
				return werr
			}
			continue
		}
		s.log.Info().Str("session_id", sessionID).Msg("feed websocket connected")

		err = s.readLoop(ctx, conn, out)
		conn.Close()
		if errors.Is(err, pipeline.ErrPipelineClosed) || ctx.Err() != nil {
			if errors.Is(err, pipeline.ErrPipelineClosed) {
				return err
			}
			return ctx.Err()
		}

		s.log.Warn().Err(err).
			Str("session_id", sessionID).
			Dur("retry_in", s.config.ReconnectDelay).
			Msg("feed websocket read failed, reconnecting")
		if werr := s.waitReconnect(ctx); werr != nil {
			return werr
		}
	}
}

// readLoop consumes frames from one connection. Malformed lines are
// counted and skipped; only socket errors and pipeline closure end
// the loop.
func (s *Cloudflare) readLoop(ctx context.Context, conn *websocket.Conn, out Acceptor) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		for _, line := range SplitFrame(frame) {
			record, err := DecodeRecord(line)
			if err != nil {
				s.metric.IncIngestRejectedTotal("malformed")
				s.log.Warn().Err(err).Msg("feed record discarded")
				continue
			}
			if err := out.Accept(record); err != nil {
				return err
			}
			s.metric.IncIngestRecordsTotal("cloudflare")
		}
	}
}

func (s *Cloudflare) waitReconnect(ctx context.Context) error {
	timer := time.NewTimer(s.config.ReconnectDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
