package server

import (
	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/service"
)

// Config contains configuration for the ops server
type Config struct {
	HTTP *HTTPConfig `json:"http" yaml:"http"`
}

// Handler owns the server surfaces of the process. Only HTTP today;
// the split mirrors how additional listeners would hang off it.
type Handler struct {
	HTTP   *HTTP
	config *Config
	log    *logger.Handler
}

// New creates a new server handler
func New(l *logger.Handler, m *metrics.Handler, serverConfig *Config, svc *service.Handler) (*Handler, error) {
	var httpServer *HTTP
	if serverConfig.HTTP != nil {
		httpServer = NewHTTP(serverConfig.HTTP, svc, l, m)
	}

	return &Handler{
		HTTP:   httpServer,
		config: serverConfig,
		log:    l,
	}, nil
}

// Start starts the server; ch is signalled when a listener exits.
func (h *Handler) Start(ch chan struct{}) {
	if h.HTTP != nil {
		go func() {
			if err := h.HTTP.Start(); err != nil {
				h.log.Error().Err(err).Msg("HTTP server failed")
			}
			ch <- struct{}{}
		}()
	}
}
