package config

import (
	"fmt"
	"time"

	config_pkg "github.com/kumarabd/gokit/config"

	"github.com/kumarabd/detection-plane/internal/metrics"
	"github.com/kumarabd/detection-plane/pkg/analyzer"
	"github.com/kumarabd/detection-plane/pkg/logtypes"
	"github.com/kumarabd/detection-plane/pkg/pipeline"
	"github.com/kumarabd/detection-plane/pkg/report"
	"github.com/kumarabd/detection-plane/pkg/server"
	"github.com/kumarabd/detection-plane/pkg/service"
	"github.com/kumarabd/detection-plane/pkg/sink/rawlog"
	"github.com/kumarabd/detection-plane/pkg/source"
)

var (
	ApplicationName    = "detection-plane"
	ApplicationVersion = "dev"
)

type Config struct {
	Server   *server.Config   `json:"server,omitempty" yaml:"server,omitempty"`
	Service  *service.Config  `json:"service" yaml:"service"`
	Analyzer *analyzer.Config `json:"analyzer" yaml:"analyzer"`
	Metrics  *metrics.Options `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// New creates a new config instance
func New() (*Config, error) {
	// Create default config object
	configObject := &Config{
		Server: &server.Config{
			HTTP: &server.HTTPConfig{
				Host:         "0.0.0.0",
				Port:         "8080",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				Bounds: &server.BoundsConfig{
					MaxBodyBytes:  1 << 20,
					FindingsLimit: 100,
				},
			},
		},
		Service: &service.Config{
			Pipeline: &pipeline.Config{
				MaxBatchSize:           15,
				MaxBatchInterval:       15 * time.Second,
				MaxDispatchConcurrency: 4,
				MaxRetryAttempts:       3,
				RetryBackoffBase:       2 * time.Second,
				QueueSize:              64,
				ShutdownGrace:          5 * time.Second,
				FieldAllowList:         logtypes.DefaultFieldList,
			},
			Source: &source.Config{
				Mode:              source.ModeNone,
				APIBase:           "https://api.cloudflare.com/client/v4",
				Sample:            100,
				SessionTTL:        55 * time.Minute,
				SessionRetryDelay: 30 * time.Second,
				ReconnectDelay:    10 * time.Second,
				ReplayDelay:       100 * time.Millisecond,
			},
			Report: &report.Config{
				Output:    report.OutputStdout,
				StoreTTL:  15 * time.Minute,
				HubBuffer: 32,
			},
			Rawlog: &rawlog.Config{
				Buffer:        1024,
				FlushInterval: 2 * time.Second,
			},
		},
		Analyzer: &analyzer.Config{
			Model:          "gemini-2.5-pro-preview-05-06",
			RequestTimeout: 30 * time.Second,
		},
		Metrics: &metrics.Options{},
	}

	// Load config using gokit config package
	finalConfig, err := config_pkg.New(configObject)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Safe type assertion
	if finalConfig == nil {
		return nil, fmt.Errorf("config is nil")
	}

	cfg, ok := finalConfig.(*Config)
	if !ok {
		return nil, fmt.Errorf("config type assertion failed: expected *Config, got %T", finalConfig)
	}

	return cfg, nil
}
