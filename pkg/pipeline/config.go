package pipeline

import (
	"fmt"
	"time"
)

// Config contains configuration for the batching and dispatch pipeline
type Config struct {
	MaxBatchSize           int           `json:"max_batch_size" yaml:"max_batch_size" default:"15"`
	MaxBatchInterval       time.Duration `json:"max_batch_interval" yaml:"max_batch_interval" default:"15s"`
	MaxDispatchConcurrency int           `json:"max_dispatch_concurrency" yaml:"max_dispatch_concurrency" default:"4"`
	MaxRetryAttempts       int           `json:"max_retry_attempts" yaml:"max_retry_attempts" default:"3"`
	RetryBackoffBase       time.Duration `json:"retry_backoff_base" yaml:"retry_backoff_base" default:"2s"`
	QueueSize              int           `json:"queue_size" yaml:"queue_size" default:"64"`
	ShutdownGrace          time.Duration `json:"shutdown_grace" yaml:"shutdown_grace" default:"5s"`
	FieldAllowList         []string      `json:"field_allow_list" yaml:"field_allow_list"`
}

// Validate checks the configured bounds before a pipeline is built.
func (c *Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be > 0, got %d", c.MaxBatchSize)
	}
	if c.MaxBatchInterval <= 0 {
		return fmt.Errorf("max_batch_interval must be > 0, got %s", c.MaxBatchInterval)
	}
	if c.MaxDispatchConcurrency <= 0 {
		return fmt.Errorf("max_dispatch_concurrency must be > 0, got %d", c.MaxDispatchConcurrency)
	}
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("max_retry_attempts must be >= 0, got %d", c.MaxRetryAttempts)
	}
	if c.RetryBackoffBase < 0 {
		return fmt.Errorf("retry_backoff_base must be >= 0, got %s", c.RetryBackoffBase)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0, got %d", c.QueueSize)
	}
	return nil
}
