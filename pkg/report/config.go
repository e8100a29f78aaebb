package report

import (
	"fmt"
	"time"
)

// Output modes for completed reports.
const (
	OutputStdout = "stdout"
	OutputNDJSON = "ndjson"
	OutputNone   = "none"
)

// Config contains configuration for the report emitter
type Config struct {
	Output     string        `json:"output" yaml:"output" default:"stdout"`
	OutputPath string        `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	StoreTTL   time.Duration `json:"store_ttl" yaml:"store_ttl" default:"15m"`
	HubBuffer  int           `json:"hub_buffer" yaml:"hub_buffer" default:"32"`
}

// Validate checks the emitter settings.
func (c *Config) Validate() error {
	switch c.Output {
	case OutputStdout, OutputNone:
		return nil
	case OutputNDJSON:
		if c.OutputPath == "" {
			return fmt.Errorf("report: ndjson output requires output_path")
		}
		return nil
	default:
		return fmt.Errorf("report: unknown output %q", c.Output)
	}
}
