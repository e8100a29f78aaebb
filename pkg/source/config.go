package source

import (
	"fmt"
	"time"
)

// Source selection modes.
const (
	ModeCloudflare = "cloudflare"
	ModeReplay     = "replay"
	ModeNone       = "none"
)

// Config contains configuration for the record source
type Config struct {
	Mode string `json:"mode" yaml:"mode" default:"none"`

	// Cloudflare Instant Logs session settings.
	APIBase           string        `json:"api_base" yaml:"api_base" default:"https://api.cloudflare.com/client/v4"`
	ZoneID            string        `json:"zone_id,omitempty" yaml:"zone_id,omitempty"`
	APIToken          string        `json:"api_token,omitempty" yaml:"api_token,omitempty"`
	Sample            int           `json:"sample" yaml:"sample" default:"100"`
	Filter            string        `json:"filter,omitempty" yaml:"filter,omitempty"`
	Fields            []string      `json:"fields,omitempty" yaml:"fields,omitempty"`
	SessionTTL        time.Duration `json:"session_ttl" yaml:"session_ttl" default:"55m"`
	SessionRetryDelay time.Duration `json:"session_retry_delay" yaml:"session_retry_delay" default:"30s"`
	ReconnectDelay    time.Duration `json:"reconnect_delay" yaml:"reconnect_delay" default:"10s"`

	// Replay settings.
	ReplayPath  string        `json:"replay_path,omitempty" yaml:"replay_path,omitempty"`
	ReplayDelay time.Duration `json:"replay_delay" yaml:"replay_delay" default:"100ms"`
}

// Validate checks the settings the selected mode depends on.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeNone:
		return nil
	case ModeCloudflare:
		if c.ZoneID == "" || c.APIToken == "" {
			return fmt.Errorf("source: cloudflare mode requires zone_id and api_token")
		}
		if c.SessionTTL <= 0 {
			return fmt.Errorf("source: session_ttl must be > 0, got %s", c.SessionTTL)
		}
		return nil
	case ModeReplay:
		if c.ReplayPath == "" {
			return fmt.Errorf("source: replay mode requires replay_path")
		}
		return nil
	default:
		return fmt.Errorf("source: unknown mode %q", c.Mode)
	}
}
