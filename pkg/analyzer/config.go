package analyzer

import (
	"time"
)

// Config contains configuration for the analyzer client
type Config struct {
	Model          string        `json:"model" yaml:"model" default:"gemini-2.5-pro-preview-05-06"`
	APIKey         string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" default:"30s"`
}
