package analyzer

import (
	"context"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/kumarabd/gokit/logger"
	"google.golang.org/genai"

	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// Client sends batch snapshots to Gemini and decodes the threats the
// model reports through forced function calling.
type Client struct {
	config *Config
	log    *logger.Handler
	gen    *genai.Client
}

// New creates the analyzer client. The API key falls back to the
// GEMINI_API_KEY environment variable when absent from config.
func New(ctx context.Context, cfg *Config, log *logger.Handler) (*Client, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("analyzer: no API key configured")
	}

	gen, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: client init failed: %w", err)
	}

	return &Client{
		config: cfg,
		log:    log,
		gen:    gen,
	}, nil
}

// Analyze submits one request snapshot and returns the decoded
// findings. Zero findings is a normal outcome.
func (c *Client) Analyze(ctx context.Context, req *logtypes.AnalysisRequest) (*logtypes.AnalysisResult, error) {
	if req == nil || len(req.Records) == 0 {
		return &logtypes.AnalysisResult{Findings: []logtypes.Finding{}}, nil
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer: request encoding failed: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resp, err := c.gen.Models.GenerateContent(tctx, c.config.Model, genai.Text(prompt), c.generateConfig())
	if err != nil {
		return nil, fmt.Errorf("analyzer call failed: %w", err)
	}

	result, err := decodeResponse(resp)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Int("records", req.BatchSize).
		Int("findings", len(result.Findings)).
		Msg("batch analyzed")
	return result, nil
}

func (c *Client) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Tools: []*genai.Tool{reportTool()},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{reportFunctionName},
			},
		},
		Temperature: genai.Ptr[float32](0.2),
	}
}

// buildPrompt frames the batch for the model: analyst instructions
// followed by the projected records as a JSON block.
func buildPrompt(req *logtypes.AnalysisRequest) (string, error) {
	payload, err := json.MarshalIndent(req.Records, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(len(analystInstructions) + len(payload) + 96)
	sb.WriteString(analystInstructions)
	sb.WriteString("\n\nLog Data Batch Sample (focus your analysis on these entries):\n```json\n")
	sb.Write(payload)
	sb.WriteString("\n```")
	return sb.String(), nil
}
