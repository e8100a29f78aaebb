package analyzer

import (
	json "github.com/goccy/go-json"
	"google.golang.org/genai"

	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// threatArgs mirrors the function-call argument schema.
type threatArgs struct {
	Threats []struct {
		EntityType      string  `json:"entity_type"`
		EntityValue     string  `json:"entity_value"`
		Reason          string  `json:"reason"`
		SuggestedAction string  `json:"suggested_action"`
		ConfidenceScore float64 `json:"confidence_score"`
	} `json:"threats"`
}

// decodeResponse extracts reported threats from a model response. A
// response without the report call means the model found nothing; a
// report call with undecodable arguments is a ParseError.
func decodeResponse(resp *genai.GenerateContentResponse) (*logtypes.AnalysisResult, error) {
	if resp == nil {
		return nil, &ParseError{Reason: "empty response"}
	}

	for _, call := range resp.FunctionCalls() {
		if call.Name != reportFunctionName {
			continue
		}
		return decodeThreatArgs(call.Args)
	}

	return &logtypes.AnalysisResult{Findings: []logtypes.Finding{}}, nil
}

func decodeThreatArgs(args map[string]any) (*logtypes.AnalysisResult, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &ParseError{Reason: "arguments not serializable", Err: err}
	}

	var decoded threatArgs
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &ParseError{Reason: "threat arguments malformed", Err: err}
	}

	findings := make([]logtypes.Finding, 0, len(decoded.Threats))
	for _, t := range decoded.Threats {
		f := logtypes.Finding{
			Subject:     t.EntityValue,
			SubjectType: t.EntityType,
			Reason:      t.Reason,
			Action:      logtypes.Action(t.SuggestedAction),
			Confidence:  t.ConfidenceScore,
		}
		f.Normalize()
		findings = append(findings, f)
	}

	return &logtypes.AnalysisResult{Findings: findings}, nil
}
