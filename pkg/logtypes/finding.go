package logtypes

// Action is the closed set of suggested responses a finding can carry.
type Action string

const (
	ActionBlock     Action = "block"
	ActionChallenge Action = "challenge"
	ActionAllow     Action = "allow"
	ActionMonitor   Action = "monitor"
)

// NormalizeAction maps a raw suggested-action string onto the closed
// set. Anything missing or unrecognized becomes ActionMonitor, the
// conservative default: a finding is never rejected for a bad action.
func NormalizeAction(raw string) Action {
	switch Action(raw) {
	case ActionBlock, ActionChallenge, ActionAllow, ActionMonitor:
		return Action(raw)
	default:
		return ActionMonitor
	}
}

// Finding is one structured threat determination produced by the
// analyzer for a batch. Subject identifies the suspicious entity (an
// IP, user agent, ASN or URI pattern), SubjectType names which kind.
type Finding struct {
	Subject     string  `json:"subject"`
	SubjectType string  `json:"subject_type,omitempty"`
	Reason      string  `json:"reason"`
	Action      Action  `json:"action"`
	Confidence  float64 `json:"confidence"`
}

// Normalize enforces the finding invariants in place: action drawn from
// the closed set, confidence clamped to [0,1].
func (f *Finding) Normalize() {
	f.Action = NormalizeAction(string(f.Action))
	if f.Confidence < 0 {
		f.Confidence = 0
	}
	if f.Confidence > 1 {
		f.Confidence = 1
	}
}
