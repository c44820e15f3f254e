package domain

// IntentType is the kind of intent the scorer attributed to a visitor.
// Unknown values reported by the scorer are kept as-is.
type IntentType string

const (
	IntentNone       IntentType = ""
	IntentPricing    IntentType = "pricing"
	IntentTechnical  IntentType = "technical"
	IntentEvaluation IntentType = "evaluation"
)

// IntentStatus is the latest scorer view of a session.
type IntentStatus struct {
	ThresholdCrossed bool       `json:"thresholdCrossed"`
	IntentType       IntentType `json:"intentType"`
	Confidence       float64    `json:"confidence"`
}

// Normalize clamps confidence into [0,1].
func (s IntentStatus) Normalize() IntentStatus {
	switch {
	case s.Confidence < 0 || s.Confidence != s.Confidence:
		s.Confidence = 0
	case s.Confidence > 1:
		s.Confidence = 1
	}
	return s
}
