package model

// ThreatLevel grades an assessment.
type ThreatLevel string

const (
	LevelLow    ThreatLevel = "low"
	LevelMedium ThreatLevel = "medium"
	LevelHigh   ThreatLevel = "high"
)

// ThreatAssessment is the scorer's verdict on one event. Created once,
// never mutated; a re-score produces a new assessment that supersedes it.
type ThreatAssessment struct {
	EventID           string      `json:"event_id"`
	Score             int         `json:"score"`
	Level             ThreatLevel `json:"level"`
	Rationale         []string    `json:"rationale"`
	RecommendedAction *Action     `json:"recommended_action,omitempty"`
	Degraded          bool        `json:"degraded,omitempty"`
}
