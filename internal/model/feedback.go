package model

import "fmt"

// Verdict is the user's judgement on a past assessment.
type Verdict string

const (
	VerdictFalsePositive   Verdict = "false_positive"
	VerdictConfirmedThreat Verdict = "confirmed_threat"
	VerdictMissedDetails   Verdict = "missed_details"
)

// ParseVerdict maps a string to a Verdict, rejecting unknown values.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictFalsePositive, VerdictConfirmedThreat, VerdictMissedDetails:
		return Verdict(s), nil
	default:
		return "", fmt.Errorf("unknown feedback verdict %q (valid: false_positive, confirmed_threat, missed_details)", s)
	}
}

// FeedbackRecord adjusts future scoring. It never mutates the historical
// assessment it refers to.
type FeedbackRecord struct {
	EventID string  `json:"event_id"`
	Source  string  `json:"source,omitempty"`
	Type    string  `json:"type,omitempty"`
	Verdict Verdict `json:"verdict"`
}
