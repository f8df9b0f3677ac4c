package model

import "fmt"

// PermissionLevel is the user's authorized action ceiling. Exactly one value
// is active per running instance; changes are atomic total replacements.
type PermissionLevel string

const (
	PermObserve     PermissionLevel = "observe"
	PermAlert       PermissionLevel = "alert"
	PermAnalyze     PermissionLevel = "analyze"
	PermIsolate     PermissionLevel = "isolate"
	PermAutoRespond PermissionLevel = "auto_respond"
)

// PermRank maps permission levels to a comparable integer for ordering:
// OBSERVE < ALERT < ANALYZE < ISOLATE < AUTO_RESPOND.
var PermRank = map[PermissionLevel]int{
	PermObserve:     0,
	PermAlert:       1,
	PermAnalyze:     2,
	PermIsolate:     3,
	PermAutoRespond: 4,
}

// Satisfies reports whether p grants at least the required level.
func (p PermissionLevel) Satisfies(required PermissionLevel) bool {
	return PermRank[p] >= PermRank[required]
}

// ParsePermissionLevel maps a string to a PermissionLevel. Unknown strings
// are rejected, never coerced; at startup this is fatal.
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	switch PermissionLevel(s) {
	case PermObserve, PermAlert, PermAnalyze, PermIsolate, PermAutoRespond:
		return PermissionLevel(s), nil
	default:
		return "", fmt.Errorf("unknown permission level %q (valid: observe, alert, analyze, isolate, auto_respond)", s)
	}
}
