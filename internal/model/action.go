package model

import "fmt"

// ActionKind identifies a remediation.
type ActionKind string

const (
	ActionKillProcess     ActionKind = "kill_process"
	ActionQuarantineFile  ActionKind = "quarantine_file"
	ActionBlockConnection ActionKind = "block_connection"
	ActionLogAlert        ActionKind = "log_alert"
)

// ParseActionKind maps a string to an ActionKind. Fail-closed: unknown kinds
// are rejected at the boundary.
func ParseActionKind(s string) (ActionKind, error) {
	switch ActionKind(s) {
	case ActionKillProcess, ActionQuarantineFile, ActionBlockConnection, ActionLogAlert:
		return ActionKind(s), nil
	default:
		return "", fmt.Errorf("unknown action kind %q", s)
	}
}

// Action is a remediation against one resource. Dispatched at most once per
// approved resolution.
type Action struct {
	Kind   ActionKind        `json:"kind"`
	Target string            `json:"target"`
	Params map[string]string `json:"params,omitempty"`
}

// OutcomeStatus is the dispatch result class.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome reports what happened when an action was dispatched. Failure
// carries a reason and is never silently swallowed.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}
