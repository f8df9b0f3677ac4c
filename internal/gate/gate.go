// Package gate is the permission authority. It owns the current
// PermissionLevel, decides which assessments need a human, and brokers
// escalations between the pipeline and whatever surface answers them.
// Everything here fails closed: no answer is a denial.
package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archiegate/guardian/internal/audit"
	"github.com/archiegate/guardian/internal/model"
)

// Resolution is the outcome of an escalation.
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionDenied   Resolution = "denied"
	ResolutionTimedOut Resolution = "timed_out"
)

// Granted reports whether the resolution permits execution.
// Only an explicit approval does.
func (r Resolution) Granted() bool { return r == ResolutionApproved }

// Escalation is one pending request for human approval.
type Escalation struct {
	ID        string            `json:"id"`
	EventID   string            `json:"event_id"`
	Action    model.Action      `json:"action"`
	Score     int               `json:"score"`
	Level     model.ThreatLevel `json:"level"`
	Rationale []string          `json:"rationale"`
	CreatedAt time.Time         `json:"created_at"`

	reply chan Resolution
}

// Auditor receives gate decisions. *audit.Log satisfies it.
type Auditor interface {
	Record(kind audit.Kind, detail string) error
}

// Gate holds the permission level and the pending escalation set.
// Safe for concurrent use.
type Gate struct {
	auditor        Auditor
	autoRespondMin int
	timeout        time.Duration

	mu      sync.Mutex
	level   model.PermissionLevel
	pending map[string]*Escalation
}

// New creates a gate at the given level. timeout bounds how long an
// unanswered escalation waits before it is treated as denied.
func New(level model.PermissionLevel, auditor Auditor, autoRespondMin int, timeout time.Duration) *Gate {
	return &Gate{
		auditor:        auditor,
		autoRespondMin: autoRespondMin,
		timeout:        timeout,
		level:          level,
		pending:        make(map[string]*Escalation),
	}
}

// Level returns the current permission level.
func (g *Gate) Level() model.PermissionLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// SetLevel replaces the permission level. The change is total and audited;
// any level may be set directly.
func (g *Gate) SetLevel(level model.PermissionLevel) error {
	if _, err := model.ParsePermissionLevel(string(level)); err != nil {
		return err
	}

	g.mu.Lock()
	old := g.level
	g.level = level
	g.mu.Unlock()

	if old != level {
		g.record(audit.KindPermissionChange, fmt.Sprintf("%s -> %s", old, level))
	}
	return nil
}

// requiredFor maps a threat level to the permission needed to act on it
// without escalation. Acting on a medium or high verdict is an isolate-class
// decision; below that tier the operator confirms it themselves.
func requiredFor(level model.ThreatLevel) model.PermissionLevel {
	switch level {
	case model.LevelHigh, model.LevelMedium:
		return model.PermIsolate
	default:
		return model.PermAlert
	}
}

// RequiresEscalation reports whether acting on the assessment needs a human.
// High threats always escalate, with one exception: at auto_respond with a
// score at or above the configured floor the action runs unattended, and
// that self-approval is audited.
func (g *Gate) RequiresEscalation(a model.ThreatAssessment) bool {
	g.mu.Lock()
	level := g.level
	g.mu.Unlock()

	if !level.Satisfies(requiredFor(a.Level)) {
		return true
	}
	if a.Level != model.LevelHigh {
		return false
	}
	if level == model.PermAutoRespond && a.Score >= g.autoRespondMin {
		action := "none"
		if a.RecommendedAction != nil {
			action = string(a.RecommendedAction.Kind)
		}
		g.record(audit.KindUserApproval, fmt.Sprintf("%s - auto_respond", action))
		return false
	}
	return true
}

// Escalate publishes the request and blocks until it is answered, the gate
// timeout elapses, or ctx is cancelled. Timeout and cancellation never grant.
func (g *Gate) Escalate(ctx context.Context, e *Escalation) Resolution {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.reply = make(chan Resolution, 1)

	g.mu.Lock()
	g.pending[e.ID] = e
	g.mu.Unlock()

	g.record(audit.KindEscalation,
		fmt.Sprintf("%s %s %s pending id=%s", e.EventID, e.Action.Kind, e.Action.Target, e.ID))

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	var res Resolution
	select {
	case res = <-e.reply:
	case <-timer.C:
		res = ResolutionTimedOut
	case <-ctx.Done():
		res = ResolutionTimedOut
	}

	g.mu.Lock()
	delete(g.pending, e.ID)
	g.mu.Unlock()

	if res == ResolutionTimedOut {
		g.record(audit.KindEscalation, fmt.Sprintf("%s id=%s timed out, treated as denial", e.EventID, e.ID))
	}
	return res
}

// Resolve answers a pending escalation. Unknown IDs (already resolved or
// expired) are an error so the caller can tell the operator.
func (g *Gate) Resolve(id string, approved bool) error {
	g.mu.Lock()
	e, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("gate: no pending escalation %q", id)
	}

	res := ResolutionDenied
	if approved {
		res = ResolutionApproved
	}
	g.record(audit.KindUserApproval, fmt.Sprintf("%s - %t", e.Action.Kind, approved))
	e.reply <- res
	return nil
}

// Pending returns a snapshot of unanswered escalations, oldest first.
func (g *Gate) Pending() []Escalation {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Escalation, 0, len(g.pending))
	for _, e := range g.pending {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (g *Gate) record(kind audit.Kind, detail string) {
	if g.auditor != nil {
		_ = g.auditor.Record(kind, detail)
	}
}
