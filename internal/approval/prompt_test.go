package approval

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/archiegate/guardian/internal/gate"
	"github.com/archiegate/guardian/internal/model"
)

type fakeGate struct {
	mu       sync.Mutex
	pending  []gate.Escalation
	resolved map[string]bool
}

func (f *fakeGate) Pending() []gate.Escalation { return f.pending }

func (f *fakeGate) Resolve(id string, approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved == nil {
		f.resolved = map[string]bool{}
	}
	f.resolved[id] = approved
	return nil
}

func escalation(id string) gate.Escalation {
	return gate.Escalation{
		ID:      id,
		EventID: "ev-1",
		Action:  model.Action{Kind: model.ActionKillProcess, Target: "pid:4242"},
		Score:   85,
		Level:   model.LevelHigh,
		Rationale: []string{
			"suspicious binary powershell.exe",
		},
	}
}

func newTestPrompter(g Gate, input string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Prompter{gate: g, in: strings.NewReader(input), out: out, asked: map[string]bool{}}, out
}

func TestAskApproves(t *testing.T) {
	g := &fakeGate{}
	p, out := newTestPrompter(g, "y\n")

	p.ask(escalation("esc-1"))

	if approved, ok := g.resolved["esc-1"]; !ok || !approved {
		t.Errorf("resolved = %v", g.resolved)
	}
	if !strings.Contains(out.String(), "kill_process pid:4242") {
		t.Errorf("prompt output = %q", out.String())
	}
}

func TestAskDeniesByDefault(t *testing.T) {
	g := &fakeGate{}
	p, _ := newTestPrompter(g, "\n")

	p.ask(escalation("esc-1"))

	if approved, ok := g.resolved["esc-1"]; !ok || approved {
		t.Errorf("empty answer must deny, resolved = %v", g.resolved)
	}
}

func TestAskDeniesOnClosedInput(t *testing.T) {
	g := &fakeGate{}
	p, _ := newTestPrompter(g, "")

	p.ask(escalation("esc-1"))

	if approved, ok := g.resolved["esc-1"]; !ok || approved {
		t.Errorf("EOF must deny, resolved = %v", g.resolved)
	}
}

func TestAskRetriesOnGarbage(t *testing.T) {
	g := &fakeGate{}
	p, out := newTestPrompter(g, "wat\ny\n")

	p.ask(escalation("esc-1"))

	if approved := g.resolved["esc-1"]; !approved {
		t.Error("expected approval after retry")
	}
	if !strings.Contains(out.String(), "answer y or n") {
		t.Errorf("missing retry hint: %q", out.String())
	}
}
