// Package approval answers escalations from an attached terminal. It is
// one writer to the gate's reply channel; the HTTP API is another. Without
// a terminal the prompter stays silent and escalations fall through to the
// gate timeout, which denies.
package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/archiegate/guardian/internal/gate"
)

// pollInterval is how often the prompter checks for new escalations.
const pollInterval = 500 * time.Millisecond

// Gate is the escalation surface the prompter drives.
type Gate interface {
	Pending() []gate.Escalation
	Resolve(id string, approved bool) error
}

// Prompter asks the operator about pending escalations, one at a time.
type Prompter struct {
	gate  Gate
	in    io.Reader
	out   io.Writer
	asked map[string]bool
}

// New creates a prompter reading stdin and writing stderr.
func New(g Gate) *Prompter {
	return &Prompter{gate: g, in: os.Stdin, out: os.Stderr, asked: map[string]bool{}}
}

// Interactive reports whether a terminal is attached to stdin.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Run polls for escalations until ctx is cancelled. Call only when
// Interactive() is true; prompting without a terminal would deny everything
// through timeouts anyway, just noisily.
func (p *Prompter) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range p.gate.Pending() {
				if p.asked[e.ID] {
					continue
				}
				p.asked[e.ID] = true
				p.ask(e)
			}
		}
	}
}

// ask blocks on operator input for one escalation. An unreadable answer
// denies; approvals must be explicit.
func (p *Prompter) ask(e gate.Escalation) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "=== APPROVAL REQUIRED ===")
	fmt.Fprintf(p.out, "Event:  %s\n", e.EventID)
	fmt.Fprintf(p.out, "Threat: %s (score %d)\n", e.Level, e.Score)
	fmt.Fprintf(p.out, "Action: %s %s\n", e.Action.Kind, e.Action.Target)
	for _, r := range e.Rationale {
		fmt.Fprintf(p.out, "  - %s\n", r)
	}

	approved := p.readAnswer()
	if err := p.gate.Resolve(e.ID, approved); err != nil {
		// Timed out or answered elsewhere while we were waiting.
		fmt.Fprintf(p.out, "escalation %s already resolved\n", e.ID)
	}
}

func (p *Prompter) readAnswer() bool {
	reader := bufio.NewReader(p.in)
	for {
		fmt.Fprint(p.out, "Approve? [y/N]: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.TrimSpace(strings.ToLower(input)) {
		case "y", "yes":
			return true
		case "", "n", "no":
			return false
		default:
			fmt.Fprintln(p.out, "answer y or n")
		}
	}
}
