// Package dispatch executes approved response actions. Execution is
// idempotent per (event, action kind): an action already completed for an
// event is never run twice. Failures are outcomes, not panics; the pipeline
// carries on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/archiegate/guardian/internal/audit"
	"github.com/archiegate/guardian/internal/model"
)

// Executor performs one action kind. Implementations must be safe for
// concurrent use.
type Executor func(ctx context.Context, action model.Action) error

// Auditor receives execution records. *audit.Log satisfies it.
type Auditor interface {
	Record(kind audit.Kind, detail string) error
}

// Dispatcher routes actions to executors and remembers completed work.
type Dispatcher struct {
	auditor   Auditor
	executors map[model.ActionKind]Executor

	mu   sync.Mutex
	done map[string]model.Outcome // eventID|kind -> completed outcome
}

// Option adjusts a Dispatcher at construction.
type Option func(*Dispatcher)

// WithExecutor replaces the executor for one action kind. Tests and
// platform-specific deployments inject through this.
func WithExecutor(kind model.ActionKind, ex Executor) Option {
	return func(d *Dispatcher) { d.executors[kind] = ex }
}

// New creates a dispatcher with the stock executors. quarantineDir receives
// quarantined files; empty means a guardian-owned directory under the
// user's home.
func New(auditor Auditor, quarantineDir string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		auditor: auditor,
		done:    make(map[string]model.Outcome),
	}
	d.executors = map[model.ActionKind]Executor{
		model.ActionKillProcess:     killProcess,
		model.ActionQuarantineFile:  quarantineFile(quarantineDir),
		model.ActionBlockConnection: blockUnconfigured,
		model.ActionLogAlert:        d.logAlert,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one approved action. A repeat of an already-successful
// (event, kind) pair returns the recorded outcome without re-executing.
func (d *Dispatcher) Execute(ctx context.Context, eventID string, action model.Action) model.Outcome {
	key := eventID + "|" + string(action.Kind)

	d.mu.Lock()
	if prev, ok := d.done[key]; ok {
		d.mu.Unlock()
		return prev
	}
	d.mu.Unlock()

	ex, ok := d.executors[action.Kind]
	if !ok {
		return d.finish(key, action, model.Outcome{
			Status: model.OutcomeFailed,
			Reason: fmt.Sprintf("no executor for action %q", action.Kind),
		})
	}

	if err := ex(ctx, action); err != nil {
		return d.finish(key, action, model.Outcome{Status: model.OutcomeFailed, Reason: err.Error()})
	}
	return d.finish(key, action, model.Outcome{Status: model.OutcomeSuccess})
}

// finish records the outcome and audits it. Only successes enter the
// idempotence table; a failed action may be retried by a later decision.
func (d *Dispatcher) finish(key string, action model.Action, out model.Outcome) model.Outcome {
	if out.Status == model.OutcomeSuccess {
		d.mu.Lock()
		d.done[key] = out
		d.mu.Unlock()
	}

	if d.auditor != nil {
		detail := fmt.Sprintf("%s %s %s", action.Kind, action.Target, out.Status)
		if out.Reason != "" {
			detail += " (" + out.Reason + ")"
		}
		_ = d.auditor.Record(audit.KindActionExecuted, detail)
	}
	return out
}

// killProcess sends SIGKILL to the PID in the target. A process that is
// already gone counts as success; the threat is no longer running either way.
func killProcess(_ context.Context, action model.Action) error {
	pidStr := strings.TrimPrefix(action.Target, "pid:")
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid target %q", action.Target)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

// quarantineFile moves the target into the quarantine directory with a
// timestamped name. Rename is atomic on the same filesystem; cross-device
// moves fail rather than leave a partial copy behind.
func quarantineFile(dir string) Executor {
	return func(_ context.Context, action model.Action) error {
		src := action.Target
		if src == "" {
			return fmt.Errorf("quarantine: empty target")
		}
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("quarantine: resolve directory: %w", err)
			}
			dir = filepath.Join(home, ".guardian", "quarantine")
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("quarantine: create directory: %w", err)
		}

		name := fmt.Sprintf("%s.%d", filepath.Base(src), time.Now().UnixNano())
		if err := os.Rename(src, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("quarantine %s: %w", src, err)
		}
		return nil
	}
}

// blockUnconfigured is the default block_connection executor. Blocking needs
// a host firewall hook; without one the action fails visibly instead of
// pretending the connection was cut.
func blockUnconfigured(_ context.Context, action model.Action) error {
	return fmt.Errorf("block %s: no firewall hook configured", action.Target)
}

// logAlert surfaces a threat that warrants attention but no active response.
func (d *Dispatcher) logAlert(_ context.Context, action model.Action) error {
	fmt.Fprintf(os.Stderr, "guardian: ALERT %s", action.Target)
	if msg := action.Params["message"]; msg != "" {
		fmt.Fprintf(os.Stderr, " (%s)", msg)
	}
	fmt.Fprintln(os.Stderr)
	return nil
}
