package widget

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
)

// processMonitor polls the process table and reports new processes by
// diffing PID sets between rounds. The first round only seeds the baseline.
type processMonitor struct {
	interval time.Duration
	snapshot func() (map[int]string, error) // pid -> command line

	mu     sync.Mutex
	events chan model.Event
	cancel context.CancelFunc
}

func newProcessMonitor(cfg config.Widgets) (Widget, error) {
	interval := cfg.PollInterval.Std()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &processMonitor{
		interval: interval,
		snapshot: procfsSnapshot,
		events:   make(chan model.Event, 64),
	}, nil
}

func (w *processMonitor) Name() string { return model.SourceProcessMonitor }

func (w *processMonitor) Events() <-chan model.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// Start begins a polling round on a fresh event channel, so a stopped
// widget can be enabled again. The run goroutine owns the channel it was
// given and closes it on exit.
func (w *processMonitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan model.Event, 64)

	w.mu.Lock()
	w.cancel = cancel
	w.events = events
	w.mu.Unlock()

	go w.run(ctx, events)
	return nil
}

func (w *processMonitor) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *processMonitor) run(ctx context.Context, events chan<- model.Event) {
	defer close(events)

	known, err := w.snapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: process_monitor: %v\n", err)
		known = map[int]string{}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := w.snapshot()
			if err != nil {
				fmt.Fprintf(os.Stderr, "guardian: process_monitor: %v\n", err)
				continue
			}
			for pid, cmdline := range current {
				if _, ok := known[pid]; ok {
					continue
				}
				ev := model.NewEvent(model.SourceProcessMonitor, "process_spawn", map[string]string{
					"pid":     strconv.Itoa(pid),
					"name":    commandName(cmdline),
					"cmdline": cmdline,
				})
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
			known = current
		}
	}
}

// procfsSnapshot reads /proc for the live PID set. Linux-only at runtime.
func procfsSnapshot() (map[int]string, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	procs := make(map[int]string, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
		if err != nil || len(cmdline) == 0 {
			// Kernel threads have no cmdline; use comm instead.
			comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
			if err != nil {
				continue
			}
			procs[pid] = strings.TrimSpace(string(comm))
			continue
		}
		procs[pid] = string(bytes.ReplaceAll(bytes.TrimRight(cmdline, "\x00"), []byte{0}, []byte{' '}))
	}
	return procs, nil
}

// commandName extracts the bare executable name from a command line.
func commandName(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return cmdline
	}
	return filepath.Base(fields[0])
}
