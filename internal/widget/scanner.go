package widget

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
)

// scanRunner executes the external scanner and returns its combined output.
type scanRunner func(ctx context.Context, command, path string) (string, error)

// scanEngine wraps an external malware scanner. It emits nothing on its
// own; scans are triggered through HandleAction and detections become
// events.
type scanEngine struct {
	command string
	run     scanRunner

	mu     sync.Mutex
	events chan model.Event
	closed bool
}

func newScanEngine(cfg config.Widgets) (Widget, error) {
	return &scanEngine{
		command: cfg.ScanCommand,
		run:     execScanner,
		events:  make(chan model.Event, 64),
	}, nil
}

func (w *scanEngine) Name() string { return model.SourceScanEngine }

func (w *scanEngine) Events() <-chan model.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// Start reopens the event channel if a previous Stop closed it, so a
// disabled widget can be enabled again.
func (w *scanEngine) Start(context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.events = make(chan model.Event, 64)
		w.closed = false
	}
	w.mu.Unlock()
	return nil
}

func (w *scanEngine) Stop() {
	w.mu.Lock()
	if !w.closed {
		close(w.events)
		w.closed = true
	}
	w.mu.Unlock()
}

// emit delivers a detection unless the widget is stopped or its buffer is
// full. A scan racing a disable must not hit a closed channel.
func (w *scanEngine) emit(ev model.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
	}
}

// HandleAction runs a scan and feeds any detections into the pipeline.
// Returns a human-readable summary for the operator.
func (w *scanEngine) HandleAction(ctx context.Context, action string, params map[string]string) (string, error) {
	if action != "scan" {
		return "", fmt.Errorf("scan_engine: unknown action %q", action)
	}
	path := params["path"]
	if path == "" {
		return "", fmt.Errorf("scan_engine: scan requires path=<target>")
	}
	if w.command == "" {
		return "", fmt.Errorf("scan_engine: no scan_command configured")
	}

	output, err := w.run(ctx, w.command, path)
	if err != nil {
		// Scanners exit non-zero on detection; output still carries the
		// findings, so parse before giving up.
		if output == "" {
			return "", fmt.Errorf("scan_engine: %w", err)
		}
	}

	detections := parseDetections(output)
	for file, signature := range detections {
		w.emit(model.NewEvent(model.SourceScanEngine, "scan_detection", map[string]string{
			"path":      file,
			"signature": signature,
		}))
	}

	if len(detections) == 0 {
		return fmt.Sprintf("scan of %s clean", path), nil
	}
	return fmt.Sprintf("scan of %s found %d detection(s)", path, len(detections)), nil
}

// execScanner shells out to the configured command.
func execScanner(ctx context.Context, command, path string) (string, error) {
	out, err := exec.CommandContext(ctx, command, path).CombinedOutput()
	return string(out), err
}

// parseDetections reads clamscan-style output: "<file>: <signature> FOUND".
func parseDetections(output string) map[string]string {
	detections := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		file, rest, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		detections[file] = strings.TrimSuffix(rest, " FOUND")
	}
	return detections
}
