// Package audit is the append-only decision trail. One line per entry,
// `[ISO-8601 timestamp] EVENT_TYPE: details`, always single-line so the
// file stays parseable by line-oriented tooling. Writes are serialized so
// the log reflects causal order within one event's lifecycle.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Kind is an audit entry type. The vocabulary is fixed; new kinds are a
// format change, not a runtime decision.
type Kind string

const (
	KindStartup          Kind = "STARTUP"
	KindShutdown         Kind = "SHUTDOWN"
	KindInterrupt        Kind = "INTERRUPT"
	KindWidgetEnabled    Kind = "WIDGET_ENABLED"
	KindWidgetDisabled   Kind = "WIDGET_DISABLED"
	KindEventReceived    Kind = "EVENT_RECEIVED"
	KindAssessment       Kind = "ASSESSMENT"
	KindEscalation       Kind = "ESCALATION"
	KindPermissionChange Kind = "PERMISSION_CHANGE"
	KindUserApproval     Kind = "USER_APPROVAL"
	KindUserFeedback     Kind = "USER_FEEDBACK"
	KindActionExecuted   Kind = "ACTION_EXECUTED"
	KindProcessed        Kind = "PROCESSED"
	KindDenied           Kind = "DENIED"
	KindFailed           Kind = "FAILED"
)

// Log appends audit entries to a single file. Safe for concurrent use;
// the internal lock is what preserves causal ordering.
type Log struct {
	path string
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// Open opens (or creates) the audit log for appending.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{path: path, file: file, now: time.Now}, nil
}

// Record appends one entry. Embedded newlines in detail are flattened to
// keep the entry on a single line.
func (l *Log) Record(kind Kind, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	detail = strings.ReplaceAll(detail, "\n", " ")
	line := fmt.Sprintf("[%s] %s: %s\n", l.now().UTC().Format(time.RFC3339), kind, detail)

	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// Recordf is Record with formatting.
func (l *Log) Recordf(kind Kind, format string, args ...any) error {
	return l.Record(kind, fmt.Sprintf(format, args...))
}

// Tail returns the last n lines of the log, oldest first.
func (l *Log) Tail(n int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}
	return lines, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
