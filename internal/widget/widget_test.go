package widget

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/archiegate/guardian/internal/audit"
	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/queue"
)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingAuditor) Record(kind audit.Kind, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, string(kind)+": "+detail)
	return nil
}

func (r *recordingAuditor) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func testWidgetConfig(t *testing.T) config.Widgets {
	return config.Widgets{
		Enabled:      nil,
		WatchPaths:   []string{t.TempDir()},
		PollInterval: config.Duration(20 * time.Millisecond),
	}
}

func dequeueWithin(t *testing.T, q *queue.Queue, d time.Duration) model.Event {
	t.Helper()
	got := make(chan model.Event, 1)
	go func() {
		if ev, ok := q.Dequeue(); ok {
			got <- ev
		}
	}()
	select {
	case ev := <-got:
		return ev
	case <-time.After(d):
		t.Fatal("no event arrived in time")
		return model.Event{}
	}
}

func TestManagerRejectsUnknownWidgetInConfig(t *testing.T) {
	cfg := testWidgetConfig(t)
	cfg.Enabled = []string{"telepathy"}
	if _, err := NewManager(cfg, queue.New(8), nil); err == nil {
		t.Fatal("expected error for unknown widget")
	}
}

func TestEnableDisableAudited(t *testing.T) {
	rec := &recordingAuditor{}
	m, err := NewManager(testWidgetConfig(t), queue.New(8), rec)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Enable(model.SourceScanEngine); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := m.Disable(model.SourceScanEngine); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	if !rec.contains("WIDGET_ENABLED: scan_engine") {
		t.Errorf("missing enable entry: %v", rec.entries)
	}
	if !rec.contains("WIDGET_DISABLED: scan_engine") {
		t.Errorf("missing disable entry: %v", rec.entries)
	}
}

func TestEnableIdempotent(t *testing.T) {
	rec := &recordingAuditor{}
	m, err := NewManager(testWidgetConfig(t), queue.New(8), rec)
	if err != nil {
		t.Fatal(err)
	}

	_ = m.Enable(model.SourceScanEngine)
	_ = m.Enable(model.SourceScanEngine)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 1 {
		t.Errorf("entries = %v, want single WIDGET_ENABLED", rec.entries)
	}
}

func TestStatusSorted(t *testing.T) {
	cfg := testWidgetConfig(t)
	cfg.Enabled = []string{model.SourceProcessMonitor}
	m, err := NewManager(cfg, queue.New(8), nil)
	if err != nil {
		t.Fatal(err)
	}

	status := m.Status()
	if len(status) != 4 {
		t.Fatalf("status rows = %d, want 4", len(status))
	}
	for i := 1; i < len(status); i++ {
		if status[i-1].Name >= status[i].Name {
			t.Errorf("status not sorted: %v", status)
		}
	}
	for _, s := range status {
		want := s.Name == model.SourceProcessMonitor
		if s.Enabled != want {
			t.Errorf("%s enabled = %v", s.Name, s.Enabled)
		}
	}
}

func TestFileIntegrityEmitsOnChange(t *testing.T) {
	dir := t.TempDir()
	cfg := testWidgetConfig(t)
	cfg.WatchPaths = []string{dir}
	cfg.Enabled = []string{model.SourceFileIntegrity}

	q := queue.New(32)
	m, err := NewManager(cfg, q, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := os.WriteFile(filepath.Join(dir, "new.conf"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := dequeueWithin(t, q, 3*time.Second)
	if ev.Source != model.SourceFileIntegrity {
		t.Errorf("source = %s", ev.Source)
	}
	if ev.Payload["path"] != filepath.Join(dir, "new.conf") {
		t.Errorf("path = %q", ev.Payload["path"])
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Error("event missing identity fields")
	}
}

// waitForCalls blocks until the shared snapshot counter reaches n, so tests
// can mutate the fake source only after the widget has taken its baseline.
func waitForCalls(t *testing.T, mu *sync.Mutex, calls *int, n int) {
	t.Helper()
	for i := 0; i < 400; i++ {
		mu.Lock()
		c := *calls
		mu.Unlock()
		if c >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot polled fewer than %d times", n)
}

func drainUntilClosed(t *testing.T, ch <-chan model.Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after Stop")
		}
	}
}

func TestProcessMonitorDiffsPIDSets(t *testing.T) {
	var mu sync.Mutex
	procs := map[int]string{100: "/usr/bin/sshd"}
	calls := 0

	w := &processMonitor{
		interval: 10 * time.Millisecond,
		snapshot: func() (map[int]string, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			out := make(map[int]string, len(procs))
			for k, v := range procs {
				out[k] = v
			}
			return out, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Baseline round must not emit for pre-existing processes.
	waitForCalls(t, &mu, &calls, 1)
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for baseline process: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	procs[4242] = "/tmp/powershell.exe -enc SQBFAFgA"
	mu.Unlock()

	select {
	case ev := <-w.Events():
		if ev.Type != "process_spawn" {
			t.Errorf("type = %s", ev.Type)
		}
		if ev.Payload["pid"] != "4242" {
			t.Errorf("pid = %s", ev.Payload["pid"])
		}
		if ev.Payload["name"] != "powershell.exe" {
			t.Errorf("name = %s", ev.Payload["name"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no spawn event")
	}
}

func TestProcessMonitorRestartsAfterStop(t *testing.T) {
	var mu sync.Mutex
	procs := map[int]string{100: "/usr/bin/sshd"}
	calls := 0

	w := &processMonitor{
		interval: 10 * time.Millisecond,
		snapshot: func() (map[int]string, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			out := make(map[int]string, len(procs))
			for k, v := range procs {
				out[k] = v
			}
			return out, nil
		},
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	first := w.Events()
	w.Stop()
	drainUntilClosed(t, first)

	if err := w.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer w.Stop()

	mu.Lock()
	base := calls
	mu.Unlock()
	waitForCalls(t, &mu, &calls, base+1)

	mu.Lock()
	procs[4242] = "/tmp/dropper"
	mu.Unlock()

	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("restarted channel closed prematurely")
		}
		if ev.Payload["pid"] != "4242" {
			t.Errorf("pid = %s", ev.Payload["pid"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after restart")
	}
}

func TestNetworkSnifferReportsNewRemotes(t *testing.T) {
	var mu sync.Mutex
	conns := []connection{{Local: "10.0.0.5:55000", Remote: "142.250.74.46:443"}}
	calls := 0

	w := &networkSniffer{
		interval: 10 * time.Millisecond,
		snapshot: func() ([]connection, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return append([]connection(nil), conns...), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Only mutate after the baseline snapshot, or the new remote would be
	// seeded as already seen.
	waitForCalls(t, &mu, &calls, 1)
	mu.Lock()
	conns = append(conns, connection{Local: "10.0.0.5:55001", Remote: "203.0.113.9:4444"})
	mu.Unlock()

	select {
	case ev := <-w.Events():
		if ev.Payload["remote_address"] != "203.0.113.9:4444" {
			t.Errorf("remote = %s", ev.Payload["remote_address"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connection event")
	}

	// The same remote must not be reported twice.
	select {
	case ev := <-w.Events():
		t.Fatalf("duplicate event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReenabledWidgetKeepsEmitting(t *testing.T) {
	dir := t.TempDir()
	cfg := testWidgetConfig(t)
	cfg.WatchPaths = []string{dir}
	cfg.Enabled = []string{model.SourceFileIntegrity}

	q := queue.New(32)
	m, err := NewManager(cfg, q, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.Disable(model.SourceFileIntegrity); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if err := m.Enable(model.SourceFileIntegrity); err != nil {
		t.Fatalf("Enable after Disable: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "dropper.sh"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := dequeueWithin(t, q, 3*time.Second)
	if ev.Source != model.SourceFileIntegrity {
		t.Errorf("source = %s", ev.Source)
	}
}

func TestParseProcNetTCP(t *testing.T) {
	table := `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 12345 1 0000000000000000 100 0 0 10 0
   1: 0500000A:D6D8 2E4AFA8E:01BB 01 00000000:00000000 00:00000000 00000000  1000        0 12346 1 0000000000000000 20 4 30 10 -1
`
	conns, err := parseProcNetTCP(strings.NewReader(table))
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 1 {
		t.Fatalf("conns = %v, want 1 established", conns)
	}
	if conns[0].Remote != "142.250.74.46:443" {
		t.Errorf("remote = %s", conns[0].Remote)
	}
	if conns[0].Local != "10.0.0.5:55000" {
		t.Errorf("local = %s", conns[0].Local)
	}
}

func TestScanEngineAction(t *testing.T) {
	w := &scanEngine{
		command: "clamscan",
		run: func(_ context.Context, command, path string) (string, error) {
			return path + ": Unix.Trojan.Mirai FOUND\n", errors.New("exit status 1")
		},
		events: make(chan model.Event, 16),
	}

	summary, err := w.HandleAction(context.Background(), "scan", map[string]string{"path": "/tmp/dropper"})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if !strings.Contains(summary, "1 detection") {
		t.Errorf("summary = %q", summary)
	}

	select {
	case ev := <-w.Events():
		if ev.Source != model.SourceScanEngine || ev.Payload["signature"] != "Unix.Trojan.Mirai" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no detection event emitted")
	}
}

func TestScanEngineCleanScan(t *testing.T) {
	w := &scanEngine{
		command: "clamscan",
		run: func(context.Context, string, string) (string, error) {
			return "/tmp/ok: OK\n", nil
		},
		events: make(chan model.Event, 16),
	}

	summary, err := w.HandleAction(context.Background(), "scan", map[string]string{"path": "/tmp/ok"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "clean") {
		t.Errorf("summary = %q", summary)
	}
}

func TestScanEngineRestartReopensChannel(t *testing.T) {
	w := &scanEngine{
		command: "clamscan",
		run: func(_ context.Context, command, path string) (string, error) {
			return path + ": Unix.Trojan.Mirai FOUND\n", nil
		},
		events: make(chan model.Event, 16),
	}

	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := w.HandleAction(context.Background(), "scan", map[string]string{"path": "/tmp/d"}); err != nil {
		t.Fatalf("HandleAction after restart: %v", err)
	}
	select {
	case ev := <-w.Events():
		if ev.Payload["signature"] != "Unix.Trojan.Mirai" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no event after restart")
	}
	w.Stop()
}

func TestScanEngineRequiresPath(t *testing.T) {
	w := &scanEngine{command: "clamscan", run: execScanner, events: make(chan model.Event, 1)}
	if _, err := w.HandleAction(context.Background(), "scan", nil); err == nil {
		t.Fatal("expected error without path")
	}
}

func TestActionOnNonHandlerWidget(t *testing.T) {
	m, err := NewManager(testWidgetConfig(t), queue.New(8), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Action(context.Background(), model.SourceProcessMonitor, "scan", nil); err == nil {
		t.Fatal("expected error for widget without action support")
	}
}

type stubWidget struct {
	ch chan model.Event
}

func (s *stubWidget) Name() string                { return "stub" }
func (s *stubWidget) Start(context.Context) error { return nil }
func (s *stubWidget) Stop()                       {}
func (s *stubWidget) Events() <-chan model.Event  { return s.ch }

func TestPumpDropsMalformedEvents(t *testing.T) {
	q := queue.New(8)
	m := &Manager{queue: q}

	ch := make(chan model.Event, 2)
	ch <- model.Event{Type: "orphan"} // no source
	ch <- model.Event{Source: model.SourceScanEngine, Type: "scan_detection"}
	close(ch)

	m.pump(&stubWidget{ch: ch})

	ev, ok := q.Dequeue()
	if !ok {
		t.Fatal("valid event did not reach the queue")
	}
	if ev.Source != model.SourceScanEngine || ev.ID == "" {
		t.Errorf("event = %+v", ev)
	}

	q.Close()
	if extra, ok := q.Dequeue(); ok {
		t.Errorf("malformed event reached the queue: %+v", extra)
	}
}
