// Package widget holds the sensors that feed the pipeline. Widgets are
// registered in a fixed table at build time; enabling, disabling, and
// starting them goes through the Manager, which pumps every sensor event
// into the shared queue.
package widget

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/archiegate/guardian/internal/audit"
	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/queue"
)

// Widget is one sensor. Start begins emission on a fresh channel; Stop
// halts it and closes that channel. Start and Stop may alternate any number
// of times, so a disabled widget can be enabled again. Events returns the
// channel of the current run.
type Widget interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Events() <-chan model.Event
}

// ActionHandler is implemented by widgets that accept operator commands
// (e.g. triggering a scan).
type ActionHandler interface {
	HandleAction(ctx context.Context, action string, params map[string]string) (string, error)
}

// Auditor records widget state changes. *audit.Log satisfies it.
type Auditor interface {
	Record(kind audit.Kind, detail string) error
}

// Constructor builds one widget from configuration.
type Constructor func(cfg config.Widgets) (Widget, error)

// builtins is the fixed widget table. Adding a sensor means adding a row
// here; nothing is discovered at runtime.
func builtins() map[string]Constructor {
	return map[string]Constructor{
		model.SourceFileIntegrity:  newFileIntegrity,
		model.SourceProcessMonitor: newProcessMonitor,
		model.SourceNetworkSniffer: newNetworkSniffer,
		model.SourceScanEngine:     newScanEngine,
	}
}

// Manager owns the widget set and their lifecycle.
type Manager struct {
	queue   *queue.Queue
	auditor Auditor

	mu      sync.Mutex
	widgets map[string]Widget
	enabled map[string]bool
	running map[string]bool
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewManager constructs every registered widget. Widgets named in
// cfg.Enabled start enabled; the rest exist but stay idle until enabled.
func NewManager(cfg config.Widgets, q *queue.Queue, auditor Auditor) (*Manager, error) {
	m := &Manager{
		queue:   q,
		auditor: auditor,
		widgets: make(map[string]Widget),
		enabled: make(map[string]bool),
		running: make(map[string]bool),
	}
	for name, build := range builtins() {
		w, err := build(cfg)
		if err != nil {
			return nil, fmt.Errorf("widget %s: %w", name, err)
		}
		m.widgets[name] = w
	}
	for _, name := range cfg.Enabled {
		if _, ok := m.widgets[name]; !ok {
			return nil, fmt.Errorf("widget: unknown widget %q in config", name)
		}
		m.enabled[name] = true
	}
	return m, nil
}

// Start launches every enabled widget and begins pumping their events into
// the queue. Later Enable calls start widgets immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	names := make([]string, 0, len(m.enabled))
	for name := range m.enabled {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.startWidget(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Enable turns a widget on. If the manager is running, the widget starts
// immediately.
func (m *Manager) Enable(name string) error {
	m.mu.Lock()
	w, ok := m.widgets[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("widget: unknown widget %q", name)
	}
	already := m.enabled[name]
	m.enabled[name] = true
	ctx := m.ctx
	m.mu.Unlock()

	if already {
		return nil
	}
	m.record(audit.KindWidgetEnabled, name)

	if ctx != nil {
		return m.startWidget(ctx, w.Name())
	}
	return nil
}

// Disable turns a widget off and stops it if running.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	w, ok := m.widgets[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("widget: unknown widget %q", name)
	}
	wasEnabled := m.enabled[name]
	wasRunning := m.running[name]
	m.enabled[name] = false
	m.running[name] = false
	m.mu.Unlock()

	if !wasEnabled {
		return nil
	}
	m.record(audit.KindWidgetDisabled, name)
	if wasRunning {
		w.Stop()
	}
	return nil
}

// Status reports each widget's enabled state, sorted by name.
func (m *Manager) Status() []WidgetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WidgetStatus, 0, len(m.widgets))
	for name := range m.widgets {
		out = append(out, WidgetStatus{Name: name, Enabled: m.enabled[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WidgetStatus is one row of Status output.
type WidgetStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Action forwards an operator command to a widget that accepts them.
func (m *Manager) Action(ctx context.Context, widget, action string, params map[string]string) (string, error) {
	m.mu.Lock()
	w, ok := m.widgets[widget]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("widget: unknown widget %q", widget)
	}
	h, ok := w.(ActionHandler)
	if !ok {
		return "", fmt.Errorf("widget: %s does not accept actions", widget)
	}
	return h.HandleAction(ctx, action, params)
}

// Stop halts all running widgets and waits for their pumps to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	var toStop []Widget
	for name, w := range m.widgets {
		if m.running[name] {
			m.running[name] = false
			toStop = append(toStop, w)
		}
	}
	m.mu.Unlock()

	for _, w := range toStop {
		w.Stop()
	}
	m.wg.Wait()
}

func (m *Manager) startWidget(ctx context.Context, name string) error {
	m.mu.Lock()
	w := m.widgets[name]
	if m.running[name] {
		m.mu.Unlock()
		return nil
	}
	m.running[name] = true
	m.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		m.mu.Lock()
		m.running[name] = false
		m.mu.Unlock()
		return fmt.Errorf("widget %s: %w", name, err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pump(w)
	}()
	return nil
}

// pump moves one widget's events into the shared queue until the widget's
// channel closes.
func (m *Manager) pump(w Widget) {
	for ev := range w.Events() {
		if ev.ID == "" {
			ev = model.NewEvent(ev.Source, ev.Type, ev.Payload)
		}
		if err := ev.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "guardian: %s: dropping malformed event: %v\n", w.Name(), err)
			continue
		}
		_ = m.queue.Enqueue(ev)
	}
}

func (m *Manager) record(kind audit.Kind, detail string) {
	if m.auditor != nil {
		_ = m.auditor.Record(kind, detail)
	}
}
