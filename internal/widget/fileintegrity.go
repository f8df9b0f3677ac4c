package widget

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
)

// fimDebounce batches rapid filesystem churn (editors write several times
// per save) into one event per path.
const fimDebounce = 200 * time.Millisecond

// fileIntegrity watches configured directories and reports changes.
type fileIntegrity struct {
	paths    []string
	debounce time.Duration

	mu     sync.Mutex
	events chan model.Event
	cancel context.CancelFunc
}

func newFileIntegrity(cfg config.Widgets) (Widget, error) {
	return &fileIntegrity{
		paths:    cfg.WatchPaths,
		debounce: fimDebounce,
		events:   make(chan model.Event, 64),
	}, nil
}

func (w *fileIntegrity) Name() string { return model.SourceFileIntegrity }

func (w *fileIntegrity) Events() <-chan model.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// Start opens a watcher and a fresh event channel, so a stopped widget can
// be enabled again. The run goroutine owns and closes the channel it was
// given.
func (w *fileIntegrity) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	added := 0
	for _, p := range w.paths {
		if err := watcher.Add(p); err != nil {
			fmt.Fprintf(os.Stderr, "guardian: file_integrity: cannot watch %s: %v\n", p, err)
			continue
		}
		added++
	}
	if added == 0 {
		_ = watcher.Close()
		return fmt.Errorf("no watchable paths among %v", w.paths)
	}

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan model.Event, 64)

	w.mu.Lock()
	w.cancel = cancel
	w.events = events
	w.mu.Unlock()

	go w.run(ctx, watcher, events)
	return nil
}

func (w *fileIntegrity) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run accumulates change notifications and flushes them on a single
// debounce timer, one event per path.
func (w *fileIntegrity) run(ctx context.Context, watcher *fsnotify.Watcher, events chan<- model.Event) {
	defer close(events)
	defer func() { _ = watcher.Close() }()

	var mu sync.Mutex
	pending := make(map[string]string) // path -> change type

	flush := func() {
		mu.Lock()
		batch := pending
		pending = make(map[string]string)
		mu.Unlock()

		for path, change := range batch {
			ev := model.NewEvent(model.SourceFileIntegrity, change, map[string]string{"path": path})
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			change := changeType(event.Op)
			if change == "" {
				continue
			}

			mu.Lock()
			pending[event.Name] = change
			mu.Unlock()

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "guardian: file_integrity: %v\n", err)
		}
	}
}

func changeType(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "file_created"
	case op.Has(fsnotify.Write):
		return "file_modified"
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return "file_deleted"
	case op.Has(fsnotify.Chmod):
		return "file_attrib_changed"
	default:
		return ""
	}
}
