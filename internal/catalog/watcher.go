package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// Watcher watches the library directory and calls a reload function once the
// directory has been quiet for the debounce interval.
type Watcher struct {
	fsw      *fsnotify.Watcher
	catalog  *Catalog
	onChange func(ctx context.Context)
	debounce time.Duration
	clock    clockwork.Clock

	closeOnce sync.Once
	closeErr  error
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets how long the directory must be quiet before onChange
// fires. The default is 500ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithClock replaces the clock used for debouncing. Intended for tests.
func WithClock(c clockwork.Clock) WatcherOption {
	return func(w *Watcher) {
		w.clock = c
	}
}

// NewWatcher starts watching the catalog directory. Events are only processed
// while [Watcher.Run] is running.
func NewWatcher(c *Catalog, onChange func(ctx context.Context), opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(c.Dir()); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("catalog: watch %q: %w", c.Dir(), err)
	}
	w := &Watcher{
		fsw:      fsw,
		catalog:  c,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Close releases the fsnotify watcher. It is safe to call more than once and
// makes a running [Watcher.Run] return.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { w.closeErr = w.fsw.Close() })
	return w.closeErr
}

// Run processes file system events until ctx is cancelled or the watcher is
// closed. It closes the watcher before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	var (
		timer   clockwork.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			slog.Debug("library change detected", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = w.clock.NewTimer(w.debounce)
			pending = timer.Chan()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("library watcher error", "dir", w.catalog.Dir(), "err", err)

		case <-pending:
			pending = nil
			timer = nil
			w.onChange(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return w.catalog.Accepts(event.Name)
}
