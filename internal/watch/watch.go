// Package watch reloads the repository when another process rewrites the
// file-backed store.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events a single atomic write causes
// (temp file create, write, rename).
const DefaultDebounce = 150 * time.Millisecond

// Watcher calls OnChange after files in a directory settle.
type Watcher struct {
	dir      string
	match    func(name string) bool
	debounce time.Duration
	onChange func(ctx context.Context) error
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before OnChange runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFiles limits the watcher to the given base names.
func WithFiles(names ...string) Option {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(w *Watcher) {
		w.match = func(name string) bool { return set[filepath.Base(name)] }
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher on dir.
func New(dir string, onChange func(ctx context.Context) error, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		match:    func(string) bool { return true },
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory, not the file: atomic renames replace the inode.
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Debug("watching store directory", "dir", w.dir)

	var (
		mu    sync.Mutex
		timer *time.Timer
		wg    sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		mu.Unlock()
		wg.Wait()
	}()

	fire := func() {
		defer wg.Done()
		if err := w.onChange(ctx); err != nil {
			w.logger.Warn("reload after store change failed", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.match(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			mu.Lock()
			if timer == nil || !timer.Stop() {
				wg.Add(1)
			}
			timer = time.AfterFunc(w.debounce, fire)
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}
