package audience

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounceInterval = 500 * time.Millisecond

// Watcher reloads a ContextCache when its file changes and then calls
// OnChange.
type Watcher struct {
	cache    *ContextCache
	onChange func()
	debounce time.Duration

	timer   *time.Timer
	timerMu sync.Mutex
}

func NewWatcher(cache *ContextCache, onChange func()) *Watcher {
	return &Watcher{
		cache:    cache,
		onChange: onChange,
		debounce: DefaultDebounceInterval,
	}
}

// Run watches the directory holding the device file until ctx is done.
// Editors often replace files instead of writing them in place, so the
// directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsWatcher.Close()

	dir := filepath.Dir(w.cache.Path())
	if err := fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.Info("Watching device file", "path", w.cache.Path())

	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.cache.Path()) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	slog.Debug("Device file changed", "path", event.Name, "op", event.Op.String())

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	if err := w.cache.Load(); err != nil {
		slog.Warn("Keeping previous device context", "error", err)
		return
	}
	if w.onChange != nil {
		w.onChange()
	}
}

func (w *Watcher) stopTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
