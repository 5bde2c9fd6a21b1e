package plot

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher notices rendered plot files that disappear from the plot
// directory, so a snapshot whose file was deleted is re-rendered instead of
// re-sent. A nil *Watcher reports nothing missing.
type Watcher struct {
	log *slog.Logger
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	tracked map[string]bool
	missing map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching dir.
func NewWatcher(dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := &Watcher{
		log:     logger.With("component", "plot-watcher"),
		fsw:     fsw,
		tracked: make(map[string]bool),
		missing: make(map[string]bool),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.markMissing(filepath.Clean(ev.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("plot directory watch error", "error", err)
		}
	}
}

func (w *Watcher) markMissing(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tracked[path] {
		w.missing[path] = true
		w.log.Debug("rendered plot file removed", "path", path)
	}
}

// Track starts reporting deletions of path.
func (w *Watcher) Track(path string) {
	if w == nil {
		return
	}
	path = filepath.Clean(path)
	w.mu.Lock()
	w.tracked[path] = true
	delete(w.missing, path)
	w.mu.Unlock()
}

// Forget stops tracking path. The plot manager calls it before removing a
// file itself.
func (w *Watcher) Forget(path string) {
	if w == nil {
		return
	}
	path = filepath.Clean(path)
	w.mu.Lock()
	delete(w.tracked, path)
	delete(w.missing, path)
	w.mu.Unlock()
}

// Missing reports whether the tracked file at path was deleted.
func (w *Watcher) Missing(path string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.missing[filepath.Clean(path)]
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
