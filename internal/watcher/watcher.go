// Package watcher turns file system events in a vault into note changes, and
// debounces them before they reach the indexer.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/vault"
)

// DefaultRenameWindow is how long a renamed note waits for its new name to
// appear before it is reported as removed.
const DefaultRenameWindow = 250 * time.Millisecond

// Handlers receives note events. Nil handlers are skipped.
type Handlers struct {
	OnChange func(id string)
	OnRemove func(id string)
	// OnRename is called when a note disappears and a note appears right
	// after it, which is how fsnotify reports a move.
	OnRename func(oldID, newID string)
}

// Watcher watches every non-excluded directory of a vault.
type Watcher struct {
	vault        *vault.Vault
	handlers     Handlers
	renameWindow time.Duration
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	renamed      *pendingRename
	done         chan struct{}
	started      bool
	stopOnce     sync.Once
	logger       *zap.Logger // optional
}

type pendingRename struct {
	id    string
	timer *time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithRenameWindow overrides DefaultRenameWindow.
func WithRenameWindow(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.renameWindow = d
		}
	}
}

// NewWatcher creates a watcher for v.
func NewWatcher(v *vault.Vault, handlers Handlers, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		vault:        v,
		handlers:     handlers,
		renameWindow: DefaultRenameWindow,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if err := w.addTreeLocked(w.vault.Root()); err != nil {
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Debug("Watching vault", zap.String("root", w.vault.Root()))
	}
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Warn("Watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	id, ok := w.vault.IDForPath(ev.Name)
	if !ok {
		return
	}
	if w.logger != nil {
		w.logger.Debug("Watcher event", zap.String("op", ev.Op.String()), zap.String("id", id))
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(ev.Name, id)
			}
			return
		}
		if !w.vault.Contains(id) {
			return
		}
		if ev.Has(fsnotify.Create) {
			if oldID, ok := w.takeRename(); ok && oldID != id {
				w.emitRename(oldID, id)
				return
			}
		}
		w.emitChange(id)
	case ev.Has(fsnotify.Rename):
		if w.vault.Contains(id) {
			w.holdRename(id)
		}
	case ev.Has(fsnotify.Remove):
		if w.vault.Contains(id) {
			w.emitRemove(id)
		}
	}
}

// holdRename keeps id until a Create pairs with it or the window passes.
func (w *Watcher) holdRename(id string) {
	w.mu.Lock()
	prev := w.renamed
	p := &pendingRename{id: id}
	p.timer = time.AfterFunc(w.renameWindow, func() {
		w.mu.Lock()
		expired := w.renamed == p
		if expired {
			w.renamed = nil
		}
		w.mu.Unlock()
		if expired {
			w.emitRemove(id)
		}
	})
	w.renamed = p
	w.mu.Unlock()

	if prev != nil && prev.timer.Stop() {
		w.emitRemove(prev.id)
	}
}

func (w *Watcher) takeRename() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.renamed
	if p == nil || !p.timer.Stop() {
		return "", false
	}
	w.renamed = nil
	return p.id, true
}

func (w *Watcher) emitChange(id string) {
	if w.handlers.OnChange != nil {
		w.handlers.OnChange(id)
	}
}

func (w *Watcher) emitRemove(id string) {
	if w.handlers.OnRemove != nil {
		w.handlers.OnRemove(id)
	}
}

func (w *Watcher) emitRename(oldID, newID string) {
	if w.logger != nil {
		w.logger.Debug("Note moved", zap.String("from", oldID), zap.String("to", newID))
	}
	if w.handlers.OnRename != nil {
		w.handlers.OnRename(oldID, newID)
		return
	}
	w.emitRemove(oldID)
	w.emitChange(newID)
}

// handleNewDirectory watches a directory created or moved into the vault and
// reports every note already inside it.
func (w *Watcher) handleNewDirectory(dirPath, id string) {
	if w.vault.ExcludesDir(id) {
		return
	}
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if err := w.addTreeLocked(dirPath); err != nil && w.logger != nil {
		w.logger.Debug("Failed to watch directory", zap.String("path", dirPath), zap.Error(err))
	}
	w.mu.Unlock()

	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		noteID, ok := w.vault.IDForPath(p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if w.vault.ExcludesDir(noteID) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.vault.Contains(noteID) {
			w.emitChange(noteID)
		}
		return nil
	})
}

// addTreeLocked adds root and every non-excluded directory below it.
func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if id, ok := w.vault.IDForPath(p); ok && w.vault.ExcludesDir(id) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

// WatchList returns the directories currently watched.
func (w *Watcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.WatchList()
}

// Stop stops the watcher and releases resources. A rename still waiting for
// its pair is dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.renamed != nil {
		w.renamed.timer.Stop()
		w.renamed = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
