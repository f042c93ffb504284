package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kanren/internal/vault"
)

type events struct {
	mu      sync.Mutex
	changed []string
	removed []string
	renamed [][2]string
}

func (e *events) handlers() Handlers {
	return Handlers{
		OnChange: func(id string) {
			e.mu.Lock()
			e.changed = append(e.changed, id)
			e.mu.Unlock()
		},
		OnRemove: func(id string) {
			e.mu.Lock()
			e.removed = append(e.removed, id)
			e.mu.Unlock()
		},
		OnRename: func(oldID, newID string) {
			e.mu.Lock()
			e.renamed = append(e.renamed, [2]string{oldID, newID})
			e.mu.Unlock()
		},
	}
}

func (e *events) has(list func(*events) []string, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, x := range list(e) {
		if x == id {
			return true
		}
	}
	return false
}

func changedIDs(e *events) []string { return e.changed }
func removedIDs(e *events) []string { return e.removed }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, root string, opts ...WatcherOption) *events {
	t.Helper()
	v, err := vault.New(vault.Options{Root: root}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ev := &events{}
	w := NewWatcher(v, ev.handlers(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return ev
}

func TestWatcher_changeAndRemove(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, "daily")); err != nil {
		t.Fatal(err)
	}
	ev := startWatcher(t, dir)

	if err := writeFile(filepath.Join(dir, "daily", "today.md"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "image.png"), "binary"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "change event", func() bool { return ev.has(changedIDs, "daily/today.md") })

	if err := os.Remove(filepath.Join(dir, "daily", "today.md")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "remove event", func() bool { return ev.has(removedIDs, "daily/today.md") })

	if ev.has(changedIDs, "image.png") {
		t.Error("non-note file reported")
	}
}

func TestWatcher_ignoresExcludedDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, ".obsidian")); err != nil {
		t.Fatal(err)
	}
	ev := startWatcher(t, dir)

	if err := writeFile(filepath.Join(dir, ".obsidian", "workspace.md"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "note.md"), "x"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "note change", func() bool { return ev.has(changedIDs, "note.md") })
	if ev.has(changedIDs, ".obsidian/workspace.md") {
		t.Error("excluded note reported")
	}
}

func TestWatcher_renamePairsWithCreate(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "old.md"), "content"); err != nil {
		t.Fatal(err)
	}
	ev := startWatcher(t, dir, WithRenameWindow(time.Second))

	if err := os.Rename(filepath.Join(dir, "old.md"), filepath.Join(dir, "new.md")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "rename event", func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.renamed) == 1
	})
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.renamed[0] != [2]string{"old.md", "new.md"} {
		t.Errorf("renamed = %v", ev.renamed)
	}
	if len(ev.removed) != 0 {
		t.Errorf("rename should not report a removal: %v", ev.removed)
	}
}

func TestWatcher_renameOutOfVaultIsRemoval(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := writeFile(filepath.Join(dir, "gone.md"), "content"); err != nil {
		t.Fatal(err)
	}
	ev := startWatcher(t, dir, WithRenameWindow(50*time.Millisecond))

	if err := os.Rename(filepath.Join(dir, "gone.md"), filepath.Join(outside, "gone.md")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "remove after rename window", func() bool { return ev.has(removedIDs, "gone.md") })
}

func TestWatcher_newDirectoryReportsNotes(t *testing.T) {
	dir := t.TempDir()
	ev := startWatcher(t, dir)

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.md"), "deep content"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "nested note", func() bool { return ev.has(changedIDs, "level1/level2/deep.md") })
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	v, err := vault.New(vault.Options{Root: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWatcher(v, Handlers{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(w.WatchList()) != 1 {
		t.Errorf("WatchList = %v", w.WatchList())
	}
	w.Stop()
	w.Stop()
	if w.WatchList() != nil {
		t.Error("expected no watches after Stop")
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
