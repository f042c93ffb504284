package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/hyperjump/kanren/internal/index"
	"github.com/hyperjump/kanren/internal/metadata"
)

// exerciseBackend runs the Backend contract through a LocalIndex and a second
// LocalIndex reopened on the same backend.
func exerciseBackend(t *testing.T, b index.Backend) {
	t.Helper()
	ctx := context.Background()

	ok, err := b.IndexInitialized(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("fresh backend should not be initialized")
	}
	if _, err := b.RetrieveIndex(ctx); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	idx := index.New(b)
	if err := idx.CreateIndex(ctx, index.CreateConfig{MetadataConfig: index.MetadataConfig{Indexed: []string{"id"}}}); err != nil {
		t.Fatal(err)
	}
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	items := []index.Item{
		{ID: "b.md", Vector: []float32{0, 1}, ContentHash: "0000000b", UpdatedAt: stamp,
			Metadata: metadata.Document{"id": metadata.String("b.md"), "words": metadata.Number(12)}},
		{ID: "a.md", Vector: []float32{3, 4}, ContentHash: "0000000a", UpdatedAt: stamp,
			Metadata: metadata.Document{"id": metadata.String("a.md"), "pinned": metadata.Bool(true)}},
	}
	for _, it := range items {
		if _, err := idx.UpsertItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	reopened := index.New(b)
	data, err := reopened.LoadIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if data.Version != index.CurrentVersion {
		t.Errorf("version = %d", data.Version)
	}
	if len(data.MetadataConfig.Indexed) != 1 || data.MetadataConfig.Indexed[0] != "id" {
		t.Errorf("metadata config = %+v", data.MetadataConfig)
	}
	if len(data.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(data.Items))
	}
	if data.Items[0].ID != "b.md" || data.Items[1].ID != "a.md" {
		t.Errorf("insertion order lost: %s, %s", data.Items[0].ID, data.Items[1].ID)
	}
	a := data.Items[1]
	if a.Vector[0] != 3 || a.Vector[1] != 4 || a.Norm != 5 {
		t.Errorf("vector/norm = %v/%v", a.Vector, a.Norm)
	}
	if a.ContentHash != "0000000a" || !a.UpdatedAt.Equal(stamp) {
		t.Errorf("hash/time = %s/%v", a.ContentHash, a.UpdatedAt)
	}
	if !a.Metadata["pinned"].Equal(metadata.Bool(true)) {
		t.Errorf("metadata = %v", a.Metadata)
	}
	if !data.Items[0].Metadata["words"].Equal(metadata.Number(12)) {
		t.Errorf("metadata = %v", data.Items[0].Metadata)
	}

	if removed, err := idx.DeleteItem(ctx, "b.md"); err != nil || !removed {
		t.Fatalf("DeleteItem: %v %v", removed, err)
	}
	stored, err := b.RetrieveIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 1 || stored.Items[0].ID != "a.md" {
		t.Errorf("after delete: %+v", stored.Items)
	}

	if err := idx.DropIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.IndexInitialized(ctx); ok {
		t.Error("backend should not be initialized after drop")
	}
	if err := idx.CreateIndex(ctx, index.CreateConfig{}); err != nil {
		t.Fatalf("create after drop: %v", err)
	}
	stored, err = b.RetrieveIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 0 {
		t.Errorf("recreated index should be empty, got %d items", len(stored.Items))
	}
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "index.json")
	exerciseBackend(t, NewFileBackend(path, time.Second, nil))
}

func TestSQLiteBackend(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "data", "index.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	exerciseBackend(t, b)

	n, err := b.CountItems(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("CountItems = %d after recreate, want 0", n)
	}
}

func TestBoltBackend(t *testing.T) {
	b, err := NewBoltBackend(filepath.Join(t.TempDir(), "index.bolt"), time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	exerciseBackend(t, b)
}

func TestNew_memory(t *testing.T) {
	b, err := New(Options{Backend: KindMemory}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	exerciseBackend(t, b)
}

func TestNew_unknown(t *testing.T) {
	if _, err := New(Options{Backend: "postgres"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFileBackend_lockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	b := NewFileBackend(path, 300*time.Millisecond, nil)

	holder := flock.New(path + ".lock")
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not take lock: %v", err)
	}
	defer holder.Unlock()

	err = b.UpdateIndex(context.Background(), &index.Data{Version: 1})
	if !errors.Is(err, errLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestFileBackend_corruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	b := NewFileBackend(path, time.Second, nil)
	if err := b.UpdateIndex(context.Background(), &index.Data{Version: 1}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := b.RetrieveIndex(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDecodeVector_badLength(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated blob")
	}
	v, err := decodeVector(encodeVector([]float32{1.5, -2}))
	if err != nil || len(v) != 2 || v[0] != 1.5 || v[1] != -2 {
		t.Fatalf("decode = %v, %v", v, err)
	}
}

func TestOptions_Paths(t *testing.T) {
	o := Options{Backend: KindSQLite, DatabasePath: "/tmp/x.db"}
	paths := o.Paths()
	if len(paths) != 3 || paths[1] != "/tmp/x.db-wal" {
		t.Errorf("sqlite paths = %v", paths)
	}
	if got := (Options{Backend: KindMemory}).Paths(); got != nil {
		t.Errorf("memory paths = %v", got)
	}
}
