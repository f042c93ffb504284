package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/config"
	"github.com/hyperjump/kanren/internal/embedding"
	"github.com/hyperjump/kanren/internal/index"
	"github.com/hyperjump/kanren/internal/indexer"
	"github.com/hyperjump/kanren/internal/models"
	"github.com/hyperjump/kanren/internal/vault"
)

func newTestServer(t *testing.T, notes map[string]string) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	for id, content := range notes {
		p := filepath.Join(dir, filepath.FromSlash(id))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	v, err := vault.New(vault.Options{Root: dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(8)
	t.Cleanup(func() { _ = embedder.Close() })
	idx := indexer.NewIndexer(index.New(index.NewMemoryBackend()), v, embedder)

	cfg := &config.Config{
		Vault:   config.VaultConfig{Path: dir},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
	}
	config.ApplyDefaults(cfg)
	srv := NewServer(idx, cfg, zap.NewNop())
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
}

var sampleNotes = map[string]string{
	"alpha.md":       "# Alpha\nNotes about alpha.",
	"beta.md":        "Beta is the second letter.",
	"daily/today.md": "Groceries and errands.",
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]string
	decode(t, w, &out)
	if out["status"] != "ok" {
		t.Errorf("body: %v", out)
	}
}

func TestHandleSyncAndStatus(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)

	w := do(t, h, http.MethodPost, "/api/v1/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res indexer.SyncResult
	decode(t, w, &res)
	if res.Scanned != 3 || res.Indexed != 3 || res.Failed != 0 {
		t.Errorf("sync result: %+v", res)
	}

	w = do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var status models.StatusResponse
	decode(t, w, &status)
	if status.Notes != 3 || status.Backend != config.BackendMemory || status.Dimensions != 384 {
		t.Errorf("status response: %+v", status)
	}
	if status.UpdatePending {
		t.Error("no update should be open after a sync")
	}
}

func TestHandleSync_keepMissing(t *testing.T) {
	srv, h := newTestServer(t, sampleNotes)
	if w := do(t, h, http.MethodPost, "/api/v1/sync", nil); w.Code != http.StatusOK {
		t.Fatalf("sync status: got %d", w.Code)
	}
	if err := os.Remove(filepath.Join(srv.config.Vault.Path, "beta.md")); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, http.MethodPost, "/api/v1/sync", map[string]bool{"delete_missing": false})
	var res indexer.SyncResult
	decode(t, w, &res)
	if res.Removed != 0 || res.Skipped != 2 {
		t.Errorf("keep-missing sync: %+v", res)
	}

	w = do(t, h, http.MethodPost, "/api/v1/sync", "{}")
	decode(t, w, &res)
	if res.Removed != 1 {
		t.Errorf("default sync should remove the vanished note: %+v", res)
	}
}

func TestHandleSync_invalidBody(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/api/v1/sync", "not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleRelated(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)
	do(t, h, http.MethodPost, "/api/v1/sync", nil)

	w := do(t, h, http.MethodPost, "/api/v1/related", `{"note_id": "alpha.md", "min_score": -1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.RelatedResponse
	decode(t, w, &resp)
	if resp.NoteID != "alpha.md" || resp.Total != 2 || len(resp.Results) != 2 {
		t.Fatalf("response: %+v", resp)
	}
	for _, n := range resp.Results {
		if n.ID == "alpha.md" {
			t.Error("note should not be related to itself")
		}
	}
	if resp.Results[0].Score < resp.Results[1].Score {
		t.Errorf("results not sorted by score: %v, %v", resp.Results[0].Score, resp.Results[1].Score)
	}
}

func TestHandleRelated_filterAndLimit(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)
	do(t, h, http.MethodPost, "/api/v1/sync", nil)

	body := `{"text": "errands", "min_score": -1, "filter": {"folder": "daily"}}`
	w := do(t, h, http.MethodPost, "/api/v1/related", body)
	var resp models.RelatedResponse
	decode(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].ID != "daily/today.md" || resp.Results[0].Title != "today" {
		t.Errorf("filtered results: %+v", resp.Results)
	}

	w = do(t, h, http.MethodPost, "/api/v1/related", `{"text": "letters", "min_score": -1, "limit": 1}`)
	decode(t, w, &resp)
	if len(resp.Results) != 1 {
		t.Errorf("limit 1: got %d results", len(resp.Results))
	}
}

func TestHandleRelated_errors(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)
	do(t, h, http.MethodPost, "/api/v1/sync", nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"no subject", "{}", http.StatusBadRequest},
		{"min score out of range", `{"text": "x", "min_score": 3}`, http.StatusBadRequest},
		{"null filter value", `{"text": "x", "filter": {"folder": null}}`, http.StatusBadRequest},
		{"unknown note", `{"note_id": "missing.md"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/related", tt.body)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHandleRelated_emptyIndex(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)
	w := do(t, h, http.MethodPost, "/api/v1/related", `{"note_id": "alpha.md"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var resp models.RelatedResponse
	decode(t, w, &resp)
	if resp.Total != 0 || resp.Results == nil {
		t.Errorf("expected an empty result list, got %+v", resp)
	}
}

func TestHandleNotes(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)

	w := do(t, h, http.MethodPut, "/api/v1/notes/daily/today.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert status: got %d, body: %s", w.Code, w.Body.String())
	}
	var note models.NoteResponse
	decode(t, w, &note)
	if note.ID != "daily/today.md" || note.Outcome != "indexed" {
		t.Errorf("first upsert: %+v", note)
	}
	w = do(t, h, http.MethodPut, "/api/v1/notes/daily/today.md", nil)
	decode(t, w, &note)
	if note.Outcome != "unchanged" {
		t.Errorf("second upsert: %+v", note)
	}

	w = do(t, h, http.MethodPut, "/api/v1/notes/missing.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note: got %d, want 404", w.Code)
	}

	for i, want := range []bool{true, false} {
		w = do(t, h, http.MethodDelete, "/api/v1/notes/daily/today.md", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("delete %d: got %d", i, w.Code)
		}
		note = models.NoteResponse{}
		decode(t, w, &note)
		if note.Removed == nil || *note.Removed != want {
			t.Errorf("delete %d: removed = %v, want %v", i, note.Removed, want)
		}
	}
}

func TestHandleNotes_escapedID(t *testing.T) {
	_, h := newTestServer(t, map[string]string{"My Note.md": "spaces in the name"})
	w := do(t, h, http.MethodPut, "/api/v1/notes/My%20Note.md", nil)
	var note models.NoteResponse
	decode(t, w, &note)
	if w.Code != http.StatusOK || note.ID != "My Note.md" {
		t.Errorf("status %d, note %+v", w.Code, note)
	}
}

func TestHandleRenameNote(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)
	do(t, h, http.MethodPut, "/api/v1/notes/alpha.md", nil)

	w := do(t, h, http.MethodPost, "/api/v1/notes/rename", models.RenameRequest{OldID: "alpha.md", NewID: "archive/alpha.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status: got %d, body: %s", w.Code, w.Body.String())
	}
	var note models.NoteResponse
	decode(t, w, &note)
	if note.Renamed == nil || !*note.Renamed || note.ID != "archive/alpha.md" {
		t.Errorf("rename response: %+v", note)
	}

	w = do(t, h, http.MethodPost, "/api/v1/notes/rename", models.RenameRequest{OldID: "alpha.md", NewID: "other.md"})
	note = models.NoteResponse{}
	decode(t, w, &note)
	if note.Renamed == nil || *note.Renamed {
		t.Errorf("renaming a missing entry should report false: %+v", note)
	}

	w = do(t, h, http.MethodPost, "/api/v1/notes/rename", `{"old_id": "x.md"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing new_id: got %d, want 400", w.Code)
	}
}

func TestHandleRebuild(t *testing.T) {
	_, h := newTestServer(t, sampleNotes)
	do(t, h, http.MethodPost, "/api/v1/sync", nil)

	w := do(t, h, http.MethodPost, "/api/v1/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res indexer.SyncResult
	decode(t, w, &res)
	if res.Scanned != 3 || res.Indexed != 3 {
		t.Errorf("rebuild should embed every note again: %+v", res)
	}
}

func TestHandleRebuild_conflictDuringSweep(t *testing.T) {
	srv, h := newTestServer(t, sampleNotes)
	do(t, h, http.MethodPost, "/api/v1/sync", nil)

	store := srv.indexer.Store()
	if err := store.BeginUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer store.CancelUpdate()

	for _, path := range []string{"/api/v1/rebuild", "/api/v1/sync"} {
		w := do(t, h, http.MethodPost, path, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("%s during an open update: got %d, want 409", path, w.Code)
		}
	}
	items, err := store.ListItems(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Errorf("refused rebuild must not touch the index, got %d items", len(items))
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", models.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: a.md", indexer.ErrNoSuchDocument), http.StatusNotFound},
		{index.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("failed to start index update: %w", index.ErrUpdateInProgress), http.StatusConflict},
		{fmt.Errorf("%w: timeout", indexer.ErrProviderFailure), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
