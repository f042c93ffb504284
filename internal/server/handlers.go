package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/index"
	"github.com/hyperjump/kanren/internal/indexer"
	"github.com/hyperjump/kanren/internal/models"
	"github.com/hyperjump/kanren/internal/storage"
)

type syncRequest struct {
	DeleteMissing *bool `json:"delete_missing,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.indexer.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: index stats failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	resp := &models.StatusResponse{
		Version:       stats.Version,
		Notes:         stats.Items,
		Backend:       s.config.Storage.Backend,
		Provider:      s.config.Embedding.Provider,
		Dimensions:    s.config.Embedding.Dimensions,
		VaultPath:     s.config.Vault.Path,
		UpdatePending: s.indexer.Store().UpdateInProgress(),
		MinScore:      s.config.Related.MinScoreOrDefault(),
	}
	usage := storage.Options{
		Backend:      s.config.Storage.Backend,
		IndexPath:    s.config.Storage.IndexPath,
		DatabasePath: s.config.Storage.DatabasePath,
		BoltPath:     s.config.Storage.BoltPath,
	}
	if diskBytes, err := usage.DiskUsage(); err == nil {
		resp.DiskUsage = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	var query models.RelatedQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if query.Limit == 0 {
		query.Limit = s.config.Related.Limit
	}
	if query.MinScore == nil {
		m := s.config.Related.MinScoreOrDefault()
		query.MinScore = &m
	}
	s.logger.Debug("related request", zap.String("note_id", query.NoteID), zap.Int("limit", query.Limit))

	start := time.Now()
	notes, err := s.indexer.GetSimilarNotes(r.Context(), query)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.RelatedResponse{
		NoteID:    query.NoteID,
		Results:   notes,
		Total:     len(notes),
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleUpsertNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.noteID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("index note request", zap.String("id", id))
	outcome, err := s.indexer.UpsertNote(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.NoteResponse{ID: id, Outcome: outcome.String()})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.noteID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete note request", zap.String("id", id))
	removed, err := s.indexer.DeleteNote(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.NoteResponse{ID: id, Removed: &removed})
}

func (s *Server) handleRenameNote(w http.ResponseWriter, r *http.Request) {
	var req models.RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondFailure(w, err)
		return
	}
	s.logger.Debug("rename note request", zap.String("from", req.OldID), zap.String("to", req.NewID))
	renamed, err := s.indexer.RenameNote(r.Context(), req.OldID, req.NewID)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.NoteResponse{ID: req.NewID, Renamed: &renamed})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deleteMissing := s.config.Indexing.DeleteMissingOrDefault()
	if req.DeleteMissing != nil {
		deleteMissing = *req.DeleteMissing
	}
	progress, wait := indexer.LogProgress(s.logger, "sync")
	res, err := s.indexer.SyncVaultToIndex(r.Context(), indexer.SyncOptions{
		DeleteMissing: &deleteMissing,
		BatchSize:     s.config.Indexing.BatchSize,
		Observer:      progress,
	})
	wait()
	if err != nil {
		s.logger.Error("sync failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	progress, wait := indexer.LogProgress(s.logger, "rebuild")
	res, err := s.indexer.RebuildVaultIndex(r.Context(), indexer.SyncOptions{Observer: progress})
	wait()
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) noteID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || id == "" {
		s.respondError(w, http.StatusBadRequest, "note id is required")
		return "", false
	}
	return id, true
}

// errorStatus maps an indexer error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, indexer.ErrNoSuchDocument), errors.Is(err, index.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, index.ErrUpdateInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
