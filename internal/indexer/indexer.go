// Package indexer keeps the note index in step with a note source: it embeds
// changed notes, drops vanished ones and answers related-notes queries.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/embedding"
	"github.com/hyperjump/kanren/internal/index"
	"github.com/hyperjump/kanren/internal/metadata"
	"github.com/hyperjump/kanren/internal/models"
	"github.com/hyperjump/kanren/internal/textutil"
	"github.com/hyperjump/kanren/internal/vault"
	"github.com/hyperjump/kanren/internal/vector"
)

var (
	// ErrNoSuchDocument is returned when the source has no note with the id.
	ErrNoSuchDocument = errors.New("no such document")
	// ErrProviderFailure wraps a failed embedding call.
	ErrProviderFailure = errors.New("embedding provider failed")
	// ErrEmbeddingUnavailable marks a note the provider produced no vector for.
	// It is reported through OutcomeUnavailable rather than returned.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)

// Metadata keys written on every note item.
const (
	MetaID     = index.MetadataIDKey
	MetaFolder = "folder"
)

// DefaultConcurrency bounds IndexAll when no option overrides it.
const DefaultConcurrency = 5

// Source provides the notes to index.
type Source interface {
	ListDocumentIDs(ctx context.Context) ([]string, error)
	// GetDocumentText returns false when the note no longer exists.
	GetDocumentText(ctx context.Context, id string) (string, bool, error)
}

// Outcome says what UpsertNote did with a note.
type Outcome int

const (
	// OutcomeIndexed means the note was embedded and stored.
	OutcomeIndexed Outcome = iota
	// OutcomeUnchanged means the stored entry already matches the note text.
	OutcomeUnchanged
	// OutcomeUnavailable means no embedding was produced and nothing was stored.
	OutcomeUnavailable
	// OutcomeRemoved means no embedding was produced and the stale entry was deleted.
	OutcomeRemoved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIndexed:
		return "indexed"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeRemoved:
		return "removed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Indexer embeds notes from a Source into a LocalIndex.
type Indexer struct {
	store       *index.LocalIndex
	source      Source
	embedder    embedding.Embedder
	concurrency int
	now         func() time.Time
	logger      *zap.Logger // optional
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for per-note decisions and sweep summaries.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = l }
}

// WithConcurrency bounds the number of notes IndexAll embeds at once.
func WithConcurrency(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// NewIndexer creates an indexer over store, reading notes from source and
// embedding them with embedder.
func NewIndexer(store *index.LocalIndex, source Source, embedder embedding.Embedder, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:       store,
		source:      source,
		embedder:    embedder,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Store returns the underlying index.
func (ix *Indexer) Store() *index.LocalIndex { return ix.store }

// EnsureIndex creates an empty index when none exists yet.
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	created, err := ix.store.IsIndexCreated(ctx)
	if err != nil {
		return err
	}
	if created {
		return nil
	}
	err = ix.store.CreateIndex(ctx, index.CreateConfig{
		MetadataConfig: index.MetadataConfig{Indexed: []string{MetaID, MetaFolder}},
	})
	if errors.Is(err, index.ErrAlreadyExists) {
		return nil
	}
	return err
}

// UpsertNote brings the entry for id up to date with the note text. Notes
// whose text hash matches the stored entry are not re-embedded. When the
// provider yields no vector any stale entry is deleted and no error is
// returned; provider errors leave the index untouched.
func (ix *Indexer) UpsertNote(ctx context.Context, id string) (Outcome, error) {
	if err := ix.EnsureIndex(ctx); err != nil {
		return 0, err
	}
	text, ok, err := ix.source.GetDocumentText(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to read note %s: %w", id, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchDocument, id)
	}

	hash := textutil.HashText(text)
	existing, found, err := ix.store.GetPendingItem(ctx, id)
	if err != nil {
		return 0, err
	}
	if found && existing.ContentHash == hash {
		if ix.logger != nil {
			ix.logger.Debug("Note unchanged", zap.String("id", id))
		}
		return OutcomeUnchanged, nil
	}

	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %w", ErrProviderFailure, id, err)
	}
	if len(vec) == 0 {
		if ix.logger != nil {
			ix.logger.Debug("No embedding for note", zap.String("id", id), zap.Error(ErrEmbeddingUnavailable))
		}
		if !found {
			return OutcomeUnavailable, nil
		}
		removed, err := ix.store.DeleteItem(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete stale note %s: %w", id, err)
		}
		if !removed {
			return OutcomeUnavailable, nil
		}
		return OutcomeRemoved, nil
	}

	_, err = ix.store.UpsertItem(ctx, index.Item{
		ID:          id,
		Metadata:    noteMetadata(id),
		Vector:      vector.Normalize(vec),
		ContentHash: hash,
		UpdatedAt:   ix.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store note %s: %w", id, err)
	}
	if ix.logger != nil {
		ix.logger.Debug("Note indexed", zap.String("id", id), zap.Int("dimensions", len(vec)))
	}
	return OutcomeIndexed, nil
}

func noteMetadata(id string) metadata.Document {
	folder := path.Dir(id)
	if folder == "." {
		folder = ""
	}
	return metadata.Document{
		MetaID:     metadata.String(id),
		MetaFolder: metadata.String(folder),
	}
}

// DeleteNote removes the entry for id and reports whether one existed. An
// entry written by a sweep that has not been saved yet counts as existing.
func (ix *Indexer) DeleteNote(ctx context.Context, id string) (bool, error) {
	removed, err := ix.store.DeleteItem(ctx, id)
	if errors.Is(err, index.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	if removed && ix.logger != nil {
		ix.logger.Debug("Note deleted", zap.String("id", id))
	}
	return removed, nil
}

// RenameNote moves the entry for oldID to newID without re-embedding and
// reports whether oldID was indexed.
func (ix *Indexer) RenameNote(ctx context.Context, oldID, newID string) (bool, error) {
	if oldID == newID {
		return ix.IsNoteIndexed(ctx, oldID)
	}
	// The folder key is derived from the id and has to follow it.
	renamed, err := ix.store.RenameItemWithMetadata(ctx, oldID, newID, noteMetadata(newID))
	if errors.Is(err, index.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to rename note %s: %w", oldID, err)
	}
	if renamed && ix.logger != nil {
		ix.logger.Debug("Note renamed", zap.String("from", oldID), zap.String("to", newID))
	}
	return renamed, nil
}

// IsNoteIndexed reports whether id has an entry.
func (ix *Indexer) IsNoteIndexed(ctx context.Context, id string) (bool, error) {
	_, found, err := ix.store.GetItem(ctx, id)
	if errors.Is(err, index.ErrNotFound) {
		return false, nil
	}
	return found, err
}

// IsIndexEmpty reports whether the index is missing or has no entries.
func (ix *Indexer) IsIndexEmpty(ctx context.Context) (bool, error) {
	stats, err := ix.store.GetIndexStats(ctx)
	if errors.Is(err, index.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stats.Items == 0, nil
}

// Stats summarizes the index. A missing index reports zero items.
func (ix *Indexer) Stats(ctx context.Context) (index.Stats, error) {
	stats, err := ix.store.GetIndexStats(ctx)
	if errors.Is(err, index.ErrNotFound) {
		return index.Stats{Version: index.CurrentVersion}, nil
	}
	return stats, err
}

// GetSimilarNotes returns the notes most similar to q.NoteID or q.Text, best
// first. The stored vector of q.NoteID is used when the note is indexed;
// otherwise q.Text, or failing that the note's current text, is embedded. The
// subject note is never part of the result. A missing index, an unavailable
// embedding or a provider failure give an empty result.
func (ix *Indexer) GetSimilarNotes(ctx context.Context, q models.RelatedQuery) ([]*models.RelatedNote, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	empty := []*models.RelatedNote{}

	stats, err := ix.store.GetIndexStats(ctx)
	if errors.Is(err, index.ErrNotFound) {
		return empty, nil
	}
	if err != nil {
		return nil, err
	}
	if stats.Items == 0 {
		return empty, nil
	}

	query, err := ix.queryVector(ctx, q)
	if err != nil {
		if errors.Is(err, ErrProviderFailure) {
			if ix.logger != nil {
				ix.logger.Warn("Related notes query failed", zap.String("id", q.NoteID), zap.Error(err))
			}
			return empty, nil
		}
		return nil, err
	}
	if len(query) == 0 {
		return empty, nil
	}

	topK := q.Limit
	if q.NoteID != "" {
		topK++
	}
	hits, err := ix.store.QueryItems(ctx, query, topK, q.Filter)
	if err != nil {
		var mismatch *vector.ErrDimensionMismatch
		if errors.As(err, &mismatch) {
			if ix.logger != nil {
				ix.logger.Warn("Related notes query skipped", zap.Error(err))
			}
			return empty, nil
		}
		return nil, err
	}

	minScore := q.MinScoreValue()
	notes := make([]*models.RelatedNote, 0, len(hits))
	for _, hit := range hits {
		if hit.Item.ID == q.NoteID || hit.Score < minScore {
			continue
		}
		notes = append(notes, &models.RelatedNote{
			ID:    hit.Item.ID,
			Title: vault.Title(hit.Item.ID),
			Score: hit.Score,
		})
		if len(notes) == q.Limit {
			break
		}
	}
	return notes, nil
}

func (ix *Indexer) queryVector(ctx context.Context, q models.RelatedQuery) ([]float32, error) {
	if q.NoteID != "" {
		item, found, err := ix.store.GetItem(ctx, q.NoteID)
		if err != nil {
			return nil, err
		}
		if found {
			return item.Vector, nil
		}
	}
	text := q.Text
	if text == "" {
		t, ok, err := ix.source.GetDocumentText(ctx, q.NoteID)
		if err != nil {
			return nil, fmt.Errorf("failed to read note %s: %w", q.NoteID, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchDocument, q.NoteID)
		}
		text = t
	}
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	return vec, nil
}
