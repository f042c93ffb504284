package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kanren/internal/index"
)

// DefaultBatchSize is the number of notes between Yield calls.
const DefaultBatchSize = 25

// SyncOptions configures a vault sweep.
type SyncOptions struct {
	// DeleteMissing removes entries for notes the source no longer lists.
	// Nil means true.
	DeleteMissing *bool
	// BatchSize is the number of notes processed between index saves and
	// Yield calls. Zero means DefaultBatchSize.
	BatchSize int
	Observer  Observer
	// Yield is called after every full batch, including one that ends the
	// sweep. An error stops the sweep.
	Yield func(ctx context.Context) error
}

func (o SyncOptions) deleteMissing() bool {
	return o.DeleteMissing == nil || *o.DeleteMissing
}

func (o SyncOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o SyncOptions) notify(p Progress) {
	if o.Observer != nil {
		o.Observer.OnProgress(p)
	}
}

// SyncResult summarizes a sweep. Unchanged counts the notes that could not
// be processed and were left as they were; Failed carries the same count.
type SyncResult struct {
	Scanned     int           `json:"scanned"`
	Unchanged   int           `json:"unchanged"`
	Removed     int           `json:"removed"`
	Indexed     int           `json:"indexed"`
	Skipped     int           `json:"skipped"`
	Unavailable int           `json:"unavailable"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration_ns"`
}

func (r *SyncResult) add(out Outcome, err error) {
	if err != nil {
		r.Failed++
		r.Unchanged++
		return
	}
	switch out {
	case OutcomeIndexed:
		r.Indexed++
	case OutcomeUnchanged:
		r.Skipped++
	case OutcomeUnavailable, OutcomeRemoved:
		r.Unavailable++
	}
}

// batch groups index writes of a sweep into explicit updates.
type batch struct {
	store *index.LocalIndex
	open  bool
}

func (b *batch) begin(ctx context.Context) error {
	if err := b.store.BeginUpdate(ctx); err != nil {
		return fmt.Errorf("failed to start index update: %w", err)
	}
	b.open = true
	return nil
}

func (b *batch) commit(ctx context.Context) error {
	if !b.open {
		return nil
	}
	b.open = false
	if err := b.store.EndUpdate(ctx); err != nil {
		b.store.CancelUpdate()
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

// commitDetached saves the batch even when ctx is already cancelled.
func (b *batch) commitDetached(ctx context.Context) error {
	return b.commit(context.WithoutCancel(ctx))
}

// SyncVaultToIndex brings the index in line with the source: every listed note
// goes through UpsertNote in order, then entries for unlisted notes are
// removed unless opts.DeleteMissing is false. A failing note is counted and
// logged; it never aborts the sweep. Cancelling ctx stops the sweep after the
// current note and keeps the work done so far.
func (ix *Indexer) SyncVaultToIndex(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	start := time.Now()
	var res SyncResult
	if err := ix.EnsureIndex(ctx); err != nil {
		return res, err
	}
	ids, err := ix.source.ListDocumentIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list notes: %w", err)
	}
	total := len(ids)
	res.Scanned = total
	opts.notify(Progress{Phase: PhaseScan, Processed: 0, Total: total})

	b := &batch{store: ix.store}
	if err := b.begin(ctx); err != nil {
		return res, err
	}
	defer func() {
		if b.open {
			ix.store.CancelUpdate()
		}
	}()

	size := opts.batchSize()
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			if cerr := b.commitDetached(ctx); cerr != nil {
				return res, errors.Join(err, cerr)
			}
			return res, err
		}
		out, err := ix.UpsertNote(ctx, id)
		res.add(out, err)
		if err != nil && ix.logger != nil {
			ix.logger.Warn("Failed to index note", zap.String("id", id), zap.Error(err))
		}
		processed := i + 1
		opts.notify(Progress{Phase: PhaseIndex, Processed: processed, Total: total})

		if processed%size == 0 {
			if err := b.commit(ctx); err != nil {
				return res, err
			}
			if opts.Yield != nil {
				if err := opts.Yield(ctx); err != nil {
					return res, err
				}
			}
			if err := b.begin(ctx); err != nil {
				return res, err
			}
		}
	}

	if opts.deleteMissing() {
		removed, err := ix.removeMissing(ctx)
		if err != nil {
			if cerr := b.commit(ctx); cerr != nil {
				return res, errors.Join(err, cerr)
			}
			return res, err
		}
		res.Removed = removed
		opts.notify(Progress{Phase: PhaseCleanup, Processed: removed, Total: removed})
	}

	if err := b.commit(ctx); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	if ix.logger != nil {
		ix.logger.Info("Vault synced",
			zap.Int("scanned", res.Scanned),
			zap.Int("indexed", res.Indexed),
			zap.Int("skipped", res.Skipped),
			zap.Int("unavailable", res.Unavailable),
			zap.Int("failed", res.Failed),
			zap.Int("removed", res.Removed),
			zap.Duration("elapsed", res.Duration))
	}
	return res, nil
}

// removeMissing drops entries for notes the source does not list now. The
// list is taken at cleanup time so notes created or renamed while the sweep
// ran are kept and notes deleted meanwhile are removed.
func (ix *Indexer) removeMissing(ctx context.Context) (int, error) {
	ids, err := ix.source.ListDocumentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list notes for cleanup: %w", err)
	}
	listed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		listed[id] = struct{}{}
	}
	removed, err := ix.store.Retain(ctx, func(id string) bool {
		_, ok := listed[id]
		return ok
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove missing notes: %w", err)
	}
	return removed, nil
}

// RebuildVaultIndex discards the index and embeds every note again. The
// reset and the new entries are saved together, so readers see the old index
// until the rebuild completes. It fails with index.ErrUpdateInProgress while
// another sweep is running.
func (ix *Indexer) RebuildVaultIndex(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	start := time.Now()
	if err := ix.EnsureIndex(ctx); err != nil {
		return SyncResult{}, err
	}
	ids, err := ix.source.ListDocumentIDs(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to list notes: %w", err)
	}
	opts.notify(Progress{Phase: PhaseScan, Processed: 0, Total: len(ids)})
	res, err := ix.indexAll(ctx, ids, opts.Observer, true)
	res.Duration = time.Since(start)
	if err == nil && ix.logger != nil {
		ix.logger.Info("Vault index rebuilt",
			zap.Int("notes", res.Scanned),
			zap.Int("indexed", res.Indexed),
			zap.Int("failed", res.Failed),
			zap.Duration("elapsed", res.Duration))
	}
	return res, err
}

// IndexAll runs UpsertNote over ids with bounded concurrency and saves the
// index once at the end. Failing notes are counted, not returned; the error
// is only set for cancellation or when the index cannot be saved.
func (ix *Indexer) IndexAll(ctx context.Context, ids []string, observer Observer) (SyncResult, error) {
	return ix.indexAll(ctx, ids, observer, false)
}

func (ix *Indexer) indexAll(ctx context.Context, ids []string, observer Observer, reset bool) (SyncResult, error) {
	res := SyncResult{Scanned: len(ids)}
	if err := ix.EnsureIndex(ctx); err != nil {
		return res, err
	}
	b := &batch{store: ix.store}
	if err := b.begin(ctx); err != nil {
		return res, err
	}
	defer func() {
		if b.open {
			ix.store.CancelUpdate()
		}
	}()
	if reset {
		_, err := ix.store.Reset(ctx, index.CreateConfig{
			MetadataConfig: index.MetadataConfig{Indexed: []string{MetaID, MetaFolder}},
			Version:        index.CurrentVersion,
		})
		if err != nil {
			return res, fmt.Errorf("failed to reset index: %w", err)
		}
	}

	var mu sync.Mutex
	processed := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := ix.UpsertNote(gctx, id)
			if err != nil && ix.logger != nil {
				ix.logger.Warn("Failed to index note", zap.String("id", id), zap.Error(err))
			}
			mu.Lock()
			res.add(out, err)
			processed++
			if observer != nil {
				observer.OnProgress(Progress{Phase: PhaseIndex, Processed: processed, Total: len(ids)})
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if cerr := b.commitDetached(ctx); cerr != nil {
		return res, errors.Join(err, cerr)
	}
	return res, err
}
