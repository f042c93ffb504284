package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/config"
	"github.com/hyperjump/kanren/internal/indexer"
	"github.com/hyperjump/kanren/internal/server"
	"github.com/hyperjump/kanren/internal/watcher"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the vault and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			return runServe(a.cfg, a.logger, a.loadedFrom, a.debugMode())
		},
	}
}

func runServe(cfg *config.Config, logger *zap.Logger, configPath string, debug bool) error {
	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.Bool("debug", debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := newLiveIndexer(ctx, components.Indexer, cfg.Indexing.Debounce, logger)
	defer live.stop()

	if cfg.Indexing.WatchOrDefault() {
		watchOpts := []watcher.WatcherOption{}
		if debug {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		w := watcher.NewWatcher(components.Vault, live.handlers(), watchOpts...)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	syncDone := make(chan struct{})
	if cfg.Indexing.SyncOnStartOrDefault() {
		go func() {
			defer close(syncDone)
			if _, err := startupSync(ctx, components.Indexer, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("startup sync failed", zap.Error(err))
			}
		}()
	} else {
		close(syncDone)
	}
	defer func() {
		stop()
		<-syncDone
	}()

	srv := server.NewServer(components.Indexer, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// startupSync indexes every note concurrently when the index is empty and
// runs an incremental sweep otherwise.
func startupSync(ctx context.Context, idx *indexer.Indexer, cfg *config.Config, logger *zap.Logger) (indexer.SyncResult, error) {
	empty, err := idx.IsIndexEmpty(ctx)
	if err != nil {
		return indexer.SyncResult{}, err
	}
	if empty {
		logger.Info("Index is empty, indexing the whole vault")
		progress, wait := indexer.LogProgress(logger, "rebuild")
		defer wait()
		return idx.RebuildVaultIndex(ctx, indexer.SyncOptions{Observer: progress})
	}
	progress, wait := indexer.LogProgress(logger, "sync")
	defer wait()
	deleteMissing := cfg.Indexing.DeleteMissingOrDefault()
	return idx.SyncVaultToIndex(ctx, indexer.SyncOptions{
		DeleteMissing: &deleteMissing,
		BatchSize:     cfg.Indexing.BatchSize,
		Observer:      progress,
		Yield: func(ctx context.Context) error {
			return ctx.Err()
		},
	})
}

// liveIndexer applies watcher events to the index. Changes go through the
// debouncer; removals and renames apply at once.
type liveIndexer struct {
	ctx       context.Context
	indexer   *indexer.Indexer
	debouncer *watcher.Debouncer
	logger    *zap.Logger
}

func newLiveIndexer(ctx context.Context, idx *indexer.Indexer, delay time.Duration, logger *zap.Logger) *liveIndexer {
	l := &liveIndexer{ctx: ctx, indexer: idx, logger: logger}
	l.debouncer = watcher.NewDebouncer(delay, l.upsert, watcher.WithDebounceLogger(logger))
	return l
}

func (l *liveIndexer) handlers() watcher.Handlers {
	return watcher.Handlers{
		OnChange: l.debouncer.Schedule,
		OnRemove: l.remove,
		OnRename: l.rename,
	}
}

func (l *liveIndexer) upsert(id string) {
	outcome, err := l.indexer.UpsertNote(l.ctx, id)
	switch {
	case errors.Is(err, indexer.ErrNoSuchDocument):
		// Gone before the timer fired.
		l.remove(id)
	case err != nil:
		l.logger.Warn("Failed to index note", zap.String("id", id), zap.Error(err))
	default:
		l.logger.Debug("Note processed", zap.String("id", id), zap.Stringer("outcome", outcome))
	}
}

func (l *liveIndexer) remove(id string) {
	l.debouncer.Cancel(id)
	if _, err := l.indexer.DeleteNote(l.ctx, id); err != nil {
		l.logger.Warn("Failed to remove note", zap.String("id", id), zap.Error(err))
	}
}

func (l *liveIndexer) rename(oldID, newID string) {
	l.debouncer.Cancel(oldID)
	if _, err := l.indexer.RenameNote(l.ctx, oldID, newID); err != nil {
		l.logger.Warn("Failed to rename note", zap.String("from", oldID), zap.String("to", newID), zap.Error(err))
	}
	// The title is part of the embedded text.
	l.debouncer.Schedule(newID)
}

func (l *liveIndexer) stop() {
	l.debouncer.Stop()
}
