package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/config"
	"github.com/hyperjump/kanren/internal/embedding"
	"github.com/hyperjump/kanren/internal/index"
	"github.com/hyperjump/kanren/internal/indexer"
	"github.com/hyperjump/kanren/internal/storage"
	"github.com/hyperjump/kanren/internal/vault"
)

// Components holds initialized services.
type Components struct {
	Backend  storage.Backend
	Embedder embedding.Embedder
	Vault    *vault.Vault
	Store    *index.LocalIndex
	Indexer  *indexer.Indexer
}

func (c *Components) Close() {
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Backend:      cfg.Storage.Backend,
		IndexPath:    cfg.Storage.IndexPath,
		DatabasePath: cfg.Storage.DatabasePath,
		BoltPath:     cfg.Storage.BoltPath,
		LockTimeout:  cfg.Storage.LockTimeout,
	}
}

func embeddingOptions(cfg *config.Config) embedding.Options {
	e := cfg.Embedding
	return embedding.Options{
		Provider:          e.Provider,
		Endpoint:          e.Endpoint,
		Model:             e.Model,
		APIKey:            e.APIKey,
		Dimensions:        e.Dimensions,
		Timeout:           e.Timeout,
		RequestsPerSecond: e.RequestsPerSecond,
		CacheSize:         e.CacheSize,
		ModelPath:         e.ModelPath,
		MaxTokens:         e.MaxTokens,
	}
}

func vaultOptions(cfg *config.Config) vault.Options {
	return vault.Options{
		Root:        cfg.Vault.Path,
		Include:     cfg.Vault.Include,
		Exclude:     cfg.Vault.Exclude,
		Attachments: cfg.Vault.Attachments,
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	v, err := vault.New(vaultOptions(cfg), logger)
	if err != nil {
		return nil, err
	}

	backend, err := storage.New(storageOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(embeddingOptions(cfg), logger)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if logger != nil {
		logger.Info("components initialized",
			zap.String("vault", v.Root()),
			zap.String("backend", cfg.Storage.Backend),
			zap.String("provider", cfg.Embedding.Provider),
			zap.Int("dimensions", embedder.Dimensions()))
	}

	store := index.New(backend, index.WithLogger(logger))
	idx := indexer.NewIndexer(store, v, embedder,
		indexer.WithConcurrency(cfg.Indexing.Concurrency),
		indexer.WithLogger(logger))

	return &Components{
		Backend:  backend,
		Embedder: embedder,
		Vault:    v,
		Store:    store,
		Indexer:  idx,
	}, nil
}
