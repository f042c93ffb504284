// Package storage provides the persistence backends for the note index.
package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/index"
)

// Backend kinds accepted by New.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindBolt   = "bolt"
	KindMemory = "memory"
)

// Backend is an index.Backend that holds resources until closed.
type Backend interface {
	index.Backend
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend      string
	IndexPath    string
	DatabasePath string
	BoltPath     string
	LockTimeout  time.Duration
}

// New opens the backend named by opts.Backend. logger may be nil.
func New(opts Options, logger *zap.Logger) (Backend, error) {
	switch opts.Backend {
	case KindFile, "":
		return NewFileBackend(opts.IndexPath, opts.LockTimeout, logger), nil
	case KindSQLite:
		return NewSQLiteBackend(opts.DatabasePath, logger)
	case KindBolt:
		return NewBoltBackend(opts.BoltPath, opts.LockTimeout, logger)
	case KindMemory:
		return memoryBackend{index.NewMemoryBackend()}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}

type memoryBackend struct {
	*index.MemoryBackend
}

func (memoryBackend) Close() error { return nil }
