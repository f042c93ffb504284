package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/index"
)

const (
	defaultLockTimeout = 5 * time.Second
	lockRetryInterval  = 200 * time.Millisecond
)

// FileBackend stores the index as a single JSON document. Reads and writes
// hold an advisory lock on a sibling ".lock" file so several processes can
// share one index path. Writes go to a temporary file that is renamed into
// place.
type FileBackend struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewFileBackend returns a backend writing to path. A zero lockTimeout uses
// five seconds.
func NewFileBackend(path string, lockTimeout time.Duration, logger *zap.Logger) *FileBackend {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &FileBackend{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// Path returns the index file path.
func (b *FileBackend) Path() string { return b.path }

// InitializeIndex writes data as a new index.
func (b *FileBackend) InitializeIndex(ctx context.Context, data *index.Data) error {
	return b.write(ctx, data)
}

// UpdateIndex replaces the stored index with data.
func (b *FileBackend) UpdateIndex(ctx context.Context, data *index.Data) error {
	return b.write(ctx, data)
}

// DropIndex removes the index file. A missing file is not an error.
func (b *FileBackend) DropIndex(ctx context.Context) error {
	unlock, err := b.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove index file: %w", err)
	}
	return nil
}

// IndexInitialized reports whether the index file exists.
func (b *FileBackend) IndexInitialized(_ context.Context) (bool, error) {
	_, err := os.Stat(b.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// RetrieveIndex reads and decodes the index file.
func (b *FileBackend) RetrieveIndex(ctx context.Context) (*index.Data, error) {
	unlock, err := b.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, index.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}
	var data index.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode index file %s: %w", b.path, err)
	}
	return &data, nil
}

// Close is a no-op; locks are only held during a read or write.
func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) write(ctx context.Context, data *index.Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	unlock, err := b.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	if b.logger != nil {
		b.logger.Debug("Index file written",
			zap.String("path", b.path),
			zap.Int("items", len(data.Items)),
			zap.Int("bytes", len(raw)))
	}
	return nil
}

// errLockTimeout is returned when another process holds the index lock for
// longer than the configured timeout.
var errLockTimeout = errors.New("index is locked by another process")

func (b *FileBackend) acquire(ctx context.Context, shared bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	l := flock.New(b.lockPath)
	deadline := time.Now().Add(b.lockTimeout)
	for {
		var locked bool
		var err error
		if shared {
			locked, err = l.TryRLock()
		} else {
			locked, err = l.TryLock()
		}
		if err != nil {
			return nil, fmt.Errorf("cannot acquire index lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (lock: %s)", errLockTimeout, b.lockPath)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
