package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/metadata"
	"github.com/hyperjump/kanren/internal/vector"
)

// CreateConfig configures CreateIndex.
type CreateConfig struct {
	Version        int
	DeleteIfExists bool
	MetadataConfig MetadataConfig
}

// Option configures a LocalIndex.
type Option func(*LocalIndex)

// WithLogger sets the logger used for persistence events.
func WithLogger(logger *zap.Logger) Option {
	return func(x *LocalIndex) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// LocalIndex keeps the committed index in memory and persists every commit
// through a Backend.
//
// Readers work on an immutable committed snapshot and never wait for a
// pending update. Writers serialize on updateMu. While an explicit update is
// open (BeginUpdate), single-item mutations apply to its working copy and
// become visible only after EndUpdate.
type LocalIndex struct {
	backend Backend
	logger  *zap.Logger

	mu   sync.RWMutex
	data *Data

	updateMu    sync.Mutex
	update      *Data
	updateDirty bool
}

// New returns an index persisted through backend. Nothing is loaded until
// the first operation.
func New(backend Backend, opts ...Option) *LocalIndex {
	x := &LocalIndex{
		backend: backend,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// CreateIndex initializes an empty index. If one exists it is dropped when
// cfg.DeleteIfExists is set, otherwise ErrAlreadyExists is returned. It fails
// with ErrUpdateInProgress while an update is open.
func (x *LocalIndex) CreateIndex(ctx context.Context, cfg CreateConfig) error {
	x.updateMu.Lock()
	defer x.updateMu.Unlock()
	if x.update != nil {
		return ErrUpdateInProgress
	}

	exists, err := x.backend.IndexInitialized(ctx)
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	if exists {
		if !cfg.DeleteIfExists {
			return ErrAlreadyExists
		}
		if err := x.dropLocked(ctx); err != nil {
			return err
		}
	}

	version := cfg.Version
	if version <= 0 {
		version = CurrentVersion
	}
	data := &Data{
		Version:        version,
		MetadataConfig: MetadataConfig{Indexed: append([]string(nil), cfg.MetadataConfig.Indexed...)},
		Items:          []Item{},
	}
	if err := x.backend.InitializeIndex(ctx, data); err != nil {
		_ = x.backend.DropIndex(ctx)
		x.setCommitted(nil)
		return fmt.Errorf("failed to create index: %w", err)
	}
	x.setCommitted(data)
	x.logger.Debug("Index created", zap.Int("version", version))
	return nil
}

// DropIndex discards the index and the persisted document. It fails with
// ErrUpdateInProgress while an update is open.
func (x *LocalIndex) DropIndex(ctx context.Context) error {
	x.updateMu.Lock()
	defer x.updateMu.Unlock()
	if x.update != nil {
		return ErrUpdateInProgress
	}
	return x.dropLocked(ctx)
}

func (x *LocalIndex) dropLocked(ctx context.Context) error {
	x.setCommitted(nil)
	if err := x.backend.DropIndex(ctx); err != nil {
		return fmt.Errorf("failed to drop index: %w", err)
	}
	x.logger.Debug("Index dropped")
	return nil
}

// IsIndexCreated reports whether the backend holds an index.
func (x *LocalIndex) IsIndexCreated(ctx context.Context) (bool, error) {
	x.mu.RLock()
	loaded := x.data != nil
	x.mu.RUnlock()
	if loaded {
		return true, nil
	}
	return x.backend.IndexInitialized(ctx)
}

// LoadIndex returns the committed snapshot, reading it from the backend on
// first use. The returned Data must not be modified.
func (x *LocalIndex) LoadIndex(ctx context.Context) (*Data, error) {
	x.mu.RLock()
	d := x.data
	x.mu.RUnlock()
	if d != nil {
		return d, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.data != nil {
		return x.data, nil
	}
	exists, err := x.backend.IndexInitialized(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check index: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	d, err = x.backend.RetrieveIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	if d.Items == nil {
		d.Items = []Item{}
	}
	for i := range d.Items {
		if d.Items[i].Norm == 0 {
			d.Items[i].Norm = vector.L2Norm(d.Items[i].Vector)
		}
	}
	x.data = d
	x.logger.Debug("Index loaded", zap.Int("items", len(d.Items)))
	return d, nil
}

// Unload drops the in-memory snapshot; the next read reloads from the backend.
func (x *LocalIndex) Unload() {
	x.setCommitted(nil)
}

func (x *LocalIndex) setCommitted(d *Data) {
	x.mu.Lock()
	x.data = d
	x.mu.Unlock()
}

// BeginUpdate opens an update on a copy of the committed index.
func (x *LocalIndex) BeginUpdate(ctx context.Context) error {
	x.updateMu.Lock()
	defer x.updateMu.Unlock()
	if x.update != nil {
		return ErrUpdateInProgress
	}
	d, err := x.LoadIndex(ctx)
	if err != nil {
		return err
	}
	x.update = d.workingCopy()
	x.updateDirty = false
	return nil
}

// EndUpdate persists the open update and publishes it. An update nothing
// changed is closed without a write. If persistence fails the update stays
// open so the caller can retry or cancel.
func (x *LocalIndex) EndUpdate(ctx context.Context) error {
	x.updateMu.Lock()
	defer x.updateMu.Unlock()
	if x.update == nil {
		return ErrNoUpdateInProgress
	}
	if !x.updateDirty {
		x.update = nil
		return nil
	}
	if err := x.commitLocked(ctx, x.update); err != nil {
		return err
	}
	x.update = nil
	return nil
}

// CancelUpdate discards the open update, if any.
func (x *LocalIndex) CancelUpdate() {
	x.updateMu.Lock()
	x.update = nil
	x.updateMu.Unlock()
}

// UpdateInProgress reports whether BeginUpdate has an open update.
func (x *LocalIndex) UpdateInProgress() bool {
	x.updateMu.Lock()
	defer x.updateMu.Unlock()
	return x.update != nil
}

func (x *LocalIndex) commitLocked(ctx context.Context, d *Data) error {
	start := time.Now()
	if err := x.backend.UpdateIndex(ctx, d); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	x.setCommitted(d)
	x.logger.Debug("Index persisted",
		zap.Int("items", len(d.Items)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// mutate applies fn to the open update, or to a fresh working copy that is
// committed when fn reports a change.
func (x *LocalIndex) mutate(ctx context.Context, fn func(d *Data) (bool, error)) error {
	x.updateMu.Lock()
	defer x.updateMu.Unlock()
	if x.update != nil {
		changed, err := fn(x.update)
		if changed {
			x.updateDirty = true
		}
		return err
	}
	d, err := x.LoadIndex(ctx)
	if err != nil {
		return err
	}
	work := d.workingCopy()
	changed, err := fn(work)
	if err != nil || !changed {
		return err
	}
	return x.commitLocked(ctx, work)
}

// InsertItem adds a new item. An empty id is replaced by a generated UUID.
func (x *LocalIndex) InsertItem(ctx context.Context, item Item) (Item, error) {
	var out Item
	err := x.mutate(ctx, func(d *Data) (bool, error) {
		var err error
		out, err = addItem(d, item, true)
		return err == nil, err
	})
	return out, err
}

// UpsertItem adds item or replaces the item with the same id.
func (x *LocalIndex) UpsertItem(ctx context.Context, item Item) (Item, error) {
	var out Item
	err := x.mutate(ctx, func(d *Data) (bool, error) {
		var err error
		out, err = addItem(d, item, false)
		return err == nil, err
	})
	return out, err
}

func addItem(d *Data, item Item, unique bool) (Item, error) {
	if item.Vector == nil {
		return Item{}, ErrVectorRequired
	}
	id := item.ID
	if id == "" {
		id = uuid.New().String()
	}
	pos := d.indexOf(id)
	if unique && pos >= 0 {
		return Item{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if dim := d.dimension(id); dim > 0 && dim != len(item.Vector) {
		return Item{}, &vector.ErrDimensionMismatch{Expected: dim, Actual: len(item.Vector)}
	}

	stored := item.Clone()
	stored.ID = id
	if stored.Metadata == nil {
		stored.Metadata = metadata.Document{}
	}
	stored.Norm = vector.L2Norm(stored.Vector)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}

	if pos >= 0 {
		d.Items[pos] = stored
	} else {
		d.Items = append(d.Items, stored)
	}
	return stored.Clone(), nil
}

// DeleteItem removes the item with id and reports whether it existed. While
// an update is open the working copy decides. Deleting a missing id is not an
// error.
func (x *LocalIndex) DeleteItem(ctx context.Context, id string) (bool, error) {
	removed := false
	err := x.mutate(ctx, func(d *Data) (bool, error) {
		pos := d.indexOf(id)
		if pos < 0 {
			return false, nil
		}
		d.Items = append(d.Items[:pos], d.Items[pos+1:]...)
		removed = true
		return true, nil
	})
	return removed, err
}

// RenameItem moves the item stored under oldID to newID, keeping its vector.
// An item already stored under newID is replaced. It reports false when oldID
// is not indexed.
func (x *LocalIndex) RenameItem(ctx context.Context, oldID, newID string) (bool, error) {
	return x.RenameItemWithMetadata(ctx, oldID, newID, nil)
}

// RenameItemWithMetadata is RenameItem that also replaces the item's metadata
// with md in the same mutation. A nil md keeps the metadata, with only the id
// key following the rename.
func (x *LocalIndex) RenameItemWithMetadata(ctx context.Context, oldID, newID string, md metadata.Document) (bool, error) {
	renamed := false
	err := x.mutate(ctx, func(d *Data) (bool, error) {
		pos := d.indexOf(oldID)
		if pos < 0 {
			return false, nil
		}
		if oldID == newID {
			renamed = true
			if md == nil {
				return false, nil
			}
			d.Items[pos].Metadata = md.Clone()
			return true, nil
		}
		if other := d.indexOf(newID); other >= 0 {
			d.Items = append(d.Items[:other], d.Items[other+1:]...)
			if other < pos {
				pos--
			}
		}
		it := d.Items[pos]
		it.ID = newID
		if md != nil {
			it.Metadata = md.Clone()
		} else if v, ok := it.Metadata[MetadataIDKey]; ok && v.Kind == metadata.KindString && v.Str == oldID {
			it.Metadata = it.Metadata.Clone()
			it.Metadata[MetadataIDKey] = metadata.String(newID)
		}
		d.Items[pos] = it
		renamed = true
		return true, nil
	})
	return renamed, err
}

// Retain removes every item for which keep returns false and reports how many
// were removed. Nothing is persisted when no item is removed.
func (x *LocalIndex) Retain(ctx context.Context, keep func(id string) bool) (int, error) {
	removed := 0
	err := x.mutate(ctx, func(d *Data) (bool, error) {
		kept := d.Items[:0]
		for _, it := range d.Items {
			if keep(it.ID) {
				kept = append(kept, it)
			} else {
				removed++
			}
		}
		d.Items = kept
		return removed > 0, nil
	})
	return removed, err
}

// Reset empties the index and applies cfg's version and metadata config.
// Unlike CreateIndex it joins an open update, so readers keep the old items
// until EndUpdate. It reports how many items were removed.
func (x *LocalIndex) Reset(ctx context.Context, cfg CreateConfig) (int, error) {
	removed := 0
	err := x.mutate(ctx, func(d *Data) (bool, error) {
		removed = len(d.Items)
		if cfg.Version > 0 {
			d.Version = cfg.Version
		}
		d.MetadataConfig = MetadataConfig{Indexed: append([]string(nil), cfg.MetadataConfig.Indexed...)}
		d.Items = []Item{}
		return true, nil
	})
	return removed, err
}

// GetPendingItem returns a copy of the item with id as the open update sees
// it, or the committed item when no update is open. Writers use it to decide
// what to change; readers use GetItem.
func (x *LocalIndex) GetPendingItem(ctx context.Context, id string) (Item, bool, error) {
	x.updateMu.Lock()
	defer x.updateMu.Unlock()
	if x.update == nil {
		return x.GetItem(ctx, id)
	}
	pos := x.update.indexOf(id)
	if pos < 0 {
		return Item{}, false, nil
	}
	return x.update.Items[pos].Clone(), true, nil
}

// GetItem returns a copy of the committed item with id.
func (x *LocalIndex) GetItem(ctx context.Context, id string) (Item, bool, error) {
	d, err := x.LoadIndex(ctx)
	if err != nil {
		return Item{}, false, err
	}
	pos := d.indexOf(id)
	if pos < 0 {
		return Item{}, false, nil
	}
	return d.Items[pos].Clone(), true, nil
}

// ListItems returns copies of all committed items in insertion order.
func (x *LocalIndex) ListItems(ctx context.Context) ([]Item, error) {
	return x.ListItemsByMetadata(ctx, nil)
}

// ListItemsByMetadata returns copies of committed items matching filter. A nil
// filter matches every item.
func (x *LocalIndex) ListItemsByMetadata(ctx context.Context, filter *metadata.Filter) ([]Item, error) {
	d, err := x.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(d.Items))
	for _, it := range d.Items {
		if filter.Matches(it.Metadata) {
			items = append(items, it.Clone())
		}
	}
	return items, nil
}

// GetIndexStats summarizes the committed index.
func (x *LocalIndex) GetIndexStats(ctx context.Context) (Stats, error) {
	d, err := x.LoadIndex(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Version:        d.Version,
		MetadataConfig: d.MetadataConfig,
		Items:          len(d.Items),
	}, nil
}
