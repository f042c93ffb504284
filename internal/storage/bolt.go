package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/index"
	"github.com/hyperjump/kanren/internal/metadata"
)

var (
	bucketMeta  = []byte("meta")
	bucketItems = []byte("items")
	keyIndex    = []byte("index")
)

// BoltBackend stores the index in a bbolt file: the version and metadata
// config under meta/index, items under sequential keys in the items bucket.
type BoltBackend struct {
	db     *bbolt.DB
	logger *zap.Logger
}

type boltMeta struct {
	Version        int                  `json:"version"`
	MetadataConfig index.MetadataConfig `json:"metadata_config"`
}

type boltItem struct {
	ID          string            `json:"id"`
	Vector      []byte            `json:"v"`
	Norm        float64           `json:"n"`
	Metadata    metadata.Document `json:"m,omitempty"`
	ContentHash string            `json:"h,omitempty"`
	UpdatedAt   time.Time         `json:"t"`
}

// NewBoltBackend opens or creates the bbolt file at path. openTimeout bounds
// the wait for another process holding the file.
func NewBoltBackend(path string, openTimeout time.Duration, logger *zap.Logger) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create bolt directory: %w", err)
		}
	}
	if openTimeout <= 0 {
		openTimeout = defaultLockTimeout
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketItems} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db, logger: logger}, nil
}

// InitializeIndex stores data as a new index.
func (s *BoltBackend) InitializeIndex(ctx context.Context, data *index.Data) error {
	return s.replace(ctx, data)
}

// UpdateIndex replaces the stored index with data.
func (s *BoltBackend) UpdateIndex(ctx context.Context, data *index.Data) error {
	return s.replace(ctx, data)
}

func (s *BoltBackend) replace(ctx context.Context, data *index.Data) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta, err := json.Marshal(boltMeta{Version: data.Version, MetadataConfig: data.MetadataConfig})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketItems); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		items, err := tx.CreateBucket(bucketItems)
		if err != nil {
			return err
		}
		for i, it := range data.Items {
			v, err := json.Marshal(boltItem{
				ID:          it.ID,
				Vector:      encodeVector(it.Vector),
				Norm:        it.Norm,
				Metadata:    it.Metadata,
				ContentHash: it.ContentHash,
				UpdatedAt:   it.UpdatedAt,
			})
			if err != nil {
				return fmt.Errorf("failed to encode item %s: %w", it.ID, err)
			}
			if err := items.Put(positionKey(i), v); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keyIndex, meta)
	})
	if err != nil {
		return fmt.Errorf("failed to write bolt index: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("Bolt index written", zap.Int("items", len(data.Items)))
	}
	return nil
}

// positionKey encodes i big-endian so bucket iteration keeps insertion order.
func positionKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

// DropIndex removes the meta record and every item.
func (s *BoltBackend) DropIndex(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketMeta).Delete(keyIndex); err != nil {
			return err
		}
		if err := tx.DeleteBucket(bucketItems); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketItems)
		return err
	})
}

// IndexInitialized reports whether the meta record exists.
func (s *BoltBackend) IndexInitialized(_ context.Context) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketMeta).Get(keyIndex) != nil
		return nil
	})
	return ok, err
}

// RetrieveIndex decodes the stored index.
func (s *BoltBackend) RetrieveIndex(_ context.Context) (*index.Data, error) {
	var data index.Data
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyIndex)
		if raw == nil {
			return index.ErrNotFound
		}
		var meta boltMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("failed to decode index meta: %w", err)
		}
		data.Version = meta.Version
		data.MetadataConfig = meta.MetadataConfig
		data.Items = []index.Item{}

		return tx.Bucket(bucketItems).ForEach(func(_, v []byte) error {
			var stored boltItem
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("failed to decode item: %w", err)
			}
			vec, err := decodeVector(stored.Vector)
			if err != nil {
				return fmt.Errorf("item %s: %w", stored.ID, err)
			}
			md := stored.Metadata
			if md == nil {
				md = metadata.Document{}
			}
			data.Items = append(data.Items, index.Item{
				ID:          stored.ID,
				Vector:      vec,
				Norm:        stored.Norm,
				Metadata:    md,
				ContentHash: stored.ContentHash,
				UpdatedAt:   stored.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// Close closes the bolt file.
func (s *BoltBackend) Close() error {
	return s.db.Close()
}
