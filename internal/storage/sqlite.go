package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/index"
	"github.com/hyperjump/kanren/internal/metadata"
)

// SQLiteBackend stores the index in SQLite: one meta row plus one row per
// item with the vector as a little-endian float32 BLOB. Every commit replaces
// all rows in a single transaction.
type SQLiteBackend struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteBackend opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteBackend(dbPath string, logger *zap.Logger) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, logger: logger}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS index_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		metadata_config TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS index_items (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		metadata TEXT,
		vector BLOB NOT NULL,
		norm REAL NOT NULL,
		content_hash TEXT,
		updated_at TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// InitializeIndex stores data as a new index.
func (s *SQLiteBackend) InitializeIndex(ctx context.Context, data *index.Data) error {
	return s.replace(ctx, data)
}

// UpdateIndex replaces the stored index with data.
func (s *SQLiteBackend) UpdateIndex(ctx context.Context, data *index.Data) error {
	return s.replace(ctx, data)
}

func (s *SQLiteBackend) replace(ctx context.Context, data *index.Data) error {
	cfgJSON, err := json.Marshal(data.MetadataConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_meta (id, version, metadata_config, updated_at) VALUES (1, ?, ?, ?)`,
		data.Version, string(cfgJSON), time.Now(),
	); err != nil {
		return fmt.Errorf("failed to write index meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_items`); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO index_items (position, id, metadata, vector, norm, content_hash, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, it := range data.Items {
		metadataJSON, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", it.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			i, it.ID, string(metadataJSON), encodeVector(it.Vector), it.Norm, it.ContentHash, it.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to write item %s: %w", it.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("Index rows written", zap.Int("items", len(data.Items)))
	}
	return nil
}

// DropIndex deletes the meta row and all items.
func (s *SQLiteBackend) DropIndex(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_items`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return err
	}
	return tx.Commit()
}

// IndexInitialized reports whether the meta row exists.
func (s *SQLiteBackend) IndexInitialized(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_meta`).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// RetrieveIndex loads the meta row and all items in insertion order.
func (s *SQLiteBackend) RetrieveIndex(ctx context.Context) (*index.Data, error) {
	var data index.Data
	var cfgJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, metadata_config FROM index_meta WHERE id = 1`,
	).Scan(&data.Version, &cfgJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, index.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &data.MetadataConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata config: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata, vector, norm, content_hash, updated_at
		 FROM index_items ORDER BY position`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data.Items = []index.Item{}
	for rows.Next() {
		var it index.Item
		var metadataJSON, contentHash sql.NullString
		var blob []byte
		var updatedAt sql.NullTime
		if err := rows.Scan(&it.ID, &metadataJSON, &blob, &it.Norm, &contentHash, &updatedAt); err != nil {
			return nil, err
		}
		if it.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.Metadata = metadata.Document{}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &it.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", it.ID, err)
			}
		}
		it.ContentHash = contentHash.String
		if updatedAt.Valid {
			it.UpdatedAt = updatedAt.Time.UTC()
		}
		data.Items = append(data.Items, it)
	}
	return &data, rows.Err()
}

// CountItems returns the number of stored items.
func (s *SQLiteBackend) CountItems(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_items`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
