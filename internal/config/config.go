// Package config loads the kanren YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvEmbeddingAPIKey overrides embedding.api_key when set.
const EnvEmbeddingAPIKey = "KANREN_EMBEDDING_API_KEY"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Vault     VaultConfig     `yaml:"vault"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Related   RelatedConfig   `yaml:"related"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// VaultConfig selects the notes to index.
type VaultConfig struct {
	Path        string   `yaml:"path"`
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
	Attachments bool     `yaml:"attachments"`
}

// StorageConfig selects where the index is persisted.
type StorageConfig struct {
	Backend      string        `yaml:"backend"`
	IndexPath    string        `yaml:"index_path"`
	DatabasePath string        `yaml:"database_path"`
	BoltPath     string        `yaml:"bolt_path"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	Dimensions        int           `yaml:"dimensions"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
	ModelPath         string        `yaml:"model_path"`
	MaxTokens         int           `yaml:"max_tokens"`
}

// IndexingConfig holds sweep and watch settings.
type IndexingConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	BatchSize     int           `yaml:"batch_size"`
	Debounce      time.Duration `yaml:"debounce"`
	DeleteMissing *bool         `yaml:"delete_missing"`
	SyncOnStart   *bool         `yaml:"sync_on_start"`
	Watch         *bool         `yaml:"watch"`
}

// DeleteMissingOrDefault returns whether sweeps remove vanished notes; defaults to true when unset.
func (c *IndexingConfig) DeleteMissingOrDefault() bool {
	return c.DeleteMissing == nil || *c.DeleteMissing
}

// SyncOnStartOrDefault returns whether the server syncs the vault at startup; defaults to true when unset.
func (c *IndexingConfig) SyncOnStartOrDefault() bool {
	return c.SyncOnStart == nil || *c.SyncOnStart
}

// WatchOrDefault returns whether the server watches the vault; defaults to true when unset.
func (c *IndexingConfig) WatchOrDefault() bool {
	return c.Watch == nil || *c.Watch
}

// RelatedConfig holds related-notes query defaults.
type RelatedConfig struct {
	Limit    int      `yaml:"limit"`
	MinScore *float64 `yaml:"min_score"`
}

// MinScoreOrDefault returns the configured minimum score. Zero is a valid
// value meaning no filtering.
func (c *RelatedConfig) MinScoreOrDefault() float64 {
	if c.MinScore == nil {
		return DefaultMinScore
	}
	return *c.MinScore
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if key := os.Getenv(EnvEmbeddingAPIKey); key != "" {
		cfg.Embedding.APIKey = key
	}

	configDir := filepath.Dir(path)
	if cfg.Vault.Path != "" {
		cfg.Vault.Path = expandPath(cfg.Vault.Path, configDir)
	}
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BoltPath = expandPath(cfg.Storage.BoltPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.Vault.Path == "" {
		return fmt.Errorf("invalid config: vault.path is required")
	}
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("invalid config: unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Embedding.Provider {
	case ProviderHTTP, ProviderONNX, ProviderMock:
	default:
		return fmt.Errorf("invalid config: unknown embedding.provider %q", c.Embedding.Provider)
	}
	if m := c.Related.MinScoreOrDefault(); m < -1 || m > 1 {
		return fmt.Errorf("invalid config: related.min_score must be between -1 and 1, got %v", m)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
