package config

import "time"

// Accepted storage backends and embedding providers.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"

	ProviderHTTP = "http"
	ProviderONNX = "onnx"
	ProviderMock = "mock"
)

// Defaults that callers need outside ApplyDefaults.
const (
	DefaultMinScore = 0.25
	DefaultLimit    = 10
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8686
	}
	if cfg.Vault.Include == nil {
		cfg.Vault.Include = []string{"**/*.md"}
	}
	if cfg.Vault.Exclude == nil {
		cfg.Vault.Exclude = []string{".obsidian/**", ".trash/**", ".git/**"}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/kanren/data/index.json"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kanren/data/index.db"
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "/usr/local/var/kanren/data/index.bolt"
	}
	if cfg.Storage.LockTimeout == 0 {
		cfg.Storage.LockTimeout = 5 * time.Second
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderHTTP
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = "http://localhost:3000/embeddings"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kanren/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Indexing.Concurrency == 0 {
		cfg.Indexing.Concurrency = 5
	}
	if cfg.Indexing.BatchSize == 0 {
		cfg.Indexing.BatchSize = 25
	}
	if cfg.Indexing.Debounce == 0 {
		cfg.Indexing.Debounce = 5 * time.Second
	}
	if cfg.Related.Limit == 0 {
		cfg.Related.Limit = DefaultLimit
	}
}
