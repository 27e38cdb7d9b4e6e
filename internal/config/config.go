// Package config provides configuration loading and structs for ruiji.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g. RUIJI_EMBEDDING_NUM_THREADS.
const EnvPrefix = "RUIJI"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Build     BuildConfig     `yaml:"build"`
	Query     QueryConfig     `yaml:"query"`
	Download  DownloadConfig  `yaml:"download"`
	Vector    VectorConfig    `yaml:"vector"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" split_words:"true"`
	Port int    `yaml:"port" split_words:"true"`
	// ImageRoot is the only directory JSON queries may name images in. Empty means
	// queries must upload the image.
	ImageRoot string `yaml:"image_root" split_words:"true"`
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for artifacts, the history database and downloaded images.
type StorageConfig struct {
	IndexDir      string `yaml:"index_dir" split_words:"true"`
	DatabasePath  string `yaml:"database_path" split_words:"true"`
	ImageCacheDir string `yaml:"image_cache_dir" split_words:"true"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "onnx", "clipserver" or "mock".
	Provider       string `yaml:"provider" split_words:"true"`
	ModelName      string `yaml:"model_name" split_words:"true"`
	ImageModelPath string `yaml:"image_model_path" split_words:"true"`
	TextModelPath  string `yaml:"text_model_path" split_words:"true"`
	VocabPath      string `yaml:"vocab_path" split_words:"true"`
	// Device is "cpu" or "cuda".
	Device            string  `yaml:"device" split_words:"true"`
	Dimensions        int     `yaml:"dimensions" split_words:"true"`
	ImageSize         int     `yaml:"image_size" split_words:"true"`
	MaxTokens         int     `yaml:"max_tokens" split_words:"true"`
	NumThreads        int     `yaml:"num_threads" split_words:"true"`
	CacheSize         int     `yaml:"cache_size" split_words:"true"`
	ServerURL         string  `yaml:"server_url" split_words:"true"`
	RequestsPerSecond float64 `yaml:"requests_per_second" split_words:"true"`
	FallbackToMock    bool    `yaml:"fallback_to_mock" split_words:"true"`
}

// BuildConfig holds index build settings.
type BuildConfig struct {
	ManifestPath       string        `yaml:"manifest_path" split_words:"true"`
	ProductsPath       string        `yaml:"products_path" split_words:"true"`
	BatchSize          int           `yaml:"batch_size" split_words:"true"`
	Alpha              *float64      `yaml:"alpha" split_words:"true"`
	LockTimeout        time.Duration `yaml:"lock_timeout" split_words:"true"`
	BackfillAmountSold bool          `yaml:"backfill_amount_sold" split_words:"true"`
	KeywordIndex       *bool         `yaml:"keyword_index" split_words:"true"`
}

// AlphaOrDefault returns the configured image weight, or 0.7 when unset.
func (b *BuildConfig) AlphaOrDefault() float32 {
	if b.Alpha != nil {
		return float32(*b.Alpha)
	}
	return 0.7
}

// KeywordIndexOrDefault returns whether to build the catalog keyword index; defaults to true when unset.
func (b *BuildConfig) KeywordIndexOrDefault() bool {
	if b.KeywordIndex != nil {
		return *b.KeywordIndex
	}
	return true
}

// QueryConfig holds query settings.
type QueryConfig struct {
	DefaultTopK            int           `yaml:"default_top_k" split_words:"true"`
	MaxTopK                int           `yaml:"max_top_k" split_words:"true"`
	EmbedTimeout           time.Duration `yaml:"embed_timeout" split_words:"true"`
	RequireSymmetricFusion bool          `yaml:"require_symmetric_fusion" split_words:"true"`
}

// DownloadConfig holds image acquisition settings.
type DownloadConfig struct {
	Workers           int           `yaml:"workers" split_words:"true"`
	PerProduct        int           `yaml:"per_product" split_words:"true"`
	Timeout           time.Duration `yaml:"timeout" split_words:"true"`
	RequestsPerSecond float64       `yaml:"requests_per_second" split_words:"true"`
	MaxRetries        int           `yaml:"max_retries" split_words:"true"`
}

// VectorConfig selects the similarity index implementation.
type VectorConfig struct {
	// IndexType is "memory" or "faiss".
	IndexType string `yaml:"index_type" split_words:"true"`
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, and expands paths. Returns an error if the file cannot be read or parsed.
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
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config built from defaults and environment overrides only.
// Relative paths resolve against the working directory.
func Default() (*Config, error) {
	var cfg Config
	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg.expandPaths(cwd)
	return &cfg, nil
}

// ApplyEnv overrides cfg with RUIJI_* environment variables, one prefix per section.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target interface{}
	}{
		{EnvPrefix + "_SERVER", &cfg.Server},
		{EnvPrefix + "_STORAGE", &cfg.Storage},
		{EnvPrefix + "_EMBEDDING", &cfg.Embedding},
		{EnvPrefix + "_BUILD", &cfg.Build},
		{EnvPrefix + "_QUERY", &cfg.Query},
		{EnvPrefix + "_DOWNLOAD", &cfg.Download},
		{EnvPrefix + "_VECTOR", &cfg.Vector},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return fmt.Errorf("failed to apply %s environment: %w", s.prefix, err)
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "_DEBUG"); ok {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) expandPaths(configDir string) {
	c.Server.ImageRoot = expandPath(c.Server.ImageRoot, configDir)
	c.Storage.IndexDir = expandPath(c.Storage.IndexDir, configDir)
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.ImageCacheDir = expandPath(c.Storage.ImageCacheDir, configDir)
	c.Embedding.ImageModelPath = expandPath(c.Embedding.ImageModelPath, configDir)
	c.Embedding.TextModelPath = expandPath(c.Embedding.TextModelPath, configDir)
	c.Embedding.VocabPath = expandPath(c.Embedding.VocabPath, configDir)
	c.Build.ManifestPath = expandPath(c.Build.ManifestPath, configDir)
	c.Build.ProductsPath = expandPath(c.Build.ProductsPath, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" paths are relative to the home directory; other relative paths are relative to configDir.
// Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
