package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "./vector_index"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/ruiji.db"
	}
	if cfg.Storage.ImageCacheDir == "" {
		cfg.Storage.ImageCacheDir = "./data/images"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelName == "" {
		cfg.Embedding.ModelName = "clip-ViT-B-32"
	}
	if cfg.Embedding.ImageModelPath == "" {
		cfg.Embedding.ImageModelPath = "./models/clip-vit-b-32-vision.onnx"
	}
	if cfg.Embedding.TextModelPath == "" {
		cfg.Embedding.TextModelPath = "./models/clip-vit-b-32-text.onnx"
	}
	if cfg.Embedding.Device == "" {
		cfg.Embedding.Device = "cpu"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 77
	}
	if cfg.Embedding.NumThreads == 0 {
		cfg.Embedding.NumThreads = 1
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.ServerURL == "" {
		cfg.Embedding.ServerURL = "http://localhost:8000"
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 10
	}
	if cfg.Build.BatchSize == 0 {
		cfg.Build.BatchSize = 8
	}
	if cfg.Build.LockTimeout == 0 {
		cfg.Build.LockTimeout = 30 * time.Second
	}
	if cfg.Query.DefaultTopK == 0 {
		cfg.Query.DefaultTopK = 5
	}
	if cfg.Query.MaxTopK == 0 {
		cfg.Query.MaxTopK = 100
	}
	if cfg.Query.EmbedTimeout == 0 {
		cfg.Query.EmbedTimeout = 30 * time.Second
	}
	if cfg.Download.Workers == 0 {
		cfg.Download.Workers = 16
	}
	if cfg.Download.PerProduct == 0 {
		cfg.Download.PerProduct = 2
	}
	if cfg.Download.Timeout == 0 {
		cfg.Download.Timeout = 20 * time.Second
	}
	if cfg.Download.RequestsPerSecond == 0 {
		cfg.Download.RequestsPerSecond = 20
	}
	if cfg.Download.MaxRetries == 0 {
		cfg.Download.MaxRetries = 3
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
}
