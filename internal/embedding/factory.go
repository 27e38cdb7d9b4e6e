package embedding

import (
	"fmt"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

// Provider names accepted by New.
const (
	ProviderONNX       = "onnx"
	ProviderClipServer = "clipserver"
	ProviderMock       = "mock"
)

// New builds the provider selected by cfg.Provider and wraps it with a text cache.
// When the model cannot be initialized and cfg.FallbackToMock is set, a MockProvider is
// returned instead and a warning is logged.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	logger = utils.OrNop(logger)
	p, err := newProvider(cfg, logger)
	if err != nil {
		if !cfg.FallbackToMock {
			return nil, err
		}
		logger.Warn("embedding model unavailable, using mock provider",
			zap.String("provider", cfg.Provider),
			zap.Error(err),
		)
		p = NewMockProvider(cfg.Dimensions)
	}
	return NewCachedProvider(p, cfg.CacheSize), nil
}

func newProvider(cfg *config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderMock:
		return NewMockProvider(cfg.Dimensions), nil
	case ProviderClipServer:
		return NewClipServerProvider(ClipServerOptions{
			URL:               cfg.ServerURL,
			ModelID:           cfg.ModelName,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxRetries:        3,
			Logger:            logger,
		})
	case "", ProviderONNX:
		var tok Tokenizer = NewCLIPTokenizer(nil)
		if cfg.VocabPath != "" {
			vocab, err := LoadVocab(cfg.VocabPath)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			}
			tok = NewCLIPTokenizer(vocab)
		}
		p, err := NewONNXProvider(ONNXOptions{
			ModelID:        cfg.ModelName,
			ImageModelPath: cfg.ImageModelPath,
			TextModelPath:  cfg.TextModelPath,
			Dimensions:     cfg.Dimensions,
			ImageSize:      cfg.ImageSize,
			MaxTokens:      cfg.MaxTokens,
			NumThreads:     cfg.NumThreads,
			Device:         cfg.Device,
			Tokenizer:      tok,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("onnx embedding provider ready",
			zap.String("model", cfg.ModelName),
			zap.String("device", cfg.Device),
			zap.Int("threads", cfg.NumThreads),
		)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
