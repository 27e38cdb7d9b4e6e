// Package embedding turns product images and texts into unit-length vectors in a shared space.
package embedding

import (
	"context"
	"errors"
	"image"

	"github.com/hyperjump/ruiji/internal/fusion"
)

// ErrModelUnavailable is returned when a model-backed provider cannot be initialized.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Provider produces L2-normalized embeddings for images and texts in the same vector space.
// Implementations must be safe for concurrent use.
type Provider interface {
	EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
	Close() error
}

func normalizeRows(rows [][]float32) {
	for _, r := range rows {
		fusion.NormalizeInPlace(r)
	}
}
