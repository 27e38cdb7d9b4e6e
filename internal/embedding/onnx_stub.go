//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"
	"image"
)

// ONNXOptions configures an ONNXProvider.
type ONNXOptions struct {
	ModelID        string
	ImageModelPath string
	TextModelPath  string
	Dimensions     int
	ImageSize      int
	MaxTokens      int
	NumThreads     int
	Device         string
	Tokenizer      Tokenizer
}

// ONNXProvider stub type when built without CGO (see onnx.go for real implementation).
type ONNXProvider struct{}

// NewONNXProvider returns an error when built without CGO (ONNX not available).
func NewONNXProvider(_ ONNXOptions) (*ONNXProvider, error) {
	return nil, fmt.Errorf("%w: ONNX provider requires CGO; build with CGO_ENABLED=1 and onnxruntime", ErrModelUnavailable)
}

func (p *ONNXProvider) EmbedImages(context.Context, []image.Image) ([][]float32, error) {
	return nil, ErrModelUnavailable
}

func (p *ONNXProvider) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, ErrModelUnavailable
}

func (p *ONNXProvider) Dimensions() int { return 0 }

func (p *ONNXProvider) ModelID() string { return "" }

func (p *ONNXProvider) Close() error { return nil }
