//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNX tensor names of the exported CLIP vision and text towers.
const (
	visionInputName  = "pixel_values"
	visionOutputName = "image_embeds"
	textIDsName      = "input_ids"
	textMaskName     = "attention_mask"
	textOutputName   = "text_embeds"
)

// ONNXOptions configures an ONNXProvider.
type ONNXOptions struct {
	ModelID        string
	ImageModelPath string
	TextModelPath  string
	Dimensions     int
	ImageSize      int
	MaxTokens      int
	// NumThreads bounds ONNX Runtime intra- and inter-op parallelism; 0 leaves the runtime default.
	NumThreads int
	// Device is "cpu" or "cuda".
	Device    string
	Tokenizer Tokenizer
}

type onnxSession struct {
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	ids     *ort.Tensor[int64]
	mask    *ort.Tensor[int64]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) destroy() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	for _, t := range s.inputs {
		_ = t.Destroy()
	}
	s.inputs = nil
	if s.ids != nil {
		_ = s.ids.Destroy()
		s.ids = nil
	}
	if s.mask != nil {
		_ = s.mask.Destroy()
		s.mask = nil
	}
	if s.output != nil {
		_ = s.output.Destroy()
		s.output = nil
	}
	return err
}

// ONNXProvider runs CLIP vision and text encoders with ONNX Runtime. It requires CGO and the
// onnxruntime shared library. The text model is optional; without it EmbedTexts fails.
type ONNXProvider struct {
	opts   ONNXOptions
	vision *onnxSession
	text   *onnxSession
	mu     sync.Mutex
}

// NewONNXProvider loads the configured models. InitializeEnvironment is called if not already done.
func NewONNXProvider(opts ONNXOptions) (*ONNXProvider, error) {
	if opts.Dimensions <= 0 {
		opts.Dimensions = 512
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = PlaceholderSize
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 77
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = NewCLIPTokenizer(nil)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: failed to initialize ONNX runtime: %v", ErrModelUnavailable, err)
		}
	}

	sessionOpts, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()

	p := &ONNXProvider{opts: opts}
	p.vision, err = newVisionSession(opts, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: vision model %s: %v", ErrModelUnavailable, opts.ImageModelPath, err)
	}
	if opts.TextModelPath != "" {
		p.text, err = newTextSession(opts, sessionOpts)
		if err != nil {
			_ = p.vision.destroy()
			return nil, fmt.Errorf("%w: text model %s: %v", ErrModelUnavailable, opts.TextModelPath, err)
		}
	}
	return p, nil
}

func newSessionOptions(opts ONNXOptions) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if opts.NumThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
		if err := so.SetInterOpNumThreads(opts.NumThreads); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
		}
	}
	if opts.Device == "cuda" {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			so.Destroy()
			return nil, fmt.Errorf("%w: CUDA provider: %v", ErrModelUnavailable, err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to configure CUDA provider: %w", err)
		}
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("%w: CUDA provider: %v", ErrModelUnavailable, err)
		}
	}
	return so, nil
}

func newVisionSession(opts ONNXOptions, so *ort.SessionOptions) (*onnxSession, error) {
	size := int64(opts.ImageSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(opts.Dimensions)), make([]float32, opts.Dimensions))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		opts.ImageModelPath,
		[]string{visionInputName},
		[]string{visionOutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		so,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &onnxSession{session: session, inputs: []*ort.Tensor[float32]{input}, output: output}, nil
}

func newTextSession(opts ONNXOptions, so *ort.SessionOptions) (*onnxSession, error) {
	n := int64(opts.MaxTokens)
	ids, err := ort.NewTensor(ort.NewShape(1, n), make([]int64, n))
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	mask, err := ort.NewTensor(ort.NewShape(1, n), make([]int64, n))
	if err != nil {
		ids.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(opts.Dimensions)), make([]float32, opts.Dimensions))
	if err != nil {
		ids.Destroy()
		mask.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		opts.TextModelPath,
		[]string{textIDsName, textMaskName},
		[]string{textOutputName},
		[]ort.ArbitraryTensor{ids, mask},
		[]ort.ArbitraryTensor{output},
		so,
	)
	if err != nil {
		ids.Destroy()
		mask.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &onnxSession{session: session, ids: ids, mask: mask, output: output}, nil
}

// EmbedImages preprocesses and encodes each image, one inference per image.
func (p *ONNXProvider) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pixels := Preprocess(img, p.opts.ImageSize)

		p.mu.Lock()
		if p.vision == nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("onnx provider closed")
		}
		copy(p.vision.inputs[0].GetData(), pixels)
		err := p.vision.session.Run()
		if err == nil {
			out[i] = append([]float32(nil), p.vision.output.GetData()[:p.opts.Dimensions]...)
		}
		p.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("image inference failed: %w", err)
		}
	}
	normalizeRows(out)
	return out, nil
}

// EmbedTexts tokenizes and encodes each text, one inference per text.
func (p *ONNXProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask := p.opts.Tokenizer.Tokenize(text, p.opts.MaxTokens)

		p.mu.Lock()
		if p.text == nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: no text model loaded", ErrModelUnavailable)
		}
		copy(p.text.ids.GetData(), ids)
		copy(p.text.mask.GetData(), mask)
		err := p.text.session.Run()
		if err == nil {
			out[i] = append([]float32(nil), p.text.output.GetData()[:p.opts.Dimensions]...)
		}
		p.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("text inference failed: %w", err)
		}
	}
	normalizeRows(out)
	return out, nil
}

// Dimensions returns the embedding dimension.
func (p *ONNXProvider) Dimensions() int {
	return p.opts.Dimensions
}

// ModelID returns the configured model identifier.
func (p *ONNXProvider) ModelID() string {
	return p.opts.ModelID
}

// Close destroys the sessions and tensors.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.vision != nil {
		err = p.vision.destroy()
		p.vision = nil
	}
	if p.text != nil {
		if terr := p.text.destroy(); err == nil {
			err = terr
		}
		p.text = nil
	}
	return err
}
