package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClipServerOptions configures a ClipServerProvider.
type ClipServerOptions struct {
	URL               string
	ModelID           string
	Dimensions        int
	RequestsPerSecond float64
	MaxRetries        uint64
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

type vectorizeRequest struct {
	Texts  []string `json:"texts"`
	Images []string `json:"images"`
}

type vectorizeResponse struct {
	TextVectors  [][]float32 `json:"textVectors"`
	ImageVectors [][]float32 `json:"imageVectors"`
	Error        string      `json:"error"`
}

// ClipServerProvider embeds through a CLIP inference container's POST /vectorize endpoint.
type ClipServerProvider struct {
	url        string
	modelID    string
	dimensions int
	maxRetries uint64
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClipServerProvider returns a provider for the inference server at opts.URL.
func NewClipServerProvider(opts ClipServerOptions) (*ClipServerProvider, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: clip server url is empty", ErrModelUnavailable)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	logger := utils.OrNop(opts.Logger)
	return &ClipServerProvider{
		url:        strings.TrimRight(opts.URL, "/"),
		modelID:    opts.ModelID,
		dimensions: opts.Dimensions,
		maxRetries: opts.MaxRetries,
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}, nil
}

// EmbedImages sends the images JPEG-encoded as base64.
func (p *ClipServerProvider) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	if len(images) == 0 {
		return [][]float32{}, nil
	}
	encoded := make([]string, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	resp, err := p.vectorize(ctx, vectorizeRequest{Texts: []string{}, Images: encoded})
	if err != nil {
		return nil, err
	}
	return p.checkRows(resp.ImageVectors, len(images))
}

// EmbedTexts sends the texts as-is.
func (p *ClipServerProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := p.vectorize(ctx, vectorizeRequest{Texts: texts, Images: []string{}})
	if err != nil {
		return nil, err
	}
	return p.checkRows(resp.TextVectors, len(texts))
}

func (p *ClipServerProvider) checkRows(rows [][]float32, want int) ([][]float32, error) {
	if len(rows) != want {
		return nil, fmt.Errorf("clip server returned %d vectors for %d inputs", len(rows), want)
	}
	for i, r := range rows {
		if p.dimensions > 0 && len(r) != p.dimensions {
			return nil, fmt.Errorf("clip server vector %d has dimension %d, want %d", i, len(r), p.dimensions)
		}
	}
	normalizeRows(rows)
	return rows, nil
}

func (p *ClipServerProvider) vectorize(ctx context.Context, req vectorizeRequest) (*vectorizeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal vectorize request: %w", err)
	}

	var out *vectorizeResponse
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxRetries), ctx)
	err = backoff.Retry(func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := p.post(ctx, body)
		if err != nil {
			p.logger.Debug("vectorize attempt failed", zap.String("url", p.url), zap.Error(err))
			return err
		}
		out = resp
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("clip server %s: %w", p.url, err)
	}
	return out, nil
}

// post performs one request. 4xx answers are permanent; transport errors and 5xx are retried.
func (p *ClipServerProvider) post(ctx context.Context, body []byte) (*vectorizeResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/vectorize", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var out vectorizeResponse
	decodeErr := json.Unmarshal(data, &out)
	switch {
	case res.StatusCode >= 500:
		if decodeErr == nil && out.Error != "" {
			return nil, fmt.Errorf("status %d: %s", res.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("status %d", res.StatusCode)
	case res.StatusCode >= 400:
		if decodeErr == nil && out.Error != "" {
			return nil, backoff.Permanent(fmt.Errorf("status %d: %s", res.StatusCode, out.Error))
		}
		return nil, backoff.Permanent(fmt.Errorf("status %d", res.StatusCode))
	}
	if decodeErr != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode vectorize response: %w", decodeErr))
	}
	if out.Error != "" {
		return nil, backoff.Permanent(fmt.Errorf("clip server error: %s", out.Error))
	}
	return &out, nil
}

// Dimensions returns the configured dimension.
func (p *ClipServerProvider) Dimensions() int {
	return p.dimensions
}

// ModelID returns the configured model identifier.
func (p *ClipServerProvider) ModelID() string {
	return p.modelID
}

// Close releases idle connections.
func (p *ClipServerProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
