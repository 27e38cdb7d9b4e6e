// Package search answers image similarity queries against a built index.
package search

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/hyperjump/ruiji/internal/aggregate"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/fusion"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/keyword"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

// QueryRecorder stores answered queries.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, rec *storage.QueryRecord) error
}

// Engine embeds query images and looks them up in one index directory.
type Engine struct {
	provider embedding.Provider
	indexDir string
	config   config.QueryConfig
	cache    *ArtifactCache
	recorder QueryRecorder
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithQueryConfig sets top-k limits, the embedding timeout and the fusion policy.
func WithQueryConfig(cfg config.QueryConfig) EngineOption {
	return func(e *Engine) { e.config = cfg }
}

// WithArtifactCache makes the engine keep loaded artifacts in c. Without a cache every
// query loads the index directory and releases it afterwards.
func WithArtifactCache(c *ArtifactCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithRecorder records every successful query.
func WithRecorder(r QueryRecorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine returns an engine answering queries against indexDir with provider.
// The provider must be the model the index was built with.
func NewEngine(provider embedding.Provider, indexDir string, opts ...EngineOption) *Engine {
	e := &Engine{provider: provider, indexDir: indexDir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// IndexDir returns the directory the engine queries.
func (e *Engine) IndexDir() string {
	return e.indexDir
}

// Cache returns the artifact cache, or nil when the engine loads per query.
func (e *Engine) Cache() *ArtifactCache {
	return e.cache
}

// artifacts returns the loaded index and a release func.
func (e *Engine) artifacts() (*indexer.Artifacts, func(), error) {
	if e.cache != nil {
		a, err := e.cache.Get(e.indexDir)
		return a, func() {}, err
	}
	a, err := indexer.LoadArtifacts(e.indexDir)
	if err != nil {
		return nil, nil, err
	}
	return a, func() { _ = a.Close() }, nil
}

// Manifest returns the manifest of the queried index.
func (e *Engine) Manifest() (*indexer.Manifest, error) {
	a, release, err := e.artifacts()
	if err != nil {
		return nil, err
	}
	defer release()
	m := a.Manifest
	return &m, nil
}

// Query returns the req.TopK catalog items most similar to the query image, best first.
func (e *Engine) Query(ctx context.Context, req *models.QueryRequest) ([]*models.SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("query request is required")
	}
	q := *req
	if q.TopK == 0 && e.config.DefaultTopK > 0 {
		q.TopK = e.config.DefaultTopK
	}
	if err := q.Validate(e.config.MaxTopK); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if _, err := os.Stat(q.ImagePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, q.ImagePath)
		}
		return nil, fmt.Errorf("cannot read query image %s: %w", q.ImagePath, err)
	}

	a, release, err := e.artifacts()
	if err != nil {
		return nil, err
	}
	defer release()

	if id := e.provider.ModelID(); id != a.Manifest.ModelID {
		e.logger.Warn("query model differs from build model, scores are not comparable",
			zap.String("query_model", id),
			zap.String("index_model", a.Manifest.ModelID),
		)
	}

	img, err := embedding.DecodeImageFile(q.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode %s: %v", ErrImageNotFound, q.ImagePath, err)
	}
	vec, err := e.queryVector(ctx, img, q.Text, &a.Manifest)
	if err != nil {
		return nil, err
	}

	hits, err := a.Index.Search(ctx, [][]float32{vec}, q.TopK)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	results := make([]*models.SearchResult, 0, len(hits[0]))
	for _, h := range hits[0] {
		if !h.Valid() || h.Row >= len(a.Items) {
			continue
		}
		results = append(results, &models.SearchResult{
			Score: float64(h.Score),
			Row:   h.Row,
			Item:  a.Items[h.Row],
		})
	}

	e.record(ctx, &q, results)
	return results, nil
}

// queryVector embeds the image, fusing the query text when the index was built with text.
func (e *Engine) queryVector(ctx context.Context, img image.Image, text string, m *indexer.Manifest) ([]float32, error) {
	embedCtx := ctx
	if e.config.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, e.config.EmbedTimeout)
		defer cancel()
	}

	imgVecs, err := e.provider.EmbedImages(embedCtx, []image.Image{img})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query image: %w", err)
	}
	if len(imgVecs) != 1 {
		return nil, fmt.Errorf("provider returned %d vectors for one image", len(imgVecs))
	}
	vec := imgVecs[0]

	switch {
	case m.TextFused && text != "":
		txtVecs, err := e.provider.EmbedTexts(embedCtx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to embed query text: %w", err)
		}
		fused, err := fusion.Fuse([][]float32{vec}, txtVecs, m.Alpha)
		if err != nil {
			return nil, fmt.Errorf("query fusion failed: %w", err)
		}
		return fused[0], nil
	case m.TextFused:
		if e.config.RequireSymmetricFusion {
			return nil, ErrAsymmetricQuery
		}
		e.logger.Warn("querying a text-fused index with an image-only vector")
	case text != "":
		e.logger.Debug("index has no text fusion, ignoring query text")
	}
	return fusion.Normalize(vec), nil
}

func (e *Engine) record(ctx context.Context, q *models.QueryRequest, results []*models.SearchResult) {
	if e.recorder == nil {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Item.ID
	}
	rec := &storage.QueryRecord{
		IndexDir:  e.indexDir,
		ImagePath: q.ImagePath,
		TopK:      q.TopK,
		Average:   aggregate.AverageAmountSold(results),
		ResultIDs: ids,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.recorder.RecordQuery(ctx, rec); err != nil {
		e.logger.Warn("failed to record query", zap.Error(err))
	}
}

// Estimate runs Query and averages field over the matches. An empty field means amount_sold.
func (e *Engine) Estimate(ctx context.Context, req *models.QueryRequest, field string) (*models.Estimate, error) {
	if field == "" {
		field = aggregate.AmountSoldField
	}
	results, err := e.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.Estimate{
		Field:   field,
		Average: aggregate.Average(field, results),
		Count:   aggregate.Count(field, results),
		Results: results,
	}, nil
}

// Find looks text up in the catalog keyword index of the queried directory.
// Scores are keyword relevance scores, not similarities.
func (e *Engine) Find(ctx context.Context, text string, limit int, fuzzy bool) ([]*models.SearchResult, error) {
	if text == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	a, release, err := e.artifacts()
	if err != nil {
		return nil, err
	}
	defer release()
	path := a.KeywordPath()
	if path == "" {
		return nil, fmt.Errorf("%w: %s has no keyword index", indexer.ErrIndexNotFound, e.indexDir)
	}
	kw, err := keyword.Open(path)
	if err != nil {
		return nil, err
	}
	defer kw.Close()

	hits, err := kw.Search(ctx, text, limit, &keyword.SearchOptions{FuzzyEnabled: fuzzy})
	if err != nil {
		return nil, err
	}
	results := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Row < 0 || h.Row >= len(a.Items) {
			continue
		}
		results = append(results, &models.SearchResult{Score: h.Score, Row: h.Row, Item: a.Items[h.Row]})
	}
	return results, nil
}
