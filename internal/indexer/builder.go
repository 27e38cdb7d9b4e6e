// Package indexer builds the similarity index and metadata table from a catalog manifest.
package indexer

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/ruiji/internal/catalog"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/fusion"
	"github.com/hyperjump/ruiji/internal/keyword"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/sales"
	"github.com/hyperjump/ruiji/internal/vector"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of images embedded per provider call.
const DefaultBatchSize = 8

// BuildOptions controls one index build.
type BuildOptions struct {
	ManifestPath string
	// ProductsPath is optional. When set, product text is fused into the vectors and
	// product fields are joined into the metadata table.
	ProductsPath string
	OutDir       string
	BatchSize    int
	// Alpha is the image weight used when fusing text; nil means fusion.DefaultAlpha.
	Alpha              *float32
	IndexType          string
	KeywordIndex       bool
	BackfillAmountSold bool
	LockTimeout        time.Duration
}

// BuildResult summarizes a finished build.
type BuildResult struct {
	OutDir         string
	ModelID        string
	Dim            int
	Count          int
	Skipped        int
	DecodeFailures int
	JoinMisses     int
	Backfilled     int
	TextFused      bool
	Alpha          float32
	Duration       time.Duration
}

// Builder builds index directories with an embedding provider.
type Builder struct {
	provider embedding.Provider
	logger   *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for build progress and skipped entries.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder returns a builder that embeds with provider.
func NewBuilder(provider embedding.Provider, opts ...BuilderOption) *Builder {
	b := &Builder{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = utils.OrNop(b.logger)
	return b
}

// Build embeds every manifest entry whose image exists, optionally fuses product text,
// and writes the artifacts to opts.OutDir. Nothing under OutDir changes unless the whole
// build succeeds.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	if opts.OutDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	alpha := fusion.DefaultAlpha
	if opts.Alpha != nil {
		alpha = *opts.Alpha
	}
	if err := fusion.ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	outDir := filepath.Clean(opts.OutDir)

	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	release, err := acquireLock(outDir+".lock", lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := catalog.ReadManifest(opts.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", opts.ManifestPath, err)
	}
	res := &BuildResult{OutDir: outDir, ModelID: b.provider.ModelID(), Alpha: alpha}
	entries = b.existingEntries(entries, res)
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest %s: %w", opts.ManifestPath, ErrEmptyInput)
	}

	var products map[string]*models.Product
	if opts.ProductsPath != "" {
		list, err := catalog.ReadProducts(opts.ProductsPath)
		if err != nil {
			return nil, fmt.Errorf("products %s: %w", opts.ProductsPath, err)
		}
		if len(list) == 0 {
			b.logger.Warn("products source is empty, building image-only index", zap.String("path", opts.ProductsPath))
		} else {
			products = catalog.ProductMap(list)
		}
	}

	rows, err := b.embedImages(ctx, entries, batchSize, res)
	if err != nil {
		return nil, err
	}
	res.Dim = len(rows[0])

	if products != nil {
		texts := make([]string, len(entries))
		for i, e := range entries {
			texts[i] = catalog.ProductText(products[e.ID])
		}
		txt, err := b.embedTexts(ctx, texts, batchSize, res.Dim)
		if err != nil {
			return nil, err
		}
		rows, err = fusion.Fuse(rows, txt, alpha)
		if err != nil {
			return nil, fmt.Errorf("fusion failed: %w", err)
		}
		res.TextFused = true
	}
	if err := checkUnitNorm(rows); err != nil {
		return nil, err
	}

	items := make([]models.Item, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		if p, ok := products[e.ID]; ok {
			items[i] = p.ToItem(e.ImagePath)
			continue
		}
		if products != nil {
			res.JoinMisses++
		}
		items[i] = models.Item{ID: e.ID, ImagePath: e.ImagePath}
	}
	if opts.BackfillAmountSold {
		res.Backfilled = sales.Backfill(items)
	}
	res.Count = len(items)

	if err := b.writeArtifacts(ctx, outDir, opts, ids, rows, items, res); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	b.logger.Info("index built",
		zap.String("out_dir", outDir),
		zap.Int("count", res.Count),
		zap.Int("skipped", res.Skipped),
		zap.Int("decode_failures", res.DecodeFailures),
		zap.Bool("text_fused", res.TextFused),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (b *Builder) existingEntries(entries []models.ManifestEntry, res *BuildResult) []models.ManifestEntry {
	kept := entries[:0:0]
	for _, e := range entries {
		if _, err := os.Stat(e.ImagePath); err != nil {
			res.Skipped++
			b.logger.Warn("manifest image missing, skipping",
				zap.String("id", e.ID),
				zap.String("image_path", e.ImagePath),
			)
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// embedImages embeds the entries' images in sequential batches. Undecodable images are
// replaced by the placeholder.
func (b *Builder) embedImages(ctx context.Context, entries []models.ManifestEntry, batchSize int, res *BuildResult) ([][]float32, error) {
	rows := make([][]float32, 0, len(entries))
	batch := make([]image.Image, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		embs, err := b.provider.EmbedImages(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to embed images: %w", err)
		}
		if len(embs) != len(batch) {
			return fmt.Errorf("provider returned %d image vectors for %d images", len(embs), len(batch))
		}
		rows = append(rows, embs...)
		batch = batch[:0]
		return nil
	}
	for _, e := range entries {
		img, err := embedding.DecodeImageFile(e.ImagePath)
		if err != nil {
			res.DecodeFailures++
			b.logger.Warn("image decode failed, using placeholder",
				zap.String("id", e.ID),
				zap.String("image_path", e.ImagePath),
				zap.Error(err),
			)
			img = embedding.Placeholder()
		}
		batch = append(batch, img)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
			b.logger.Debug("embedded images", zap.Int("done", len(rows)), zap.Int("total", len(entries)))
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := checkDims(rows, len(rows[0])); err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *Builder) embedTexts(ctx context.Context, texts []string, batchSize, dim int) ([][]float32, error) {
	rows := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		embs, err := b.provider.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed texts: %w", err)
		}
		if len(embs) != end-start {
			return nil, fmt.Errorf("provider returned %d text vectors for %d texts", len(embs), end-start)
		}
		rows = append(rows, embs...)
	}
	if err := checkDims(rows, dim); err != nil {
		return nil, err
	}
	return rows, nil
}

func checkDims(rows [][]float32, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("provider returned empty vectors")
	}
	for i, r := range rows {
		if len(r) != dim {
			return fmt.Errorf("embedding dim changed mid-run: row %d has %d, want %d", i, len(r), dim)
		}
	}
	return nil
}

// unitNormTolerance bounds how far a stored row's norm may drift from 1.
const unitNormTolerance = 1e-3

// checkUnitNorm rejects rows a misbehaving provider failed to normalize. All-zero rows
// pass; they only arise from exactly cancelling fusion and score 0 against everything.
func checkUnitNorm(rows [][]float32) error {
	for i, r := range rows {
		n := vector.L2Norm(r)
		if n != 0 && math.Abs(float64(n)-1) > unitNormTolerance {
			return fmt.Errorf("row %d is not unit-normalized (norm %.4f)", i, n)
		}
	}
	return nil
}

// writeArtifacts writes everything into a temp dir beside outDir and swaps it into place.
func (b *Builder) writeArtifacts(ctx context.Context, outDir string, opts BuildOptions, ids []string, rows [][]float32, items []models.Item, res *BuildResult) (err error) {
	if err := os.MkdirAll(filepath.Dir(outDir), 0o755); err != nil {
		return fmt.Errorf("cannot create parent of %s: %w", outDir, err)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(outDir), "."+filepath.Base(outDir)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temp dir: %w", err)
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("cannot chmod temp dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	idx, err := vector.NewVectorIndex(opts.IndexType, res.Dim)
	if err != nil {
		return err
	}
	defer idx.Close()
	if err := idx.Add(ctx, ids, rows); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	indexFile := vector.FileName(idx.Type())
	if err := idx.Save(filepath.Join(tmp, indexFile)); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	if err := catalog.WriteMetadata(filepath.Join(tmp, MetadataFile), items); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	m := &Manifest{
		IndexVersion: IndexVersion,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		ModelID:      res.ModelID,
		Dim:          res.Dim,
		Count:        res.Count,
		Alpha:        res.Alpha,
		TextFused:    res.TextFused,
		IndexType:    idx.Type(),
		IndexFile:    indexFile,
		MetadataFile: MetadataFile,
	}
	if opts.KeywordIndex {
		kw, err := keyword.Build(filepath.Join(tmp, keyword.DirName), items)
		if err != nil {
			return fmt.Errorf("failed to build keyword index: %w", err)
		}
		if err := kw.Close(); err != nil {
			return fmt.Errorf("failed to close keyword index: %w", err)
		}
		m.KeywordDir = keyword.DirName
	}
	if err := writeManifest(tmp, m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := AtomicSwap(tmp, outDir); err != nil {
		return fmt.Errorf("failed to move index into %s: %w", outDir, err)
	}
	return nil
}
