// Package download fetches catalog product images into a local cache and writes the build manifest.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/ruiji/internal/catalog"
	"github.com/hyperjump/ruiji/internal/fileid"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ManifestFileName is the manifest written into the output directory.
const ManifestFileName = "images_manifest.jsonl"

const (
	DefaultWorkers    = 16
	DefaultPerProduct = 2
	DefaultTimeout    = 20 * time.Second
	userAgent         = "Mozilla/5.0"
)

// Options configures a Downloader.
type Options struct {
	OutDir     string
	Workers    int
	PerProduct int
	Timeout    time.Duration
	// RequestsPerSecond limits request starts across all workers; <= 0 means unlimited.
	RequestsPerSecond float64
	MaxRetries        uint64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Result summarizes a run. Entries holds one row per image available on disk, in
// product and URL order.
type Result struct {
	ManifestPath string
	Entries      []models.ManifestEntry
	Downloaded   int
	Cached       int
	Failed       int
}

// Downloader fetches image URLs with a bounded worker pool.
type Downloader struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New returns a downloader, filling unset options with defaults.
func New(opts Options) *Downloader {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PerProduct <= 0 {
		opts.PerProduct = DefaultPerProduct
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	logger := utils.OrNop(opts.Logger)
	return &Downloader{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(limit, opts.Workers),
		logger:  logger,
	}
}

type task struct {
	productID string
	url       string
}

type outcome int

const (
	failed outcome = iota
	downloaded
	cached
)

// Run downloads up to PerProduct images for each product and writes the manifest.
// A failed download is logged and left out; it never stops the others.
func (d *Downloader) Run(ctx context.Context, products []models.Product) (*Result, error) {
	if d.opts.OutDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(d.opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", d.opts.OutDir, err)
	}

	var tasks []task
	for _, p := range products {
		urls := p.ImageURLs
		if len(urls) > d.opts.PerProduct {
			urls = urls[:d.opts.PerProduct]
		}
		for _, u := range urls {
			if u == "" {
				continue
			}
			tasks = append(tasks, task{productID: p.ID, url: u})
		}
	}

	// one fetch per distinct URL; products sharing an image share the file
	unique := make([]string, 0, len(tasks))
	slot := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if _, ok := slot[t.url]; !ok {
			slot[t.url] = len(unique)
			unique = append(unique, t.url)
		}
	}
	outcomes := make([]outcome, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, u := range unique {
		i, u := i, u
		g.Go(func() error {
			outcomes[i] = d.fetch(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{ManifestPath: filepath.Join(d.opts.OutDir, ManifestFileName)}
	for _, o := range outcomes {
		switch o {
		case downloaded:
			res.Downloaded++
		case cached:
			res.Cached++
		default:
			res.Failed++
		}
	}
	for _, t := range tasks {
		if outcomes[slot[t.url]] == failed {
			continue
		}
		res.Entries = append(res.Entries, models.ManifestEntry{ID: t.productID, ImagePath: d.path(t.url)})
	}
	if err := catalog.WriteManifest(res.ManifestPath, res.Entries); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	d.logger.Info("images downloaded",
		zap.Int("downloaded", res.Downloaded),
		zap.Int("cached", res.Cached),
		zap.Int("failed", res.Failed),
		zap.String("manifest", res.ManifestPath),
	)
	return res, nil
}

func (d *Downloader) path(url string) string {
	return filepath.Join(d.opts.OutDir, fileid.ImageFileName(url))
}

func (d *Downloader) fetch(ctx context.Context, url string) outcome {
	dest := d.path(url)
	if _, err := os.Stat(dest); err == nil {
		return cached
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.opts.MaxRetries), ctx)
	err := backoff.Retry(func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return d.get(ctx, url, dest)
	}, policy)
	if err != nil {
		d.logger.Warn("image download failed", zap.String("url", url), zap.Error(err))
		return failed
	}
	return downloaded
}

var errStatus = errors.New("unexpected status")

// get fetches url into dest through a temp file so a partial body never looks cached.
func (d *Downloader) get(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w %d", errStatus, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	_ = os.Chmod(tmpName, 0o644)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return backoff.Permanent(err)
	}
	return nil
}
