// Package main is the ruiji CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/ruiji/internal/catalog"
	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/download"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/report"
	"github.com/hyperjump/ruiji/internal/sales"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/server"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ruiji/config.yaml"

// loadConfig loads config from path. When path is the default and does not exist, it
// looks for config.yaml in the current directory, and otherwise falls back to built-in
// defaults (plus RUIJI_* environment overrides).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			if cwd, cwdErr := os.Getwd(); cwdErr == nil {
				fallback := filepath.Join(cwd, "config.yaml")
				if _, statErr := os.Stat(fallback); statErr == nil {
					cfg, loadErr := config.Load(fallback)
					if loadErr != nil {
						return nil, "", loadErr
					}
					return cfg, fallback, nil
				}
			}
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := argsReorder(os.Args[2:])
	switch command {
	case "build":
		runBuild(args)
	case "query":
		runQuery(args)
	case "estimate":
		runEstimate(args)
	case "backfill":
		runBackfill(args)
	case "download":
		runDownload(args)
	case "report":
		runReport(args)
	case "find":
		runFind(args)
	case "server":
		runServer(args)
	case "status":
		runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("ruiji version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// fatalf prints to stderr and exits with status 1.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse sees them. The flag package stops at the
// first non-flag argument, so "ruiji query shirt.jpg -k 3" would otherwise ignore -k.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word text works with or without quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// env is the loaded config and logger shared by every command.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func setup(configPath string, debug bool) *env {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	return &env{cfg: cfg, logger: logger}
}

func (e *env) provider() embedding.Provider {
	p, err := embedding.New(&e.cfg.Embedding, e.logger)
	if err != nil {
		fatalf("Failed to initialize embedding provider: %v", err)
	}
	return p
}

// history opens the history database. Failure is logged and yields nil, since history
// is never required to answer a command.
func (e *env) history() *storage.SQLiteStorage {
	if e.cfg.Storage.DatabasePath == "" {
		return nil
	}
	h, err := storage.NewSQLiteStorage(e.cfg.Storage.DatabasePath)
	if err != nil {
		e.logger.Warn("history disabled", zap.String("path", e.cfg.Storage.DatabasePath), zap.Error(err))
		return nil
	}
	return h
}

// engine returns a query engine for indexDir that loads artifacts per call.
func (e *env) engine(provider embedding.Provider, indexDir string, h *storage.SQLiteStorage) *search.Engine {
	opts := []search.EngineOption{
		search.WithLogger(e.logger),
		search.WithQueryConfig(e.cfg.Query),
	}
	if h != nil {
		opts = append(opts, search.WithRecorder(h))
	}
	return search.NewEngine(provider, indexDir, opts...)
}

// buildFlags are the build overrides given on the command line. Zero values keep config.
type buildFlags struct {
	manifest  string
	products  string
	out       string
	alpha     float64
	batchSize int
	indexType string
	noKeyword bool
	backfill  bool
}

// reportTopK is the match count a report records: the -k flag, else query.default_top_k,
// else models.DefaultTopK.
func reportTopK(cfg *config.Config, k int) int {
	if k != 0 {
		return k
	}
	if cfg.Query.DefaultTopK > 0 {
		return cfg.Query.DefaultTopK
	}
	return models.DefaultTopK
}

// buildOptions merges config and flag overrides into indexer options.
// alpha < 0 means not set on the command line.
func buildOptions(cfg *config.Config, f buildFlags) indexer.BuildOptions {
	opts := indexer.BuildOptions{
		ManifestPath:       cfg.Build.ManifestPath,
		ProductsPath:       cfg.Build.ProductsPath,
		OutDir:             cfg.Storage.IndexDir,
		BatchSize:          cfg.Build.BatchSize,
		IndexType:          cfg.Vector.IndexType,
		KeywordIndex:       cfg.Build.KeywordIndexOrDefault() && !f.noKeyword,
		BackfillAmountSold: cfg.Build.BackfillAmountSold || f.backfill,
		LockTimeout:        cfg.Build.LockTimeout,
	}
	alpha := cfg.Build.AlphaOrDefault()
	if f.alpha >= 0 {
		alpha = float32(f.alpha)
	}
	opts.Alpha = &alpha
	if f.manifest != "" {
		opts.ManifestPath = f.manifest
	}
	if f.products != "" {
		opts.ProductsPath = f.products
	}
	if f.out != "" {
		opts.OutDir = f.out
	}
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
	}
	if f.indexType != "" {
		opts.IndexType = f.indexType
	}
	return opts
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	var f buildFlags
	fs.StringVar(&f.manifest, "manifest", "", "image manifest (JSONL: id, image_path)")
	fs.StringVar(&f.products, "products", "", "optional products file (JSONL) for text fusion and metadata")
	fs.StringVar(&f.out, "out", "", "output index directory (default: storage.index_dir)")
	fs.Float64Var(&f.alpha, "alpha", -1, "image weight when fusing text, 0..1 (default: build.alpha or 0.7)")
	fs.IntVar(&f.batchSize, "batch-size", 0, "images per embedding call")
	fs.StringVar(&f.indexType, "index-type", "", "similarity index: memory or faiss")
	fs.BoolVar(&f.noKeyword, "no-keyword", false, "skip the catalog keyword index")
	fs.BoolVar(&f.backfill, "backfill", false, "synthesize missing amount_sold values")
	_ = fs.Parse(args)
	if f.manifest == "" && fs.NArg() > 0 {
		f.manifest = fs.Arg(0)
	}

	e := setup(*configPath, *debug)
	defer e.logger.Sync()
	provider := e.provider()
	defer provider.Close()

	opts := buildOptions(e.cfg, f)
	if opts.ManifestPath == "" {
		fatalf("Usage: ruiji build [flags] <manifest.jsonl>")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := indexer.NewBuilder(provider, indexer.WithLogger(e.logger)).Build(ctx, opts)
	if err != nil {
		fatalf("Build failed: %v", err)
	}
	if h := e.history(); h != nil {
		rec := &storage.BuildRecord{
			IndexDir:       res.OutDir,
			ModelID:        res.ModelID,
			Count:          res.Count,
			Skipped:        res.Skipped,
			DecodeFailures: res.DecodeFailures,
			TextFused:      res.TextFused,
			Alpha:          float64(res.Alpha),
		}
		if err := h.RecordBuild(ctx, rec); err != nil {
			e.logger.Warn("record build failed", zap.Error(err))
		}
		h.Close()
	}
	e.logger.Info("build finished",
		zap.Int("count", res.Count),
		zap.Int("skipped", res.Skipped),
		zap.Int("decode_failures", res.DecodeFailures),
		zap.Duration("duration", res.Duration),
	)
	fmt.Println(res.OutDir)
}

type queryFlags struct {
	configPath string
	debug      bool
	indexDir   string
	topK       int
	text       string
	format     string
}

func (q *queryFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&q.configPath, "config", defaultConfigPath, "config file path")
	fs.BoolVar(&q.debug, "debug", false, "enable debug logging")
	fs.StringVar(&q.indexDir, "index", "", "index directory (default: storage.index_dir)")
	fs.IntVar(&q.topK, "k", 0, "number of matches (default: query.default_top_k)")
	fs.StringVar(&q.text, "text", "", "query text, fused with the image when the index is text-fused")
	fs.StringVar(&q.format, "format", "json", "output format: json, text or compact")
}

// prepare parses the format and sets up an engine. It returns the request for the image argument.
func (q *queryFlags) prepare(fs *flag.FlagSet, usage string) (*env, *search.Engine, func(), *models.QueryRequest, cli.OutputFormat) {
	format, err := cli.ParseFormat(q.format)
	if err != nil {
		fatalf("%v", err)
	}
	if fs.NArg() < 1 {
		fatalf("Usage: %s", usage)
	}
	e := setup(q.configPath, q.debug)
	indexDir := q.indexDir
	if indexDir == "" {
		indexDir = e.cfg.Storage.IndexDir
	}
	provider := e.provider()
	h := e.history()
	cleanup := func() {
		provider.Close()
		if h != nil {
			h.Close()
		}
		_ = e.logger.Sync()
	}
	req := &models.QueryRequest{ImagePath: fs.Arg(0), Text: q.text, TopK: q.topK}
	return e, e.engine(provider, indexDir, h), cleanup, req, format
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	var q queryFlags
	q.register(fs)
	_ = fs.Parse(args)

	_, engine, cleanup, req, format := q.prepare(fs, "ruiji query [flags] <image>")
	defer cleanup()
	results, err := engine.Query(context.Background(), req)
	if err != nil {
		cleanup()
		fatalf("Query failed: %v", err)
	}
	if err := cli.WriteResults(os.Stdout, results, format); err != nil {
		cleanup()
		fatalf("Output failed: %v", err)
	}
}

func runEstimate(args []string) {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	var q queryFlags
	q.register(fs)
	field := fs.String("field", "", "numeric field to average (default: amount_sold)")
	_ = fs.Parse(args)
	if q.format == "json" && !flagSet(fs, "format") {
		q.format = string(cli.OutputCompact)
	}

	_, engine, cleanup, req, format := q.prepare(fs, "ruiji estimate [flags] <image>")
	defer cleanup()
	est, err := engine.Estimate(context.Background(), req, *field)
	if err != nil {
		cleanup()
		fatalf("Estimate failed: %v", err)
	}
	if err := cli.WriteEstimate(os.Stdout, est, format); err != nil {
		cleanup()
		fatalf("Output failed: %v", err)
	}
}

// flagSet reports whether name was given on the command line.
func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func runBackfill(args []string) {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	products := fs.Bool("products", false, "treat the file as a products file instead of an index metadata table")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fatalf("Usage: ruiji backfill [--products] <file>")
	}
	path := fs.Arg(0)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, indexer.MetadataFile)
	}

	var n int
	var err error
	if *products {
		n, err = sales.BackfillProductsFile(path)
	} else {
		n, err = sales.BackfillFile(path)
	}
	if err != nil {
		fatalf("Backfill failed: %v", err)
	}
	fmt.Printf("backfilled %d records in %s\n", n, path)
}

func runDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	out := fs.String("out", "", "image directory (default: storage.image_cache_dir)")
	workers := fs.Int("workers", 0, "concurrent downloads (default: download.workers)")
	perProduct := fs.Int("per-product", 0, "images per product (default: download.per_product)")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fatalf("Usage: ruiji download [flags] <products.jsonl>")
	}

	e := setup(*configPath, *debug)
	defer e.logger.Sync()
	products, err := catalog.ReadProducts(fs.Arg(0))
	if err != nil {
		fatalf("Failed to read products: %v", err)
	}
	opts := download.Options{
		OutDir:            e.cfg.Storage.ImageCacheDir,
		Workers:           e.cfg.Download.Workers,
		PerProduct:        e.cfg.Download.PerProduct,
		Timeout:           e.cfg.Download.Timeout,
		RequestsPerSecond: e.cfg.Download.RequestsPerSecond,
		MaxRetries:        uint64(max(e.cfg.Download.MaxRetries, 0)),
		Logger:            e.logger,
	}
	if *out != "" {
		opts.OutDir = *out
	}
	if *workers > 0 {
		opts.Workers = *workers
	}
	if *perProduct > 0 {
		opts.PerProduct = *perProduct
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	res, err := download.New(opts).Run(ctx, products)
	if err != nil {
		fatalf("Download failed: %v", err)
	}
	e.logger.Info("download finished",
		zap.Int("downloaded", res.Downloaded),
		zap.Int("cached", res.Cached),
		zap.Int("failed", res.Failed),
	)
	fmt.Println(res.ManifestPath)
}

// writeReport writes r to path; the extension picks the format.
func writeReport(path string, r *report.Report) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return report.WriteXLSX(path, r)
	case ".html", ".htm":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := report.WriteHTML(f, r); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	default:
		return fmt.Errorf("unsupported report format %q (use .html or .xlsx)", filepath.Ext(path))
	}
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	var q queryFlags
	q.register(fs)
	out := fs.String("out", "report.html", "output file, .html or .xlsx")
	title := fs.String("title", "", "report title")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fatalf("Usage: ruiji report [flags] <image|dir|zip>...")
	}

	coll, err := report.CollectImages(fs.Args())
	if err != nil {
		fatalf("Failed to collect images: %v", err)
	}
	defer coll.Cleanup()
	if len(coll.Images) == 0 {
		coll.Cleanup()
		fatalf("No images found in %s", joinArgs(fs.Args()))
	}

	e := setup(q.configPath, q.debug)
	indexDir := q.indexDir
	if indexDir == "" {
		indexDir = e.cfg.Storage.IndexDir
	}
	provider := e.provider()
	defer provider.Close()
	engine := search.NewEngine(provider, indexDir,
		search.WithLogger(e.logger),
		search.WithQueryConfig(e.cfg.Query),
		search.WithArtifactCache(search.NewArtifactCache()),
	)
	defer engine.Cache().Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	r, err := report.Generate(ctx, engine, coll.Images, reportTopK(e.cfg, q.topK))
	if err != nil {
		coll.Cleanup()
		fatalf("Report failed: %v", err)
	}
	if *title != "" {
		r.Title = *title
	}
	if err := writeReport(*out, r); err != nil {
		coll.Cleanup()
		fatalf("Write report failed: %v", err)
	}
	fmt.Println(*out)
}

func runFind(args []string) {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	indexDir := fs.String("index", "", "index directory (default: storage.index_dir)")
	limit := fs.Int("limit", 10, "number of results")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	outputFormat := fs.String("format", "text", "output format: json, text or compact")
	_ = fs.Parse(args)

	text := joinArgs(fs.Args())
	if text == "" {
		fatalf("Usage: ruiji find [flags] <text>")
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	e := setup(*configPath, false)
	defer e.logger.Sync()
	dir := *indexDir
	if dir == "" {
		dir = e.cfg.Storage.IndexDir
	}
	// keyword lookup never embeds, so the mock provider is enough
	engine := search.NewEngine(embedding.NewMockProvider(e.cfg.Embedding.Dimensions), dir, search.WithLogger(e.logger))

	ctx := context.Background()
	results, err := engine.Find(ctx, text, *limit, *fuzzy)
	// retry with fuzzy matching when an exact lookup finds nothing
	if err == nil && len(results) == 0 && !*fuzzy {
		results, err = engine.Find(ctx, text, *limit, true)
	}
	if err != nil {
		fatalf("Find failed: %v", err)
	}
	if err := cli.WriteResults(os.Stdout, results, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	host := fs.String("host", "", "listen host (default: server.host)")
	port := fs.Int("port", 0, "listen port (default: server.port)")
	indexDir := fs.String("index", "", "index directory (default: storage.index_dir)")
	_ = fs.Parse(args)

	e := setup(*configPath, *debug)
	defer e.logger.Sync()
	if *host != "" {
		e.cfg.Server.Host = *host
	}
	if *port > 0 {
		e.cfg.Server.Port = *port
	}
	if *indexDir != "" {
		e.cfg.Storage.IndexDir = *indexDir
	}

	provider := e.provider()
	defer provider.Close()
	h := e.history()
	var history storage.History
	opts := []search.EngineOption{
		search.WithLogger(e.logger),
		search.WithQueryConfig(e.cfg.Query),
		search.WithArtifactCache(search.NewArtifactCache()),
	}
	if h != nil {
		defer h.Close()
		history = h
		opts = append(opts, search.WithRecorder(h))
	}
	engine := search.NewEngine(provider, e.cfg.Storage.IndexDir, opts...)
	defer engine.Cache().Close()
	if m, err := engine.Manifest(); err != nil {
		e.logger.Warn("index not loaded yet", zap.String("index_dir", e.cfg.Storage.IndexDir), zap.Error(err))
	} else {
		e.logger.Info("index loaded", zap.Int("count", m.Count), zap.String("model_id", m.ModelID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := server.NewServer(engine, history, e.cfg, e.logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Server failed", zap.Error(err))
		}
	}

	e.logger.Info("Shutting down...")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

// statusResponse mirrors GET /api/v1/status.
type statusResponse struct {
	IndexDir       string            `json:"index_dir"`
	Index          *indexer.Manifest `json:"index"`
	Queries        *int64            `json:"queries,omitempty"`
	DiskUsageBytes *int64            `json:"disk_usage_bytes,omitempty"`
	Config         map[string]any    `json:"config,omitempty"`
}

func localStatus(e *env, indexDir string) (*statusResponse, error) {
	status := &statusResponse{IndexDir: indexDir}
	m, err := indexer.ReadManifest(indexDir)
	switch {
	case err == nil:
		status.Index = m
	case errors.Is(err, indexer.ErrIndexNotFound):
	default:
		return nil, err
	}
	if h := e.history(); h != nil {
		defer h.Close()
		n, err := h.CountQueries(context.Background())
		if err != nil {
			return nil, err
		}
		status.Queries = &n
	}
	if n, err := storage.DiskUsageBytes(indexDir, e.cfg.Storage.DatabasePath); err == nil {
		status.DiskUsageBytes = &n
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func writeStatus(w io.Writer, s *statusResponse) {
	fmt.Fprintf(w, "index_dir:          %s\n", s.IndexDir)
	if s.Index == nil {
		fmt.Fprintln(w, "index:              (not built)")
	} else {
		fmt.Fprintf(w, "items:              %d\n", s.Index.Count)
		fmt.Fprintf(w, "model_id:           %s\n", s.Index.ModelID)
		fmt.Fprintf(w, "dim:                %d\n", s.Index.Dim)
		fmt.Fprintf(w, "index_type:         %s\n", s.Index.IndexType)
		fmt.Fprintf(w, "text_fused:         %t\n", s.Index.TextFused)
		if s.Index.TextFused {
			fmt.Fprintf(w, "alpha:              %g\n", s.Index.Alpha)
		}
		fmt.Fprintf(w, "created_at:         %s\n", s.Index.CreatedAt)
	}
	if s.Queries != nil {
		fmt.Fprintf(w, "queries:            %d\n", *s.Queries)
	}
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *s.DiskUsageBytes)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	indexDir := fs.String("index", "", "index directory (default: storage.index_dir)")
	serverURL := fs.String("server", "", "server URL; empty reads the index directory directly")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	var status *statusResponse
	var err error
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		e := setup(*configPath, false)
		defer e.logger.Sync()
		dir := *indexDir
		if dir == "" {
			dir = e.cfg.Storage.IndexDir
		}
		status, err = localStatus(e, dir)
	}
	if err != nil {
		fatalf("Status failed: %v", err)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fatalf("Output failed: %v", err)
		}
	case "text":
		writeStatus(os.Stdout, status)
	default:
		fatalf("Unknown output format %q; use text or json", *outputFormat)
	}
}

func printUsage() {
	fmt.Println(`ruiji - visual similarity search and sales estimation for a product catalog

Usage:
  ruiji download [flags] <products.jsonl>       Download product images, write an image manifest
  ruiji build [flags] <manifest.jsonl>          Build an index directory
  ruiji query [flags] <image>                   Most similar catalog items (JSON by default)
  ruiji estimate [flags] <image>                Average amount_sold over the matches
  ruiji report [flags] <image|dir|zip>...       Estimate a batch of images into an HTML or XLSX report
  ruiji find [flags] <text>                     Keyword lookup in the catalog metadata
  ruiji backfill [--products] <file|index-dir>  Synthesize missing amount_sold values
  ruiji server [flags]                          Start the HTTP server
  ruiji status [flags]                          Show index and history status
  ruiji version                                 Show version
  ruiji help                                    Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/ruiji/config.yaml, then ./config.yaml)
  --debug            Enable debug logging

Build Flags:
  --products string  Products file; enables text fusion and fills metadata
  --out string       Output index directory
  --alpha float      Image weight when fusing text (default 0.7)
  --index-type       memory or faiss
  --no-keyword       Skip the catalog keyword index
  --backfill         Synthesize missing amount_sold values

Query/Estimate/Report Flags:
  --index string     Index directory
  --k int            Number of matches
  --text string      Query text (required by text-fused indexes when query.require_symmetric_fusion is set)
  --format string    json, text or compact
  --field string     Field to average (estimate only, default amount_sold)
  --out string       Report file, .html or .xlsx (report only)

Examples:
  ruiji download products.jsonl
  ruiji build --products products.jsonl data/images/images_manifest.jsonl
  ruiji query --k 5 shirt.jpg
  ruiji estimate --text "linen shirt" shirt.jpg
  ruiji report --out forecast.xlsx new_collection.zip
  ruiji find --fuzzy oxfrod`)
}
