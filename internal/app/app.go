// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for a crawl.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/doccrawler/internal/clock/system"
	"github.com/JakeFAU/doccrawler/internal/config"
	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/fetcher/binary"
	collyfetcher "github.com/JakeFAU/doccrawler/internal/fetcher/colly"
	"github.com/JakeFAU/doccrawler/internal/fetcher/headless"
	"github.com/JakeFAU/doccrawler/internal/id/uuid"
	"github.com/JakeFAU/doccrawler/internal/links"
	"github.com/JakeFAU/doccrawler/internal/metrics"
	"github.com/JakeFAU/doccrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/doccrawler/internal/storage"
	"github.com/JakeFAU/doccrawler/internal/transform"
)

// App holds the services shared by one crawl invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	storage  storage.Backend
	renderer *headless.Renderer
	engine   *crawler.Engine
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	resolver crawler.Resolver
}

// WithResolver replaces the DNS resolver used by the SSRF guard.
func WithResolver(r crawler.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// NewApp wires storage, fetchers, the renderer and the engine from cfg. It
// fails fast on an unknown transform target or a storage root that cannot be
// opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	transformer := transform.NewRegistry(logger)
	if target := cfg.Crawl.Transform; target != "" && !slices.Contains(transformer.Targets(), strings.ToLower(strings.TrimSpace(target))) {
		return nil, fmt.Errorf("%w: %q (available: %s)", transform.ErrUnknownTarget, target,
			strings.Join(transformer.Targets(), ", "))
	}

	store, err := storage.Open(ctx, cfg.Crawl.StorageRoot, storageOptions(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	guard := crawler.NewSSRFGuard(o.resolver, logger)
	recorder := metrics.NewRecorder()

	htmlFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawl.UserAgent,
		Timeouts:      cfg.Timeouts,
		Retry:         cfg.Retry,
		MaxBodyBytes:  cfg.Limits.MaxItemBytes,
		RedirectGuard: guard.CheckURL,
		OnRetry:       func(int, error) { recorder.ObserveRetry("html") },
		Logger:        logger,
	})
	binaryFetcher := binary.New(binary.Config{
		UserAgent:          cfg.Crawl.UserAgent,
		Timeouts:           cfg.Timeouts,
		Retry:              cfg.Retry,
		MultipartThreshold: cfg.Limits.MultipartThreshold,
		ChunkSize:          cfg.Limits.MultipartChunkSize,
		RedirectGuard:      guard.CheckURL,
		OnRetry:            func(int, error) { recorder.ObserveRetry("binary") },
		Logger:             logger,
	})

	a := &App{cfg: cfg, logger: logger, storage: store}

	deps := crawler.Dependencies{
		HTML:        htmlFetcher,
		Binary:      binaryFetcher,
		Links:       links.New(),
		Storage:     store,
		Transformer: transformer,
		Limiter:     ratelimit.New(ratelimit.Config{PerHostRPS: cfg.Limits.PerHostRPS, Burst: cfg.Crawl.RateBurst}),
		Guard:       guard,
		Clock:       system.New(),
		IDs:         uuid.New(),
		Recorder:    recorder,
		Logger:      logger,
	}
	if cfg.Headless.Enabled {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			SettleDelay:       cfg.Headless.SettleDelay,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		a.renderer = renderer
		deps.Renderer = renderer
	}

	engine, err := crawler.NewEngine(deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	a.engine = engine
	return a, nil
}

func storageOptions(cfg config.Config, logger *zap.Logger) storage.Options {
	opts := storage.Options{Logger: logger}
	opts.S3.Region = cfg.Storage.S3Region
	opts.S3.Endpoint = cfg.Storage.S3Endpoint
	opts.S3.UsePathStyle = cfg.Storage.S3PathStyle
	opts.S3.AccessKeyID = cfg.Storage.S3AccessKeyID
	opts.S3.SecretAccessKey = cfg.Storage.S3SecretAccessKey
	opts.S3.SpoolDir = cfg.Storage.SpoolDir
	if cfg.Storage.GCSEndpoint != "" {
		opts.GCS = append(opts.GCS, option.WithEndpoint(cfg.Storage.GCSEndpoint))
	}
	return opts
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStorage exposes the configured blob storage backend.
func (a *App) GetStorage() storage.Backend {
	return a.storage
}

// Crawl runs one crawl from seed with the loaded configuration.
func (a *App) Crawl(ctx context.Context, seed string) ([]crawler.SavedItem, error) {
	req, err := a.cfg.CrawlRequest(seed)
	if err != nil {
		return nil, fmt.Errorf("build crawl request: %w", err)
	}
	return a.engine.Run(ctx, req)
}

// Close shuts down the renderer and storage and flushes the logger.
func (a *App) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("storage_close_failed", zap.Error(err))
	}
	// Sync fails on terminals; nothing useful can be done with the error.
	_ = a.logger.Sync()
}
