// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/api"
	"github.com/tanmay3107/reverse-image-search/internal/config"
	"github.com/tanmay3107/reverse-image-search/internal/crawler"
	"github.com/tanmay3107/reverse-image-search/internal/embed"
	"github.com/tanmay3107/reverse-image-search/internal/faceindex"
	"github.com/tanmay3107/reverse-image-search/internal/indexer"
	"github.com/tanmay3107/reverse-image-search/internal/ledger"
	"github.com/tanmay3107/reverse-image-search/internal/logging"
	"github.com/tanmay3107/reverse-image-search/internal/metastore"
	"github.com/tanmay3107/reverse-image-search/internal/publisher"
	"github.com/tanmay3107/reverse-image-search/internal/ratelimit"
	"github.com/tanmay3107/reverse-image-search/internal/search"
	"github.com/tanmay3107/reverse-image-search/internal/sources"
	"github.com/tanmay3107/reverse-image-search/internal/storage"
	"github.com/tanmay3107/reverse-image-search/internal/telemetry"
)

// App holds all the shared, long-lived services. It is initialized once at
// startup and handed to the commands that need it.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	index        *faceindex.Index
	records      metastore.Store
	blobs        storage.Provider
	pub          publisher.Publisher
	led          *ledger.Ledger
	pipeline     *indexer.Pipeline
	orchestrator *crawler.Orchestrator
	searcher     *search.Service
	server       *api.Server
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Orchestrator returns the crawl orchestrator.
func (a *App) Orchestrator() *crawler.Orchestrator { return a.orchestrator }

// Pipeline returns the indexing pipeline.
func (a *App) Pipeline() *indexer.Pipeline { return a.pipeline }

// Server returns the HTTP API server.
func (a *App) Server() *api.Server { return a.server }

// Index returns the in-memory face index.
func (a *App) Index() *faceindex.Index { return a.index }

// Ledger returns the crawl ledger.
func (a *App) Ledger() *ledger.Ledger { return a.led }

// New builds the full service graph from configuration. It fails fast when
// any critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("initializing services")

	telemetry.Init()

	records, err := newRecordStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	recs, err := records.Load(ctx)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("load face records: %w", err)
	}
	index, err := faceindex.Load(cfg.Index.VectorsPath, cfg.Index.Dimension, recs)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("load face index: %w", err)
	}
	telemetry.SetIndexSize(index.Len())
	logger.Info("face index loaded", zap.Int("records", index.Len()))

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		records.Close()
		return nil, err
	}

	pub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		records.Close()
		blobs.Close()
		return nil, err
	}

	extractor, err := embed.NewClient(embed.Config{
		Endpoint:      cfg.Embed.Endpoint,
		Timeout:       cfg.Embed.Timeout(),
		Dimension:     cfg.Index.Dimension,
		EnforceSingle: cfg.Embed.EnforceSingle,
	})
	if err != nil {
		records.Close()
		blobs.Close()
		return nil, fmt.Errorf("init embed client: %w", err)
	}

	pipeline, err := indexer.New(indexer.Options{
		Index:       index,
		Extractor:   extractor,
		Blobs:       blobs,
		Records:     records,
		VectorsPath: cfg.Index.VectorsPath,
		Prefix:      cfg.Storage.Prefix,
		UserAgent:   cfg.Crawler.UserAgent,
		Logger:      logger,
	})
	if err != nil {
		records.Close()
		blobs.Close()
		return nil, fmt.Errorf("init indexing pipeline: %w", err)
	}

	led, err := ledger.Open(cfg.Crawler.LedgerPath)
	if err != nil {
		records.Close()
		blobs.Close()
		return nil, fmt.Errorf("open crawl ledger: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Delay:    cfg.Crawler.Delay(),
		Cooldown: cfg.Crawler.Cooldown(),
	})
	detector := sources.NewCaptchaDetector(nil)
	opts := func(query string) sources.Options {
		return sources.Options{
			Query:     query,
			Limit:     cfg.Crawler.MaxPerSource,
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.Crawler.Timeout(),
			Detector:  detector,
			Logger:    logger,
		}
	}
	crawlSources := []crawler.Source{
		sources.NewYahoo(opts(cfg.Crawler.YahooQuery)),
		sources.NewFlickr(opts(cfg.Crawler.FlickrQuery)),
		sources.NewWikimedia(opts(cfg.Crawler.WikimediaQuery)),
	}
	orchestrator := crawler.New(crawlSources, limiter, led, pipeline, crawler.NewState(), pub, logger)

	searcher, err := search.New(index, extractor, search.Config{
		TopK:              cfg.Search.TopK,
		IdentityThreshold: cfg.Search.IdentityThreshold,
		ExactThreshold:    cfg.Search.ExactThreshold,
		PageSize:          cfg.Search.PageSize,
		PageSizeMax:       cfg.Search.PageSizeMax,
	}, logger)
	if err != nil {
		records.Close()
		blobs.Close()
		return nil, fmt.Errorf("init search service: %w", err)
	}

	server := api.NewServer(orchestrator, searcher, api.Config{
		MaxUploadBytes: cfg.Search.MaxUploadBytes,
	}, logger)

	logger.Info("services initialized")
	return &App{
		cfg:          cfg,
		logger:       logger,
		index:        index,
		records:      records,
		blobs:        blobs,
		pub:          pub,
		led:          led,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		searcher:     searcher,
		server:       server,
	}, nil
}

func newRecordStore(ctx context.Context, cfg config.Config) (metastore.Store, error) {
	switch cfg.Index.Records {
	case "postgres":
		store, err := metastore.NewPostgresStore(ctx, metastore.PostgresConfig{
			DSN:   cfg.Database.DSN,
			Table: cfg.Database.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres record store: %w", err)
		}
		return store, nil
	case "file":
		store, err := metastore.NewFileStore(cfg.Index.RecordsPath)
		if err != nil {
			return nil, fmt.Errorf("init file record store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown record store backend: %s", cfg.Index.Records)
	}
}

func newBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Provider, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		p, err := storage.NewGCSProvider(ctx, cfg.Storage.GCSBucket, logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return p, nil
	case "local":
		p, err := storage.NewLocalProvider(cfg.Storage.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return p, nil
	case "noop":
		return &storage.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisher.Publisher, error) {
	switch cfg.PubSub.Provider {
	case "pubsub":
		p, err := publisher.NewPubSubPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return p, nil
	case "memory":
		return publisher.NewMemoryPublisher(), nil
	case "noop":
		return &publisher.NoOpPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown pubsub provider: %s", cfg.PubSub.Provider)
	}
}

// Close shuts down all services. Called by a Cobra hook after the command
// finishes.
func (a *App) Close() {
	a.logger.Info("shutting down services")
	a.records.Close()
	if err := a.blobs.Close(); err != nil {
		a.logger.Warn("closing blob store", zap.Error(err))
	}
	if err := a.pub.Close(); err != nil {
		a.logger.Warn("closing event publisher", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr commonly fails on Linux; nothing useful to do.
		_ = err
	}
}
