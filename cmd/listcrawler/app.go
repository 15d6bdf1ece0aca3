package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/listing-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	pubsubpublisher "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-crawler/internal/sink"
	"github.com/JakeFAU/listing-crawler/internal/storage/gcs"
	"github.com/JakeFAU/listing-crawler/internal/storage/local"
	"github.com/JakeFAU/listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/listing-crawler/internal/throttle"
)

const pushTimeout = 10 * time.Second

// app holds every collaborator of one run plus the cleanups they need.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	reg       *prometheus.Registry
	recorder  *metrics.Recorder
	opener    crawler.SessionOpener
	extractor crawler.RecordExtractor
	enricher  crawler.DetailEnricher
	sink      crawler.Sink
	publisher crawler.Publisher
	pageDelay crawler.Delayer
	itemDelay crawler.Delayer
	closers   []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg *prometheus.Registry) (*app, error) {
	a := &app{cfg: cfg, logger: logger, reg: reg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var err error
	if a.recorder, err = metrics.NewRecorder(reg); err != nil {
		return nil, err
	}
	if a.opener, err = buildOpener(cfg.Fetcher, a.recorder, logger.Named("fetcher")); err != nil {
		return nil, err
	}
	listing, err := extract.NewListingExtractor(cfg.Listing.ListingSchema, logger.Named("listing"))
	if err != nil {
		return nil, fmt.Errorf("build listing extractor: %w", err)
	}
	a.extractor = listing
	if cfg.Crawl.Enrich {
		detail, err := extract.NewDetailEnricher(cfg.Detail.DetailSchema, logger.Named("detail"))
		if err != nil {
			return nil, fmt.Errorf("build detail enricher: %w", err)
		}
		a.enricher = detail
	}
	if a.pageDelay, a.itemDelay, err = buildDelays(cfg.Throttle); err != nil {
		return nil, err
	}
	if err := a.buildSink(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) run(ctx context.Context) error {
	controller := crawler.NewController(a.cfg.CrawlerConfig(), crawler.Components{
		Opener:    a.opener,
		Extractor: a.extractor,
		Enricher:  a.enricher,
		Sink:      a.sink,
		PageDelay: a.pageDelay,
		ItemDelay: a.itemDelay,
		Publisher: a.publisher,
		Observer:  a.recorder,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}, a.logger.Named("crawl"))

	summary, runErr := controller.Run(ctx)
	if runErr == nil {
		a.recorder.RecordSummary(summary)
	}
	a.pushMetrics(summary.RunID)
	return runErr
}

// pushMetrics runs on a fresh context so a canceled crawl still reports.
func (a *app) pushMetrics(runID string) {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, runID, a.reg); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func buildOpener(cfg config.FetcherConfig, obs crawler.FetchObserver, logger *zap.Logger) (crawler.SessionOpener, error) {
	switch cfg.Kind {
	case config.FetcherHeadless:
		opener, err := headless.NewChromedp(headless.Config{
			UserAgent:         cfg.UserAgent,
			Headers:           cfg.Headers,
			NavigationTimeout: cfg.Timeout,
			ShowBrowser:       cfg.ShowBrowser,
			ExecPath:          cfg.ExecPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("build headless fetcher: %w", err)
		}
		return opener, nil
	case config.FetcherStatic:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			Headers:       cfg.Headers,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.Timeout,
		}, nil, logger).WithObserver(obs), nil
	default:
		return nil, fmt.Errorf("unknown fetcher kind %q", cfg.Kind)
	}
}

// buildDelays returns the page and item delay policies. A positive max_rps
// chains a token bucket after each random delay.
func buildDelays(cfg config.ThrottleConfig) (page, item crawler.Delayer, err error) {
	pageRandom, err := throttle.NewRandom(cfg.PageMin, cfg.PageMax)
	if err != nil {
		return nil, nil, fmt.Errorf("page delay: %w", err)
	}
	itemRandom, err := throttle.NewRandom(cfg.ItemMin, cfg.ItemMax)
	if err != nil {
		return nil, nil, fmt.Errorf("item delay: %w", err)
	}
	if cfg.MaxRPS <= 0 {
		return pageRandom, itemRandom, nil
	}
	limiter := throttle.NewRate(cfg.MaxRPS, cfg.Burst)
	return throttle.Chain{pageRandom, limiter}, throttle.Chain{itemRandom, limiter}, nil
}

func (a *app) buildSink(ctx context.Context) error {
	cfg := a.cfg.Sink
	format, err := sink.ParseFormat(cfg.Format)
	if err != nil {
		return fmt.Errorf("sink format: %w", err)
	}
	blobCfg := sink.BlobConfig{Prefix: cfg.Prefix, Name: a.cfg.Crawl.Name, Format: format}

	switch cfg.Kind {
	case config.SinkFile:
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		a.sink, err = sink.NewBlobSink(store, blobCfg, a.logger.Named("sink"))
		return err
	case config.SinkGCS:
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.GCS.Bucket, Endpoint: cfg.GCS.Endpoint})
		if err != nil {
			return fmt.Errorf("open gcs store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.sink, err = sink.NewBlobSink(store, blobCfg, a.logger.Named("sink"))
		return err
	case config.SinkPostgres:
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			Source:   a.cfg.Crawl.Name,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if cfg.Postgres.CreateTable {
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		a.sink = store
		return nil
	default:
		return fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
}

func (a *app) buildPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicID == "" {
		return nil
	}
	pub, err := pubsubpublisher.Dial(ctx, pubsubpublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicID:   a.cfg.PubSub.TopicID,
		Endpoint:  a.cfg.PubSub.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("open pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.publisher = pub
	return nil
}
