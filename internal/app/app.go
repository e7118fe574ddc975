// Package app builds the clipper's object graph from configuration and owns
// the lifecycle of every long-lived dependency.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/api"
	"github.com/famotime/siyuan-scripts/internal/clipper"
	"github.com/famotime/siyuan-scripts/internal/clock/system"
	"github.com/famotime/siyuan-scripts/internal/config"
	"github.com/famotime/siyuan-scripts/internal/converter"
	"github.com/famotime/siyuan-scripts/internal/fetch"
	collyfetcher "github.com/famotime/siyuan-scripts/internal/fetcher/colly"
	"github.com/famotime/siyuan-scripts/internal/fetcher/headless"
	"github.com/famotime/siyuan-scripts/internal/hash/sha256"
	"github.com/famotime/siyuan-scripts/internal/headless/detector"
	"github.com/famotime/siyuan-scripts/internal/id/uuid"
	"github.com/famotime/siyuan-scripts/internal/importer"
	"github.com/famotime/siyuan-scripts/internal/media"
	"github.com/famotime/siyuan-scripts/internal/pipeline"
	"github.com/famotime/siyuan-scripts/internal/policy/ratelimit"
	"github.com/famotime/siyuan-scripts/internal/progress"
	"github.com/famotime/siyuan-scripts/internal/progress/sinks"
	memorypublisher "github.com/famotime/siyuan-scripts/internal/publisher/memory"
	pubsubpublisher "github.com/famotime/siyuan-scripts/internal/publisher/pubsub"
	"github.com/famotime/siyuan-scripts/internal/rewriter"
	"github.com/famotime/siyuan-scripts/internal/siyuan"
	"github.com/famotime/siyuan-scripts/internal/storage/gcs"
	"github.com/famotime/siyuan-scripts/internal/storage/local"
	"github.com/famotime/siyuan-scripts/internal/storage/memory"
	"github.com/famotime/siyuan-scripts/internal/storage/postgres"
)

const (
	publisherHistory     = 256
	progressCloseTimeout = 5 * time.Second
)

// Outcomes records and reads per-run outcomes.
type Outcomes interface {
	clipper.OutcomeRecorder
	api.OutcomeReader
}

// App holds the wired pipeline and the resources that must be released on
// shutdown.
type App struct {
	logger   *zap.Logger
	runner   *pipeline.Runner
	outcomes Outcomes
	checks   map[string]api.ReadinessCheck
	closers  []func() error
}

// New wires every stage from cfg. On error, anything already opened is
// closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		logger: logger,
		checks: make(map[string]api.ReadinessCheck),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	headers := cfg.RequestHeaders()
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
		Headers:     headers,
	})

	renderer, err := a.buildRenderer(cfg)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(
		transport,
		renderer,
		detector.NewHeuristic(cfg.Fetch.DetectorThreshold, cfg.Fetch.MinVisibleText),
		fetch.Config{
			Timeout:              time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
			RenderHosts:          cfg.Fetch.RenderHosts,
			ReplacementThreshold: cfg.Fetch.ReplacementThreshold,
			Fallbacks:            cfg.Fetch.Fallbacks,
		},
		logger.Named("fetch"),
	)

	strategies, err := buildStrategies(cfg.Converter.Strategies)
	if err != nil {
		return nil, err
	}
	conv := converter.New(converter.Config{MinLength: cfg.Converter.MinLength}, logger.Named("converter"), strategies...)

	var kernel *siyuan.Client
	if cfg.Storage.Backend == config.BackendSiYuan || cfg.Notes.Backend == config.BackendSiYuan {
		kernel = siyuan.New(siyuan.Config{
			BaseURL:   cfg.SiYuan.BaseURL,
			Token:     cfg.SiYuan.Token,
			Timeout:   time.Duration(cfg.SiYuan.TimeoutSeconds) * time.Second,
			AssetsDir: cfg.SiYuan.AssetsDir,
		}, nil, logger.Named("siyuan"))
		a.checks["siyuan"] = func(ctx context.Context) error {
			_, err := kernel.Notebooks(ctx)
			return err
		}
	}

	blobs, err := a.buildBlobStore(ctx, cfg, kernel)
	if err != nil {
		return nil, err
	}
	notes, err := buildNoteStore(cfg, kernel)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	resolver := media.New(
		transport,
		blobs,
		sha256.New(),
		ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Media.RPS, DefaultBurst: cfg.Media.Burst}),
		media.Config{
			Concurrency: cfg.Media.Concurrency,
			Timeout:     time.Duration(cfg.Media.TimeoutSeconds) * time.Second,
			MinBytes:    cfg.Media.MinBytes,
			Prefix:      cfg.Media.Prefix,
		},
		logger.Named("media"),
	)
	imp := importer.New(notes, clock, importer.Config{
		Header:     cfg.Importer.Header,
		OnExists:   cfg.Importer.OnExists,
		MaxRenames: cfg.Importer.MaxRenames,
	}, logger.Named("importer"))

	if a.outcomes, err = a.buildOutcomes(ctx, cfg); err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	hub, err := a.buildProgress(cfg)
	if err != nil {
		return nil, err
	}

	a.runner = pipeline.New(
		pipeline.Stages{
			Fetcher:   fetcher,
			Rewriter:  buildRegistry(cfg.Rewriter, logger.Named("rewriter")),
			Converter: conv,
			Resolver:  resolver,
			Importer:  imp,
		},
		clipper.NewExponentialRetryPolicy(
			cfg.Pipeline.MaxAttempts,
			time.Duration(cfg.Pipeline.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.Pipeline.BackoffMaxMs)*time.Millisecond,
		),
		a.outcomes,
		publisher,
		uuid.New(),
		clock,
		pipeline.Config{
			Concurrency: cfg.Pipeline.Concurrency,
			PageTimeout: cfg.PageTimeout(),
			Headers:     headers,
			Progress:    hub,
		},
		logger.Named("pipeline"),
	)

	logger.Info("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("notes_backend", cfg.Notes.Backend),
		zap.Bool("headless", renderer != nil),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the clip orchestrator.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Outcomes returns the outcome ledger.
func (a *App) Outcomes() Outcomes { return a.outcomes }

// Checks returns the readiness checks for the configured backends.
func (a *App) Checks() map[string]api.ReadinessCheck { return a.checks }

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	a.logger.Info("application services shut down")
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// buildRenderer returns nil when headless rendering is disabled, so the
// fetcher stays on the plain transport.
func (a *App) buildRenderer(cfg config.Config) (clipper.Transport, error) {
	if !cfg.Headless.Enabled {
		return nil, nil
	}
	renderer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
		WaitSelector:      cfg.Headless.WaitSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless renderer: %w", err)
	}
	a.onClose(func() error {
		renderer.Close()
		return nil
	})
	return renderer, nil
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config, kernel *siyuan.Client) (clipper.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendSiYuan:
		return kernel, nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, PublicBaseURL: cfg.Storage.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		if err := store.Check(ctx); err != nil {
			return nil, err
		}
		a.checks["gcs"] = store.Check
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildNoteStore(cfg config.Config, kernel *siyuan.Client) (clipper.NoteStore, error) {
	switch cfg.Notes.Backend {
	case config.BackendSiYuan:
		return kernel, nil
	case config.BackendLocal:
		store, err := local.NewNoteStore(local.Config{BaseDir: cfg.Notes.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local note store: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		return memory.NewNoteStore(), nil
	default:
		return nil, fmt.Errorf("unknown notes backend %q", cfg.Notes.Backend)
	}
}

func (a *App) buildOutcomes(ctx context.Context, cfg config.Config) (Outcomes, error) {
	if cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured, outcomes kept in memory")
		return memory.NewOutcomeStore(), nil
	}
	store, err := postgres.NewOutcomeStore(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("init outcome store: %w", err)
	}
	a.onClose(func() error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.checks["postgres"] = store.Ping
	return store, nil
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (clipper.Publisher, error) {
	if cfg.PubSub.TopicName == "" {
		return memorypublisher.New(publisherHistory), nil
	}
	if cfg.PubSub.ProjectID == "" {
		return nil, errors.New("pubsub.project_id is required when pubsub.topic_name is set")
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.onClose(client.Close)
	publisher := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
	a.onClose(func() error {
		publisher.Stop()
		return nil
	})
	a.logger.Info("publishing completion events", zap.String("topic", cfg.PubSub.TopicName))
	return publisher, nil
}

// buildProgress returns nil when stage events are disabled.
func (a *App) buildProgress(cfg config.Config) (progress.Emitter, error) {
	if !cfg.Progress.Enabled {
		return nil, nil
	}
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, err
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:   cfg.Progress.BufferSize,
		MaxBatchWait: time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:       a.logger.Named("progress"),
	}, sinks.NewLogSink(a.logger.Named("progress")), promSink)
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), progressCloseTimeout)
		defer cancel()
		return hub.Close(ctx)
	})
	return hub, nil
}

// buildRegistry registers one marker handler per configured name, in name
// order so inspection is deterministic.
func buildRegistry(cfg config.RewriterConfig, logger *zap.Logger) *rewriter.Registry {
	if len(cfg.Hosts) == 0 {
		return rewriter.NewRegistry(logger, rewriter.Defaults()...)
	}
	names := make([]string, 0, len(cfg.Hosts))
	for name := range cfg.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	handlers := make([]rewriter.Handler, 0, len(names))
	for _, name := range names {
		handlers = append(handlers, rewriter.NewMarkerHandler(name, cfg.Hosts[name], cfg.Marker, cfg.ScanLines))
	}
	return rewriter.NewRegistry(logger, handlers...)
}

func buildStrategies(names []string) ([]converter.Strategy, error) {
	strategies := make([]converter.Strategy, 0, len(names))
	for _, name := range names {
		switch name {
		case converter.StrategyV2:
			strategies = append(strategies, converter.NewV2Strategy())
		case converter.StrategyV1:
			strategies = append(strategies, converter.NewV1Strategy())
		case converter.StrategyMinimal:
			strategies = append(strategies, converter.MinimalStrategy{})
		default:
			return nil, fmt.Errorf("unknown converter strategy %q", name)
		}
	}
	return strategies, nil
}
