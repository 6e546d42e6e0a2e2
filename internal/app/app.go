// Package app builds the long-lived services of one crawl run from its
// configuration and owns their shutdown. It is the composition root used by
// the CLI: sinks are opened and validated here, before any page is fetched.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/clock/system"
	"github.com/JakeFAU/threadcrawler/internal/config"
	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/threadcrawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/threadcrawler/internal/fetcher/headless"
	"github.com/JakeFAU/threadcrawler/internal/parser/forum"
	"github.com/JakeFAU/threadcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/threadcrawler/internal/sink"
	gcssink "github.com/JakeFAU/threadcrawler/internal/sink/gcs"
	"github.com/JakeFAU/threadcrawler/internal/sink/jsonl"
	pgsink "github.com/JakeFAU/threadcrawler/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/threadcrawler/internal/sink/pubsub"
	"github.com/JakeFAU/threadcrawler/internal/worker"
)

// Factories open the external clients. Tests replace them.
type Factories struct {
	Storage  func(ctx context.Context) (*storage.Client, error)
	PubSub   func(ctx context.Context, project string) (*pubsub.Client, error)
	Postgres func(ctx context.Context, cfg pgsink.Config) (crawler.Sink, error)
}

// DefaultFactories connect to the real services with ambient credentials.
func DefaultFactories() Factories {
	return Factories{
		Storage: func(ctx context.Context) (*storage.Client, error) {
			return storage.NewClient(ctx)
		},
		PubSub: func(ctx context.Context, project string) (*pubsub.Client, error) {
			return pubsub.NewClient(ctx, project)
		},
		Postgres: func(ctx context.Context, cfg pgsink.Config) (crawler.Sink, error) {
			return pgsink.New(ctx, cfg)
		},
	}
}

// App holds the services shared by every worker of a run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	sink     crawler.Sink
	pipeline *dispatcher.Pipeline
	closers  []func() error
}

// New opens the sinks and builds the pipeline. On error everything opened so
// far is closed again.
func New(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger, f Factories) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, runID: runID}
	if err := a.init(ctx, f); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("cleanup after failed init", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, f Factories) error {
	// Everything that can fail locally is built before any sink is opened.
	fetcher, err := a.newFetcher()
	if err != nil {
		return err
	}
	pages, err := crawler.NewPageSource(a.cfg.Crawl.Start, a.cfg.Crawl.End)
	if err != nil {
		return fmt.Errorf("page source: %w", err)
	}

	sinks, err := a.openSinks(ctx, f)
	if err != nil {
		return err
	}
	var out crawler.Sink = sinks[0]
	if len(sinks) > 1 {
		out = sink.NewMulti(sinks...)
	}
	a.sink = sink.NewSerial(out)
	a.closers = append(a.closers, a.sink.Close)
	parser := forum.New()
	a.pipeline, err = dispatcher.NewPipeline(dispatcher.Options{
		Concurrency:   a.cfg.Crawl.Concurrency,
		Pages:         pages,
		Gate:          ratelimit.New(ratelimit.Config{QPS: a.cfg.Crawl.QPS}, system.New()),
		Fetcher:       fetcher,
		Retry:         crawler.NewFixedRetryPolicy(a.cfg.Crawl.LimitRetry),
		URLs:          a.cfg.URLTemplates(),
		ListingParser: parser,
		DetailParser:  parser,
		Sink:          a.sink,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	return nil
}

type aborter interface {
	Abort()
}

// openSinks opens the outfile first so an unwritable path fails before any
// remote service is contacted.
func (a *App) openSinks(ctx context.Context, f Factories) ([]crawler.Sink, error) {
	out := a.cfg.Output
	file, err := jsonl.OpenFile(out.Outfile)
	if err != nil {
		return nil, err
	}
	sinks := []crawler.Sink{file}
	// Until the Serial wrapper takes ownership, release each sink on failure.
	// Uploads are aborted so a failed start leaves no partial object behind.
	closeAll := func() {
		for _, s := range sinks {
			if a, ok := s.(aborter); ok {
				a.Abort()
				continue
			}
			_ = s.Close()
		}
	}

	if out.GCSURI != "" {
		client, err := f.Storage(ctx)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := gcssink.New(context.WithoutCancel(ctx), client, out.GCSURI)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
		a.logger.Info("gcs sink enabled", zap.String("uri", s.URI()))
	}

	if out.PostgresDSN != "" {
		s, err := f.Postgres(ctx, pgsink.Config{
			DSN:   out.PostgresDSN,
			Table: out.PostgresTable,
			RunID: a.runID,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		sinks = append(sinks, s)
		a.logger.Info("postgres sink enabled", zap.String("table", out.PostgresTable))
	}

	if out.PubSubTopic != "" {
		client, err := f.PubSub(ctx, out.PubSubProject)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := pubsubsink.New(client.Topic(out.PubSubTopic), a.runID)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
		a.logger.Info("pubsub sink enabled",
			zap.String("project", out.PubSubProject),
			zap.String("topic", out.PubSubTopic),
		)
	}
	return sinks, nil
}

func (a *App) newFetcher() (crawler.Fetcher, error) {
	if a.cfg.HTTP.Headless {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Crawl.Concurrency,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: a.cfg.HTTP.HeadlessTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error {
			f.Close()
			return nil
		})
		a.logger.Info("using headless fetcher")
		return f, nil
	}
	f, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:       a.cfg.HTTP.UserAgent,
		RespectRobots:   a.cfg.HTTP.RespectRobots,
		Timeout:         a.cfg.HTTP.Timeout,
		Charset:         a.cfg.Crawl.Charset,
		MaxConnsPerHost: a.cfg.Crawl.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}
	return f, nil
}

// RunID identifies this run in logs and persisted rows.
func (a *App) RunID() string {
	return a.runID
}

// Progress reports the live crawl counters.
func (a *App) Progress() worker.Summary {
	return a.pipeline.Progress()
}

// Run executes the crawl to completion or until ctx ends.
func (a *App) Run(ctx context.Context) worker.Summary {
	a.logger.Info("crawl starting",
		zap.Int("start", a.cfg.Crawl.Start),
		zap.Int("end", a.cfg.Crawl.End),
		zap.Int("concurrency", a.cfg.Crawl.Concurrency),
		zap.Float64("qps", a.cfg.Crawl.QPS),
	)
	return a.pipeline.Run(ctx)
}

// Close flushes the sinks and releases clients, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
