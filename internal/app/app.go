// Package app builds and holds the long-lived services of a scrape run:
// browsers, sinks, the runner and the status server.
package app

import (
	"context"
	"errors"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
	"github.com/JakeFAU/shopfinder-crawler/internal/browser/headless"
	"github.com/JakeFAU/shopfinder-crawler/internal/browser/static"
	"github.com/JakeFAU/shopfinder-crawler/internal/clock/system"
	"github.com/JakeFAU/shopfinder-crawler/internal/config"
	"github.com/JakeFAU/shopfinder-crawler/internal/converge"
	"github.com/JakeFAU/shopfinder-crawler/internal/extract"
	"github.com/JakeFAU/shopfinder-crawler/internal/hash/sha256"
	"github.com/JakeFAU/shopfinder-crawler/internal/id/uuid"
	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
	"github.com/JakeFAU/shopfinder-crawler/internal/metrics"
	"github.com/JakeFAU/shopfinder-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/shopfinder-crawler/internal/runner"
	"github.com/JakeFAU/shopfinder-crawler/internal/server"
	"github.com/JakeFAU/shopfinder-crawler/internal/session"
	"github.com/JakeFAU/shopfinder-crawler/internal/sink"
	"github.com/JakeFAU/shopfinder-crawler/internal/telemetry"
	gcssink "github.com/JakeFAU/shopfinder-crawler/internal/sink/gcs"
	jsonlsink "github.com/JakeFAU/shopfinder-crawler/internal/sink/jsonl"
	postgressink "github.com/JakeFAU/shopfinder-crawler/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/shopfinder-crawler/internal/sink/pubsub"
	redissink "github.com/JakeFAU/shopfinder-crawler/internal/sink/redis"
)

// App holds the services of one run. It is built once at startup and closed
// when the command finishes.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	runID   string
	runner  *runner.Runner
	server  *server.Server
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	listing browser.Browser
	detail  browser.Browser
	sinks   []sink.Sink
}

// WithBrowser uses b for listing and detail pages instead of launching Chrome.
func WithBrowser(b browser.Browser) Option {
	return func(o *options) {
		o.listing = b
		o.detail = b
	}
}

// WithSink adds s next to the configured outputs.
func WithSink(s sink.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, s)
	}
}

// New builds every service. It fails fast: a browser that cannot start or an
// output that cannot be opened is fatal, and whatever was opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	a.runID = runID
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("initializing services")
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.track("tracer", func() error { return tp.Shutdown(context.Background()) })

	listing, detail, err := a.browsers(cfg, o, logger)
	if err != nil {
		return nil, err
	}

	out, err := a.sinks(ctx, cfg.Output, runID, logger)
	if err != nil {
		return nil, err
	}
	out = append(out, o.sinks...)

	table, err := locator.Build(cfg.Selectors)
	if err != nil {
		return nil, fmt.Errorf("build selector table: %w", err)
	}
	loc := locator.New(table, cfg.Search.CandidateTimeout, logger.Named("locator"), metrics.LocatorObserver())
	ex, err := extract.New(cfg.ExtractConfig(), loc, logger.Named("extract"))
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	clock := system.New()
	a.runner, err = runner.New(runner.Config{Workers: cfg.Run.Workers, RunID: runID}, runner.Dependencies{
		Listing:   listing,
		Detail:    detail,
		Session:   session.New(cfg.SessionConfig(), loc, logger.Named("session")),
		Loader:    converge.New(cfg.LoaderConfig(), loc, clock, logger.Named("converge")),
		Extractor: ex,
		Sink:      out,
		Limiter:   ratelimit.New(cfg.Detail.RateLimit),
		Clock:     clock,
	}, logger.Named("runner"))
	if err != nil {
		return nil, fmt.Errorf("init runner: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.server = server.New(cfg.Metrics.Config, a.runner, logger.Named("server"))
	}
	logger.Info("services initialized", zap.Int("outputs", len(out)), zap.String("detail_mode", cfg.Detail.Mode))
	return a, nil
}

func (a *App) browsers(cfg config.Config, o options, logger *zap.Logger) (browser.Browser, browser.Browser, error) {
	listing := o.listing
	if listing == nil {
		b, err := headless.New(cfg.HeadlessConfig(), logger.Named("chrome"))
		if err != nil {
			return nil, nil, fmt.Errorf("start browser: %w", err)
		}
		a.track("browser", b.Close)
		listing = b
	}
	detail := o.detail
	if detail == nil {
		detail = listing
		if cfg.Detail.Mode == config.DetailModeStatic {
			detail = static.New(cfg.StaticConfig(), logger.Named("static"))
		}
	}
	return listing, detail, nil
}

func (a *App) sinks(ctx context.Context, cfg config.OutputConfig, runID string, logger *zap.Logger) (sink.Multi, error) {
	var out sink.Multi
	add := func(name string, s sink.Sink) {
		out = append(out, s)
		a.track(name, s.Close)
		logger.Info("output enabled", zap.String("output", name))
	}

	if cfg.JSONL.Enabled {
		s, err := jsonlsink.New(cfg.JSONL.Config)
		if err != nil {
			return nil, fmt.Errorf("open jsonl output: %w", err)
		}
		add("jsonl", s)
	}
	if cfg.GCS.Enabled {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.track("gcs client", client.Close)
		s, err := gcssink.New(ctx, client, cfg.GCS.Config, runID)
		if err != nil {
			return nil, fmt.Errorf("open gcs output: %w", err)
		}
		add("gcs", s)
	}
	if cfg.Postgres.Enabled {
		s, err := postgressink.New(ctx, cfg.Postgres.Config, runID, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("open postgres output: %w", err)
		}
		add("postgres", s)
	}
	if cfg.PubSub.Enabled {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.track("pubsub client", client.Close)
		s, err := pubsubsink.New(client.Topic(cfg.PubSub.Topic), runID)
		if err != nil {
			return nil, fmt.Errorf("open pubsub output: %w", err)
		}
		add("pubsub", s)
	}
	if cfg.Redis.Enabled {
		s, err := redissink.New(ctx, cfg.Redis.Config)
		if err != nil {
			return nil, fmt.Errorf("open redis output: %w", err)
		}
		add("redis", s)
	}
	return out, nil
}

// track registers a resource for Close. Resources close in reverse order.
func (a *App) track(name string, closeFn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: closeFn})
}

// RunID returns the ID stamped on every output of this run.
func (a *App) RunID() string {
	return a.runID
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runner returns the run driver.
func (a *App) Runner() *runner.Runner {
	return a.runner
}

// Run serves status (when enabled) and processes codes.
func (a *App) Run(ctx context.Context, codes []string) (runner.Summary, error) {
	if a.server != nil {
		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := a.server.ListenAndServe(srvCtx, a.cfg.Metrics.Addr); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
		a.server.SetReady(true)
	}
	sum, err := a.runner.Run(ctx, codes)
	if err != nil {
		return sum, fmt.Errorf("run %s: %w", a.runID, err)
	}
	return sum, nil
}

// Close releases every resource, newest first. Sinks flush here, so the
// error matters: a failed close can lose buffered records.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
