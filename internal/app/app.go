// Package app wires configuration into the services the commands run.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/batch"
	"github.com/JakeFAU/leadcrawler/internal/checkpoint"
	"github.com/JakeFAU/leadcrawler/internal/clock/system"
	"github.com/JakeFAU/leadcrawler/internal/config"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/dispatch"
	"github.com/JakeFAU/leadcrawler/internal/id/uuid"
	"github.com/JakeFAU/leadcrawler/internal/messaging/dm"
	"github.com/JakeFAU/leadcrawler/internal/messaging/smtp"
	"github.com/JakeFAU/leadcrawler/internal/metrics"
	"github.com/JakeFAU/leadcrawler/internal/navigator/browser"
	"github.com/JakeFAU/leadcrawler/internal/navigator/static"
	"github.com/JakeFAU/leadcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/leadcrawler/internal/publisher"
	"github.com/JakeFAU/leadcrawler/internal/publisher/memory"
	"github.com/JakeFAU/leadcrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/leadcrawler/internal/source"
	"github.com/JakeFAU/leadcrawler/internal/source/comments"
	"github.com/JakeFAU/leadcrawler/internal/source/maps"
	"github.com/JakeFAU/leadcrawler/internal/source/posts"
	"github.com/JakeFAU/leadcrawler/internal/storage"
	"github.com/JakeFAU/leadcrawler/internal/store/postgres"
	"github.com/JakeFAU/leadcrawler/internal/youtube"
)

// Source names accepted by Jobs.
const (
	SourceMaps     = "maps"
	SourceComments = "comments"
	SourcePosts    = "posts"
	SourceAll      = "all"
)

// ErrNoTargets is returned when a requested source has nothing to crawl.
var ErrNoTargets = errors.New("no targets configured")

// App is the dependency injection container for the commands. Browser and
// sink connections are opened on first use and released by Close.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	ids       crawler.IDGenerator
	backend   checkpoint.Backend
	artifacts crawler.BlobStore
	limiter   *ratelimit.Limiter
	counter   *dispatch.DailyCounter

	mu      sync.Mutex
	browser *browser.Browser
	dryRun  *memory.Publisher
	closers []func() error
}

// New opens the checkpoint backend and the artifact store.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	backend, err := openBackend(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	artifacts, closeArtifacts, err := storage.Open(ctx, cfg.Artifacts)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("artifacts_backend", cfg.Artifacts.Backend),
		zap.String("navigator", cfg.Navigator.Driver),
	)
	clock := system.New()
	return &App{
		cfg:       cfg,
		logger:    logger,
		clock:     clock,
		ids:       uuid.New(),
		backend:   backend,
		artifacts: artifacts,
		limiter:   ratelimit.New(cfg.Crawl.RateLimit),
		counter:   dispatch.NewDailyCounter(cfg.Dispatch.MaxDailyMessages, clock),
		closers:   []func() error{closeArtifacts, backend.Close},
	}, nil
}

func openBackend(cfg config.CheckpointConfig) (checkpoint.Backend, error) {
	switch cfg.Backend {
	case config.CheckpointBadger:
		b, err := checkpoint.OpenBadger(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint backend: %w", err)
		}
		return b, nil
	default:
		b, err := checkpoint.NewFileBackend(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint backend: %w", err)
		}
		return b, nil
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Backend returns the checkpoint backend.
func (a *App) Backend() checkpoint.Backend { return a.backend }

// IDs returns the request and event id generator.
func (a *App) IDs() crawler.IDGenerator { return a.ids }

// Ready reports whether the checkpoint backend answers reads.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.backend.Get(ctx, "readyz"); err != nil && !errors.Is(err, crawler.ErrNotFound) {
		return fmt.Errorf("checkpoint backend: %w", err)
	}
	return nil
}

// Navigators returns the factory sessions use to open a page driver. Every
// navigator waits on the crawl rate limit before loading a page.
func (a *App) Navigators() source.NavigatorFunc {
	open := func(ctx context.Context) (crawler.Navigator, error) {
		if a.cfg.Navigator.Driver == config.DriverStatic {
			return static.New(a.cfg.Navigator.Static), nil
		}
		b, err := a.chrome()
		if err != nil {
			return nil, err
		}
		nav, err := b.NewNavigator(ctx)
		if err != nil {
			return nil, err
		}
		return nav, nil
	}
	return source.Throttle(open, a.limiter)
}

// chrome starts the shared browser process on first use.
func (a *App) chrome() (*browser.Browser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browser != nil {
		return a.browser, nil
	}
	b, err := browser.New(a.cfg.Navigator.Browser, a.logger.Named("browser"))
	if err != nil {
		return nil, err
	}
	a.browser = b
	a.closers = append(a.closers, b.Close)
	return b, nil
}

// Jobs builds one batch job per requested source in the order maps,
// comments, posts. "all" selects every source that has targets.
func (a *App) Jobs(names ...string) ([]batch.Job, error) {
	want, err := selectSources(names)
	if err != nil {
		return nil, err
	}
	all := len(names) == 0 || want[SourceAll]

	var jobs []batch.Job
	add := func(name string, targets []string, build func() (crawler.Source, error)) error {
		if !all && !want[name] {
			return nil
		}
		if len(targets) == 0 {
			if all {
				return nil
			}
			return fmt.Errorf("%s: %w", name, ErrNoTargets)
		}
		src, err := build()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		job := batch.Job{Source: src, Units: crawler.UnitsFrom(targets)}
		if a.cfg.Crawl.RunID != "" {
			job.RunID = a.cfg.Crawl.RunID + "-" + string(src.Kind())
		}
		jobs = append(jobs, job)
		return nil
	}

	if err := add(SourceMaps, a.cfg.Maps.Queries, a.mapsSource); err != nil {
		return nil, err
	}
	if err := add(SourceComments, a.cfg.Comments.Videos, a.commentsSource); err != nil {
		return nil, err
	}
	if err := add(SourcePosts, a.cfg.Posts.Groups, a.postsSource); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNoTargets
	}
	return jobs, nil
}

func selectSources(names []string) (map[string]bool, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		switch n {
		case SourceMaps, SourceComments, SourcePosts, SourceAll:
			want[n] = true
		default:
			return nil, fmt.Errorf("unknown source %q", n)
		}
	}
	return want, nil
}

func (a *App) mapsSource() (crawler.Source, error) {
	return maps.New(a.cfg.Maps.Config, a.Navigators(), maps.WithLogger(a.logger.Named("maps"))), nil
}

func (a *App) commentsSource() (crawler.Source, error) {
	client, err := youtube.New(a.cfg.Comments.API)
	if err != nil {
		return nil, err
	}
	return comments.New(a.cfg.Comments.Config, client, a.logger.Named("comments")), nil
}

func (a *App) postsSource() (crawler.Source, error) {
	return posts.New(a.cfg.Posts.Config, a.Navigators(), posts.WithLogger(a.logger.Named("posts"))), nil
}

// Sinks opens every enabled lead sink.
func (a *App) Sinks(ctx context.Context) ([]crawler.LeadSink, error) {
	var sinks []crawler.LeadSink
	if a.cfg.Sinks.Postgres.Enabled {
		store, err := postgres.New(ctx, a.cfg.Sinks.Postgres.Config)
		if err != nil {
			return nil, err
		}
		a.track(func() error { store.Close(); return nil })
		sinks = append(sinks, store)
	}
	if a.cfg.Sinks.PubSub.Enabled {
		pub, err := pubsub.Open(ctx, a.cfg.Sinks.PubSub.Config)
		if err != nil {
			return nil, err
		}
		a.track(pub.Close)
		sinks = append(sinks, publisher.NewSink(pub, a.cfg.Sinks.PubSub.Topic, a.ids, a.logger.Named("pubsub")))
	}
	if a.cfg.Sinks.DryRun.Enabled {
		sinks = append(sinks, publisher.NewSink(a.dryRunPublisher(), a.cfg.Sinks.DryRun.Topic, a.ids, a.logger.Named("dry_run")))
	}
	return sinks, nil
}

func (a *App) dryRunPublisher() *memory.Publisher {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dryRun == nil {
		a.dryRun = memory.New()
		a.closers = append(a.closers, func() error {
			a.logger.Info("dry run sink discarded lead events",
				zap.Int("events", len(a.dryRun.Messages())),
				zap.String("topic", a.cfg.Sinks.DryRun.Topic),
			)
			return nil
		})
	}
	return a.dryRun
}

// DryRunEvents returns the lead events the dry run sink would have published.
func (a *App) DryRunEvents() []memory.PublishedMessage {
	a.mu.Lock()
	pub := a.dryRun
	a.mu.Unlock()
	if pub == nil {
		return nil
	}
	return pub.Messages()
}

// Runner builds the batch runner with every enabled sink attached.
func (a *App) Runner(ctx context.Context) (*batch.Runner, error) {
	sinks, err := a.Sinks(ctx)
	if err != nil {
		return nil, err
	}
	return batch.New(batch.Config{
		Retry:          a.cfg.Crawl.Retry,
		Orchestrator:   a.cfg.Crawl.Pacing,
		ArtifactPrefix: a.cfg.Artifacts.Prefix,
	}, a.backend, a.artifacts, a.clock,
		batch.WithSinks(sinks...),
		batch.WithLogger(a.logger.Named("batch")),
	), nil
}

// Dispatcher builds the outreach limiter and the configured channels in
// preference order. Every limiter shares the App's daily counter.
func (a *App) Dispatcher(ctx context.Context) (*dispatch.Limiter, []crawler.Channel, error) {
	var channels []crawler.Channel
	for _, name := range a.cfg.Dispatch.Channels {
		ch, err := a.channel(ctx, name)
		if err != nil {
			return nil, nil, fmt.Errorf("channel %s: %w", name, err)
		}
		channels = append(channels, ch)
	}
	limiter := dispatch.New(a.counter, a.cfg.Dispatch.Config, dispatch.WithLogger(a.logger.Named("dispatch")))
	return limiter, channels, nil
}

func (a *App) channel(ctx context.Context, name string) (crawler.Channel, error) {
	switch name {
	case "email":
		return smtp.New(a.cfg.SMTP, a.logger.Named("smtp"))
	case "dm":
		nav, err := source.OpenNavigator(ctx, a.Navigators())
		if err != nil {
			return nil, err
		}
		if a.cfg.Posts.Email != "" {
			login := posts.New(a.cfg.Posts.Config, a.Navigators(), posts.WithLogger(a.logger.Named("posts")))
			if err := login.Login(ctx, nav); err != nil {
				_ = nav.Close()
				return nil, err
			}
		}
		ch, err := dm.New(nav, a.cfg.DM, a.logger.Named("dm"))
		if err != nil {
			_ = nav.Close()
			return nil, err
		}
		a.track(ch.Close)
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", name)
	}
}

func (a *App) track(closer func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer)
}

// Close releases everything the container opened, newest first.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Crawl runs jobs with every enabled sink attached.
func (a *App) Crawl(ctx context.Context, jobs []batch.Job) ([]batch.Result, error) {
	runner, err := a.Runner(ctx)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, jobs)
}

// Dispatch sends outreach to leads over the configured channels.
func (a *App) Dispatch(ctx context.Context, leads []crawler.Lead) (crawler.DispatchResult, error) {
	limiter, channels, err := a.Dispatcher(ctx)
	if err != nil {
		return crawler.DispatchResult{}, err
	}
	if len(channels) == 0 {
		return crawler.DispatchResult{}, errors.New("no dispatch channels configured")
	}
	return limiter.Dispatch(ctx, leads, channels), nil
}
