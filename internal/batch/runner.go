// Package batch runs independent per-source crawl batches concurrently and
// hands their leads to downstream sinks.
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/leadcrawler/internal/checkpoint"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/hash/sha256"
	"github.com/JakeFAU/leadcrawler/internal/orchestrator"
	"github.com/JakeFAU/leadcrawler/internal/retry"
)

// RunID derives a stable run identity from the source and its targets, so a
// restart with the same targets resumes the same checkpoint.
func RunID(kind crawler.SourceKind, units []crawler.WorkUnit) string {
	payloads := make([]string, len(units))
	for i, u := range units {
		payloads[i] = u.Payload
	}
	return fmt.Sprintf("%s-%s", kind, sha256.New().Fingerprint(payloads, 12))
}

// Job is one batch: a source and the units it should process.
type Job struct {
	Source crawler.Source
	Units  []crawler.WorkUnit
	// RunID overrides the derived run identity when set.
	RunID string
}

// Result is the outcome of one batch.
type Result struct {
	RunID  string
	Source crawler.SourceKind
	Leads  []crawler.Lead
}

// Config tunes every batch the runner starts.
type Config struct {
	Retry          retry.Policy
	Orchestrator   orchestrator.Config
	ArtifactPrefix string
}

// Runner wires checkpoint stores, retry controllers and orchestrators for
// each job.
type Runner struct {
	cfg       Config
	backend   checkpoint.Backend
	artifacts crawler.BlobStore
	clock     crawler.Clock
	sinks     []crawler.LeadSink
	pauser    crawler.Pauser
	logger    *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSinks adds downstream lead sinks.
func WithSinks(sinks ...crawler.LeadSink) Option {
	return func(r *Runner) {
		for _, s := range sinks {
			if s != nil {
				r.sinks = append(r.sinks, s)
			}
		}
	}
}

// WithPauser overrides the delay implementation used by every batch.
func WithPauser(p crawler.Pauser) Option {
	return func(r *Runner) {
		if p != nil {
			r.pauser = p
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a Runner.
func New(cfg Config, backend checkpoint.Backend, artifacts crawler.BlobStore, clock crawler.Clock, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		backend:   backend,
		artifacts: artifacts,
		clock:     clock,
		pauser:    crawler.TimerPauser{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts every job concurrently and waits for all of them. Results keep
// the order of jobs. A job that cannot start (for example because another
// process holds its checkpoint) is reported in the returned error while the
// other jobs still complete.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			res, err := r.runOne(ctx, job)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, job Job) (Result, error) {
	kind := job.Source.Kind()
	runID := job.RunID
	if runID == "" {
		runID = RunID(kind, job.Units)
	}
	res := Result{RunID: runID, Source: kind}
	logger := r.logger.With(zap.String("run_id", runID), zap.String("source", string(kind)))

	store, err := checkpoint.New(checkpoint.Config{
		RunID:          runID,
		Source:         kind,
		ArtifactPrefix: r.cfg.ArtifactPrefix,
	}, r.backend, r.artifacts, r.clock, sha256.New(), checkpoint.WithLogger(logger))
	if err != nil {
		return res, fmt.Errorf("batch %s: %w", runID, err)
	}
	if err := store.Acquire(); err != nil {
		return res, fmt.Errorf("batch %s: %w", runID, err)
	}
	defer func() {
		if err := store.Release(); err != nil {
			logger.Warn("release checkpoint lock", zap.Error(err))
		}
	}()

	controller := retry.New(r.cfg.Retry, store, retry.WithPauser(r.pauser), retry.WithLogger(logger))
	orch := orchestrator.New(job.Source, store, controller,
		orchestrator.WithConfig(r.cfg.Orchestrator),
		orchestrator.WithPauser(r.pauser),
		orchestrator.WithLogger(logger),
	)
	res.Leads = orch.Run(ctx, job.Units)
	logger.Info("batch finished", zap.Int("leads", len(res.Leads)))

	r.deliver(context.WithoutCancel(ctx), logger, runID, res.Leads)
	return res, nil
}

// deliver hands leads to every sink. Sink failures are logged only.
func (r *Runner) deliver(ctx context.Context, logger *zap.Logger, runID string, leads []crawler.Lead) {
	if len(leads) == 0 {
		return
	}
	for _, sink := range r.sinks {
		if err := sink.StoreLeads(ctx, runID, leads); err != nil {
			logger.Error("lead sink failed", zap.String("sink", sink.Name()), zap.Error(err))
			continue
		}
		logger.Info("leads delivered", zap.String("sink", sink.Name()), zap.Int("leads", len(leads)))
	}
}
