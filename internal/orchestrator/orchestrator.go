// Package orchestrator drives one batch of work units through a source
// session with checkpointing, retries and a final snapshot.
package orchestrator

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/dedupe"
	"github.com/JakeFAU/leadcrawler/internal/metrics"
	"github.com/JakeFAU/leadcrawler/internal/retry"
)

// State is a phase of a batch run.
type State string

// Batch run phases in the order they are entered.
const (
	StateInitializing   State = "initializing"
	StateResuming       State = "resuming"
	StateProcessingUnit State = "processing_unit"
	StateCheckpointing  State = "checkpointing"
	StateDraining       State = "draining"
	StateFinalizing     State = "finalizing"
	StateDone           State = "done"
)

// Observer is told about every state transition. index is the unit the
// state refers to (for StateResuming, the first unit that will run), or
// crawler.NoUnitCompleted when there is none.
type Observer func(state State, index int)

// Config controls pacing and shutdown.
type Config struct {
	UnitDelayMin    time.Duration `mapstructure:"unit_delay_min"`
	UnitDelayMax    time.Duration `mapstructure:"unit_delay_max"`
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
}

// DefaultConfig returns a two to four second pause between units.
func DefaultConfig() Config {
	return Config{
		UnitDelayMin:    2 * time.Second,
		UnitDelayMax:    4 * time.Second,
		FinalizeTimeout: 30 * time.Second,
	}
}

// Orchestrator runs units strictly in order within one session.
type Orchestrator struct {
	source   crawler.Source
	store    crawler.CheckpointStore
	retry    *retry.Controller
	cfg      Config
	pauser   crawler.Pauser
	observer Observer
	logger   *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithPauser overrides the inter-unit delay implementation.
func WithPauser(p crawler.Pauser) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pauser = p
		}
	}
}

// WithObserver registers a state observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New constructs an Orchestrator.
func New(source crawler.Source, store crawler.CheckpointStore, controller *retry.Controller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source: source,
		store:  store,
		retry:  controller,
		cfg:    DefaultConfig(),
		pauser: crawler.TimerPauser{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry == nil {
		o.retry = retry.New(retry.DefaultPolicy(), store, retry.WithLogger(o.logger))
	}
	if o.cfg.UnitDelayMax < o.cfg.UnitDelayMin {
		o.cfg.UnitDelayMax = o.cfg.UnitDelayMin
	}
	if o.cfg.FinalizeTimeout <= 0 {
		o.cfg.FinalizeTimeout = DefaultConfig().FinalizeTimeout
	}
	o.logger = o.logger.With(zap.String("source", string(source.Kind())))
	return o
}

// Run processes units and returns the deduplicated leads of the whole batch,
// including leads restored from a checkpoint. Run never fails: unit
// failures are retried and backed up, an unrecoverable session or a
// cancelled context ends the batch early with what was collected so far.
func (o *Orchestrator) Run(ctx context.Context, units []crawler.WorkUnit) []crawler.Lead {
	o.enter(StateInitializing, crawler.NoUnitCompleted)
	leads, last := o.resume(ctx)
	o.enter(StateResuming, last+1)

	session, err := o.source.Open(ctx)
	if err != nil {
		o.logger.Error("open session failed", zap.Error(crawler.Unrecoverable(err)))
		return o.finalize(ctx, nil, leads)
	}

	pending := remaining(units, last)
	kind := string(o.source.Kind())
	for i, unit := range pending {
		o.enter(StateProcessingUnit, unit.Index)
		logger := o.logger.With(zap.Int("unit_index", unit.Index), zap.String("query", unit.Payload))

		var lastErr error
		attempt := func(ctx context.Context, u crawler.WorkUnit) ([]crawler.Lead, error) {
			got, err := session.RunUnit(ctx, u)
			lastErr = err
			metrics.ObserveAttempt(kind, err)
			return got, err
		}
		got, err := o.retry.Run(ctx, unit, attempt)
		if err != nil {
			metrics.ObserveUnit(kind, metrics.UnitAborted, 0)
			if errors.Is(err, crawler.ErrUnrecoverableSession) {
				logger.Error("session lost, finalizing batch", zap.Error(err))
			} else {
				logger.Info("batch interrupted, finalizing", zap.Error(err))
			}
			o.enter(StateDraining, unit.Index)
			break
		}

		outcome := metrics.UnitCompleted
		if lastErr != nil {
			outcome = metrics.UnitExhausted
		}
		metrics.ObserveUnit(kind, outcome, len(got))
		leads = append(leads, got...)
		logger.Info("unit finished",
			zap.String("outcome", outcome),
			zap.Int("unit_leads", len(got)),
			zap.Int("total_leads", len(leads)),
		)

		o.enter(StateCheckpointing, unit.Index)
		if err := o.store.Save(ctx, crawler.Checkpoint{Leads: leads, LastCompletedIndex: unit.Index}); err != nil {
			metrics.ObserveCheckpointFailure("save")
			logger.Error("checkpoint save failed", zap.Error(err))
		}

		if i < len(pending)-1 {
			o.pauser.Pause(ctx, o.unitDelay())
		}
		if ctx.Err() != nil {
			logger.Info("batch interrupted, finalizing", zap.Error(ctx.Err()))
			o.enter(StateDraining, unit.Index)
			break
		}
	}

	return o.finalize(ctx, session, leads)
}

func (o *Orchestrator) resume(ctx context.Context) ([]crawler.Lead, int) {
	cp, err := o.store.Load(ctx)
	if err != nil {
		metrics.ObserveCheckpointFailure("load")
		o.logger.Error("checkpoint load failed, starting fresh", zap.Error(err))
		return nil, crawler.NoUnitCompleted
	}
	if cp == nil {
		return nil, crawler.NoUnitCompleted
	}
	o.logger.Info("resuming from checkpoint",
		zap.Int("last_completed_index", cp.LastCompletedIndex),
		zap.Int("restored_leads", len(cp.Leads)),
	)
	return append([]crawler.Lead(nil), cp.Leads...), cp.LastCompletedIndex
}

func (o *Orchestrator) finalize(ctx context.Context, session crawler.Session, leads []crawler.Lead) []crawler.Lead {
	defer o.enter(StateDone, crawler.NoUnitCompleted)
	if session != nil {
		defer func() {
			if err := session.Close(); err != nil {
				o.logger.Warn("close session failed", zap.Error(err))
			}
		}()
	}

	o.enter(StateFinalizing, crawler.NoUnitCompleted)
	unique := dedupe.Leads(leads)

	// The snapshot must land even when ctx was cancelled by a signal.
	snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FinalizeTimeout)
	defer cancel()
	if err := o.store.SaveFinalSnapshot(snapCtx, unique); err != nil {
		metrics.ObserveCheckpointFailure("snapshot")
		o.logger.Error("final snapshot failed", zap.Error(err))
	}
	o.logger.Info("batch finished",
		zap.Int("leads", len(leads)),
		zap.Int("unique_leads", len(unique)),
	)
	return unique
}

func (o *Orchestrator) enter(state State, index int) {
	o.logger.Debug("state transition", zap.String("state", string(state)), zap.Int("unit_index", index))
	if o.observer != nil {
		o.observer(state, index)
	}
}

func (o *Orchestrator) unitDelay() time.Duration {
	lo, hi := o.cfg.UnitDelayMin, o.cfg.UnitDelayMax
	if hi <= lo {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return lo
	}
	return lo + time.Duration(n.Int64())
}

// remaining returns the units after last, ordered by index.
func remaining(units []crawler.WorkUnit, last int) []crawler.WorkUnit {
	out := make([]crawler.WorkUnit, 0, len(units))
	for _, u := range units {
		if u.Index > last {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
