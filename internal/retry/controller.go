package retry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// AttemptFunc performs one whole attempt at a work unit.
type AttemptFunc func(ctx context.Context, unit crawler.WorkUnit) ([]crawler.Lead, error)

// BackupWriter records the leads of a unit that exhausted its attempts.
type BackupWriter interface {
	SaveErrorBackup(ctx context.Context, unit crawler.WorkUnit, leads []crawler.Lead) error
}

// AttemptObserver is told about every finished attempt.
type AttemptObserver func(unit crawler.WorkUnit, attempt int, err error)

// Controller runs a unit under a Policy.
type Controller struct {
	policy   Policy
	backups  BackupWriter
	pauser   crawler.Pauser
	observer AttemptObserver
	logger   *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPauser overrides the delay implementation.
func WithPauser(p crawler.Pauser) Option {
	return func(c *Controller) {
		if p != nil {
			c.pauser = p
		}
	}
}

// WithObserver registers an attempt observer.
func WithObserver(fn AttemptObserver) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Controller. backups may be nil when no error artifacts are wanted.
func New(policy Policy, backups BackupWriter, opts ...Option) *Controller {
	c := &Controller{
		policy:  policy.normalized(),
		backups: backups,
		pauser:  crawler.TimerPauser{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Run attempts unit until it succeeds or the policy is exhausted.
//
// A successful attempt's leads are returned as-is. When every attempt fails
// the leads gathered across all attempts are written as an error backup and
// the last attempt's leads are returned with a nil error. Only an
// unrecoverable session or a cancelled context produce a non-nil error.
func (c *Controller) Run(ctx context.Context, unit crawler.WorkUnit, attempt AttemptFunc) ([]crawler.Lead, error) {
	var (
		collected []crawler.Lead
		last      []crawler.Lead
		lastErr   error
		n         int
	)
	for n = 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("unit %d: %w", unit.Index, err)
		}
		leads, err := attempt(ctx, unit)
		if c.observer != nil {
			c.observer(unit, n, err)
		}
		if err == nil {
			return leads, nil
		}
		if errors.Is(err, crawler.ErrUnrecoverableSession) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("unit %d: %w", unit.Index, ctxErr)
		}

		collected = append(collected, leads...)
		last = leads
		lastErr = err
		if !c.policy.ShouldRetry(err, n) {
			break
		}
		delay := c.policy.Backoff(n)
		c.logger.Warn("unit attempt failed, retrying",
			zap.Int("unit_index", unit.Index),
			zap.String("payload", unit.Payload),
			zap.Int("attempt", n),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		c.pauser.Pause(ctx, delay)
	}

	c.logger.Warn("unit exhausted retries",
		zap.Int("unit_index", unit.Index),
		zap.String("payload", unit.Payload),
		zap.Int("attempts", n),
		zap.Int("partial_leads", len(collected)),
		zap.Error(lastErr),
	)
	if c.backups != nil {
		if err := c.backups.SaveErrorBackup(ctx, unit, collected); err != nil {
			c.logger.Error("write error backup failed",
				zap.Int("unit_index", unit.Index),
				zap.Error(err),
			)
		}
	}
	return last, nil
}
