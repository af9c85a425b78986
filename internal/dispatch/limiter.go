// Package dispatch sends outreach messages to leads under a daily quota.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/metrics"
)

// Outcome is how one lead was classified.
type Outcome string

// Lead classifications.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Config controls pacing.
type Config struct {
	MessageDelay time.Duration `mapstructure:"message_delay"`
}

// DefaultConfig waits one minute between classified leads.
func DefaultConfig() Config {
	return Config{MessageDelay: time.Minute}
}

// Limiter walks leads in order, trying each eligible channel until one succeeds.
type Limiter struct {
	counter *DailyCounter
	cfg     Config
	pauser  crawler.Pauser
	logger  *zap.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithPauser overrides the inter-message delay implementation.
func WithPauser(p crawler.Pauser) Option {
	return func(l *Limiter) {
		if p != nil {
			l.pauser = p
		}
	}
}

// WithLogger sets the limiter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New constructs a Limiter sharing counter.
func New(counter *DailyCounter, cfg Config, opts ...Option) *Limiter {
	if cfg.MessageDelay < 0 {
		cfg.MessageDelay = 0
	}
	l := &Limiter{
		counter: counter,
		cfg:     cfg,
		pauser:  crawler.TimerPauser{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dispatch classifies leads in order and marks each classified lead as
// processed. Processing stops without classifying the rest once the daily
// cap is reached by confirmed sends or ctx is done. While other limiters hold
// the last free slots for sends still in flight, it waits for them to settle.
func (l *Limiter) Dispatch(ctx context.Context, leads []crawler.Lead, channels []crawler.Channel) crawler.DispatchResult {
	var result crawler.DispatchResult
	for i := range leads {
		if ctx.Err() != nil {
			l.logger.Info("dispatch interrupted", zap.Int("remaining", len(leads)-i))
			break
		}
		reservation, ok := l.counter.Reserve(ctx)
		if !ok {
			if ctx.Err() != nil {
				l.logger.Info("dispatch interrupted", zap.Int("remaining", len(leads)-i))
				break
			}
			l.logger.Info("daily message cap reached",
				zap.Int("max_daily_messages", l.counter.Max()),
				zap.Int("untouched", len(leads)-i),
			)
			break
		}

		outcome := l.dispatchOne(ctx, leads[i], channels)
		if outcome == OutcomeSuccess {
			reservation.Confirm()
		} else {
			reservation.Release()
		}
		leads[i].Processed = true
		switch outcome {
		case OutcomeSuccess:
			result.Success++
		case OutcomeFailed:
			result.Failed++
		case OutcomeSkipped:
			result.Skipped++
		}
		metrics.ObserveDispatch(string(outcome), l.counter.Sent())

		if i < len(leads)-1 {
			l.pauser.Pause(ctx, l.cfg.MessageDelay)
		}
	}
	l.logger.Info("dispatch finished",
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("sent_today", l.counter.Sent()),
	)
	return result
}

func (l *Limiter) dispatchOne(ctx context.Context, lead crawler.Lead, channels []crawler.Channel) Outcome {
	eligible := 0
	for _, ch := range channels {
		if !ch.Eligible(lead) {
			continue
		}
		eligible++
		err := ch.Send(ctx, lead)
		if err == nil {
			l.logger.Debug("message sent", zap.String("channel", ch.Name()), zap.String("lead", lead.Name))
			return OutcomeSuccess
		}
		var dispatchErr *crawler.DispatchError
		if !errors.As(err, &dispatchErr) {
			err = &crawler.DispatchError{Channel: ch.Name(), Lead: lead.Name, Err: err}
		}
		l.logger.Warn("channel send failed", zap.String("channel", ch.Name()), zap.String("lead", lead.Name), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if eligible == 0 {
		return OutcomeSkipped
	}
	return OutcomeFailed
}
