// Package retry bounds how many times a work unit is attempted and what
// happens when every attempt fails.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// Policy describes attempt limits and the delay between attempts.
// A Multiplier of 1 or less keeps a fixed Delay; larger values grow the
// delay exponentially with jitter, capped at MaxDelay.
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// DefaultPolicy returns three attempts five seconds apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  1,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.Delay
	}
	return p
}

// ShouldRetry decides whether another attempt may follow a failed one.
// attempt counts the attempts made so far.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.normalized().MaxAttempts {
		return false
	}
	if errors.Is(err, crawler.ErrUnrecoverableSession) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait before the attempt following attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if p.Multiplier <= 1 {
		return p.Delay
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
