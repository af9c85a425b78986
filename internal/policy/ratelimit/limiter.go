// Package ratelimit paces outbound requests per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/leadcrawler/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]HostLimit
	defaultRate  rate.Limit
	defaultBurst int
}

// HostLimit overrides the default bucket for one host.
type HostLimit struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64     `mapstructure:"default_rps"`
	DefaultBurst int         `mapstructure:"default_burst"`
	Hosts        []HostLimit `mapstructure:"hosts"`
}

// New creates a new Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	overrides := make(map[string]HostLimit, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		overrides[h.Host] = h
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  limitOf(cfg.DefaultRPS),
		defaultBurst: burstOf(cfg.DefaultBurst),
	}
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeHost(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	r, burst := l.defaultRate, l.defaultBurst
	if o, ok := l.overrides[host]; ok {
		r, burst = limitOf(o.RPS), burstOf(o.Burst)
	}
	limiter := rate.NewLimiter(r, burst)
	l.limiters[host] = limiter
	return limiter
}

func limitOf(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burstOf(burst int) int {
	if burst <= 0 {
		return 1
	}
	return burst
}
