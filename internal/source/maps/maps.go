// Package maps crawls map search results for business listings.
package maps

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/extract"
	"github.com/JakeFAU/leadcrawler/internal/source"
)

// Page locators.
const (
	feedSelector    = `div[role="feed"]`
	listingSelector = `div.Nv2PK`
	titleSelector   = `h1.DUwDvf`
	moreSelector    = `button[aria-label*="More"]`
	infoSelector    = `div.rogA2c div.Io6YTe`
	descSelector    = `div[jsaction*="pane.description"] div.PYvSYb`
	mailtoSelector  = `a[href*="mailto:"]`
)

// Config controls the search crawl.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	MaxScrolls     int           `mapstructure:"max_scrolls"`
	ScrollAmount   int           `mapstructure:"scroll_amount"`
	ScrollPause    time.Duration `mapstructure:"scroll_pause"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	ClickRetries   int           `mapstructure:"click_retries"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	RequireContact bool          `mapstructure:"require_contact"`
}

// DefaultConfig mirrors a patient human: twenty 800px scrolls, three click tries.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://www.google.com/maps/search/",
		MaxScrolls:   20,
		ScrollAmount: 800,
		ScrollPause:  2 * time.Second,
		WaitTimeout:  10 * time.Second,
		ClickRetries: 3,
		SettleDelay:  3 * time.Second,
	}
}

// Source implements crawler.Source for map searches.
type Source struct {
	cfg       Config
	open      source.NavigatorFunc
	extractor extract.Extractor
	pauser    crawler.Pauser
	logger    *zap.Logger
}

// Option customizes a Source.
type Option func(*Source)

// WithPauser overrides the delay implementation.
func WithPauser(p crawler.Pauser) Option {
	return func(s *Source) {
		if p != nil {
			s.pauser = p
		}
	}
}

// WithLogger sets the source logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Source.
func New(cfg Config, open source.NavigatorFunc, opts ...Option) *Source {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = def.MaxScrolls
	}
	if cfg.ScrollAmount <= 0 {
		cfg.ScrollAmount = def.ScrollAmount
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.ClickRetries <= 0 {
		cfg.ClickRetries = def.ClickRetries
	}
	s := &Source{
		cfg:       cfg,
		open:      open,
		extractor: extract.MapListing{RequireContact: cfg.RequireContact},
		pauser:    crawler.TimerPauser{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind implements crawler.Source.
func (s *Source) Kind() crawler.SourceKind { return crawler.SourceMapListing }

// Open implements crawler.Source.
func (s *Source) Open(ctx context.Context) (crawler.Session, error) {
	nav, err := source.OpenNavigator(ctx, s.open)
	if err != nil {
		return nil, err
	}
	return &session{src: s, nav: nav}, nil
}

type session struct {
	src *Source
	nav crawler.Navigator
}

func (s *session) Close() error {
	if err := s.nav.Close(); err != nil {
		return fmt.Errorf("close navigator: %w", err)
	}
	return nil
}

// SearchURL returns the results page for query.
func (s *Source) SearchURL(query string) string {
	return s.cfg.BaseURL + url.PathEscape(strings.TrimSpace(query))
}

// RunUnit searches for the unit's query and reads every listing. Feed
// failures fail the attempt; a single bad listing is skipped.
func (s *session) RunUnit(ctx context.Context, unit crawler.WorkUnit) ([]crawler.Lead, error) {
	cfg := s.src.cfg
	logger := s.src.logger.With(zap.String("query", unit.Payload))

	if err := s.nav.Open(ctx, s.src.SearchURL(unit.Payload)); err != nil {
		return nil, err
	}
	feed := crawler.Select(feedSelector)
	if err := s.nav.WaitFor(ctx, feed, cfg.WaitTimeout); err != nil {
		return nil, err
	}
	if err := s.scrollFeed(ctx, feed); err != nil {
		return nil, err
	}

	total, err := s.nav.Count(ctx, crawler.Select(listingSelector))
	if err != nil {
		return nil, err
	}
	logger.Info("listings found", zap.Int("listings", total))

	var leads []crawler.Lead
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return leads, fmt.Errorf("read listings: %w", err)
		}
		raw, err := s.readListing(ctx, i, unit.Payload)
		if err != nil {
			if errors.Is(err, crawler.ErrUnrecoverableSession) || ctx.Err() != nil {
				return leads, err
			}
			logger.Debug("listing skipped", zap.Int("listing", i), zap.Error(err))
			continue
		}
		if lead, ok := s.src.extractor.Extract(raw); ok {
			leads = append(leads, lead)
		}
	}
	return leads, nil
}

// scrollFeed scrolls until the offset stops changing or the scroll budget runs out.
func (s *session) scrollFeed(ctx context.Context, feed crawler.Locator) error {
	last := -1
	for i := 0; i < s.src.cfg.MaxScrolls; i++ {
		offset, err := s.nav.Scroll(ctx, feed, s.src.cfg.ScrollAmount)
		if err != nil {
			return err
		}
		if offset == last {
			return nil
		}
		last = offset
		s.src.pauser.Pause(ctx, s.src.cfg.ScrollPause)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scroll feed: %w", err)
		}
	}
	return nil
}

func (s *session) readListing(ctx context.Context, i int, query string) (crawler.MapListingRaw, error) {
	cfg := s.src.cfg
	listing := crawler.At(listingSelector, i)

	var err error
	for try := 0; try < cfg.ClickRetries; try++ {
		if err = s.nav.Click(ctx, listing); err == nil {
			break
		}
		s.src.pauser.Pause(ctx, time.Second)
	}
	if err != nil {
		return crawler.MapListingRaw{}, err
	}
	s.src.pauser.Pause(ctx, cfg.SettleDelay)
	if err := s.nav.WaitFor(ctx, crawler.Select(titleSelector), cfg.WaitTimeout); err != nil {
		return crawler.MapListingRaw{}, err
	}
	s.expandMore(ctx)

	raw := crawler.MapListingRaw{Query: query}
	for _, f := range listingReads {
		v, err := f.read(ctx, s.nav)
		if err != nil {
			return crawler.MapListingRaw{}, err
		}
		f.assign(&raw, v)
	}
	info, err := s.infoText(ctx)
	if err != nil {
		return crawler.MapListingRaw{}, err
	}
	raw.InfoText = info
	return raw, nil
}

// expandMore opens collapsed sections; failures only lose optional text.
func (s *session) expandMore(ctx context.Context) {
	n, err := s.nav.Count(ctx, crawler.Select(moreSelector))
	if err != nil {
		return
	}
	for i := 0; i < n; i++ {
		if s.nav.Click(ctx, crawler.At(moreSelector, i)) == nil {
			s.src.pauser.Pause(ctx, time.Second)
		}
	}
}

// infoText concatenates the detail rows, the description and any mailto
// addresses for email discovery.
func (s *session) infoText(ctx context.Context) (string, error) {
	var parts []string
	for _, sel := range []string{infoSelector, descSelector} {
		n, err := s.nav.Count(ctx, crawler.Select(sel))
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			text, ok, err := s.nav.ReadText(ctx, crawler.At(sel, i))
			if err != nil {
				return "", err
			}
			if ok {
				parts = append(parts, text)
			}
		}
	}
	n, err := s.nav.Count(ctx, crawler.Select(mailtoSelector))
	if err != nil {
		return "", err
	}
	for i := 0; i < n; i++ {
		href, ok, err := s.nav.ReadAttribute(ctx, crawler.At(mailtoSelector, i), "href")
		if err != nil {
			return "", err
		}
		if ok {
			parts = append(parts, strings.TrimPrefix(href, "mailto:"))
		}
	}
	return strings.Join(parts, " "), nil
}
