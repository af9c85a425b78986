// Package posts collects leads from the posts of social group feeds.
package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/extract"
	"github.com/JakeFAU/leadcrawler/internal/source"
)

const (
	articleSelector = `[role="article"]`
	authorSelector  = `h2 a`
)

// Config controls the group crawl. Login is skipped without credentials.
type Config struct {
	LoginURL     string        `mapstructure:"login_url"`
	Email        string        `mapstructure:"email"`
	Password     string        `mapstructure:"password"`
	Scrolls      int           `mapstructure:"scrolls"`
	ScrollAmount int           `mapstructure:"scroll_amount"`
	ScrollPause  time.Duration `mapstructure:"scroll_pause"`
	LoadDelay    time.Duration `mapstructure:"load_delay"`
	LoginSettle  time.Duration `mapstructure:"login_settle"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
}

// DefaultConfig scrolls five times with a two second pause.
func DefaultConfig() Config {
	return Config{
		LoginURL:     "https://www.facebook.com",
		Scrolls:      5,
		ScrollAmount: 5000,
		ScrollPause:  2 * time.Second,
		LoadDelay:    5 * time.Second,
		LoginSettle:  5 * time.Second,
		WaitTimeout:  10 * time.Second,
	}
}

// Source implements crawler.Source for group feeds.
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
	if cfg.LoginURL == "" {
		cfg.LoginURL = def.LoginURL
	}
	if cfg.Scrolls <= 0 {
		cfg.Scrolls = def.Scrolls
	}
	if cfg.ScrollAmount <= 0 {
		cfg.ScrollAmount = def.ScrollAmount
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	s := &Source{
		cfg:       cfg,
		open:      open,
		extractor: extract.Post{},
		pauser:    crawler.TimerPauser{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind implements crawler.Source.
func (s *Source) Kind() crawler.SourceKind { return crawler.SourceGroupPost }

// Open starts a navigator and logs in when credentials are configured.
func (s *Source) Open(ctx context.Context) (crawler.Session, error) {
	nav, err := source.OpenNavigator(ctx, s.open)
	if err != nil {
		return nil, err
	}
	if s.cfg.Email != "" {
		if err := s.Login(ctx, nav); err != nil {
			_ = nav.Close()
			return nil, crawler.Unrecoverable(fmt.Errorf("login: %w", err))
		}
		s.logger.Info("logged in")
	}
	return &session{src: s, nav: nav}, nil
}

// Login signs nav in with the configured credentials.
func (s *Source) Login(ctx context.Context, nav crawler.Navigator) error {
	if s.cfg.Password == "" {
		return errors.New("password not configured")
	}
	if err := nav.Open(ctx, s.cfg.LoginURL); err != nil {
		return err
	}
	email := crawler.Select("#email")
	if err := nav.WaitFor(ctx, email, s.cfg.WaitTimeout); err != nil {
		return err
	}
	if err := nav.Type(ctx, email, s.cfg.Email); err != nil {
		return err
	}
	if err := nav.Type(ctx, crawler.Select("#pass"), s.cfg.Password); err != nil {
		return err
	}
	if err := nav.Click(ctx, crawler.Select(`[name="login"]`)); err != nil {
		return err
	}
	s.pauser.Pause(ctx, s.cfg.LoginSettle)
	return ctx.Err()
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

// RunUnit reads the posts of one group feed.
func (s *session) RunUnit(ctx context.Context, unit crawler.WorkUnit) ([]crawler.Lead, error) {
	cfg := s.src.cfg
	group := unit.Payload

	if err := s.nav.Open(ctx, group); err != nil {
		return nil, err
	}
	s.src.pauser.Pause(ctx, cfg.LoadDelay)
	for i := 0; i < cfg.Scrolls; i++ {
		if _, err := s.nav.Scroll(ctx, crawler.Locator{}, cfg.ScrollAmount); err != nil {
			return nil, err
		}
		s.src.pauser.Pause(ctx, cfg.ScrollPause)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}

	total, err := s.nav.Count(ctx, crawler.Select(articleSelector))
	if err != nil {
		return nil, err
	}

	var leads []crawler.Lead
	for i := 0; i < total; i++ {
		raw, err := s.readPost(ctx, i, group)
		if err != nil {
			if errors.Is(err, crawler.ErrUnrecoverableSession) || ctx.Err() != nil {
				return leads, err
			}
			s.src.logger.Debug("post skipped", zap.Int("post", i), zap.Error(err))
			continue
		}
		if lead, ok := s.src.extractor.Extract(raw); ok {
			leads = append(leads, lead)
		}
	}
	s.src.logger.Info("group read", zap.String("group", group), zap.Int("posts", total), zap.Int("leads", len(leads)))
	return leads, nil
}

func (s *session) readPost(ctx context.Context, i int, group string) (crawler.PostRaw, error) {
	article := crawler.At(articleSelector, i)
	content, _, err := s.nav.ReadText(ctx, article)
	if err != nil {
		return crawler.PostRaw{}, err
	}
	author := article.Within(authorSelector)
	name, _, err := s.nav.ReadText(ctx, author)
	if err != nil {
		return crawler.PostRaw{}, err
	}
	profile, _, err := s.nav.ReadAttribute(ctx, author, "href")
	if err != nil {
		return crawler.PostRaw{}, err
	}
	return crawler.PostRaw{
		Author:           name,
		AuthorProfileURL: profile,
		Content:          content,
		GroupURL:         group,
	}, nil
}
