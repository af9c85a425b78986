// Package browser implements crawler.Navigator on headless Chrome.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// Config controls the browser process and per-call limits.
type Config struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
}

// DefaultConfig returns headless settings with generous page load limits.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 45 * time.Second,
		ActionTimeout:     10 * time.Second,
		WindowWidth:       1920,
		WindowHeight:      1080,
	}
}

// Browser owns one Chrome process. Each session is a separate tab.
type Browser struct {
	cfg           Config
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// New starts Chrome. Failure to launch is unrecoverable for the caller's batch.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	def := DefaultConfig()
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, crawler.Unrecoverable(fmt.Errorf("chromedp warmup: %w", err))
	}
	return &Browser{
		cfg:           cfg,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close terminates Chrome and every open tab.
func (b *Browser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

// NewNavigator opens a tab.
func (b *Browser) NewNavigator(ctx context.Context) (*Navigator, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	n := &Navigator{cfg: b.cfg, tab: tabCtx, cancel: cancel, logger: b.logger}
	if b.cfg.UserAgent != "" {
		err := n.run(ctx, "open tab", "about:blank", b.cfg.ActionTimeout,
			chromedp.ActionFunc(func(ctx context.Context) error {
				return emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx)
			}))
		if err != nil {
			cancel()
			return nil, crawler.Unrecoverable(err)
		}
	}
	return n, nil
}

// Navigator drives a single tab. Calls are serialized.
type Navigator struct {
	mu     sync.Mutex
	cfg    Config
	tab    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

var _ crawler.Navigator = (*Navigator)(nil)

// run executes actions on the tab bounded by timeout and by ctx.
func (n *Navigator) run(ctx context.Context, op, target string, timeout time.Duration, actions ...chromedp.Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	runCtx, cancel := context.WithTimeout(n.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", op, target, ctxErr)
		}
		if errors.Is(n.tab.Err(), context.Canceled) {
			return crawler.Unrecoverable(crawler.Navigation(op, target, err))
		}
		return crawler.Navigation(op, target, err)
	}
	return nil
}

// Open implements crawler.Navigator.
func (n *Navigator) Open(ctx context.Context, target string) error {
	return n.run(ctx, "open", target, n.cfg.NavigationTimeout,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// WaitFor implements crawler.Navigator.
func (n *Navigator) WaitFor(ctx context.Context, loc crawler.Locator, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = n.cfg.ActionTimeout
	}
	var found bool
	return n.run(ctx, "wait", describe(loc), timeout+time.Second,
		chromedp.Poll("!!("+elementJS(loc)+")", &found,
			chromedp.WithPollingTimeout(timeout),
			chromedp.WithPollingInterval(200*time.Millisecond),
		),
	)
}

type readResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

// ReadText implements crawler.Navigator.
func (n *Navigator) ReadText(ctx context.Context, loc crawler.Locator) (string, bool, error) {
	var res readResult
	expr := fmt.Sprintf(`(() => { const el = %s; return el ? {found: true, value: el.innerText || el.textContent || ""} : {found: false, value: ""}; })()`, elementJS(loc))
	if err := n.run(ctx, "read text", describe(loc), n.cfg.ActionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

// ReadAttribute implements crawler.Navigator.
func (n *Navigator) ReadAttribute(ctx context.Context, loc crawler.Locator, name string) (string, bool, error) {
	var res readResult
	expr := fmt.Sprintf(`(() => { const el = %s; if (!el || !el.hasAttribute(%s)) return {found: false, value: ""}; return {found: true, value: el.getAttribute(%s)}; })()`,
		elementJS(loc), quote(name), quote(name))
	if err := n.run(ctx, "read attribute", describe(loc), n.cfg.ActionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

// Count implements crawler.Navigator. With a Child the count is taken
// beneath the Index-th match.
func (n *Navigator) Count(ctx context.Context, loc crawler.Locator) (int, error) {
	var count int
	expr := fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(loc.Selector))
	if loc.Child != "" {
		expr = fmt.Sprintf(`(() => { const el = document.querySelectorAll(%s)[%d]; return el ? el.querySelectorAll(%s).length : 0; })()`,
			quote(loc.Selector), loc.Index, quote(loc.Child))
	}
	if err := n.run(ctx, "count", describe(loc), n.cfg.ActionTimeout, chromedp.Evaluate(expr, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

// Click implements crawler.Navigator.
func (n *Navigator) Click(ctx context.Context, loc crawler.Locator) error {
	var clicked bool
	expr := fmt.Sprintf(`(() => { const el = %s; if (!el) return false; el.scrollIntoView({block: "center"}); el.click(); return true; })()`, elementJS(loc))
	if err := n.run(ctx, "click", describe(loc), n.cfg.ActionTimeout, chromedp.Evaluate(expr, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return crawler.Navigation("click", describe(loc), errors.New("element not found"))
	}
	return nil
}

// Type focuses the element and inserts text as if typed.
func (n *Navigator) Type(ctx context.Context, loc crawler.Locator, text string) error {
	var focused bool
	expr := fmt.Sprintf(`(() => { const el = %s; if (!el) return false; el.focus(); return true; })()`, elementJS(loc))
	err := n.run(ctx, "type", describe(loc), n.cfg.ActionTimeout,
		chromedp.Evaluate(expr, &focused),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if !focused {
				return errors.New("element not found")
			}
			return input.InsertText(text).Do(ctx)
		}),
	)
	return err
}

// Scroll scrolls the element, or the window for an empty selector, and
// returns the resulting offset.
func (n *Navigator) Scroll(ctx context.Context, loc crawler.Locator, amount int) (int, error) {
	var offset float64
	expr := fmt.Sprintf(`(() => { window.scrollBy(0, %d); return window.scrollY; })()`, amount)
	if loc.Selector != "" {
		expr = fmt.Sprintf(`(() => { const el = %s; if (!el) return -1; el.scrollBy(0, %d); return el.scrollTop; })()`, elementJS(loc), amount)
	}
	if err := n.run(ctx, "scroll", describe(loc), n.cfg.ActionTimeout, chromedp.Evaluate(expr, &offset)); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, crawler.Navigation("scroll", describe(loc), errors.New("element not found"))
	}
	return int(offset), nil
}

// CurrentLocation implements crawler.Navigator.
func (n *Navigator) CurrentLocation(ctx context.Context) (string, error) {
	var loc string
	if err := n.run(ctx, "location", "", n.cfg.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Close closes the tab.
func (n *Navigator) Close() error {
	n.cancel()
	return nil
}

// elementJS renders a JS expression evaluating to the addressed element or
// undefined.
func elementJS(loc crawler.Locator) string {
	base := fmt.Sprintf("document.querySelectorAll(%s)[%d]", quote(loc.Selector), loc.Index)
	if loc.Child == "" {
		return base
	}
	return fmt.Sprintf("((e) => e ? e.querySelector(%s) : null)(%s)", quote(loc.Child), base)
}

func describe(loc crawler.Locator) string {
	s := fmt.Sprintf("%s[%d]", loc.Selector, loc.Index)
	if loc.Child != "" {
		s += " " + loc.Child
	}
	return s
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
