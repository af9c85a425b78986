// Package static implements crawler.Navigator over plain HTTP for pages that
// render without JavaScript.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// ErrUnsupported is returned for interactions that need a browser.
var ErrUnsupported = errors.New("not supported without a browser")

// Config controls collector behavior.
type Config struct {
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Headers       http.Header   `mapstructure:"headers"`
}

// Navigator loads one document at a time and answers locator queries
// against it. Click follows links.
type Navigator struct {
	mu        sync.Mutex
	cfg       Config
	collector *colly.Collector
	doc       *goquery.Document
	location  string
}

var _ crawler.Navigator = (*Navigator)(nil)

// New builds a Navigator.
func New(cfg Config) *Navigator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Navigator{cfg: cfg, collector: c}
}

// Open fetches target and parses it.
func (n *Navigator) Open(ctx context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.open(ctx, target)
}

func (n *Navigator) open(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}
	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	c := n.collector.Clone()
	c.OnRequest(func(r *colly.Request) {
		for key, values := range n.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("open %s: %w", target, ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return crawler.Navigation("open", target, err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Navigation("open", target, fmt.Errorf("parse html: %w", err))
	}
	n.doc = doc
	n.location = finalURL
	return nil
}

func (n *Navigator) find(loc crawler.Locator) (*goquery.Selection, bool) {
	if n.doc == nil {
		return nil, false
	}
	sel := n.doc.Find(loc.Selector).Eq(loc.Index)
	if sel.Length() == 0 {
		return nil, false
	}
	if loc.Child != "" {
		sel = sel.Find(loc.Child).First()
		if sel.Length() == 0 {
			return nil, false
		}
	}
	return sel, true
}

// WaitFor reports whether the element is already present; nothing renders later.
func (n *Navigator) WaitFor(_ context.Context, loc crawler.Locator, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.find(loc); !ok {
		return crawler.Navigation("wait", loc.Selector, errors.New("element not found"))
	}
	return nil
}

// ReadText implements crawler.Navigator.
func (n *Navigator) ReadText(_ context.Context, loc crawler.Locator) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sel, ok := n.find(loc)
	if !ok {
		return "", false, nil
	}
	return sel.Text(), true, nil
}

// ReadAttribute implements crawler.Navigator.
func (n *Navigator) ReadAttribute(_ context.Context, loc crawler.Locator, name string) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sel, ok := n.find(loc)
	if !ok {
		return "", false, nil
	}
	v, ok := sel.Attr(name)
	return v, ok, nil
}

// Count implements crawler.Navigator.
func (n *Navigator) Count(_ context.Context, loc crawler.Locator) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.doc == nil {
		return 0, nil
	}
	if loc.Child == "" {
		return n.doc.Find(loc.Selector).Length(), nil
	}
	return n.doc.Find(loc.Selector).Eq(loc.Index).Find(loc.Child).Length(), nil
}

// Click follows the href of the element or its nearest enclosing link.
func (n *Navigator) Click(ctx context.Context, loc crawler.Locator) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	sel, ok := n.find(loc)
	if !ok {
		return crawler.Navigation("click", loc.Selector, errors.New("element not found"))
	}
	href, ok := sel.Attr("href")
	if !ok {
		href, ok = sel.Closest("a[href]").Attr("href")
	}
	if !ok || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return crawler.Navigation("click", loc.Selector, ErrUnsupported)
	}
	target, err := n.resolve(href)
	if err != nil {
		return crawler.Navigation("click", loc.Selector, err)
	}
	return n.open(ctx, target)
}

// Type implements crawler.Navigator. Forms are not submitted over plain HTTP.
func (n *Navigator) Type(_ context.Context, loc crawler.Locator, _ string) error {
	return crawler.Navigation("type", loc.Selector, ErrUnsupported)
}

// Scroll is a no-op; the whole document is already loaded.
func (n *Navigator) Scroll(context.Context, crawler.Locator, int) (int, error) {
	return 0, nil
}

// CurrentLocation implements crawler.Navigator.
func (n *Navigator) CurrentLocation(context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location, nil
}

// Close drops the loaded document.
func (n *Navigator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.doc = nil
	return nil
}

func (n *Navigator) resolve(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	base, err := url.Parse(n.location)
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
