// Package navtest provides an in-memory crawler.Navigator for tests.
package navtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// Element is one node of a fake page.
type Element struct {
	Text     string
	Attrs    map[string]string
	Children map[string][]Element
}

// Page maps selectors to their matches in document order.
type Page map[string][]Element

// ClickFunc reacts to a click. The returned page is laid over the current
// one and replaces any earlier overlay, which is how a detail pane swaps in
// after clicking a listing.
type ClickFunc func(loc crawler.Locator) (Page, error)

// Fake is a scripted navigator. Zero values are usable; set the exported
// fields before handing it to the code under test.
type Fake struct {
	mu sync.Mutex

	Pages         map[string]Page
	OnClick       map[string]ClickFunc
	ScrollOffsets []int
	// FailOn injects an error for an operation; return nil to proceed.
	FailOn func(op string, loc crawler.Locator) error

	current string
	overlay Page
	scrolls int

	Opened []string
	Clicks []crawler.Locator
	Typed  []string
	Closed bool
}

var _ crawler.Navigator = (*Fake)(nil)

func (f *Fake) fail(op string, loc crawler.Locator) error {
	if f.FailOn == nil {
		return nil
	}
	return f.FailOn(op, loc)
}

func (f *Fake) lookup(loc crawler.Locator) ([]Element, bool) {
	if els, ok := f.overlay[loc.Selector]; ok {
		return els, true
	}
	els, ok := f.Pages[f.current][loc.Selector]
	return els, ok
}

func (f *Fake) find(loc crawler.Locator) (Element, bool) {
	els, _ := f.lookup(loc)
	if loc.Index < 0 || loc.Index >= len(els) {
		return Element{}, false
	}
	el := els[loc.Index]
	if loc.Child == "" {
		return el, true
	}
	children := el.Children[loc.Child]
	if len(children) == 0 {
		return Element{}, false
	}
	return children[0], true
}

// Open implements crawler.Navigator.
func (f *Fake) Open(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Opened = append(f.Opened, target)
	if err := f.fail("open", crawler.Locator{Selector: target}); err != nil {
		return err
	}
	if _, ok := f.Pages[target]; !ok {
		return crawler.Navigation("open", target, errors.New("no such page"))
	}
	f.current = target
	f.overlay = nil
	f.scrolls = 0
	return nil
}

// WaitFor implements crawler.Navigator.
func (f *Fake) WaitFor(ctx context.Context, loc crawler.Locator, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.fail("wait", loc); err != nil {
		return err
	}
	if _, ok := f.find(loc); !ok {
		return crawler.Navigation("wait", loc.Selector, errors.New("timeout"))
	}
	return nil
}

// ReadText implements crawler.Navigator.
func (f *Fake) ReadText(_ context.Context, loc crawler.Locator) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("read", loc); err != nil {
		return "", false, err
	}
	el, ok := f.find(loc)
	return el.Text, ok, nil
}

// ReadAttribute implements crawler.Navigator.
func (f *Fake) ReadAttribute(_ context.Context, loc crawler.Locator, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("read", loc); err != nil {
		return "", false, err
	}
	el, ok := f.find(loc)
	if !ok {
		return "", false, nil
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

// Count implements crawler.Navigator.
func (f *Fake) Count(_ context.Context, loc crawler.Locator) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("count", loc); err != nil {
		return 0, err
	}
	if loc.Child == "" {
		els, _ := f.lookup(loc)
		return len(els), nil
	}
	els, _ := f.lookup(loc)
	if loc.Index >= len(els) {
		return 0, nil
	}
	return len(els[loc.Index].Children[loc.Child]), nil
}

// Click implements crawler.Navigator.
func (f *Fake) Click(ctx context.Context, loc crawler.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Clicks = append(f.Clicks, loc)
	if err := f.fail("click", loc); err != nil {
		return err
	}
	if _, ok := f.find(loc); !ok {
		return crawler.Navigation("click", loc.Selector, errors.New("element not found"))
	}
	handler := f.OnClick[loc.Selector]
	if handler == nil {
		return nil
	}
	patch, err := handler(loc)
	if err != nil {
		return err
	}
	f.overlay = patch
	return nil
}

// Type implements crawler.Navigator.
func (f *Fake) Type(_ context.Context, loc crawler.Locator, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("type", loc); err != nil {
		return err
	}
	if _, ok := f.find(loc); !ok {
		return crawler.Navigation("type", loc.Selector, errors.New("element not found"))
	}
	f.Typed = append(f.Typed, text)
	return nil
}

// Scroll returns the next configured offset, repeating the last one.
func (f *Fake) Scroll(_ context.Context, loc crawler.Locator, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("scroll", loc); err != nil {
		return 0, err
	}
	i := f.scrolls
	f.scrolls++
	if len(f.ScrollOffsets) == 0 {
		return 0, nil
	}
	if i >= len(f.ScrollOffsets) {
		i = len(f.ScrollOffsets) - 1
	}
	return f.ScrollOffsets[i], nil
}

// Scrolls returns how many times Scroll was called since the last Open.
func (f *Fake) Scrolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scrolls
}

// CurrentLocation implements crawler.Navigator.
func (f *Fake) CurrentLocation(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

// Close implements crawler.Navigator.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Text is shorthand for a text-only element.
func Text(s string) Element {
	return Element{Text: s}
}

// Attr is shorthand for an element carrying one attribute.
func Attr(name, value string) Element {
	return Element{Attrs: map[string]string{name: value}}
}
