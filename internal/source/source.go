// Package source holds what the source implementations share.
package source

import (
	"context"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// NavigatorFunc opens a fresh navigator for one session.
type NavigatorFunc func(ctx context.Context) (crawler.Navigator, error)

// OpenNavigator calls open and marks any failure unrecoverable, since a
// session without a navigator cannot do any work.
func OpenNavigator(ctx context.Context, open NavigatorFunc) (crawler.Navigator, error) {
	nav, err := open(ctx)
	if err != nil {
		return nil, crawler.Unrecoverable(err)
	}
	return nav, nil
}

// Waiter blocks until a request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Throttle wraps open so every navigator it returns waits on limit before
// each page load.
func Throttle(open NavigatorFunc, limit Waiter) NavigatorFunc {
	if limit == nil {
		return open
	}
	return func(ctx context.Context) (crawler.Navigator, error) {
		nav, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return &throttled{Navigator: nav, limit: limit}, nil
	}
}

type throttled struct {
	crawler.Navigator
	limit Waiter
}

func (t *throttled) Open(ctx context.Context, target string) error {
	if err := t.limit.Wait(ctx, target); err != nil {
		return err
	}
	return t.Navigator.Open(ctx, target)
}
