package source_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/navigator/navtest"
	"github.com/JakeFAU/leadcrawler/internal/source"
)

type recordingWaiter struct {
	urls []string
	err  error
}

func (w *recordingWaiter) Wait(_ context.Context, rawURL string) error {
	w.urls = append(w.urls, rawURL)
	return w.err
}

func TestOpenNavigatorMarksFailureUnrecoverable(t *testing.T) {
	t.Parallel()
	_, err := source.OpenNavigator(context.Background(), func(context.Context) (crawler.Navigator, error) {
		return nil, errors.New("no chrome")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrUnrecoverableSession)
}

func TestThrottleWaitsBeforeOpen(t *testing.T) {
	t.Parallel()
	fake := &navtest.Fake{Pages: map[string]navtest.Page{"https://example.test/a": {}}}
	waiter := &recordingWaiter{}
	open := source.Throttle(func(context.Context) (crawler.Navigator, error) { return fake, nil }, waiter)

	nav, err := open(context.Background())
	require.NoError(t, err)
	require.NoError(t, nav.Open(context.Background(), "https://example.test/a"))

	assert.Equal(t, []string{"https://example.test/a"}, waiter.urls)
	assert.Equal(t, []string{"https://example.test/a"}, fake.Opened)
}

func TestThrottleStopsOnWaitError(t *testing.T) {
	t.Parallel()
	fake := &navtest.Fake{}
	waiter := &recordingWaiter{err: context.Canceled}
	open := source.Throttle(func(context.Context) (crawler.Navigator, error) { return fake, nil }, waiter)

	nav, err := open(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, nav.Open(context.Background(), "https://example.test/a"), context.Canceled)
	assert.Empty(t, fake.Opened)
}
