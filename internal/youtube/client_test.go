package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestVideoInfo(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "abc", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"abc","snippet":{"title":"Fixing Pipes","channelTitle":"DIY"},"statistics":{"commentCount":"42"}}]}`))
	})

	info, err := c.VideoInfo(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, crawler.VideoInfo{ID: "abc", Title: "Fixing Pipes", Channel: "DIY", CommentCount: 42}, info)
}

func TestVideoInfoNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	_, err := c.VideoInfo(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestFetchPage(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/commentThreads", r.URL.Path)
		assert.Equal(t, "vid", q.Get("videoId"))
		assert.Equal(t, "100", q.Get("maxResults"))
		assert.Equal(t, "tok1", q.Get("pageToken"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nextPageToken":"tok2","items":[
			{"snippet":{"topLevelComment":{"id":"c1","snippet":{"textDisplay":"mail me a@b.co","authorDisplayName":"Ann","authorChannelUrl":"http://www.youtube.com/channel/UC1"}}}}
		]}`))
	})

	page, err := c.FetchPage(context.Background(), "vid", "tok1", 500)
	require.NoError(t, err)
	assert.Equal(t, "tok2", page.NextCursor)
	require.Len(t, page.Items, 1)
	assert.Equal(t, crawler.CommentRaw{
		CommentID:        "c1",
		Author:           "Ann",
		AuthorChannelURL: "http://www.youtube.com/channel/UC1",
		Text:             "mail me a@b.co",
		VideoID:          "vid",
	}, page.Items[0])
}

func TestFetchPageErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, page crawler.CommentPage, err error)
	}{
		{
			name:   "comments disabled",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"disabled","errors":[{"reason":"commentsDisabled"}]}}`,
			check: func(t *testing.T, page crawler.CommentPage, err error) {
				require.NoError(t, err)
				assert.Empty(t, page.Items)
				assert.Empty(t, page.NextCursor)
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"slow down"}}`,
			check: func(t *testing.T, _ crawler.CommentPage, err error) {
				require.ErrorIs(t, err, crawler.ErrNavigation)
				assert.NotErrorIs(t, err, crawler.ErrUnrecoverableSession)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `{}`,
			check: func(t *testing.T, _ crawler.CommentPage, err error) {
				require.ErrorIs(t, err, crawler.ErrNavigation)
			},
		},
		{
			name:   "bad key",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"API key not valid","errors":[{"reason":"keyInvalid"}]}}`,
			check: func(t *testing.T, _ crawler.CommentPage, err error) {
				require.ErrorIs(t, err, crawler.ErrUnrecoverableSession)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			page, err := c.FetchPage(context.Background(), "vid", "", 20)
			tc.check(t, page, err)
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, crawler.ErrUnrecoverableSession)
}
