// Package youtube reads video metadata and comment threads from the
// YouTube Data API.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/policy/ratelimit"
)

// DefaultBaseURL is the public Data API endpoint.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// maxPageSize is the API limit for commentThreads.list.
const maxPageSize = 100

// Config holds API credentials and pacing.
type Config struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
}

// Client implements crawler.CommentClient.
type Client struct {
	http    *resty.Client
	baseURL string
	apiKey  string
	limiter *ratelimit.Limiter
}

var _ crawler.CommentClient = (*Client)(nil)

// New builds a Client. A missing key is unrecoverable.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, crawler.Unrecoverable(errors.New("youtube api key is required"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{
		http:    client,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RPS, DefaultBurst: 1}),
	}, nil
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (e *apiError) reason() string {
	if e == nil || len(e.Error.Errors) == 0 {
		return ""
	}
	return e.Error.Errors[0].Reason
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
		Statistics struct {
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type commentThreadResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			TopLevelComment struct {
				ID      string `json:"id"`
				Snippet struct {
					TextDisplay       string `json:"textDisplay"`
					AuthorDisplayName string `json:"authorDisplayName"`
					AuthorChannelURL  string `json:"authorChannelUrl"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

// VideoInfo implements crawler.CommentClient. An unknown video yields
// crawler.ErrNotFound.
func (c *Client) VideoInfo(ctx context.Context, videoID string) (crawler.VideoInfo, error) {
	var out videoListResponse
	if _, err := c.get(ctx, "/videos", map[string]string{
		"part": "snippet,statistics",
		"id":   videoID,
	}, &out); err != nil {
		return crawler.VideoInfo{}, err
	}
	if len(out.Items) == 0 {
		return crawler.VideoInfo{}, fmt.Errorf("video %s: %w", videoID, crawler.ErrNotFound)
	}
	item := out.Items[0]
	count, _ := strconv.Atoi(item.Statistics.CommentCount)
	return crawler.VideoInfo{
		ID:           videoID,
		Title:        item.Snippet.Title,
		Channel:      item.Snippet.ChannelTitle,
		CommentCount: count,
	}, nil
}

// FetchPage implements crawler.CommentClient. Videos with comments turned
// off return an empty final page.
func (c *Client) FetchPage(ctx context.Context, videoID, cursor string, pageSize int) (crawler.CommentPage, error) {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	params := map[string]string{
		"part":       "snippet",
		"videoId":    videoID,
		"maxResults": strconv.Itoa(pageSize),
		"textFormat": "plainText",
	}
	if cursor != "" {
		params["pageToken"] = cursor
	}
	var out commentThreadResponse
	reason, err := c.get(ctx, "/commentThreads", params, &out)
	if reason == "commentsDisabled" {
		return crawler.CommentPage{}, nil
	}
	if err != nil {
		return crawler.CommentPage{}, err
	}

	page := crawler.CommentPage{
		Items:      make([]crawler.CommentRaw, 0, len(out.Items)),
		NextCursor: out.NextPageToken,
	}
	for _, item := range out.Items {
		top := item.Snippet.TopLevelComment
		page.Items = append(page.Items, crawler.CommentRaw{
			CommentID:        top.ID,
			Author:           top.Snippet.AuthorDisplayName,
			AuthorChannelURL: top.Snippet.AuthorChannelURL,
			Text:             top.Snippet.TextDisplay,
			VideoID:          videoID,
		})
	}
	return page, nil
}

// get performs one API call and classifies failures. The API error reason
// is returned alongside any error.
func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) (string, error) {
	if err := c.limiter.Wait(ctx, c.baseURL); err != nil {
		return "", fmt.Errorf("youtube %s: %w", path, err)
	}
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("key", c.apiKey).
		SetResult(out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("youtube %s: %w", path, ctxErr)
		}
		return "", crawler.Navigation("get", path, err)
	}

	reason := apiErr.reason()
	status := resp.StatusCode()
	switch {
	case status < 300:
		return "", nil
	case status == http.StatusNotFound:
		return reason, fmt.Errorf("youtube %s: %w", path, crawler.ErrNotFound)
	case status == http.StatusTooManyRequests || status >= 500:
		return reason, crawler.Navigation("get", path, fmt.Errorf("status %d: %s", status, apiErr.Error.Message))
	case reason == "commentsDisabled":
		return reason, fmt.Errorf("youtube %s: comments disabled", path)
	default:
		return reason, crawler.Unrecoverable(fmt.Errorf("youtube %s: status %d %s: %s", path, status, reason, apiErr.Error.Message))
	}
}
