// Package comments collects leads from the top-level comments of videos.
package comments

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/extract"
)

// DefaultMaxComments caps the leads collected per video.
const DefaultMaxComments = 100

const apiPageLimit = 100

var (
	videoIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/)([^&\n?#]+)`),
		regexp.MustCompile(`youtube\.com/watch.*[&?]v=([^&\n?#]+)`),
		regexp.MustCompile(`youtube\.com/shorts/([^&\n?#]+)`),
	}
	bareIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// VideoID pulls the video id out of a watch, short, embed or share URL.
// A bare 11 character id is returned as is.
func VideoID(payload string) (string, bool) {
	payload = strings.TrimSpace(payload)
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(payload); m != nil && m[1] != "" {
			return m[1], true
		}
	}
	if bareIDPattern.MatchString(payload) {
		return payload, true
	}
	return "", false
}

// Config controls comment collection.
type Config struct {
	MaxComments int `mapstructure:"max_comments"`
}

// Source implements crawler.Source over a comment API.
type Source struct {
	cfg       Config
	client    crawler.CommentClient
	extractor extract.Extractor
	logger    *zap.Logger
}

// New constructs a Source.
func New(cfg Config, client crawler.CommentClient, logger *zap.Logger) *Source {
	if cfg.MaxComments <= 0 {
		cfg.MaxComments = DefaultMaxComments
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, client: client, extractor: extract.Comment{}, logger: logger}
}

// Kind implements crawler.Source.
func (s *Source) Kind() crawler.SourceKind { return crawler.SourceVideoComment }

// Open implements crawler.Source. The API client is stateless so the
// session is the source itself.
func (s *Source) Open(context.Context) (crawler.Session, error) {
	if s.client == nil {
		return nil, crawler.Unrecoverable(errors.New("comment client not configured"))
	}
	return s, nil
}

// Close implements crawler.Session.
func (s *Source) Close() error { return nil }

// RunUnit implements crawler.Session.
func (s *Source) RunUnit(ctx context.Context, unit crawler.WorkUnit) ([]crawler.Lead, error) {
	logger := s.logger.With(zap.Int("unit_index", unit.Index), zap.String("video", unit.Payload))

	videoID, ok := VideoID(unit.Payload)
	if !ok {
		logger.Error("could not extract video id")
		return nil, nil
	}

	info, err := s.client.VideoInfo(ctx, videoID)
	if errors.Is(err, crawler.ErrNotFound) {
		logger.Warn("video not found", zap.String("video_id", videoID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("video info %s: %w", videoID, err)
	}
	if info.CommentCount == 0 {
		logger.Warn("comments are disabled", zap.String("video_id", videoID))
		return nil, nil
	}

	var (
		leads  []crawler.Lead
		cursor string
	)
	for len(leads) < s.cfg.MaxComments {
		size := min(apiPageLimit, s.cfg.MaxComments-len(leads))
		page, err := s.client.FetchPage(ctx, videoID, cursor, size)
		if err != nil {
			return leads, fmt.Errorf("fetch comments %s: %w", videoID, err)
		}
		for _, item := range page.Items {
			item.VideoID = videoID
			item.VideoTitle = info.Title
			item.Channel = info.Channel
			if lead, ok := s.extractor.Extract(item); ok {
				leads = append(leads, lead)
			}
			if len(leads) >= s.cfg.MaxComments {
				break
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	logger.Info("comments collected", zap.String("video_id", videoID), zap.Int("leads", len(leads)))
	return leads, nil
}
