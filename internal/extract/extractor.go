// Package extract turns source-specific raw items into validated leads.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// Extractor maps one raw item to a lead. Rejected items return false.
type Extractor interface {
	Extract(raw crawler.RawItem) (crawler.Lead, bool)
}

// Options tunes the validation rules of the built-in extractors.
type Options struct {
	// RequireContact rejects map listings without a phone, website or email.
	RequireContact bool
}

// For returns the extractor registered for kind.
func For(kind crawler.SourceKind, opts Options) (Extractor, error) {
	switch kind {
	case crawler.SourceMapListing:
		return MapListing{RequireContact: opts.RequireContact}, nil
	case crawler.SourceVideoComment:
		return Comment{}, nil
	case crawler.SourceGroupPost:
		return Post{}, nil
	default:
		return nil, fmt.Errorf("no extractor for source %q", kind)
	}
}

// field is one row of a declarative extraction table. The primary reader is
// used when it yields non-empty text after cleaning, otherwise the fallback.
type field[R any] struct {
	name     string
	primary  func(R) string
	fallback func(R) string
	assign   func(*crawler.Lead, string)
}

func apply[R crawler.RawItem](raw R, table []field[R], sourceContext string) crawler.Lead {
	lead := crawler.Lead{
		Source:        raw.Kind(),
		SourceContext: CleanText(sourceContext),
	}
	for _, f := range table {
		v := CleanText(f.primary(raw))
		if v == "" && f.fallback != nil {
			v = CleanText(f.fallback(raw))
		}
		if v != "" {
			f.assign(&lead, v)
		}
	}
	if payload, err := json.Marshal(raw); err == nil {
		lead.RawPayload = payload
	}
	return lead
}

// Base applies the rule shared by every source: a lead must have a name.
type Base struct{}

// Validate reports whether lead passes the shared rule.
func (Base) Validate(lead crawler.Lead) error {
	if lead.Name == "" {
		return fmt.Errorf("%w: missing name", crawler.ErrValidationRejected)
	}
	return nil
}

// MapListing extracts leads from map listing detail panes.
type MapListing struct {
	RequireContact bool
}

var mapListingFields = []field[crawler.MapListingRaw]{
	{
		name:    "name",
		primary: func(r crawler.MapListingRaw) string { return r.Name },
		assign:  func(l *crawler.Lead, v string) { l.Name = v },
	},
	{
		name:     "phone",
		primary:  func(r crawler.MapListingRaw) string { return trimLabel(r.Phone, "Phone:") },
		fallback: func(r crawler.MapListingRaw) string { return FindPhone(r.InfoText) },
		assign:   func(l *crawler.Lead, v string) { l.Phone = v },
	},
	{
		name:     "website",
		primary:  func(r crawler.MapListingRaw) string { return r.Website },
		fallback: func(r crawler.MapListingRaw) string { return FindWebsite(r.InfoText) },
		assign:   func(l *crawler.Lead, v string) { l.Website = v },
	},
	{
		name:    "email",
		primary: func(r crawler.MapListingRaw) string { return FindEmail(r.InfoText) },
		assign:  func(l *crawler.Lead, v string) { l.Email = v },
	},
	{
		name:    "address",
		primary: func(r crawler.MapListingRaw) string { return trimLabel(r.Address, "Address:") },
		assign:  func(l *crawler.Lead, v string) { l.Address = v },
	},
	{
		name:    "rating",
		primary: func(r crawler.MapListingRaw) string { return r.Rating },
		assign: func(l *crawler.Lead, v string) {
			if rating, ok := ParseRating(v); ok {
				l.Rating = rating
			}
		},
	},
	{
		name:    "review_count",
		primary: func(r crawler.MapListingRaw) string { return r.Reviews },
		assign: func(l *crawler.Lead, v string) {
			if n, ok := ParseReviewCount(v); ok {
				l.ReviewCount = n
			}
		},
	},
}

// Extract implements Extractor.
func (e MapListing) Extract(raw crawler.RawItem) (crawler.Lead, bool) {
	item, ok := raw.(crawler.MapListingRaw)
	if !ok {
		return crawler.Lead{}, false
	}
	lead := apply(item, mapListingFields, item.Query)
	return lead, e.Validate(lead) == nil
}

// Validate applies the base rule and, when configured, the contact rule.
func (e MapListing) Validate(lead crawler.Lead) error {
	if err := (Base{}).Validate(lead); err != nil {
		return err
	}
	if e.RequireContact && !lead.HasContact() {
		return fmt.Errorf("%w: no contact channel", crawler.ErrValidationRejected)
	}
	return nil
}

// Comment extracts leads from video comments.
type Comment struct{}

var commentFields = []field[crawler.CommentRaw]{
	{
		name:    "name",
		primary: func(r crawler.CommentRaw) string { return r.Author },
		assign:  func(l *crawler.Lead, v string) { l.Name = v },
	},
	{
		name:    "email",
		primary: func(r crawler.CommentRaw) string { return FindEmail(r.Text) },
		assign:  func(l *crawler.Lead, v string) { l.Email = v },
	},
	{
		name:    "phone",
		primary: func(r crawler.CommentRaw) string { return FindPhone(r.Text) },
		assign:  func(l *crawler.Lead, v string) { l.Phone = v },
	},
	{
		name:     "website",
		primary:  func(r crawler.CommentRaw) string { return FindWebsite(r.Text) },
		fallback: func(r crawler.CommentRaw) string { return r.AuthorChannelURL },
		assign:   func(l *crawler.Lead, v string) { l.Website = v },
	},
	{
		name:    "profile_url",
		primary: func(r crawler.CommentRaw) string { return r.AuthorChannelURL },
		assign:  func(l *crawler.Lead, v string) { l.ProfileURL = v },
	},
}

// Extract implements Extractor.
func (Comment) Extract(raw crawler.RawItem) (crawler.Lead, bool) {
	item, ok := raw.(crawler.CommentRaw)
	if !ok {
		return crawler.Lead{}, false
	}
	lead := apply(item, commentFields, item.VideoID)
	return lead, Base{}.Validate(lead) == nil
}

// Post extracts leads from group feed posts.
type Post struct{}

var postFields = []field[crawler.PostRaw]{
	{
		name:    "name",
		primary: func(r crawler.PostRaw) string { return r.Author },
		assign:  func(l *crawler.Lead, v string) { l.Name = v },
	},
	{
		name:    "email",
		primary: func(r crawler.PostRaw) string { return FindEmail(r.Content) },
		assign:  func(l *crawler.Lead, v string) { l.Email = v },
	},
	{
		name:    "phone",
		primary: func(r crawler.PostRaw) string { return FindPhone(r.Content) },
		assign:  func(l *crawler.Lead, v string) { l.Phone = v },
	},
	{
		name:    "website",
		primary: func(r crawler.PostRaw) string { return FindWebsite(r.Content) },
		assign:  func(l *crawler.Lead, v string) { l.Website = v },
	},
	{
		name:    "profile_url",
		primary: func(r crawler.PostRaw) string { return r.AuthorProfileURL },
		assign:  func(l *crawler.Lead, v string) { l.ProfileURL = v },
	},
}

// Extract implements Extractor.
func (Post) Extract(raw crawler.RawItem) (crawler.Lead, bool) {
	item, ok := raw.(crawler.PostRaw)
	if !ok {
		return crawler.Lead{}, false
	}
	lead := apply(item, postFields, item.GroupURL)
	return lead, Base{}.Validate(lead) == nil
}

func trimLabel(s, label string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
		return s[len(label):]
	}
	return s
}
