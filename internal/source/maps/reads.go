package maps

import (
	"context"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// reader pulls one string off the page, from an attribute when attr is set.
type reader struct {
	loc  crawler.Locator
	attr string
}

func (r reader) read(ctx context.Context, nav crawler.Navigator) (string, bool, error) {
	if r.attr != "" {
		return nav.ReadAttribute(ctx, r.loc, r.attr)
	}
	return nav.ReadText(ctx, r.loc)
}

// pageRead is one row of the detail pane read table.
type pageRead struct {
	name     string
	primary  reader
	fallback *reader
	assign   func(*crawler.MapListingRaw, string)
}

func (p pageRead) read(ctx context.Context, nav crawler.Navigator) (string, error) {
	v, ok, err := p.primary.read(ctx, nav)
	if err != nil {
		return "", err
	}
	if (ok && v != "") || p.fallback == nil {
		return v, nil
	}
	v, _, err = p.fallback.read(ctx, nav)
	return v, err
}

var listingReads = []pageRead{
	{
		name:    "name",
		primary: reader{loc: crawler.Select(titleSelector)},
		assign:  func(r *crawler.MapListingRaw, v string) { r.Name = v },
	},
	{
		name:    "website",
		primary: reader{loc: crawler.Select(`a[data-item-id="authority"]`), attr: "href"},
		assign:  func(r *crawler.MapListingRaw, v string) { r.Website = v },
	},
	{
		name:     "phone",
		primary:  reader{loc: crawler.Select(`button[data-tooltip="Copy phone number"]`), attr: "aria-label"},
		fallback: &reader{loc: crawler.Select(`button[data-item-id^="phone:tel:"]`)},
		assign:   func(r *crawler.MapListingRaw, v string) { r.Phone = v },
	},
	{
		name:    "address",
		primary: reader{loc: crawler.Select(`button[data-item-id^="address"]`)},
		assign:  func(r *crawler.MapListingRaw, v string) { r.Address = v },
	},
	{
		name:    "rating",
		primary: reader{loc: crawler.Select(`div.F7nice span[aria-hidden="true"]`)},
		assign:  func(r *crawler.MapListingRaw, v string) { r.Rating = v },
	},
	{
		name:     "reviews",
		primary:  reader{loc: crawler.Select(`div.F7nice span[aria-label*="reviews"]`), attr: "aria-label"},
		fallback: &reader{loc: crawler.Select(`div.F7nice span[aria-label*="reviews"]`)},
		assign:   func(r *crawler.MapListingRaw, v string) { r.Reviews = v },
	},
}
