// Package dedupe removes duplicate leads by a source-dependent identity key.
package dedupe

import (
	"strings"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/extract"
)

// Key is the identity of a lead within a batch.
type Key struct {
	Name   string
	Detail string
}

// KeyOf returns the identity of lead. Map listings are distinguished by
// address, every other source by its source context.
func KeyOf(lead crawler.Lead) Key {
	name := strings.ToLower(extract.CleanText(lead.Name))
	if lead.Source == crawler.SourceMapListing {
		return Key{Name: name, Detail: extract.CleanText(lead.Address)}
	}
	return Key{Name: name, Detail: extract.CleanText(lead.SourceContext)}
}

// String renders the key for storage backends that need a scalar value.
func (k Key) String() string {
	return k.Name + "\x1f" + k.Detail
}

// Leads returns leads with duplicates removed. The first occurrence of each
// key wins and relative order is preserved. The input is not modified.
func Leads(leads []crawler.Lead) []crawler.Lead {
	seen := make(map[Key]struct{}, len(leads))
	out := make([]crawler.Lead, 0, len(leads))
	for _, lead := range leads {
		key := KeyOf(lead)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, lead)
	}
	return out
}
