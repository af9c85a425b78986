package crawler

import (
	"encoding/json"
)

// SourceKind identifies which adapter produced a lead.
type SourceKind string

const (
	// SourceMapListing marks leads scraped from a map/listings search.
	SourceMapListing SourceKind = "map_listing"
	// SourceVideoComment marks leads taken from video comments.
	SourceVideoComment SourceKind = "video_comment"
	// SourceGroupPost marks leads taken from social group posts.
	SourceGroupPost SourceKind = "group_post"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceMapListing, SourceVideoComment, SourceGroupPost:
		return true
	default:
		return false
	}
}

// Lead is one extracted, normalized contact record.
// Empty strings mean the field was absent.
type Lead struct {
	Name          string          `json:"name"`
	Email         string          `json:"email,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Website       string          `json:"website,omitempty"`
	Address       string          `json:"address,omitempty"`
	ProfileURL    string          `json:"profile_url,omitempty"`
	Rating        *float64        `json:"rating,omitempty"`
	ReviewCount   *int            `json:"review_count,omitempty"`
	Source        SourceKind      `json:"source"`
	SourceContext string          `json:"source_context"`
	RawPayload    json.RawMessage `json:"raw_payload,omitempty"`
	Processed     bool            `json:"processed"`
}

// HasContact reports whether any direct contact channel is populated.
func (l Lead) HasContact() bool {
	return l.Email != "" || l.Phone != "" || l.Website != ""
}

// WorkUnit is one crawl target: a search query, a video reference or a group URL.
type WorkUnit struct {
	Index   int    `json:"index"`
	Payload string `json:"payload"`
}

// UnitsFrom assigns indexes to payloads in list order.
func UnitsFrom(payloads []string) []WorkUnit {
	units := make([]WorkUnit, 0, len(payloads))
	for i, p := range payloads {
		units = append(units, WorkUnit{Index: i, Payload: p})
	}
	return units
}

// NoUnitCompleted is the LastCompletedIndex of a run that has not finished any unit.
const NoUnitCompleted = -1

// Checkpoint is the persisted progress of one batch run.
type Checkpoint struct {
	Leads              []Lead `json:"leads"`
	LastCompletedIndex int    `json:"lastCompletedIndex"`
}

// ErrorBackup is the artifact written when a unit exhausts its retries.
type ErrorBackup struct {
	Query string `json:"query"`
	Leads []Lead `json:"leads"`
}

// Snapshot is the final artifact of a batch run.
type Snapshot struct {
	Leads []Lead `json:"leads"`
}

// DispatchResult tallies how a dispatch pass classified leads.
type DispatchResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Total returns the number of leads that were classified.
func (r DispatchResult) Total() int {
	return r.Success + r.Failed + r.Skipped
}

// RawItem is the source-specific record handed to an extractor.
// The unexported method seals the set of implementations to this package.
type RawItem interface {
	Kind() SourceKind
	rawItem()
}

// MapListingRaw holds the text read from one map listing detail pane.
type MapListingRaw struct {
	Name     string `json:"name"`
	Website  string `json:"website,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Rating   string `json:"rating,omitempty"`
	Reviews  string `json:"reviews,omitempty"`
	InfoText string `json:"info_text,omitempty"`
	Query    string `json:"query"`
}

// Kind implements RawItem.
func (MapListingRaw) Kind() SourceKind { return SourceMapListing }
func (MapListingRaw) rawItem()         {}

// CommentRaw holds one top-level video comment.
type CommentRaw struct {
	CommentID        string `json:"comment_id"`
	Author           string `json:"author"`
	AuthorChannelURL string `json:"author_channel_url,omitempty"`
	Text             string `json:"text"`
	VideoID          string `json:"video_id"`
	VideoTitle       string `json:"video_title,omitempty"`
	Channel          string `json:"channel,omitempty"`
}

// Kind implements RawItem.
func (CommentRaw) Kind() SourceKind { return SourceVideoComment }
func (CommentRaw) rawItem()         {}

// PostRaw holds one post read from a group feed.
type PostRaw struct {
	Author           string `json:"author"`
	AuthorProfileURL string `json:"author_profile_url,omitempty"`
	Content          string `json:"content"`
	GroupURL         string `json:"group_url"`
}

// Kind implements RawItem.
func (PostRaw) Kind() SourceKind { return SourceGroupPost }
func (PostRaw) rawItem()         {}

// VideoInfo is the metadata needed before paginating comments.
type VideoInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	CommentCount int    `json:"comment_count"`
}

// CommentPage is one page of the comment API.
type CommentPage struct {
	Items      []CommentRaw
	NextCursor string
}
