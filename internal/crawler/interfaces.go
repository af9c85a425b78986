package crawler

import (
	"context"
	"io"
	"time"
)

// Locator addresses the Index-th element matching Selector, optionally
// descending into the first Child match beneath it.
type Locator struct {
	Selector string
	Index    int
	Child    string
}

// At returns a locator for the i-th match of selector.
func At(selector string, i int) Locator {
	return Locator{Selector: selector, Index: i}
}

// Select returns a locator for the first match of selector.
func Select(selector string) Locator {
	return Locator{Selector: selector}
}

// Within returns a copy of l that descends into child.
func (l Locator) Within(child string) Locator {
	l.Child = child
	return l
}

// Navigator drives a page-oriented session. Every failure is a *NavigationError.
type Navigator interface {
	Open(ctx context.Context, target string) error
	WaitFor(ctx context.Context, loc Locator, timeout time.Duration) error
	ReadText(ctx context.Context, loc Locator) (string, bool, error)
	ReadAttribute(ctx context.Context, loc Locator, name string) (string, bool, error)
	Count(ctx context.Context, loc Locator) (int, error)
	Click(ctx context.Context, loc Locator) error
	Type(ctx context.Context, loc Locator, text string) error
	Scroll(ctx context.Context, loc Locator, amount int) (int, error)
	CurrentLocation(ctx context.Context) (string, error)
	Close() error
}

// CommentClient reads video metadata and pages of top-level comments.
type CommentClient interface {
	VideoInfo(ctx context.Context, videoID string) (VideoInfo, error)
	FetchPage(ctx context.Context, videoID, cursor string, pageSize int) (CommentPage, error)
}

// Source opens sessions for one kind of crawl target.
type Source interface {
	Kind() SourceKind
	Open(ctx context.Context) (Session, error)
}

// Session processes work units inside one established session.
type Session interface {
	RunUnit(ctx context.Context, unit WorkUnit) ([]Lead, error)
	Close() error
}

// CheckpointStore persists progress and artifacts for one batch run.
type CheckpointStore interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
	SaveErrorBackup(ctx context.Context, unit WorkUnit, leads []Lead) error
	SaveFinalSnapshot(ctx context.Context, leads []Lead) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// LeadSink receives the deduplicated leads of a finished batch.
type LeadSink interface {
	Name() string
	StoreLeads(ctx context.Context, runID string, leads []Lead) error
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Channel delivers an outreach message to a lead.
type Channel interface {
	Name() string
	Eligible(lead Lead) bool
	Send(ctx context.Context, lead Lead) error
}

// Pauser sleeps for a delay or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Hasher computes digests for run identity and artifact names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
