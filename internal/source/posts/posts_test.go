package posts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/navigator/navtest"
)

const groupURL = "https://social.example/groups/homeowners"

type countingPauser struct{ n int }

func (p *countingPauser) Pause(context.Context, time.Duration) { p.n++ }

func post(author, profile, content string) navtest.Element {
	el := navtest.Text(content)
	if author != "" {
		el.Children = map[string][]navtest.Element{
			authorSelector: {{Text: author, Attrs: map[string]string{"href": profile}}},
		}
	}
	return el
}

func newFake() *navtest.Fake {
	return &navtest.Fake{
		Pages: map[string]navtest.Page{
			"https://www.facebook.com": {
				"#email":          {navtest.Text("")},
				"#pass":           {navtest.Text("")},
				`[name="login"]`: {navtest.Text("Log in")},
			},
			groupURL: {
				articleSelector: {
					post("Sam Lee", "https://social.example/sam", "Need a plumber, call 555.987.6543"),
					post("", "", "anonymous notice"),
					post("Ana Diaz", "https://social.example/ana", "Email ana@diaz.dev for quotes"),
				},
			},
		},
	}
}

func TestRunUnitReadsArticles(t *testing.T) {
	t.Parallel()

	fake := newFake()
	pauser := &countingPauser{}
	src := New(Config{}, func(context.Context) (crawler.Navigator, error) { return fake, nil }, WithPauser(pauser))

	sess, err := src.Open(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fake.Opened, "no credentials means no login")

	leads, err := sess.RunUnit(context.Background(), crawler.WorkUnit{Payload: groupURL})
	require.NoError(t, err)
	require.Len(t, leads, 2, "posts without an author are rejected")

	assert.Equal(t, "Sam Lee", leads[0].Name)
	assert.Equal(t, "555.987.6543", leads[0].Phone)
	assert.Equal(t, "https://social.example/sam", leads[0].ProfileURL)
	assert.Equal(t, groupURL, leads[0].SourceContext)
	assert.Equal(t, "ana@diaz.dev", leads[1].Email)

	assert.Equal(t, 5, fake.Scrolls())
	assert.Equal(t, 6, pauser.n, "load delay plus one pause per scroll")

	require.NoError(t, sess.Close())
	assert.True(t, fake.Closed)
}

func TestOpenLogsIn(t *testing.T) {
	t.Parallel()

	fake := newFake()
	src := New(Config{Email: "me@example.com", Password: "hunter2"},
		func(context.Context) (crawler.Navigator, error) { return fake, nil },
		WithPauser(&countingPauser{}))

	_, err := src.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.facebook.com"}, fake.Opened)
	assert.Equal(t, []string{"me@example.com", "hunter2"}, fake.Typed)
	require.Len(t, fake.Clicks, 1)
	assert.Equal(t, `[name="login"]`, fake.Clicks[0].Selector)
}

func TestOpenLoginFailureIsUnrecoverable(t *testing.T) {
	t.Parallel()

	fake := newFake()
	delete(fake.Pages["https://www.facebook.com"], "#email")
	src := New(Config{Email: "me@example.com", Password: "hunter2"},
		func(context.Context) (crawler.Navigator, error) { return fake, nil },
		WithPauser(&countingPauser{}))

	_, err := src.Open(context.Background())
	require.ErrorIs(t, err, crawler.ErrUnrecoverableSession)
	assert.True(t, fake.Closed)

	_, err = New(Config{Email: "me@example.com"}, func(context.Context) (crawler.Navigator, error) {
		return newFake(), nil
	}).Open(context.Background())
	require.ErrorIs(t, err, crawler.ErrUnrecoverableSession)
}

func TestRunUnitMissingGroupFailsAttempt(t *testing.T) {
	t.Parallel()

	fake := newFake()
	src := New(Config{}, func(context.Context) (crawler.Navigator, error) { return fake, nil },
		WithPauser(&countingPauser{}))
	sess, err := src.Open(context.Background())
	require.NoError(t, err)

	_, err = sess.RunUnit(context.Background(), crawler.WorkUnit{Payload: "https://social.example/groups/gone"})
	require.ErrorIs(t, err, crawler.ErrNavigation)
}

func TestRunUnitSkipsUnreadablePost(t *testing.T) {
	t.Parallel()

	fake := newFake()
	fake.FailOn = func(op string, loc crawler.Locator) error {
		if op == "read" && loc.Index == 0 {
			return crawler.Navigation("read", loc.Selector, errors.New("stale element"))
		}
		return nil
	}
	src := New(Config{}, func(context.Context) (crawler.Navigator, error) { return fake, nil },
		WithPauser(&countingPauser{}))
	sess, err := src.Open(context.Background())
	require.NoError(t, err)

	leads, err := sess.RunUnit(context.Background(), crawler.WorkUnit{Payload: groupURL})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Ana Diaz", leads[0].Name)
	assert.Equal(t, crawler.SourceGroupPost, src.Kind())
}
