package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/app"
	"github.com/JakeFAU/leadcrawler/internal/config"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/publisher"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Checkpoint.File.Dir = filepath.Join(dir, "checkpoints")
	cfg.Artifacts.Local.BaseDir = filepath.Join(dir, "artifacts")
	cfg.Navigator.Driver = config.DriverStatic
	cfg.Dispatch.Channels = nil
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestJobsAllSkipsSourcesWithoutTargets(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Maps.Queries = []string{"plumbers in ohio", "roofers in ohio"}
	cfg.Posts.Groups = []string{"https://social.test/groups/1"}
	a := newApp(t, cfg)

	jobs, err := a.Jobs(app.SourceAll)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, crawler.SourceMapListing, jobs[0].Source.Kind())
	assert.Len(t, jobs[0].Units, 2)
	assert.Equal(t, 1, jobs[0].Units[1].Index)
	assert.Equal(t, crawler.SourceGroupPost, jobs[1].Source.Kind())
	assert.Empty(t, jobs[0].RunID)
}

func TestJobsRunIDOverride(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Crawl.RunID = "nightly"
	cfg.Comments.Videos = []string{"dQw4w9WgXcQ"}
	cfg.Comments.API.APIKey = "key"
	a := newApp(t, cfg)

	jobs, err := a.Jobs(app.SourceComments)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly-video_comment", jobs[0].RunID)
}

func TestJobsErrors(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t))

	_, err := a.Jobs(app.SourceMaps)
	require.ErrorIs(t, err, app.ErrNoTargets)

	_, err = a.Jobs(app.SourceAll)
	require.ErrorIs(t, err, app.ErrNoTargets)

	_, err = a.Jobs("forums")
	require.ErrorContains(t, err, "unknown source")
}

func TestSinksNoneEnabled(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t))
	sinks, err := a.Sinks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sinks)

	runner, err := a.Runner(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, runner)
}

func TestSinksDryRunRecordsEvents(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Sinks.DryRun.Enabled = true
	a := newApp(t, cfg)
	assert.Empty(t, a.DryRunEvents())

	sinks, err := a.Sinks(context.Background())
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	leads := []crawler.Lead{
		{Name: "Acme Dental", Source: crawler.SourceMapListing},
		{Name: "Bright Smiles", Source: crawler.SourceMapListing},
	}
	require.NoError(t, sinks[0].StoreLeads(context.Background(), "nightly-map_listing", leads))

	events := a.DryRunEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "leads", events[0].Topic)
	event, ok := events[1].Payload.(publisher.LeadEvent)
	require.True(t, ok)
	assert.Equal(t, "nightly-map_listing", event.RunID)
	assert.Equal(t, "Bright Smiles", event.Lead.Name)
}

type acceptingChannel struct{}

func (acceptingChannel) Name() string { return "email" }
func (acceptingChannel) Eligible(crawler.Lead) bool { return true }
func (acceptingChannel) Send(context.Context, crawler.Lead) error { return nil }

func TestDispatchersShareDailyCap(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Dispatch.MaxDailyMessages = 1
	cfg.Dispatch.MessageDelay = 0
	a := newApp(t, cfg)
	ctx := context.Background()

	first, _, err := a.Dispatcher(ctx)
	require.NoError(t, err)
	second, _, err := a.Dispatcher(ctx)
	require.NoError(t, err)

	morning := []crawler.Lead{{Name: "a", Email: "a@example.test"}}
	assert.Equal(t, crawler.DispatchResult{Success: 1}, first.Dispatch(ctx, morning, []crawler.Channel{acceptingChannel{}}))

	evening := []crawler.Lead{{Name: "b", Email: "b@example.test"}}
	assert.Equal(t, crawler.DispatchResult{}, second.Dispatch(ctx, evening, []crawler.Channel{acceptingChannel{}}))
	assert.False(t, evening[0].Processed)
}

func TestDispatcherEmailChannel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Dispatch.Channels = []string{"email"}
	cfg.SMTP.Server = "localhost"
	cfg.SMTP.From = "outreach@example.test"
	a := newApp(t, cfg)

	limiter, channels, err := a.Dispatcher(context.Background())
	require.NoError(t, err)
	require.NotNil(t, limiter)
	require.Len(t, channels, 1)
	assert.Equal(t, "email", channels[0].Name())
}

func TestDispatcherEmailRequiresServer(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Dispatch.Channels = []string{"email"}
	a := newApp(t, cfg)

	_, _, err := a.Dispatcher(context.Background())
	require.ErrorContains(t, err, "channel email")
}

func TestReadyAndStaticNavigator(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t))
	require.NoError(t, a.Ready(context.Background()))

	nav, err := a.Navigators()(context.Background())
	require.NoError(t, err)
	require.NoError(t, nav.Close())
}
