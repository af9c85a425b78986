package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/id/uuid"
	"github.com/JakeFAU/leadcrawler/internal/publisher/memory"
)

func TestSinkPublishesOneEventPerLead(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewSink(pub, "leads", uuid.New(), nil)
	leads := []crawler.Lead{
		{Name: "Acme", Source: crawler.SourceMapListing},
		{Name: "Sam", Source: crawler.SourceGroupPost},
	}
	require.NoError(t, sink.StoreLeads(context.Background(), "run-1", leads))

	payloads := pub.Topic("leads")
	require.Len(t, payloads, 2)
	first, ok := payloads[0].(LeadEvent)
	require.True(t, ok)
	second := payloads[1].(LeadEvent)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, crawler.SourceMapListing, first.Source)
	assert.Equal(t, "Sam", second.Lead.Name)
	assert.NotEqual(t, first.EventID, second.EventID)
	assert.Equal(t, map[string]string{"run_id": "run-1", "source": "group_post"}, second.Attributes())
	assert.Equal(t, "pubsub", sink.Name())
}

func TestSinkStopsOnPublishError(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	sink := NewSink(pub, "leads", uuid.New(), nil)
	err := sink.StoreLeads(context.Background(), "run-1", []crawler.Lead{{Name: "Acme"}})
	require.ErrorContains(t, err, "publish lead 1 of 1")
}
