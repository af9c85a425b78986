package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

func TestRenderDefaults(t *testing.T) {
	t.Parallel()

	body, err := Parse("email", DefaultEmailBody)
	require.NoError(t, err)

	lead := crawler.Lead{Name: "Acme Cafe", SourceContext: "cafes in springfield", Source: crawler.SourceMapListing}
	out, err := body.Render(DataFor(lead, "Pat"))
	require.NoError(t, err)
	assert.Contains(t, out, "Hi Acme Cafe,")
	assert.Contains(t, out, "cafes in springfield")
	assert.Contains(t, out, "Pat")
}

func TestDataForFallsBackOnMissingContext(t *testing.T) {
	t.Parallel()

	d := DataFor(crawler.Lead{Name: "x"}, "")
	assert.Equal(t, "your business", d.Context)
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()

	_, err := Parse("bad", "Hi {{.Nickname}}")
	require.Error(t, err)

	_, err = Parse("broken", "Hi {{.Name")
	require.Error(t, err)
}
