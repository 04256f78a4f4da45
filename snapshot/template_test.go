package snapshot

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCarrier = `<!doctype html>
<html>
<head><title>Test Wiki</title></head>
<body>
` + StoreMarker + `[
{"title":"$:/core","text":"core"}
]</script>
<div id="app"></div>
</body>
</html>`

func TestParse_MissingMarker(t *testing.T) {
	_, err := Parse("<html><body>no store here</body></html>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestParse_UnclosedScript(t *testing.T) {
	_, err := Parse("<html>" + StoreMarker + `[{"title":"x"}]`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not closed")
}

func TestParse_NoArrayInsideStore(t *testing.T) {
	_, err := Parse("<html>" + StoreMarker + "not an array</script></html>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a JSON array")
}

func TestRender_EmptyDocsReturnsCarrierUnchanged(t *testing.T) {
	tmpl, err := Parse(testCarrier)
	require.NoError(t, err)

	page, err := tmpl.Render(nil)
	require.NoError(t, err)
	require.Equal(t, testCarrier, string(page))
}

func TestRender_SplicesDocsIntoStoreArray(t *testing.T) {
	tmpl, err := Parse(testCarrier)
	require.NoError(t, err)

	page, err := tmpl.Render([]map[string]any{
		{"title": "First", "text": "one"},
		{"title": "Second", "text": "two"},
	})
	require.NoError(t, err)

	// encoding/json emits map keys in sorted order.
	html := string(page)
	require.Contains(t, html, `{"text":"one","title":"First"}`)
	require.Contains(t, html, `{"text":"two","title":"Second"}`)

	// The spliced store must still be a valid JSON array.
	start := strings.Index(html, StoreMarker) + len(StoreMarker)
	end := strings.Index(html[start:], "</script>") + start
	var store []map[string]any
	require.NoError(t, json.Unmarshal([]byte(html[start:end]), &store))
	require.Len(t, store, 3)
	require.Equal(t, "$:/core", store[0]["title"])
}

func TestRender_EscapesClosingScriptTags(t *testing.T) {
	tmpl, err := Parse(testCarrier)
	require.NoError(t, err)

	page, err := tmpl.Render([]map[string]any{
		{"title": "Sneaky", "text": `</script><script>alert(1)</script>`},
	})
	require.NoError(t, err)

	html := string(page)
	require.Contains(t, html, `<\/script>`)

	// Only the carrier's own closing tag remains live.
	require.Equal(t, 1, strings.Count(html[strings.Index(html, StoreMarker):], "</script>"))
}

func TestRender_PreservesRawHTMLInText(t *testing.T) {
	tmpl, err := Parse(testCarrier)
	require.NoError(t, err)

	page, err := tmpl.Render([]map[string]any{
		{"title": "Markup", "text": "<div class=\"x\">&amp;</div>"},
	})
	require.NoError(t, err)

	// Angle brackets stay literal so the front end sees the text verbatim.
	require.Contains(t, string(page), `<div class=\"x\">&amp;</div>`)
}
