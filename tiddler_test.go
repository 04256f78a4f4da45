package wikibag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromValue_RejectsNonObject(t *testing.T) {
	_, err := FromValue("just a string")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be a JSON object")

	_, err = FromValue([]any{"a", "b"})
	require.Error(t, err)
}

func TestFromValue_RejectsMissingTitle(t *testing.T) {
	_, err := FromValue(map[string]any{"text": "no title here"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "title must be a string")

	_, err = FromValue(map[string]any{"title": 42})
	require.Error(t, err)
}

func TestFromValue_RevisionShapes(t *testing.T) {
	tests := []struct {
		name     string
		revision any
		want     uint64
		wantErr  bool
	}{
		{name: "absent", revision: nil, want: 0},
		{name: "number", revision: float64(7), want: 7},
		{name: "string", revision: "12", want: 12},
		{name: "json number", revision: json.Number("3"), want: 3},
		{name: "negative number", revision: float64(-1), wantErr: true},
		{name: "fractional number", revision: 1.5, wantErr: true},
		{name: "garbage string", revision: "seven", wantErr: true},
		{name: "wrong type", revision: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := map[string]any{"title": "Note"}
			if tt.revision != nil {
				doc["revision"] = tt.revision
			}
			tid, err := FromValue(doc)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, tid.Revision)
		})
	}
}

func TestDocument_AuthoritativeColumnsWin(t *testing.T) {
	tid := Tiddler{
		Title:    "Real Title",
		Revision: 9,
		Meta: map[string]any{
			"title":    "Stale Title",
			"revision": "2",
			"text":     "hello",
		},
	}

	doc := tid.Document()
	require.Equal(t, "Real Title", doc["title"])
	require.Equal(t, "9", doc["revision"])
	require.Equal(t, "hello", doc["text"])
	require.Equal(t, DefaultBag, doc["bag"])
}

func TestDocument_KeepsExplicitBag(t *testing.T) {
	tid := Tiddler{Title: "Note", Meta: map[string]any{"title": "Note", "bag": "drafts"}}
	require.Equal(t, "drafts", tid.Document()["bag"])
}

func TestDocument_FlattensFieldsWithoutOverwrite(t *testing.T) {
	tid := Tiddler{
		Title: "Note",
		Meta: map[string]any{
			"title": "Note",
			"color": "red",
			"fields": map[string]any{
				"color":  "blue",
				"custom": "value",
			},
		},
	}

	doc := tid.Document()
	require.Equal(t, "red", doc["color"], "top-level field must win")
	require.Equal(t, "value", doc["custom"])
	require.NotContains(t, doc, "fields")
}

func TestDocument_TagShapes(t *testing.T) {
	tests := []struct {
		name string
		tags any
		want any // nil means the key must be absent
	}{
		{name: "string passes through", tags: "alpha beta", want: "alpha beta"},
		{name: "array collapses", tags: []any{"alpha", "beta"}, want: "alpha beta"},
		{name: "spaced tag bracketed", tags: []any{"alpha", "two words"}, want: "alpha [[two words]]"},
		{name: "non-strings dropped", tags: []any{"alpha", 42.0, "beta"}, want: "alpha beta"},
		{name: "other type removed", tags: 42.0, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tid := Tiddler{Title: "Note", Meta: map[string]any{"title": "Note", "tags": tt.tags}}
			doc := tid.Document()
			if tt.want == nil {
				require.NotContains(t, doc, "tags")
				return
			}
			require.Equal(t, tt.want, doc["tags"])
		})
	}
}

func TestDocument_DoesNotMutateMeta(t *testing.T) {
	meta := map[string]any{
		"title":  "Note",
		"tags":   []any{"alpha"},
		"fields": map[string]any{"custom": "value"},
	}
	tid := Tiddler{Title: "Note", Revision: 1, Meta: meta}

	_ = tid.Document()

	require.Equal(t, []any{"alpha"}, meta["tags"])
	require.Contains(t, meta, "fields")
	require.NotContains(t, meta, "revision")
}

func TestDocument_Idempotent(t *testing.T) {
	tid := Tiddler{
		Title:    "Note",
		Revision: 3,
		Meta: map[string]any{
			"title": "Note",
			"tags":  []any{"alpha", "two words"},
			"text":  "body",
		},
	}

	first := tid.Document()
	second, err := FromValue(any(first))
	require.NoError(t, err)
	require.Equal(t, first, second.Document())
}

func TestSkinnyDocument_DropsText(t *testing.T) {
	tid := Tiddler{Title: "Note", Meta: map[string]any{"title": "Note", "text": "big body", "caption": "c"}}

	doc := tid.SkinnyDocument()
	require.NotContains(t, doc, "text")
	require.Equal(t, "c", doc["caption"])

	// The full document is unaffected.
	require.Equal(t, "big body", tid.Document()["text"])
}
