// Package snapshot renders the full document collection into the carrier
// HTML page by splicing a JSON array into the page's tiddler store element.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StoreMarker is the opening tag of the carrier's tiddler store script
// element. The element's content must be a JSON array with at least one
// built-in entry; the splice below appends to it with a leading comma.
const StoreMarker = `<script class="tiddlywiki-tiddler-store" type="application/json">`

// Template is a carrier page split at the insertion point: prefix holds
// everything up to the store array's closing bracket, suffix the bracket
// onward.
type Template struct {
	prefix string
	suffix string
}

// Parse splits the carrier HTML at the store array. An unparsable carrier
// is a broken deployment asset, so callers treat an error here as fatal at
// startup.
func Parse(html string) (*Template, error) {
	start := strings.Index(html, StoreMarker)
	if start < 0 {
		return nil, fmt.Errorf("carrier template: tiddler store script tag not found")
	}
	end := strings.Index(html[start:], "</script>")
	if end < 0 {
		return nil, fmt.Errorf("carrier template: tiddler store script tag not closed")
	}
	end += start
	split := strings.LastIndex(html[:end], "]")
	if split < start {
		return nil, fmt.Errorf("carrier template: tiddler store content is not a JSON array")
	}
	return &Template{prefix: html[:split], suffix: html[split:]}, nil
}

// Render serializes docs into the carrier page. Every literal </script> in
// the payload is escaped so user-authored content cannot close the store
// element early; this is the sole injection defense for the snapshot.
func (t *Template) Render(docs []map[string]any) ([]byte, error) {
	if len(docs) == 0 {
		// Nothing to splice; a bare comma would corrupt the store array.
		return []byte(t.prefix + t.suffix), nil
	}

	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(docs); err != nil {
		return nil, fmt.Errorf("serializing tiddler store: %w", err)
	}

	// Strip the Encode newline and the outer brackets: the payload is
	// spliced into an already-open array.
	inner := strings.TrimSuffix(raw.String(), "\n")
	inner = strings.TrimPrefix(inner, "[")
	inner = strings.TrimSuffix(inner, "]")
	safe := strings.ReplaceAll(inner, "</script>", `<\/script>`)

	var buf bytes.Buffer
	buf.Grow(len(t.prefix) + len(safe) + len(t.suffix) + 1)
	buf.WriteString(t.prefix)
	if safe != "" {
		buf.WriteByte(',')
		buf.WriteString(safe)
	}
	buf.WriteString(t.suffix)
	return buf.Bytes(), nil
}
