// Package wikibag holds the core record model for the wiki sync backend: the
// persisted tiddler shape and the codec between it and the wire document
// shape expected by the TiddlyWiki front end.
package wikibag

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultBag is the single bag this server models.
const DefaultBag = "default"

// Tiddler is a persisted wiki record. Title uniquely identifies a live
// record; Revision is bumped by the store on every overwrite. Meta retains
// the entire document as submitted by the client, including redundant title
// and revision fields, which are overridden by the authoritative columns
// when the document is derived.
type Tiddler struct {
	Title    string
	Revision uint64
	Meta     map[string]any
}

// FromValue validates a decoded JSON value and builds a Tiddler from it.
// The whole input is retained as metadata; normalization happens on read in
// Document, so the stored shape can evolve without a migration step.
func FromValue(v any) (Tiddler, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Tiddler{}, Validationf("tiddler must be a JSON object")
	}

	title, ok := obj["title"].(string)
	if !ok {
		return Tiddler{}, Validationf("title must be a string")
	}

	revision, err := parseRevision(obj["revision"])
	if err != nil {
		return Tiddler{}, err
	}

	return Tiddler{Title: title, Revision: revision, Meta: obj}, nil
}

// parseRevision accepts an absent revision (zero), a non-negative JSON
// number, or a numeric string.
func parseRevision(v any) (uint64, error) {
	switch rev := v.(type) {
	case nil:
		return 0, nil
	case float64:
		n := uint64(rev)
		if rev < 0 || float64(n) != rev {
			return 0, Validationf("revision should be an unsigned integer (not %v)", rev)
		}
		return n, nil
	case json.Number:
		n, err := strconv.ParseUint(rev.String(), 10, 64)
		if err != nil {
			return 0, Validationf("couldn't parse a revision number from %q", rev.String())
		}
		return n, nil
	case string:
		n, err := strconv.ParseUint(rev, 10, 64)
		if err != nil {
			return 0, Validationf("couldn't parse a revision number from %q", rev)
		}
		return n, nil
	default:
		return 0, Validationf("revision should be a number")
	}
}

// Document derives the wire shape from the record: a nested "fields" object
// is merged up without overwriting top-level keys, tag arrays collapse to
// the bracketed string form, and title/revision are force-set from the
// authoritative columns. The stored metadata is never mutated.
func (t Tiddler) Document() map[string]any {
	doc := make(map[string]any, len(t.Meta)+3)
	for k, v := range t.Meta {
		if k == "fields" {
			continue
		}
		doc[k] = v
	}
	if fields, ok := t.Meta["fields"].(map[string]any); ok {
		for k, v := range fields {
			if _, exists := doc[k]; !exists {
				doc[k] = v
			}
		}
	}

	if tags, present := doc["tags"]; present {
		switch tags := tags.(type) {
		case string:
			// Already in the space-delimited form.
		case []any:
			doc["tags"] = encodeTags(tags)
		default:
			delete(doc, "tags")
		}
	}

	doc["title"] = t.Title
	doc["revision"] = strconv.FormatUint(t.Revision, 10)
	if _, ok := doc["bag"]; !ok {
		doc["bag"] = DefaultBag
	}
	return doc
}

// SkinnyDocument is Document without the text field, for bulk listing.
func (t Tiddler) SkinnyDocument() map[string]any {
	doc := t.Document()
	delete(doc, "text")
	return doc
}

// encodeTags joins string tags with spaces, wrapping any tag that itself
// contains a space in double square brackets. Non-string entries are
// dropped.
func encodeTags(tags []any) string {
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		s, ok := tag.(string)
		if !ok {
			continue
		}
		if strings.Contains(s, " ") {
			s = "[[" + s + "]]"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
