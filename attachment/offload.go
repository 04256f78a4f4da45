package attachment

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/wikibag/wikibag"
	"github.com/wikibag/wikibag/telemetry"
)

// mimeExtensions maps declared MIME types to backing file extensions.
var mimeExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"image/svg+xml":   "svg",
	"application/pdf": "pdf",
}

// extensionFor returns the backing file extension for a MIME type,
// defaulting to bin for unknown types.
func extensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return "bin"
}

// IsBinaryType reports whether a declared MIME type marks a document whose
// text field carries an inline binary payload.
func IsBinaryType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") ||
		strings.HasPrefix(mimeType, "video/") ||
		strings.HasPrefix(mimeType, "audio/") ||
		mimeType == "application/pdf"
}

// Offloader moves inline binary payloads out of incoming documents and into
// the files directory before they reach the store.
type Offloader struct {
	files  *FilesDir
	logger *slog.Logger
}

// NewOffloader creates an Offloader writing into files.
func NewOffloader(files *FilesDir, logger *slog.Logger) *Offloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Offloader{files: files, logger: logger}
}

// Offload rewrites doc in place when it carries a decodable inline binary
// payload: the decoded bytes are written under a title-derived filename and
// the document's text is replaced by a canonical URI reference. Everything
// here is best-effort: on any failure doc is left untouched and the payload
// is persisted inline as before.
func (o *Offloader) Offload(ctx context.Context, title string, doc map[string]any) {
	mimeType, _ := doc["type"].(string)
	if !IsBinaryType(mimeType) {
		return
	}
	text, _ := doc["text"].(string)
	if text == "" {
		return
	}

	// A data-URL header ("data:image/png;base64,....") may prefix the
	// payload; everything up to and including the first comma goes.
	payload := text
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		o.logger.Debug("payload is not valid base64, keeping inline", "title", title)
		return
	}

	name := wikibag.HashName(title).String() + "." + extensionFor(mimeType)
	if err := o.files.Write(name, data); err != nil {
		o.logger.Error("writing offloaded file", "title", title, "error", err)
		return
	}

	doc["text"] = ""
	doc["_canonical_uri"] = URIPrefix + name
	doc["_file_storage"] = StorageLocal
	o.logger.Info("offloaded binary payload", "title", title, "file", name, "bytes", len(data))
	telemetry.RecordOffload(ctx, int64(len(data)))
}
