package attachment

import (
	"context"
	"log/slog"
	"strings"

	"github.com/wikibag/wikibag"
	"github.com/wikibag/wikibag/telemetry"
)

// ObjectDeleter deletes objects from S3-compatible storage.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Cleaner removes the backing file or object referenced by a just-deleted
// record. Every path through it is best-effort: failures are logged and
// recorded in the orphan log, never surfaced to the caller.
type Cleaner struct {
	files      *FilesDir
	objects    ObjectDeleter // nil when object storage is disabled
	bucket     string
	publicBase string
	orphans    *OrphanLog // optional
	logger     *slog.Logger
}

// NewCleaner creates a Cleaner. objects may be nil when object storage is
// disabled; orphans may be nil to disable dead-letter recording.
func NewCleaner(files *FilesDir, objects ObjectDeleter, bucket, publicBase string, orphans *OrphanLog, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		files:      files,
		objects:    objects,
		bucket:     bucket,
		publicBase: publicBase,
		orphans:    orphans,
		logger:     logger,
	}
}

// Clean inspects the deleted record's storage markers and removes the
// corresponding backing object or file. Records without a canonical URI
// have nothing to clean.
func (c *Cleaner) Clean(ctx context.Context, t wikibag.Tiddler) {
	uri, ok := fieldString(t.Meta, "_canonical_uri")
	if !ok {
		return
	}
	c.logger.Debug("found associated file URI", "title", t.Title, "uri", uri)

	storage, _ := fieldString(t.Meta, "_file_storage")
	switch storage {
	case StorageS3:
		c.cleanObject(ctx, t)
	case StorageLocal:
		c.cleanLocal(ctx, t.Title, uri)
	default:
		// Legacy record with no marker: infer the location from the
		// URI shape.
		switch {
		case strings.HasPrefix(uri, URIPrefix):
			c.cleanLocal(ctx, t.Title, uri)
		case c.objects != nil && c.publicBase != "" && strings.HasPrefix(uri, c.publicBase):
			key := strings.TrimPrefix(uri, c.publicBase)
			key = strings.TrimPrefix(key, "/")
			c.deleteObject(ctx, t.Title, c.bucket, key)
		default:
			c.logger.Warn("no storage marker matched, skipping cleanup", "title", t.Title, "uri", uri)
			c.recordOrphan(ctx, t.Title, "unknown", uri)
			telemetry.RecordCleanup(ctx, "skip", "ok")
		}
	}
}

// cleanObject deletes the object named by the record's own marker fields.
// The record is self-describing: its recorded bucket wins over the
// service's configured bucket.
func (c *Cleaner) cleanObject(ctx context.Context, t wikibag.Tiddler) {
	if c.objects == nil {
		return
	}
	key, ok := fieldString(t.Meta, "_s3_key")
	if !ok {
		c.logger.Warn("tiddler marked as s3 but missing _s3_key", "title", t.Title)
		c.recordOrphan(ctx, t.Title, StorageS3, "missing _s3_key")
		return
	}
	bucket, ok := fieldString(t.Meta, "_s3_bucket")
	if !ok {
		bucket = c.bucket
	}
	c.deleteObject(ctx, t.Title, bucket, key)
}

func (c *Cleaner) deleteObject(ctx context.Context, title, bucket, key string) {
	if err := c.objects.DeleteObject(ctx, bucket, key); err != nil {
		c.logger.Error("deleting object", "title", title, "bucket", bucket, "key", key, "error", err)
		c.recordOrphan(ctx, title, StorageS3, bucket+"/"+key)
		telemetry.RecordCleanup(ctx, "s3", "error")
		return
	}
	c.logger.Info("deleted object", "title", title, "bucket", bucket, "key", key)
	telemetry.RecordCleanup(ctx, "s3", "ok")
}

// cleanLocal removes the file the URI points at inside the files directory.
// Names containing traversal or separator characters abort the cleanup.
func (c *Cleaner) cleanLocal(ctx context.Context, title, uri string) {
	name := strings.TrimPrefix(uri, URIPrefix)
	if name == uri {
		c.logger.Warn("local URI outside the files prefix, skipping", "title", title, "uri", uri)
		c.recordOrphan(ctx, title, StorageLocal, uri)
		return
	}
	if !validName(name) {
		c.logger.Warn("unsafe filename in canonical URI, skipping", "title", title, "uri", uri)
		return
	}
	if err := c.files.Remove(name); err != nil {
		c.logger.Error("deleting local file", "title", title, "file", name, "error", err)
		c.recordOrphan(ctx, title, StorageLocal, name)
		telemetry.RecordCleanup(ctx, "local", "error")
		return
	}
	c.logger.Info("deleted local file", "title", title, "file", name)
	telemetry.RecordCleanup(ctx, "local", "ok")
}

func (c *Cleaner) recordOrphan(ctx context.Context, title, location, ref string) {
	if c.orphans == nil {
		return
	}
	if err := c.orphans.Record(ctx, title, location, ref); err != nil {
		c.logger.Error("recording orphan", "title", title, "error", err)
	}
}

// fieldString looks a string field up at the top level of metadata, then
// inside a nested fields object.
func fieldString(meta map[string]any, key string) (string, bool) {
	if s, ok := meta[key].(string); ok {
		return s, true
	}
	if fields, ok := meta["fields"].(map[string]any); ok {
		if s, ok := fields[key].(string); ok {
			return s, true
		}
	}
	return "", false
}
