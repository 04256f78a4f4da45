package attachment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketOrphans = []byte("orphans")

// Orphan is a backing file or object whose cleanup failed or was skipped.
// Nothing retries these automatically; the log exists so orphaned storage
// can be found and reclaimed by hand.
type Orphan struct {
	Title    string    `json:"title"`
	Location string    `json:"location"` // "local", "s3", or "unknown"
	Ref      string    `json:"ref"`      // filename, bucket/key, or raw URI
	LoggedAt time.Time `json:"logged_at"`
}

// OrphanLog is a bbolt-backed dead-letter log of failed cleanup targets.
type OrphanLog struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenOrphanLog opens (creating if necessary) the log at the given path.
func OpenOrphanLog(path string) (*OrphanLog, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening orphan log: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOrphans)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating orphan bucket: %w", err)
	}
	return &OrphanLog{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (l *OrphanLog) Close() error {
	return l.db.Close()
}

// Record appends one orphaned target to the log.
func (l *OrphanLog) Record(ctx context.Context, title, location, ref string) error {
	entry := Orphan{
		Title:    title,
		Location: location,
		Ref:      ref,
		LoggedAt: l.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding orphan entry: %w", err)
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOrphans)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], data)
	})
}

// All returns every logged orphan in insertion order.
func (l *OrphanLog) All(ctx context.Context) ([]Orphan, error) {
	var orphans []Orphan
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOrphans).ForEach(func(_, v []byte) error {
			var o Orphan
			if err := json.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("decoding orphan entry: %w", err)
			}
			orphans = append(orphans, o)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}
