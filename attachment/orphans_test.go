package attachment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestOrphanLog(t *testing.T) *OrphanLog {
	t.Helper()
	l, err := OpenOrphanLog(filepath.Join(t.TempDir(), "orphans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestOrphanLog_RecordAndAll(t *testing.T) {
	l := newTestOrphanLog(t)
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, "First", StorageLocal, "abc.png"))
	require.NoError(t, l.Record(ctx, "Second", StorageS3, "bucket/key.png"))

	orphans, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 2)

	require.Equal(t, "First", orphans[0].Title)
	require.Equal(t, StorageLocal, orphans[0].Location)
	require.Equal(t, "abc.png", orphans[0].Ref)
	require.Equal(t, fixed, orphans[0].LoggedAt)

	require.Equal(t, "Second", orphans[1].Title)
}

func TestOrphanLog_Empty(t *testing.T) {
	l := newTestOrphanLog(t)

	orphans, err := l.All(context.Background())
	require.NoError(t, err)
	require.Empty(t, orphans)
}

func TestOrphanLog_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orphans.db")

	l, err := OpenOrphanLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), "Persisted", "unknown", "somewhere"))
	require.NoError(t, l.Close())

	l, err = OpenOrphanLog(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	orphans, err := l.All(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, "Persisted", orphans[0].Title)
}
