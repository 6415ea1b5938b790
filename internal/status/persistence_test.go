package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePersistenceSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewFilePersistence(dir)
	ctx := context.Background()

	now := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	saved := SourceStatus{}.
		Started("run-1", "2024-01-15", now).
		Succeeded("/data/staging/2024-01-15/news.json", 3*time.Second, now.Add(3*time.Second))

	require.NoError(t, p.Save(ctx, "news", saved))
	_, err := os.Stat(filepath.Join(dir, "news", FileName))
	require.NoError(t, err)

	loaded, err := p.Load(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, loaded.Phase)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "/data/staging/2024-01-15/news.json", loaded.OutputPath)
	require.NotNil(t, loaded.LastSuccess)
	assert.True(t, loaded.LastSuccess.Equal(now.Add(3*time.Second)))
}

func TestFilePersistenceLoadMissingIsZero(t *testing.T) {
	t.Parallel()

	p := NewFilePersistence(t.TempDir())
	status, err := p.Load(context.Background(), "markets")
	require.NoError(t, err)
	assert.Equal(t, SourceStatus{}, status)
}

func TestFilePersistenceRejectsUnsafeNames(t *testing.T) {
	t.Parallel()

	p := NewFilePersistence(t.TempDir())
	require.Error(t, p.Save(context.Background(), "../escape", SourceStatus{}))
	_, err := p.Load(context.Background(), "a/b")
	require.Error(t, err)
}

func TestFilePersistenceLoadAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewFilePersistence(dir)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, p.Save(ctx, "news", SourceStatus{}.Started("r", "2024-01-15", now).Failed("news: boom", time.Second)))
	require.NoError(t, p.Save(ctx, "statcan", SourceStatus{}.Started("r", "2024-01-15", now)))

	// a corrupt file is skipped rather than failing the listing
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken", FileName), []byte("{"), 0600))

	all, err := p.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, PhaseFailed, all["news"].Phase)
	assert.Equal(t, PhaseRunning, all["statcan"].Phase)

	empty, err := NewFilePersistence(filepath.Join(dir, "absent")).LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	s := SourceStatus{}.Started("r1", "2024-01-15", start).Succeeded("/out/a.json", time.Second, start)

	s = s.Started("r2", "2024-01-16", start.Add(24*time.Hour)).Failed("parliament: HTTP 503", time.Second)
	s = s.Started("r3", "2024-01-17", start.Add(48*time.Hour)).Failed("parliament: HTTP 503", time.Second)

	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.Equal(t, "/out/a.json", s.OutputPath, "last good output survives failures")
	assert.True(t, s.LastSuccess.Equal(start))

	s = s.Started("r4", "2024-01-18", start.Add(72*time.Hour))
	assert.Empty(t, s.Message)
	s = s.Succeeded("/out/b.json", time.Second, start.Add(72*time.Hour))
	assert.Zero(t, s.ConsecutiveFailures)
}
