package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsTrackedFileChange(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.ts")
	require.NoError(t, os.WriteFile(file, []byte("export const a = 1;"), 0o644))

	w, err := New(Options{AggregateTimeout: 30 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Track([]string{file}, nil, nil))

	require.NoError(t, os.WriteFile(file, []byte("export const a = 2;"), 0o644))

	select {
	case batch := <-w.Events():
		assert.Contains(t, batch.Changed, file)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

func TestWatcherDiscardsUntrackedPaths(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "tracked.ts")
	untracked := filepath.Join(dir, "untracked.ts")
	require.NoError(t, os.WriteFile(tracked, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(untracked, []byte("y"), 0o644))

	w, err := New(Options{AggregateTimeout: 30 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Track([]string{tracked}, nil, nil))
	require.NoError(t, os.WriteFile(untracked, []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(tracked, []byte("changed"), 0o644))

	select {
	case batch := <-w.Events():
		assert.Contains(t, batch.Changed, tracked)
		assert.NotContains(t, batch.Changed, untracked)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

func TestWatcherPropagatesAncestorDirectoryChange(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w, err := New(Options{AggregateTimeout: 30 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Track(nil, []string{sub, dir}, nil))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "new.ts"), []byte("x"), 0o644))

	select {
	case batch := <-w.Events():
		assert.Contains(t, batch.Changed, dir)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

func TestWatcherIgnoresMatchingPatterns(t *testing.T) {
	dir := t.TempDir()
	ignored := filepath.Join(dir, "node_modules", "x.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(ignored), 0o755))
	require.NoError(t, os.WriteFile(ignored, []byte("x"), 0o644))

	w, err := New(Options{AggregateTimeout: 30 * time.Millisecond, Ignored: []string{"**/node_modules/**"}})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Track([]string{ignored}, nil, nil))
	require.NoError(t, os.WriteFile(ignored, []byte("changed"), 0o644))

	select {
	case batch := <-w.Events():
		t.Fatalf("expected no batch for ignored path, got %+v", batch)
	case <-time.After(200 * time.Millisecond):
	}
}
