package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/fs"
)

func entry(op Op, path string, size int64) Entry {
	return Entry{
		Op:        op,
		Timestamp: time.UnixMilli(1700000000000).UTC(),
		Path:      path,
		Mtime:     time.UnixMilli(1700000001000).UTC(),
		Size:      size,
	}
}

func replayAll(t *testing.T, w *WAL) []Entry {
	t.Helper()
	var got []Entry
	require.NoError(t, w.Replay(func(e Entry) error {
		got = append(got, e)
		return nil
	}))
	return got
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer w.Close()

	entries := []Entry{
		entry(OpAdd, "/docs/readme.md", 120),
		entry(OpUpdate, "/docs/notes.txt", 64),
		entry(OpDelete, "/docs/old.md", 0),
	}
	for _, e := range entries {
		require.NoError(t, w.Append(e))
	}

	assert.Equal(t, entries, replayAll(t, w))
}

func TestReplaySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(fs.Default, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(entry(OpAdd, "/a.md", 10)))
	require.NoError(t, w.Close())

	w2, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer w2.Close()

	got := replayAll(t, w2)
	require.Len(t, got, 1)
	assert.Equal(t, "/a.md", got[0].Path)
	assert.Equal(t, OpAdd, got[0].Op)
}

func TestAppendBatchSingleSync(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer w.Close()

	batch := []Entry{
		entry(OpAdd, "/a.md", 1),
		entry(OpAdd, "/b.md", 2),
	}
	require.NoError(t, w.AppendBatch(batch))
	assert.Equal(t, batch, replayAll(t, w))
}

func TestCheckpointTruncates(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(entry(OpAdd, "/a.md", 1)))
	require.NoError(t, w.Checkpoint())

	assert.Empty(t, replayAll(t, w))
	assert.Zero(t, w.Size())
}

func TestRotationAndReplayOrder(t *testing.T) {
	dir := t.TempDir()
	// Tiny threshold so a couple of appends trigger rotation.
	w, err := Open(fs.Default, dir, func(o *Options) { o.RotateBytes = 64 })
	require.NoError(t, err)
	defer w.Close()

	var want []Entry
	for i := 0; i < 20; i++ {
		e := entry(OpAdd, "/docs/some/fairly/long/path/file.md", int64(i))
		want = append(want, e)
		require.NoError(t, w.Append(e))
	}

	got := replayAll(t, w)
	assert.Equal(t, want, got, "replay must preserve append order across rotated files")

	// Rotated files exist and are removed by checkpoint.
	names, err := fs.Default.ReadDir(dir)
	require.NoError(t, err)
	rotated := 0
	for _, n := range names {
		if rotatedRe.MatchString(n.Name()) {
			rotated++
		}
	}
	assert.Greater(t, rotated, 0)

	require.NoError(t, w.Checkpoint())
	names, err = fs.Default.ReadDir(dir)
	require.NoError(t, err)
	for _, n := range names {
		assert.False(t, rotatedRe.MatchString(n.Name()), "checkpoint must remove rotated logs")
	}
}

func TestReplayIgnoresTornTail(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(fs.Default, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(entry(OpAdd, "/a.md", 1)))
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: write a partial record at the tail.
	f, err := fs.Default.OpenFile(filepath.Join(dir, CurrentFileName), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(OpAdd), 0x00, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer w2.Close()

	got := replayAll(t, w2)
	require.Len(t, got, 1, "torn tail record must be ignored")
	assert.Equal(t, "/a.md", got[0].Path)
}

func TestAppendRejectsInvalidOp(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer w.Close()

	err = w.Append(Entry{Op: 9, Path: "/x"})
	require.Error(t, err)
}
