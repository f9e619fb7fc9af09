package segment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/fs"
)

func flushSegment(t *testing.T, dir string, id uint64, docs map[uint32]string) *DiskSegment {
	t.Helper()
	m := NewMemSegment()
	for docID, text := range docs {
		require.NoError(t, m.AddDocument(docID, tokenizer.Tokenize(text)))
	}
	_, err := m.Flush(fs.Default, dir, id, 0)
	require.NoError(t, err)
	seg, err := Open(fs.Default, dir)
	require.NoError(t, err)
	return seg
}

func TestMergeTwoSegments(t *testing.T) {
	base := t.TempDir()
	s1 := flushSegment(t, filepath.Join(base, "seg-1"), 1, map[uint32]string{
		1: "alpha beta",
		2: "alpha gamma",
	})
	defer s1.Close()
	s2 := flushSegment(t, filepath.Join(base, "seg-2"), 2, map[uint32]string{
		10: "beta delta",
	})
	defer s2.Close()

	outDir := filepath.Join(base, "seg-3")
	meta, err := Merge(fs.Default, outDir, 3, 1, []*DiskSegment{s1, s2})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), meta.DocCount)
	assert.Equal(t, 1, meta.Level)

	merged, err := Open(fs.Default, outDir)
	require.NoError(t, err)
	defer merged.Close()

	pl, err := merged.Postings("beta")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 10}, pl.DocIDs)

	pl, err = merged.Postings("alpha")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, pl.DocIDs)

	positions, err := merged.PositionsForDoc("delta", 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, positions)
}

func TestMergeFoldsTombstones(t *testing.T) {
	base := t.TempDir()
	s1 := flushSegment(t, filepath.Join(base, "seg-1"), 1, map[uint32]string{
		1: "alpha beta",
		2: "alpha gamma",
	})
	defer s1.Close()

	s1.Delete(2)

	outDir := filepath.Join(base, "seg-2")
	meta, err := Merge(fs.Default, outDir, 2, 1, []*DiskSegment{s1})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), meta.DocCount)

	merged, err := Open(fs.Default, outDir)
	require.NoError(t, err)
	defer merged.Close()

	// gamma only appeared in the deleted doc: the term must vanish.
	pl, err := merged.Postings("gamma")
	require.NoError(t, err)
	assert.Nil(t, pl)

	pl, err = merged.Postings("alpha")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, pl.DocIDs)

	// The merged segment starts with a clean tombstone set.
	assert.Zero(t, merged.Tombstones().Cardinality())
}

func TestMergeAllDeleted(t *testing.T) {
	base := t.TempDir()
	s1 := flushSegment(t, filepath.Join(base, "seg-1"), 1, map[uint32]string{
		1: "alpha",
	})
	defer s1.Close()
	s1.Delete(1)

	_, err := Merge(fs.Default, filepath.Join(base, "seg-2"), 2, 1, []*DiskSegment{s1})
	require.ErrorIs(t, err, ErrMergeEmpty)
}

func TestSegmentRefCountingDefersRemoval(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "seg-1")
	seg := flushSegment(t, dir, 1, map[uint32]string{1: "alpha"})

	seg.Acquire() // snapshot reference

	require.NoError(t, seg.Drop())
	_, err := fs.Default.Stat(dir)
	require.NoError(t, err, "files must survive while a snapshot holds a reference")

	require.NoError(t, seg.Release())
	_, err = fs.Default.Stat(dir)
	require.Error(t, err, "files must be removed once the last reference drains")
}
