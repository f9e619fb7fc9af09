package segment

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/token"
)

var tokenizer = token.New(func(o *token.Options) { o.StopWords = false })

func addDoc(t *testing.T, m *MemSegment, docID uint32, text string) {
	t.Helper()
	require.NoError(t, m.AddDocument(docID, tokenizer.Tokenize(text)))
}

func TestMemSegmentFlushAndOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg-1")

	m := NewMemSegment()
	addDoc(t, m, 1, "the quick brown fox")
	addDoc(t, m, 2, "quick fox brown")
	addDoc(t, m, 3, "lazy dog")

	meta, err := m.Flush(fs.Default, dir, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), meta.SegmentID)
	assert.Equal(t, uint32(3), meta.DocCount)
	assert.Equal(t, StatusActive, meta.Status)
	assert.Zero(t, m.DocCount(), "flush must reset the accumulator")

	seg, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer seg.Close()

	pl, err := seg.Postings("quick")
	require.NoError(t, err)
	require.NotNil(t, pl)
	assert.Equal(t, []uint32{1, 2}, pl.DocIDs)
	assert.Equal(t, []uint32{1, 1}, pl.TermFreqs)

	positions, err := seg.PositionsForDoc("quick", 1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, positions, "quick is at position 1 in doc 1")

	positions, err = seg.PositionsForDoc("brown", 1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, positions)

	assert.Equal(t, uint32(2), seg.DocFreq("quick"))
	assert.Equal(t, uint32(0), seg.DocFreq("missing"))
}

func TestMemSegmentTermFreqMatchesPositions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg-1")

	m := NewMemSegment()
	addDoc(t, m, 7, "go go go stop go")

	_, err := m.Flush(fs.Default, dir, 1, 0)
	require.NoError(t, err)

	seg, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer seg.Close()

	pl, err := seg.Postings("go")
	require.NoError(t, err)
	require.Equal(t, 1, pl.Len())

	positions, err := seg.PositionsForDoc("go", 7)
	require.NoError(t, err)
	assert.Equal(t, int(pl.TermFreqs[0]), len(positions))
	assert.Equal(t, []uint32{0, 1, 2, 4}, positions)
}

func TestMemSegmentConcurrentAdds(t *testing.T) {
	m := NewMemSegment()

	const workers = 8
	const docsPerWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < docsPerWorker; i++ {
				docID := uint32(w*docsPerWorker + i + 1)
				text := fmt.Sprintf("shared term unique%d", docID)
				if err := m.AddDocument(docID, tokenizer.Tokenize(text)); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, workers*docsPerWorker, m.DocCount())

	dir := filepath.Join(t.TempDir(), "seg-1")
	_, err := m.Flush(fs.Default, dir, 1, 0)
	require.NoError(t, err)

	seg, err := Open(fs.Default, dir)
	require.NoError(t, err)
	defer seg.Close()

	pl, err := seg.Postings("shared")
	require.NoError(t, err)
	require.Equal(t, workers*docsPerWorker, pl.Len())
	for i := 1; i < pl.Len(); i++ {
		assert.Less(t, pl.DocIDs[i-1], pl.DocIDs[i], "flush must restore docID order")
	}
}

func TestMemSegmentFlushEmpty(t *testing.T) {
	m := NewMemSegment()
	_, err := m.Flush(fs.Default, filepath.Join(t.TempDir(), "seg-1"), 1, 0)
	require.Error(t, err)
}

func TestMemSegmentShouldFlush(t *testing.T) {
	m := NewMemSegment()
	assert.False(t, m.ShouldFlush())

	for i := 0; i < MaxMemDocs; i++ {
		require.NoError(t, m.AddDocument(uint32(i+1), []token.Token{{Term: "xx", Pos: 0, Start: 0, End: 2}}))
	}
	assert.True(t, m.ShouldFlush())
}

func TestTombstonesPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), TombstoneFileName)

	tombs := NewTombstones()
	tombs.Add(3)
	tombs.Add(99)
	require.NoError(t, tombs.Save(fs.Default, path))

	loaded, err := LoadTombstones(fs.Default, path)
	require.NoError(t, err)
	assert.True(t, loaded.Contains(3))
	assert.True(t, loaded.Contains(99))
	assert.False(t, loaded.Contains(4))
	assert.Equal(t, uint64(2), loaded.Cardinality())
}

func TestLoadTombstonesMissingFile(t *testing.T) {
	loaded, err := LoadTombstones(fs.Default, filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, loaded.Cardinality())
}
