package segment

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/codec"
	"github.com/hupe1980/lexgo/internal/fs"
)

func TestPostingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PostingsFileName)

	// 350 random increasing docIDs: enough for two skip entries.
	rng := rand.New(rand.NewSource(7))
	docIDs := make([]uint32, 350)
	termFreqs := make([]uint32, 350)
	cur := uint32(0)
	for i := range docIDs {
		cur += uint32(rng.Intn(50)) + 1
		docIDs[i] = cur
		termFreqs[i] = uint32(rng.Intn(20)) + 1
	}

	w, err := NewPostingsWriter(fs.Default, path)
	require.NoError(t, err)
	offset, err := w.Write(docIDs, termFreqs)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenPostingsReader(fs.Default, path)
	require.NoError(t, err)
	defer r.Close()

	pl, err := r.Read(offset)
	require.NoError(t, err)
	assert.Equal(t, docIDs, pl.DocIDs)
	assert.Equal(t, termFreqs, pl.TermFreqs)

	// 350/128 = 2 skip entries; entry i references docIDs[(i+1)*128-1]
	// and the byte offset of that delta within the delta region.
	skips, err := r.ReadSkipEntries(offset)
	require.NoError(t, err)
	require.Len(t, skips, 2)

	deltas, err := codec.Deltas(docIDs)
	require.NoError(t, err)
	for i, skip := range skips {
		target := (i+1)*SkipInterval - 1
		assert.Equal(t, docIDs[target], skip.SkipDocID)

		wantOffset := uint32(0)
		for j := 0; j < target; j++ {
			wantOffset += uint32(codec.Uvarint32Size(deltas[j]))
		}
		assert.Equal(t, wantOffset, skip.DeltaOffset)
	}
}

func TestPostingsMultipleLists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PostingsFileName)

	w, err := NewPostingsWriter(fs.Default, path)
	require.NoError(t, err)
	off1, err := w.Write([]uint32{1, 5, 9}, []uint32{2, 1, 3})
	require.NoError(t, err)
	off2, err := w.Write([]uint32{2, 3}, []uint32{1, 1})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenPostingsReader(fs.Default, path)
	require.NoError(t, err)
	defer r.Close()

	pl1, err := r.Read(off1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 5, 9}, pl1.DocIDs)

	pl2, err := r.Read(off2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, pl2.DocIDs)
	assert.Equal(t, []uint32{1, 1}, pl2.TermFreqs)
}

func TestPostingsWriterRejectsNonMonotonic(t *testing.T) {
	dir := t.TempDir()
	w, err := NewPostingsWriter(fs.Default, filepath.Join(dir, PostingsFileName))
	require.NoError(t, err)
	defer w.Abort()

	_, err = w.Write([]uint32{5, 5}, []uint32{1, 1})
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestPostingsCRCCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PostingsFileName)

	w, err := NewPostingsWriter(fs.Default, path)
	require.NoError(t, err)
	_, err = w.Write([]uint32{1, 2, 3}, []uint32{1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip one byte at offset 3.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[3] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenPostingsReader(fs.Default, path)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "CRC")
}

func TestPostingsOffsetOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PostingsFileName)

	w, err := NewPostingsWriter(fs.Default, path)
	require.NoError(t, err)
	_, err = w.Write([]uint32{1}, []uint32{1})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenPostingsReader(fs.Default, path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Read(1 << 40)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}
