package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/fs"
)

func writeDict(t *testing.T, path string, entries []TermEntry) {
	t.Helper()
	w, err := NewDictionaryWriter(fs.Default, path)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Add(e))
	}
	require.NoError(t, w.Close())
}

func TestDictionaryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DictFileName)
	entries := []TermEntry{
		{Term: "alpha", DocFreq: 3, PostingsOffset: 6, PositionsOffset: 6},
		{Term: "beta", DocFreq: 1, PostingsOffset: 100, PositionsOffset: 200},
		{Term: "引擎", DocFreq: 7, PostingsOffset: 300, PositionsOffset: 400},
	}
	writeDict(t, path, entries)

	d, err := OpenDictionary(fs.Default, path)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	got, ok := d.Lookup("beta")
	require.True(t, ok)
	assert.Equal(t, entries[1], got)

	_, ok = d.Lookup("gamma")
	assert.False(t, ok)
}

func TestDictionaryRejectsOutOfOrderTerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), DictFileName)
	w, err := NewDictionaryWriter(fs.Default, path)
	require.NoError(t, err)
	defer w.Abort()

	require.NoError(t, w.Add(TermEntry{Term: "beta", DocFreq: 1}))
	err = w.Add(TermEntry{Term: "alpha", DocFreq: 1})
	var fe *FormatError
	require.ErrorAs(t, err, &fe)

	err = w.Add(TermEntry{Term: "beta", DocFreq: 1})
	require.ErrorAs(t, err, &fe, "duplicate terms must be rejected too")
}

func TestDictionaryPrefixScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), DictFileName)
	writeDict(t, path, []TermEntry{
		{Term: "con", DocFreq: 1},
		{Term: "config", DocFreq: 2},
		{Term: "configure", DocFreq: 3},
		{Term: "constant", DocFreq: 4},
		{Term: "zebra", DocFreq: 5},
	})

	d, err := OpenDictionary(fs.Default, path)
	require.NoError(t, err)

	got := d.PrefixScan("config")
	require.Len(t, got, 2)
	assert.Equal(t, "config", got[0].Term)
	assert.Equal(t, "configure", got[1].Term)

	assert.Len(t, d.PrefixScan("con"), 4)
	assert.Empty(t, d.PrefixScan("x"))
}

func TestDictionaryCRCCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), DictFileName)
	writeDict(t, path, []TermEntry{{Term: "alpha", DocFreq: 1}})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[3] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenDictionary(fs.Default, path)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDictionaryBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), DictFileName)
	writeDict(t, path, []TermEntry{{Term: "alpha", DocFreq: 1}})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] = 0x00
	// Recompute nothing: the CRC check fires before the magic check, which
	// is the point of footer-first verification.
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenDictionary(fs.Default, path)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}
