package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/docstore"
	"github.com/hupe1980/lexgo/internal/fs"
)

// TestCommitRollbackOnManifestFailure injects a sync failure into the
// manifest temp file: the commit must fail, leave the previous (empty)
// manifest in place, and leave no published segment behind.
func TestCommitRollbackOnManifestFailure(t *testing.T) {
	base := t.TempDir()
	indexDir := filepath.Join(base, "index")
	src := filepath.Join(base, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.md"), []byte("doomed commit"), 0o644))

	faulty := fs.NewFaultyFS(nil)
	faulty.FailFile("manifest.tmp", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	docs, err := docstore.Open(filepath.Join(base, "documents.db"))
	require.NoError(t, err)
	defer docs.Close()

	m, err := Open(faulty, indexDir, docs)
	require.NoError(t, err)

	_, err = m.IndexPaths(context.Background(), []string{src})
	require.Error(t, err)
	require.NoError(t, m.Close())

	// The failed commit must not have published anything.
	faulty.Clear()
	m2, err := Open(faulty, indexDir, docs)
	require.NoError(t, err)
	defer m2.Close()

	require.Empty(t, m2.current.Segments, "previous manifest must be unchanged")

	entries, err := os.ReadDir(indexDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.IsDir() && strings.HasPrefix(e.Name(), segPrefix),
			"no segment directory may survive a rolled-back commit, found %s", e.Name())
	}
}

// TestCommitSucceedsAfterFaultCleared verifies the engine recovers once
// the injected fault is gone.
func TestCommitSucceedsAfterFaultCleared(t *testing.T) {
	base := t.TempDir()
	indexDir := filepath.Join(base, "index")
	src := filepath.Join(base, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.md"), []byte("eventually durable"), 0o644))

	faulty := fs.NewFaultyFS(nil)
	faulty.FailFile("manifest.tmp", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	docs, err := docstore.Open(filepath.Join(base, "documents.db"))
	require.NoError(t, err)
	defer docs.Close()

	m, err := Open(faulty, indexDir, docs)
	require.NoError(t, err)

	_, err = m.IndexPaths(context.Background(), []string{src})
	require.Error(t, err)

	faulty.Clear()

	// The metadata row survived the failed commit, so the next run sees
	// the file as unchanged; force a content change to re-ingest.
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.md"), []byte("eventually durable content"), 0o644))
	_, err = m.IndexPaths(context.Background(), []string{src})
	require.NoError(t, err)

	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.DocCount)
	assert.Equal(t, 1, status.SegmentCount)
	require.NoError(t, m.Close())
}
