package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func collect(t *testing.T, w *Walker, roots ...string) []string {
	t.Helper()
	var got []string
	require.NoError(t, w.Walk(context.Background(), roots, func(fi FileInfo) error {
		got = append(got, fi.Path)
		return nil
	}))
	sort.Strings(got)
	return got
}

func TestWalkBasic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), []byte("alpha"))
	writeFile(t, filepath.Join(root, "sub", "b.go"), []byte("package b"))

	got := collect(t, NewWalker(), root)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "a.md")
	assert.Contains(t, got[1], "b.go")
}

func TestWalkSkipsJunkDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.md"), []byte("x"))
	writeFile(t, filepath.Join(root, ".git", "config"), []byte("x"))
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("x"))

	got := collect(t, NewWalker(), root)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "keep.md")
}

func TestWalkRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), []byte("*.log\nsecret/\n"))
	writeFile(t, filepath.Join(root, "keep.md"), []byte("x"))
	writeFile(t, filepath.Join(root, "debug.log"), []byte("x"))
	writeFile(t, filepath.Join(root, "secret", "token.txt"), []byte("x"))

	got := collect(t, NewWalker(), root)
	require.Len(t, got, 2) // keep.md and .gitignore itself
	for _, p := range got {
		assert.NotContains(t, p, "debug.log")
		assert.NotContains(t, p, "secret")
	}
}

func TestWalkExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), []byte("x"))
	writeFile(t, filepath.Join(root, "gen", "a_gen.go"), []byte("x"))

	w := NewWalker(func(o *Options) {
		o.Gitignore = false
		o.ExcludeGlobs = []string{"gen/**"}
	})
	got := collect(t, w, root)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "a.md")
}

func TestWalkIncludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), []byte("x"))
	writeFile(t, filepath.Join(root, "b.go"), []byte("x"))
	writeFile(t, filepath.Join(root, "sub", "c.md"), []byte("x"))

	w := NewWalker(func(o *Options) {
		o.Gitignore = false
		o.IncludeGlobs = []string{"**/*.md", "*.md"}
	})
	got := collect(t, w, root)
	require.Len(t, got, 2)
}

func TestWalkSkipsBinaryAndOversized(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "text.md"), []byte("plain text"))
	writeFile(t, filepath.Join(root, "blob.bin"), []byte{'x', 0x00, 'y'})
	writeFile(t, filepath.Join(root, "big.md"), make([]byte, 128))

	w := NewWalker(func(o *Options) {
		o.Gitignore = false
		o.MaxFileSizeBytes = 64
	})
	got := collect(t, w, root)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "text.md")
}

func TestWalkSingleFileRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "single.md")
	writeFile(t, path, []byte("x"))

	got := collect(t, NewWalker(), path)
	require.Len(t, got, 1)
	assert.Equal(t, path, got[0])
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, filepath.Join(root, "f", string(rune('a'+i))+".md"), []byte("x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewWalker().Walk(ctx, []string{root}, func(FileInfo) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
