// Package discovery walks source directories and decides which files enter
// the ingest pipeline.
//
// A file is skipped when it sits under a well-known junk directory
// (version control, dependency caches, build output), matches the root's
// .gitignore, matches a configured exclude glob, exceeds the size cap, or
// looks binary. Everything else is emitted as a FileInfo for the workers.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// FileInfo identifies one candidate file for indexing.
type FileInfo struct {
	Path      string
	SizeBytes int64
	Mtime     time.Time
}

// defaultIgnoreDirs are directory names that are never worth indexing.
var defaultIgnoreDirs = map[string]struct{}{
	".git": {}, ".svn": {}, ".hg": {},
	"node_modules": {}, "vendor": {}, "bower_components": {},
	"__pycache__": {}, ".venv": {}, "venv": {},
	"dist": {}, "build": {}, "target": {}, "out": {},
	".idea": {}, ".vscode": {}, ".vs": {},
	".cache": {}, "coverage": {},
}

// Options configures a Walker.
type Options struct {
	// IncludeGlobs restricts indexing to files matching at least one
	// doublestar pattern (relative to the walked root). Empty means all.
	IncludeGlobs []string
	// ExcludeGlobs skips files matching any doublestar pattern.
	ExcludeGlobs []string
	// MaxFileSizeBytes skips files larger than this. Zero applies the
	// default of 8 MiB.
	MaxFileSizeBytes int64
	// Gitignore loads the root's .gitignore rules when true.
	Gitignore bool
	// SkipBinary sniffs the first 512 bytes for NUL and skips binary
	// files when true.
	SkipBinary bool
}

// DefaultOptions returns the default walker options.
var DefaultOptions = Options{
	MaxFileSizeBytes: 8 << 20,
	Gitignore:        true,
	SkipBinary:       true,
}

// Walker enumerates indexable files under a set of roots.
type Walker struct {
	opts Options
}

// NewWalker creates a Walker.
func NewWalker(optFns ...func(o *Options)) *Walker {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxFileSizeBytes <= 0 {
		opts.MaxFileSizeBytes = DefaultOptions.MaxFileSizeBytes
	}
	return &Walker{opts: opts}
}

// Walk traverses every root and calls emit for each indexable file. It
// stops early when the context is cancelled or emit returns an error.
func (w *Walker) Walk(ctx context.Context, roots []string, emit func(FileInfo) error) error {
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		st, err := os.Stat(absRoot)
		if err != nil {
			return err
		}
		if !st.IsDir() {
			// A root that is a plain file is emitted directly.
			if w.admits(absRoot, absRoot, st.Size()) {
				if err := emit(FileInfo{Path: absRoot, SizeBytes: st.Size(), Mtime: st.ModTime()}); err != nil {
					return err
				}
			}
			continue
		}
		if err := w.walkRoot(ctx, absRoot, emit); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) walkRoot(ctx context.Context, root string, emit func(FileInfo) error) error {
	var ignore gitignore.GitIgnore
	if w.opts.Gitignore {
		ignore = loadGitignore(filepath.Join(root, ".gitignore"), root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, junk := defaultIgnoreDirs[d.Name()]; junk {
				return filepath.SkipDir
			}
			if ignore != nil {
				if m := ignore.Relative(rel, true); m != nil && m.Ignore() {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if ignore != nil {
			if m := ignore.Relative(rel, false); m != nil && m.Ignore() {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !w.admits(rel, path, info.Size()) {
			return nil
		}
		return emit(FileInfo{Path: path, SizeBytes: info.Size(), Mtime: info.ModTime()})
	})
}

// admits applies glob, size and binary filters to one file.
func (w *Walker) admits(rel, path string, size int64) bool {
	if size > w.opts.MaxFileSizeBytes {
		return false
	}
	for _, pattern := range w.opts.ExcludeGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(w.opts.IncludeGlobs) > 0 {
		matched := false
		for _, pattern := range w.opts.IncludeGlobs {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if w.opts.SkipBinary && isBinaryFile(path) {
		return false
	}
	return true
}

// isBinaryFile sniffs the first 512 bytes for a NUL byte.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}
	return false
}

func loadGitignore(path, base string) gitignore.GitIgnore {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	return gitignore.New(f, base, nil)
}
