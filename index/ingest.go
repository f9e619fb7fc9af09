package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lexgo/discovery"
	"github.com/hupe1980/lexgo/docstore"
	"github.com/hupe1980/lexgo/wal"
)

// IngestStats summarizes one ingest run.
type IngestStats struct {
	Added   int
	Updated int
	Deleted int
	Elapsed time.Duration
}

// IndexPaths walks the given roots and indexes every admitted file. Files
// already present with unchanged mtime and size are skipped.
func (m *Manager) IndexPaths(ctx context.Context, roots []string) (IngestStats, error) {
	start := time.Now()
	stats, err := m.runPipeline(ctx, func(files chan<- discovery.FileInfo) error {
		return m.walker.Walk(ctx, roots, func(fi discovery.FileInfo) error {
			select {
			case files <- fi:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
	if err != nil {
		return stats, err
	}
	if err := m.commitFlush(); err != nil {
		return stats, err
	}
	stats.Elapsed = time.Since(start)
	m.logger.Info("ingest complete",
		"added", stats.Added,
		"updated", stats.Updated,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}

// IncrementalUpdate diffs the roots against the document store: new paths
// are added, changed paths are replaced under a fresh docID, and paths that
// have disappeared are tombstoned. Every operation is WAL-logged before it
// is applied.
func (m *Manager) IncrementalUpdate(ctx context.Context, roots []string) (IngestStats, error) {
	start := time.Now()

	scanned := make(map[string]discovery.FileInfo)
	if err := m.walker.Walk(ctx, roots, func(fi discovery.FileInfo) error {
		scanned[fi.Path] = fi
		return nil
	}); err != nil {
		return IngestStats{}, err
	}

	var changed []discovery.FileInfo
	var removed []docstore.Document
	if err := m.docs.ForEach(func(d docstore.Document) error {
		fi, ok := scanned[d.Path]
		if !ok {
			removed = append(removed, d)
			return nil
		}
		if fi.Mtime.UnixMilli() != d.Mtime.UnixMilli() || fi.SizeBytes != d.SizeBytes {
			changed = append(changed, fi)
		}
		delete(scanned, d.Path)
		return nil
	}); err != nil {
		return IngestStats{}, err
	}

	deleted := 0
	for _, d := range removed {
		if err := m.wal.Append(wal.Entry{
			Op:        wal.OpDelete,
			Timestamp: time.Now(),
			Path:      d.Path,
			Mtime:     d.Mtime,
			Size:      d.SizeBytes,
		}); err != nil {
			return IngestStats{}, err
		}
		if err := m.applyDelete(d.Path); err != nil {
			return IngestStats{}, err
		}
		deleted++
	}

	pending := make([]discovery.FileInfo, 0, len(scanned)+len(changed))
	for _, fi := range scanned {
		pending = append(pending, fi)
	}
	pending = append(pending, changed...)

	stats, err := m.runPipeline(ctx, func(files chan<- discovery.FileInfo) error {
		for _, fi := range pending {
			select {
			case files <- fi:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	stats.Deleted = deleted
	if err != nil {
		return stats, err
	}
	if err := m.commitFlush(); err != nil {
		return stats, err
	}
	stats.Elapsed = time.Since(start)
	m.logger.Info("incremental update complete",
		"added", stats.Added,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}

// reingestPaths re-indexes specific paths during WAL recovery.
func (m *Manager) reingestPaths(paths []string) error {
	_, err := m.runPipeline(context.Background(), func(files chan<- discovery.FileInfo) error {
		for _, path := range paths {
			st, err := os.Stat(path)
			if err != nil {
				continue
			}
			files <- discovery.FileInfo{Path: path, SizeBytes: st.Size(), Mtime: st.ModTime()}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.commitFlush()
}

// runPipeline runs the bounded producer/consumer ingest: one producer
// fills the queue, m.threads workers drain it. Closing the queue is the
// workers' termination sentinel.
func (m *Manager) runPipeline(ctx context.Context, produce func(chan<- discovery.FileInfo) error) (IngestStats, error) {
	files := make(chan discovery.FileInfo, QueueCapacity)

	var added, updated atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(files)
		return produce(files)
	})
	for i := 0; i < m.threads; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case fi, ok := <-files:
					if !ok {
						return nil
					}
					wasUpdate, err := m.ingestFile(fi)
					if err != nil {
						if !errors.Is(err, errSkipUnchanged) {
							m.logger.Warn("skipping file", "path", fi.Path, "error", err)
						}
						continue
					}
					if wasUpdate {
						updated.Add(1)
					} else {
						added.Add(1)
					}
					m.metrics.RecordIndexed()
					if m.mem.ShouldFlush() {
						if err := m.commitIfFull(); err != nil {
							return err
						}
					}
				}
			}
		})
	}
	err := g.Wait()
	return IngestStats{Added: int(added.Load()), Updated: int(updated.Load())}, err
}

// ingestFile processes a single file: WAL entry first, then metadata and
// postings. An existing unchanged document is left untouched; a changed
// one is tombstoned and re-added under a fresh docID.
func (m *Manager) ingestFile(fi discovery.FileInfo) (wasUpdate bool, err error) {
	existing, err := m.docs.FindByPath(fi.Path)
	if err != nil {
		return false, err
	}
	if existing != nil &&
		existing.Mtime.UnixMilli() == fi.Mtime.UnixMilli() &&
		existing.SizeBytes == fi.SizeBytes {
		return false, errSkipUnchanged
	}

	op := wal.OpAdd
	if existing != nil {
		op = wal.OpUpdate
	}
	if err := m.wal.Append(wal.Entry{
		Op:        op,
		Timestamp: time.Now(),
		Path:      fi.Path,
		Mtime:     fi.Mtime,
		Size:      fi.SizeBytes,
	}); err != nil {
		return false, err
	}

	raw, err := os.ReadFile(fi.Path)
	if err != nil {
		return false, err
	}
	content := decodeLossy(raw)
	tokens := m.tokenizer.Tokenize(content)

	if existing != nil {
		if err := m.applyDelete(fi.Path); err != nil {
			return false, err
		}
	}

	docID, err := m.docs.NextDocID()
	if err != nil {
		return false, err
	}
	ext := docstore.Extension(fi.Path)
	doc := docstore.Document{
		DocID:      docID,
		Path:       fi.Path,
		Extension:  ext,
		SizeBytes:  fi.SizeBytes,
		Mtime:      fi.Mtime,
		Type:       docstore.InferDocType(fi.Path, ext, nil),
		TokenCount: uint32(len(tokens)),
	}
	if err := m.docs.Insert(doc); err != nil {
		return false, err
	}
	if err := m.mem.AddDocument(docID, tokens); err != nil {
		return false, err
	}
	return existing != nil, nil
}

// decodeLossy interprets raw bytes as UTF-8, replacing invalid sequences
// with U+FFFD so that mostly-text files with stray bytes still index.
func decodeLossy(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "�")
}

var errSkipUnchanged = fmt.Errorf("index: file unchanged")
