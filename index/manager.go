package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/lexgo/discovery"
	"github.com/hupe1980/lexgo/docstore"
	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/manifest"
	"github.com/hupe1980/lexgo/segment"
	"github.com/hupe1980/lexgo/token"
	"github.com/hupe1980/lexgo/wal"
)

const (
	// QueueCapacity bounds the producer/consumer file queue.
	QueueCapacity = 1000
	// MergeFactor is the number of same-level segments that triggers a
	// tiered merge.
	MergeFactor = 10
	// MaxThreads caps the ingest worker pool.
	MaxThreads = 64

	walDirName = "wal"
	segPrefix  = "seg-"
	tmpSuffix  = ".tmp"
)

// Options configures the index manager.
type Options struct {
	// Threads is the ingest worker count, clamped to [1, MaxThreads].
	// Zero means GOMAXPROCS.
	Threads int
	// StopWords toggles stop-word filtering in the tokenizer.
	StopWords bool
	// Walker filters which files enter the pipeline.
	Walker *discovery.Walker
	// Logger receives structured progress and error logs.
	Logger *slog.Logger
	// Metrics receives operational signals.
	Metrics MetricsCollector
	// MergeRate throttles background merges (merges per second). Zero
	// disables throttling.
	MergeRate float64
}

// DefaultOptions returns the default manager options.
var DefaultOptions = Options{
	StopWords: true,
	MergeRate: 1,
}

// Manager owns the WAL, the manifest and every segment file on disk. All
// mutations flow through it; queries obtain immutable snapshots.
type Manager struct {
	fsys      fs.FileSystem
	dir       string
	docs      *docstore.Store
	wal       *wal.WAL
	manifests *manifest.Store
	mem       *segment.MemSegment
	tokenizer *token.Tokenizer
	walker    *discovery.Walker
	logger    *slog.Logger
	metrics   MetricsCollector
	threads   int

	// mu guards the active segment set and manifest mutation. commitMu
	// serializes whole commits so flushes and merges do not interleave.
	mu       sync.RWMutex
	commitMu sync.Mutex
	segments []*segment.DiskSegment
	current  *manifest.Manifest

	mergeLimiter *rate.Limiter
}

// Open initializes the index directory, loads the manifest and all
// referenced segments, and replays the WAL. The returned manager is ready
// for ingest and queries.
func Open(fsys fs.FileSystem, dir string, docs *docstore.Store, optFns ...func(o *Options)) (*Manager, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Walker == nil {
		opts.Walker = discovery.NewWalker()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	if threads > MaxThreads {
		threads = MaxThreads
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index: creating %s: %w", dir, err)
	}

	m := &Manager{
		fsys:      fsys,
		dir:       dir,
		docs:      docs,
		manifests: manifest.NewStore(fsys, dir),
		mem:       segment.NewMemSegment(),
		tokenizer: token.New(func(o *token.Options) { o.StopWords = opts.StopWords }),
		walker:    opts.Walker,
		logger:    opts.Logger.With("component", "index"),
		metrics:   opts.Metrics,
		threads:   threads,
	}
	if opts.MergeRate > 0 {
		m.mergeLimiter = rate.NewLimiter(rate.Limit(opts.MergeRate), 1)
	}

	current, err := m.manifests.Load()
	if err != nil {
		return nil, err
	}
	m.current = current

	if err := m.openSegments(); err != nil {
		return nil, err
	}
	m.cleanStrayDirs()

	w, err := wal.Open(fsys, filepath.Join(dir, walDirName))
	if err != nil {
		m.closeSegments()
		return nil, err
	}
	m.wal = w

	if err := m.recover(); err != nil {
		m.closeSegments()
		w.Close()
		return nil, err
	}

	m.metrics.SetActiveSegments(len(m.segments))
	m.logger.Info("index opened",
		"segments", len(m.segments),
		"generation", m.current.Generation,
	)
	return m, nil
}

// openSegments opens every segment the manifest references, verifying the
// CRC of all three files.
func (m *Manager) openSegments() error {
	for _, ref := range m.current.Segments {
		seg, err := segment.Open(m.fsys, m.segmentDir(ref.ID))
		if err != nil {
			m.closeSegments()
			return fmt.Errorf("index: opening segment %d: %w", ref.ID, err)
		}
		m.segments = append(m.segments, seg)
	}
	return nil
}

func (m *Manager) closeSegments() {
	for _, seg := range m.segments {
		seg.Close()
	}
	m.segments = nil
}

// cleanStrayDirs removes segment directories that are not referenced by
// the manifest: leftovers of a commit that crashed before its rename.
func (m *Manager) cleanStrayDirs() {
	referenced := make(map[string]struct{}, len(m.current.Segments))
	for _, ref := range m.current.Segments {
		referenced[filepath.Base(m.segmentDir(ref.ID))] = struct{}{}
	}
	entries, err := m.fsys.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, segPrefix) {
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}
		m.logger.Warn("removing stray segment directory", "dir", name)
		m.fsys.RemoveAll(filepath.Join(m.dir, name))
	}
}

func (m *Manager) segmentDir(id uint64) string {
	return filepath.Join(m.dir, segPrefix+strconv.FormatUint(id, 10))
}

// Snapshot pins the current segment set for a query.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segs := make([]*segment.DiskSegment, len(m.segments))
	copy(segs, m.segments)
	for _, seg := range segs {
		seg.Acquire()
	}
	return &Snapshot{segments: segs}
}

// Stats summarizes the index state.
type Stats struct {
	DocCount     int
	SegmentCount int
	IndexBytes   int64
}

// Status reports document count, active segments and on-disk size.
func (m *Manager) Status() (Stats, error) {
	docCount, err := m.docs.TotalDocCount()
	if err != nil {
		return Stats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bytes int64
	for _, seg := range m.segments {
		bytes += seg.Meta().SizeBytes
	}
	return Stats{
		DocCount:     docCount,
		SegmentCount: len(m.segments),
		IndexBytes:   bytes,
	}, nil
}

// Close flushes nothing (pending in-memory documents are only durable via
// the WAL) and releases every open segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	segs := m.segments
	m.segments = nil
	m.mu.Unlock()
	for _, seg := range segs {
		seg.Close()
	}
	return m.wal.Close()
}

// commitFlush runs the commit protocol for the current memory segment:
// flush to a temp dir, rename into place, publish the manifest, persist
// tombstones, checkpoint the WAL.
//
// WAL entries for the batch were already appended and fsynced by the
// ingest workers, which is step 1 of the protocol.
func (m *Manager) commitFlush() error {
	return m.commit(true)
}

// commitIfFull is the worker-side trigger: when several workers observe
// the threshold at once, only the first one past commitMu actually
// flushes; the rest find the accumulator drained and do nothing.
func (m *Manager) commitIfFull() error {
	return m.commit(false)
}

func (m *Manager) commit(force bool) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if !force && !m.mem.ShouldFlush() {
		return nil
	}
	if m.mem.DocCount() == 0 {
		// Nothing buffered: deletes may still need publication.
		return m.commitTombstonesAndCheckpoint()
	}

	start := time.Now()

	m.mu.RLock()
	gen := m.current.Clone()
	m.mu.RUnlock()

	segID := gen.NextSegmentID
	tmpDir := m.segmentDir(segID) + tmpSuffix
	finalDir := m.segmentDir(segID)

	meta, err := m.mem.Flush(m.fsys, tmpDir, segID, 0)
	if err != nil {
		m.fsys.RemoveAll(tmpDir)
		return fmt.Errorf("index: flushing memory segment: %w", err)
	}
	if err := m.fsys.Rename(tmpDir, finalDir); err != nil {
		m.fsys.RemoveAll(tmpDir)
		return fmt.Errorf("index: publishing segment files: %w", err)
	}
	if err := fs.SyncDir(m.fsys, m.dir); err != nil {
		return err
	}

	seg, err := segment.Open(m.fsys, finalDir)
	if err != nil {
		m.fsys.RemoveAll(finalDir)
		return fmt.Errorf("index: reopening flushed segment: %w", err)
	}

	gen.Segments = append(gen.Segments, manifest.SegmentRef{ID: segID, Level: 0})
	gen.NextSegmentID = segID + 1
	if err := m.manifests.Save(gen); err != nil {
		seg.Close()
		m.fsys.RemoveAll(finalDir)
		return fmt.Errorf("index: publishing manifest: %w", err)
	}

	m.mu.Lock()
	m.current = gen
	m.segments = append(m.segments, seg)
	segCount := len(m.segments)
	m.mu.Unlock()

	if err := m.commitTombstonesAndCheckpoint(); err != nil {
		return err
	}

	m.metrics.RecordFlush(time.Since(start))
	m.metrics.SetActiveSegments(segCount)
	m.logger.Info("segment flushed",
		"segment", segID,
		"docs", meta.DocCount,
		"terms", meta.TermCount,
		"bytes", meta.SizeBytes,
		"active_segments", segCount,
	)

	return m.maybeMerge()
}

// commitTombstonesAndCheckpoint persists every segment's tombstone set and
// truncates the WAL. Replay of an already-applied entry is a no-op, so a
// crash between these two steps is safe.
func (m *Manager) commitTombstonesAndCheckpoint() error {
	m.mu.RLock()
	segs := make([]*segment.DiskSegment, len(m.segments))
	copy(segs, m.segments)
	m.mu.RUnlock()

	for _, seg := range segs {
		if seg.Tombstones().Cardinality() == 0 {
			continue
		}
		if err := seg.SaveTombstones(); err != nil {
			return fmt.Errorf("index: persisting tombstones of segment %d: %w", seg.ID(), err)
		}
	}
	return m.wal.Checkpoint()
}

// recover replays the WAL against the document store. Entries whose effect
// is already present are skipped; the rest trigger a fresh ingest round
// for their paths.
func (m *Manager) recover() error {
	var reindex []string
	replayed := 0

	err := m.wal.Replay(func(e wal.Entry) error {
		replayed++
		switch e.Op {
		case wal.OpAdd, wal.OpUpdate:
			doc, err := m.docs.FindByPath(e.Path)
			if err != nil {
				return err
			}
			if doc != nil && doc.Mtime.UnixMilli() == e.Mtime.UnixMilli() && doc.SizeBytes == e.Size {
				return nil // effect already durable
			}
			if _, err := os.Stat(e.Path); err != nil {
				return nil // file has since vanished; nothing to redo
			}
			reindex = append(reindex, e.Path)
		case wal.OpDelete:
			doc, err := m.docs.FindByPath(e.Path)
			if err != nil {
				return err
			}
			if doc == nil {
				return nil
			}
			if err := m.applyDelete(e.Path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index: replaying WAL: %w", err)
	}

	if len(reindex) > 0 {
		m.logger.Info("recovering unapplied WAL entries", "paths", len(reindex))
		if err := m.reingestPaths(reindex); err != nil {
			return err
		}
	}
	if replayed > 0 {
		m.logger.Info("WAL replay complete", "entries", replayed)
	}
	return m.commitTombstonesAndCheckpoint()
}

// applyDelete tombstones a document in whatever segments contain it and
// removes its metadata row.
func (m *Manager) applyDelete(path string) error {
	docID, ok, err := m.docs.DeleteByPath(path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, seg := range m.segments {
		all, err := seg.AllDocIDs()
		if err != nil {
			return err
		}
		if all.Contains(docID) {
			seg.Delete(docID)
		}
	}
	return nil
}
