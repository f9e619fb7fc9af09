package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/manifest"
	"github.com/hupe1980/lexgo/segment"
)

// maxManifestRetries bounds retries when a manifest save loses a
// generation race.
const maxManifestRetries = 3

// maybeMerge runs tiered merges until no level holds MergeFactor segments.
// Callers hold commitMu.
func (m *Manager) maybeMerge() error {
	for {
		level, inputs := m.findMergeCandidates()
		if inputs == nil {
			return nil
		}
		if m.mergeLimiter != nil {
			if err := m.mergeLimiter.Wait(context.Background()); err != nil {
				return err
			}
		}
		if err := m.mergeLevel(level, inputs); err != nil {
			if errors.Is(err, segment.ErrMergeEmpty) {
				// Every input doc was tombstoned; just drop the inputs.
				return m.dropSegments(inputs)
			}
			return err
		}
	}
}

// findMergeCandidates returns the oldest MergeFactor segments of the first
// level that has accumulated that many.
func (m *Manager) findMergeCandidates() (int, []*segment.DiskSegment) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byLevel := make(map[int][]*segment.DiskSegment)
	maxLevel := 0
	for _, seg := range m.segments {
		byLevel[seg.Level()] = append(byLevel[seg.Level()], seg)
		if seg.Level() > maxLevel {
			maxLevel = seg.Level()
		}
	}
	for level := 0; level <= maxLevel; level++ {
		if segs := byLevel[level]; len(segs) >= MergeFactor {
			return level, segs[:MergeFactor]
		}
	}
	return 0, nil
}

// mergeLevel merges the inputs into one segment at level+1 and publishes
// the new segment set. Input files are removed once no snapshot references
// them.
func (m *Manager) mergeLevel(level int, inputs []*segment.DiskSegment) error {
	start := time.Now()

	for _, seg := range inputs {
		m.markStatus(seg, segment.StatusMerging)
	}

	m.mu.RLock()
	gen := m.current.Clone()
	m.mu.RUnlock()

	segID := gen.NextSegmentID
	tmpDir := m.segmentDir(segID) + tmpSuffix
	finalDir := m.segmentDir(segID)

	meta, err := segment.Merge(m.fsys, tmpDir, segID, level+1, inputs)
	if err != nil {
		m.fsys.RemoveAll(tmpDir)
		return err
	}
	if err := m.fsys.Rename(tmpDir, finalDir); err != nil {
		m.fsys.RemoveAll(tmpDir)
		return err
	}
	if err := fs.SyncDir(m.fsys, m.dir); err != nil {
		return err
	}

	merged, err := segment.Open(m.fsys, finalDir)
	if err != nil {
		m.fsys.RemoveAll(finalDir)
		return fmt.Errorf("index: reopening merged segment: %w", err)
	}

	inputIDs := make(map[uint64]struct{}, len(inputs))
	for _, seg := range inputs {
		inputIDs[seg.ID()] = struct{}{}
	}

	if err := m.publishMergedManifest(gen, inputIDs, segID, level+1); err != nil {
		merged.Close()
		m.fsys.RemoveAll(finalDir)
		return err
	}

	m.mu.Lock()
	var next []*segment.DiskSegment
	for _, seg := range m.segments {
		if _, gone := inputIDs[seg.ID()]; !gone {
			next = append(next, seg)
		}
	}
	next = append(next, merged)
	m.segments = next
	segCount := len(next)
	m.mu.Unlock()

	// Superseded inputs: mark DELETED and drop the base reference. Files
	// disappear when the last snapshot lets go.
	for _, seg := range inputs {
		m.markStatus(seg, segment.StatusDeleted)
		if err := seg.Drop(); err != nil {
			m.logger.Error("removing merged-away segment", "segment", seg.ID(), "error", err)
		}
	}

	m.metrics.RecordMerge(time.Since(start))
	m.metrics.SetActiveSegments(segCount)
	m.logger.Info("tiered merge complete",
		"level", level,
		"inputs", len(inputs),
		"segment", segID,
		"docs", meta.DocCount,
		"elapsed", time.Since(start),
	)
	return nil
}

// publishMergedManifest swaps the input refs for the merged ref, retrying
// a bounded number of times when another writer advanced the manifest.
func (m *Manager) publishMergedManifest(gen *manifest.Manifest, inputIDs map[uint64]struct{}, segID uint64, level int) error {
	for attempt := 0; ; attempt++ {
		var refs []manifest.SegmentRef
		for _, ref := range gen.Segments {
			if _, gone := inputIDs[ref.ID]; !gone {
				refs = append(refs, ref)
			}
		}
		refs = append(refs, manifest.SegmentRef{ID: segID, Level: level})
		gen.Segments = refs
		if gen.NextSegmentID <= segID {
			gen.NextSegmentID = segID + 1
		}

		err := m.manifests.Save(gen)
		if err == nil {
			m.mu.Lock()
			m.current = gen
			m.mu.Unlock()
			return nil
		}
		if !errors.Is(err, manifest.ErrConcurrentModification) || attempt >= maxManifestRetries {
			return err
		}
		fresh, loadErr := m.manifests.Load()
		if loadErr != nil {
			return loadErr
		}
		gen = fresh
	}
}

// dropSegments removes fully tombstoned segments from the set without a
// merge output.
func (m *Manager) dropSegments(inputs []*segment.DiskSegment) error {
	m.mu.RLock()
	gen := m.current.Clone()
	m.mu.RUnlock()

	inputIDs := make(map[uint64]struct{}, len(inputs))
	for _, seg := range inputs {
		inputIDs[seg.ID()] = struct{}{}
	}
	var refs []manifest.SegmentRef
	for _, ref := range gen.Segments {
		if _, gone := inputIDs[ref.ID]; !gone {
			refs = append(refs, ref)
		}
	}
	gen.Segments = refs
	if err := m.manifests.Save(gen); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = gen
	var next []*segment.DiskSegment
	for _, seg := range m.segments {
		if _, gone := inputIDs[seg.ID()]; !gone {
			next = append(next, seg)
		}
	}
	m.segments = next
	m.mu.Unlock()

	for _, seg := range inputs {
		m.markStatus(seg, segment.StatusDeleted)
		if err := seg.Drop(); err != nil {
			m.logger.Error("removing empty segment", "segment", seg.ID(), "error", err)
		}
	}
	return nil
}

// markStatus rewrites a segment's descriptor status, best-effort.
func (m *Manager) markStatus(seg *segment.DiskSegment, status segment.Status) {
	meta := seg.Meta()
	meta.Status = status
	path := filepath.Join(seg.Dir(), segment.MetaFileName)
	if err := segment.WriteMeta(m.fsys, path, meta); err != nil {
		m.logger.Warn("updating segment status", "segment", seg.ID(), "error", err)
	}
}
