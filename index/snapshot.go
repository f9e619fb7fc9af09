// Package index ties the engine together: the ingest pipeline, the WAL,
// the segment set and its manifest, recovery, and the tiered merge policy.
package index

import (
	"github.com/hupe1980/lexgo/segment"
)

// Snapshot is an immutable view of the active segment set, pinned at query
// start. Segments referenced by a live snapshot are never removed from
// disk, even when a merge has superseded them; their files are reclaimed
// when the last holder closes its snapshot.
type Snapshot struct {
	segments []*segment.DiskSegment
}

// Segments returns the pinned segment list in manifest order.
func (s *Snapshot) Segments() []*segment.DiskSegment { return s.segments }

// Close releases the snapshot's references. Superseded segments whose last
// reference drains here have their files removed.
func (s *Snapshot) Close() error {
	var firstErr error
	for _, seg := range s.segments {
		if err := seg.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.segments = nil
	return firstErr
}
