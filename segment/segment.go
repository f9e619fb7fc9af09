package segment

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/fs"
)

// DiskSegment is an immutable on-disk segment: loaded dictionary,
// random-access postings and positions readers, descriptor and tombstones.
//
// Segments are reference counted. The index manager holds one base
// reference; every query snapshot holds another for each segment it pins.
// When a merge supersedes a segment the manager drops the base reference,
// and the files are removed only once the last snapshot releases its hold.
type DiskSegment struct {
	fsys fs.FileSystem
	dir  string
	meta Meta

	dict      *Dictionary
	postings  *PostingsReader
	positions *PositionsReader
	tombs     *Tombstones

	docsOnce sync.Once
	docsErr  error
	allDocs  *roaring.Bitmap

	refs    atomic.Int32
	dropped atomic.Bool
}

// Open loads a segment directory: verifies all three data files, loads the
// dictionary, descriptor and tombstones.
func Open(fsys fs.FileSystem, dir string) (*DiskSegment, error) {
	meta, err := ReadMeta(fsys, filepath.Join(dir, MetaFileName))
	if err != nil {
		return nil, err
	}
	dict, err := OpenDictionary(fsys, filepath.Join(dir, DictFileName))
	if err != nil {
		return nil, err
	}
	postings, err := OpenPostingsReader(fsys, filepath.Join(dir, PostingsFileName))
	if err != nil {
		return nil, err
	}
	positions, err := OpenPositionsReader(fsys, filepath.Join(dir, PositionsFileName))
	if err != nil {
		postings.Close()
		return nil, err
	}
	tombs, err := LoadTombstones(fsys, filepath.Join(dir, TombstoneFileName))
	if err != nil {
		postings.Close()
		positions.Close()
		return nil, err
	}
	s := &DiskSegment{
		fsys:      fsys,
		dir:       dir,
		meta:      meta,
		dict:      dict,
		postings:  postings,
		positions: positions,
		tombs:     tombs,
	}
	s.refs.Store(1) // base reference held by the owner
	return s, nil
}

// ID returns the segment identifier.
func (s *DiskSegment) ID() uint64 { return s.meta.SegmentID }

// Level returns the merge level.
func (s *DiskSegment) Level() int { return s.meta.Level }

// Meta returns a copy of the descriptor.
func (s *DiskSegment) Meta() Meta { return s.meta }

// Dir returns the segment directory.
func (s *DiskSegment) Dir() string { return s.dir }

// TermCount returns the number of dictionary terms.
func (s *DiskSegment) TermCount() int { return s.dict.Len() }

// Lookup returns the dictionary entry for term.
func (s *DiskSegment) Lookup(term string) (TermEntry, bool) { return s.dict.Lookup(term) }

// PrefixScan returns all dictionary entries whose term starts with prefix.
func (s *DiskSegment) PrefixScan(prefix string) []TermEntry { return s.dict.PrefixScan(prefix) }

// Terms returns every dictionary entry in term order.
func (s *DiskSegment) Terms() []TermEntry { return s.dict.All() }

// Postings reads the postings list for term. It returns nil when the term
// is absent from this segment.
func (s *DiskSegment) Postings(term string) (*PostingList, error) {
	entry, ok := s.dict.Lookup(term)
	if !ok {
		return nil, nil
	}
	return s.postings.Read(entry.PostingsOffset)
}

// PostingsAt reads the postings list at a known dictionary offset.
func (s *DiskSegment) PostingsAt(offset uint64) (*PostingList, error) {
	return s.postings.Read(offset)
}

// DocFreq returns the stored document frequency for term, zero when absent.
func (s *DiskSegment) DocFreq(term string) uint32 {
	entry, ok := s.dict.Lookup(term)
	if !ok {
		return 0
	}
	return entry.DocFreq
}

// PositionsForDoc returns term's positions within docID, using the
// short-circuiting targeted read.
func (s *DiskSegment) PositionsForDoc(term string, docID uint32) ([]uint32, error) {
	entry, ok := s.dict.Lookup(term)
	if !ok {
		return nil, nil
	}
	positions, found, err := s.positions.ReadDoc(entry.PositionsOffset, docID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return positions, nil
}

// PositionsBlock bulk-reads term's whole position block.
func (s *DiskSegment) PositionsBlock(term string) ([]DocPositions, error) {
	entry, ok := s.dict.Lookup(term)
	if !ok {
		return nil, nil
	}
	return s.positions.ReadBlock(entry.PositionsOffset)
}

// AllDocIDs returns the set of docIDs present in this segment, including
// tombstoned ones. The set is computed on first use and cached.
func (s *DiskSegment) AllDocIDs() (*roaring.Bitmap, error) {
	s.docsOnce.Do(func() {
		all := roaring.New()
		for _, entry := range s.dict.All() {
			pl, err := s.postings.Read(entry.PostingsOffset)
			if err != nil {
				s.docsErr = err
				return
			}
			all.AddMany(pl.DocIDs)
		}
		s.allDocs = all
	})
	if s.docsErr != nil {
		return nil, s.docsErr
	}
	return s.allDocs, nil
}

// LiveDocIDs returns the segment's docIDs minus its tombstones.
func (s *DiskSegment) LiveDocIDs() (*roaring.Bitmap, error) {
	all, err := s.AllDocIDs()
	if err != nil {
		return nil, err
	}
	live := all.Clone()
	live.AndNot(s.tombs.Bitmap())
	return live, nil
}

// IsDeleted reports whether docID is tombstoned in this segment.
func (s *DiskSegment) IsDeleted(docID uint32) bool { return s.tombs.Contains(docID) }

// Delete tombstones docID. The caller is responsible for persisting the
// tombstone set as part of a commit.
func (s *DiskSegment) Delete(docID uint32) { s.tombs.Add(docID) }

// Tombstones exposes the segment's tombstone set.
func (s *DiskSegment) Tombstones() *Tombstones { return s.tombs }

// SaveTombstones persists the tombstone set into the segment directory.
func (s *DiskSegment) SaveTombstones() error {
	return s.tombs.Save(s.fsys, filepath.Join(s.dir, TombstoneFileName))
}

// Acquire adds a reference, pinning the segment's files on disk.
func (s *DiskSegment) Acquire() { s.refs.Add(1) }

// Release drops a reference. When the segment has been dropped and this was
// the last reference, the readers are closed and the directory is removed.
func (s *DiskSegment) Release() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	return s.destroy()
}

// Drop releases the owner's base reference and schedules file removal once
// every outstanding snapshot reference is released.
func (s *DiskSegment) Drop() error {
	s.dropped.Store(true)
	return s.Release()
}

// Close releases the base reference without removing files. Used on engine
// shutdown.
func (s *DiskSegment) Close() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	s.postings.Close()
	return s.positions.Close()
}

func (s *DiskSegment) destroy() error {
	s.postings.Close()
	s.positions.Close()
	if !s.dropped.Load() {
		return nil
	}
	if err := s.fsys.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("segment: removing %s: %w", s.dir, err)
	}
	return nil
}
