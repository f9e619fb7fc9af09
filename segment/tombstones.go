package segment

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/fs"
)

// Tombstones is the set of docIDs logically deleted from one segment. The
// set only ever grows during a segment's lifetime; merges fold it away by
// not re-emitting deleted documents.
type Tombstones struct {
	mu  sync.RWMutex
	set *roaring.Bitmap
}

// NewTombstones creates an empty tombstone set.
func NewTombstones() *Tombstones {
	return &Tombstones{set: roaring.New()}
}

// Add marks docID as deleted.
func (t *Tombstones) Add(docID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set.Add(docID)
}

// Contains reports whether docID is deleted.
func (t *Tombstones) Contains(docID uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set.Contains(docID)
}

// Cardinality returns the number of deleted docIDs.
func (t *Tombstones) Cardinality() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set.GetCardinality()
}

// Bitmap returns a copy of the underlying bitmap, safe to iterate without
// holding the lock.
func (t *Tombstones) Bitmap() *roaring.Bitmap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set.Clone()
}

// Save persists the set atomically to path.
func (t *Tombstones) Save(fsys fs.FileSystem, path string) error {
	t.mu.RLock()
	data, err := t.set.MarshalBinary()
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("segment: marshaling tombstones: %w", err)
	}
	return fs.WriteFileAtomic(fsys, path, data, 0o644)
}

// LoadTombstones reads a tombstone set from path. A missing file yields an
// empty set: a segment without deletions writes no del file.
func LoadTombstones(fsys fs.FileSystem, path string) (*Tombstones, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTombstones(), nil
		}
		return nil, fmt.Errorf("segment: opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	set := roaring.New()
	if len(data) > 0 {
		if err := set.UnmarshalBinary(data); err != nil {
			return nil, formatErrf(path, "invalid tombstone bitmap: %v", err)
		}
	}
	return &Tombstones{set: set}, nil
}
