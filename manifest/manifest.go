// Package manifest manages the file that names the active segment set.
//
// The manifest is the single source of truth for which segments participate
// in queries. It is replaced atomically: a new manifest is written to
// manifest.tmp, fsynced, renamed over the old file, and the directory is
// fsynced. The rename is the linearization point of every commit — a query
// that starts after the rename observes the new segment set, one that
// started before keeps the old.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/lexgo/internal/fs"
)

const (
	// FileName is the manifest file within the index directory.
	FileName = "manifest"
	// CurrentVersion is the manifest format version.
	CurrentVersion = 1
)

// ErrConcurrentModification is returned when a Save loses the
// generation race against another writer.
var ErrConcurrentModification = errors.New("manifest: concurrent modification")

// SegmentRef names one active segment and its merge level.
type SegmentRef struct {
	ID    uint64 `json:"id"`
	Level int    `json:"level"`
}

// Manifest describes the active segment set at one point in time.
type Manifest struct {
	Version       int          `json:"version"`
	Generation    uint64       `json:"generation"`
	NextSegmentID uint64       `json:"nextSegmentId"`
	Segments      []SegmentRef `json:"segments"`
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Segments = append([]SegmentRef(nil), m.Segments...)
	return &out
}

// Store reads and atomically replaces the manifest file.
type Store struct {
	mu   sync.Mutex
	fsys fs.FileSystem
	dir  string
}

// NewStore creates a manifest store rooted at dir.
func NewStore(fsys fs.FileSystem, dir string) *Store {
	return &Store{fsys: fsys, dir: dir}
}

// Load reads the current manifest. A missing file yields an empty manifest
// at generation zero.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, FileName)
	f, err := s.fsys.OpenFile(path, os.O_RDONLY, 0)
	if os.IsNotExist(err) {
		return &Manifest{Version: CurrentVersion, NextSegmentID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing %s: %w", path, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("manifest: unsupported version %d (expected %d)", m.Version, CurrentVersion)
	}
	return &m, nil
}

// Save atomically publishes m. The caller passes the generation it loaded;
// if the on-disk manifest has moved past it, ErrConcurrentModification is
// returned and nothing is written. On success m.Generation is advanced.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked()
	if err != nil {
		return err
	}
	if current != nil && current.Generation != m.Generation {
		return fmt.Errorf("%w: on-disk generation %d, expected %d",
			ErrConcurrentModification, current.Generation, m.Generation)
	}

	m.Version = CurrentVersion
	m.Generation++

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(s.fsys, filepath.Join(s.dir, FileName), data, 0o644)
}

func (s *Store) loadLocked() (*Manifest, error) {
	path := filepath.Join(s.dir, FileName)
	f, err := s.fsys.OpenFile(path, os.O_RDONLY, 0)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing %s: %w", path, err)
	}
	return &m, nil
}
