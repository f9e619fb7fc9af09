package segment

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/token"
)

const (
	// MaxMemDocs is the document count that triggers a flush.
	MaxMemDocs = 10_000
	// MaxMemBytes is the estimated heap size that triggers a flush.
	MaxMemBytes = 64 << 20
)

// memTerm accumulates one term's postings under concurrent appends.
type memTerm struct {
	mu        sync.Mutex
	docIDs    []uint32
	termFreqs []uint32
	positions map[uint32][]uint32
}

// MemSegment accumulates postings in memory until it is flushed into an
// immutable disk segment.
//
// Appenders hold the read side of flushMu so that any number of ingest
// workers can add documents concurrently; Flush takes the write side so it
// never observes a half-appended document.
type MemSegment struct {
	flushMu sync.RWMutex

	mu        sync.Mutex
	terms     map[string]*memTerm
	docCount  int
	sizeBytes int64
}

// NewMemSegment creates an empty in-memory segment.
func NewMemSegment() *MemSegment {
	return &MemSegment{terms: make(map[string]*memTerm)}
}

// AddDocument indexes one document's tokens. docIDs are expected to be
// unique across calls; positions within the token stream must be strictly
// increasing per term (the tokenizer's global position counter guarantees
// this).
func (m *MemSegment) AddDocument(docID uint32, tokens []token.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	// Group locally first so the shared map is touched once per term.
	type docTerm struct {
		freq      uint32
		positions []uint32
	}
	grouped := make(map[string]*docTerm)
	for _, t := range tokens {
		dt, ok := grouped[t.Term]
		if !ok {
			dt = &docTerm{}
			grouped[t.Term] = dt
		}
		if n := len(dt.positions); n > 0 && t.Pos <= dt.positions[n-1] {
			return fmt.Errorf("segment: non-monotone position %d for term %q in doc %d", t.Pos, t.Term, docID)
		}
		dt.freq++
		dt.positions = append(dt.positions, t.Pos)
	}

	m.flushMu.RLock()
	defer m.flushMu.RUnlock()

	var added int64
	for term, dt := range grouped {
		mt := m.getOrCreateTerm(term)
		mt.mu.Lock()
		mt.docIDs = append(mt.docIDs, docID)
		mt.termFreqs = append(mt.termFreqs, dt.freq)
		mt.positions[docID] = dt.positions
		mt.mu.Unlock()
		added += int64(len(term)) + 8 + int64(len(dt.positions))*4 + 48
	}

	m.mu.Lock()
	m.docCount++
	m.sizeBytes += added
	m.mu.Unlock()
	return nil
}

func (m *MemSegment) getOrCreateTerm(term string) *memTerm {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.terms[term]
	if !ok {
		mt = &memTerm{positions: make(map[uint32][]uint32)}
		m.terms[term] = mt
	}
	return mt
}

// DocCount returns the number of documents added since the last reset.
func (m *MemSegment) DocCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docCount
}

// SizeEstimate returns the estimated heap footprint in bytes.
func (m *MemSegment) SizeEstimate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizeBytes
}

// ShouldFlush reports whether either flush threshold has been reached.
func (m *MemSegment) ShouldFlush() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docCount >= MaxMemDocs || m.sizeBytes >= MaxMemBytes
}

// Flush writes the accumulated postings into dir as a complete segment
// (dict, inv, pos, meta.json) and resets the in-memory state. It runs under
// the write lock, so no concurrent AddDocument observes a partial segment.
// The descriptor is returned for manifest publication.
func (m *MemSegment) Flush(fsys fs.FileSystem, dir string, segmentID uint64, level int) (Meta, error) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	terms := m.terms
	docCount := m.docCount
	m.terms = make(map[string]*memTerm)
	m.docCount = 0
	m.sizeBytes = 0
	m.mu.Unlock()

	if docCount == 0 || len(terms) == 0 {
		return Meta{}, fmt.Errorf("segment: nothing to flush")
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, err
	}

	sorted := make([]string, 0, len(terms))
	for term := range terms {
		sorted = append(sorted, term)
	}
	sort.Strings(sorted)

	dictW, err := NewDictionaryWriter(fsys, filepath.Join(dir, DictFileName))
	if err != nil {
		return Meta{}, err
	}
	postW, err := NewPostingsWriter(fsys, filepath.Join(dir, PostingsFileName))
	if err != nil {
		dictW.Abort()
		return Meta{}, err
	}
	posW, err := NewPositionsWriter(fsys, filepath.Join(dir, PositionsFileName))
	if err != nil {
		dictW.Abort()
		postW.Abort()
		return Meta{}, err
	}
	abort := func() {
		dictW.Abort()
		postW.Abort()
		posW.Abort()
	}

	for _, term := range sorted {
		mt := terms[term]
		docIDs, termFreqs, docs := mt.sortedTuples()

		postOff, err := postW.Write(docIDs, termFreqs)
		if err != nil {
			abort()
			return Meta{}, err
		}
		posOff, err := posW.Write(docs)
		if err != nil {
			abort()
			return Meta{}, err
		}
		if err := dictW.Add(TermEntry{
			Term:            term,
			DocFreq:         uint32(len(docIDs)),
			PostingsOffset:  postOff,
			PositionsOffset: posOff,
		}); err != nil {
			abort()
			return Meta{}, err
		}
	}

	if err := postW.Close(); err != nil {
		dictW.Abort()
		posW.Abort()
		return Meta{}, err
	}
	if err := posW.Close(); err != nil {
		dictW.Abort()
		return Meta{}, err
	}
	if err := dictW.Close(); err != nil {
		return Meta{}, err
	}

	var sizeBytes int64
	for _, name := range []string{DictFileName, PostingsFileName, PositionsFileName} {
		st, err := fsys.Stat(filepath.Join(dir, name))
		if err != nil {
			return Meta{}, err
		}
		sizeBytes += st.Size()
	}

	meta := Meta{
		SegmentID:  segmentID,
		DocCount:   uint32(docCount),
		TermCount:  uint32(len(sorted)),
		SizeBytes:  sizeBytes,
		Status:     StatusActive,
		Level:      level,
		CreateTime: time.Now().UTC(),
	}
	if err := WriteMeta(fsys, filepath.Join(dir, MetaFileName), meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// sortedTuples orders one term's (docID, termFreq, positions) tuples by
// docID. Ingest workers append out of order, so flush restores the postings
// invariant here.
func (mt *memTerm) sortedTuples() ([]uint32, []uint32, []DocPositions) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	n := len(mt.docIDs)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return mt.docIDs[order[a]] < mt.docIDs[order[b]]
	})

	docIDs := make([]uint32, n)
	termFreqs := make([]uint32, n)
	docs := make([]DocPositions, n)
	for i, idx := range order {
		id := mt.docIDs[idx]
		docIDs[i] = id
		termFreqs[i] = mt.termFreqs[idx]
		docs[i] = DocPositions{DocID: id, Positions: mt.positions[id]}
	}
	return docIDs, termFreqs, docs
}
