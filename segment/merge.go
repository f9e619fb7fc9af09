package segment

import (
	"container/heap"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/fs"
)

// mergeCursor walks one input segment's dictionary during a merge.
type mergeCursor struct {
	seg     *DiskSegment
	entries []TermEntry
	idx     int
}

func (c *mergeCursor) current() TermEntry { return c.entries[c.idx] }
func (c *mergeCursor) exhausted() bool    { return c.idx >= len(c.entries) }

// cursorHeap orders cursors by their current term, breaking ties by segment
// ID so the merge is deterministic.
type cursorHeap []*mergeCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if h[i].current().Term != h[j].current().Term {
		return h[i].current().Term < h[j].current().Term
	}
	return h[i].seg.ID() < h[j].seg.ID()
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(*mergeCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge performs a k-way ordered merge of the input segments into a new
// segment at dir. Tombstoned documents are folded away: their postings and
// positions are not re-emitted, so the output starts with an empty
// tombstone set. Terms whose postings become empty are dropped entirely.
func Merge(fsys fs.FileSystem, dir string, segmentID uint64, level int, inputs []*DiskSegment) (Meta, error) {
	if len(inputs) == 0 {
		return Meta{}, fmt.Errorf("segment: merge needs at least one input")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, err
	}

	h := make(cursorHeap, 0, len(inputs))
	for _, seg := range inputs {
		entries := seg.Terms()
		if len(entries) > 0 {
			h = append(h, &mergeCursor{seg: seg, entries: entries})
		}
	}
	heap.Init(&h)

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

	mergedDocs := roaring.New()
	termCount := uint32(0)

	for h.Len() > 0 {
		term := h[0].current().Term

		// Collect every cursor positioned on this term, in heap order.
		var contributors []*mergeCursor
		for h.Len() > 0 && h[0].current().Term == term {
			contributors = append(contributors, heap.Pop(&h).(*mergeCursor))
		}

		var docIDs, termFreqs []uint32
		var docs []DocPositions
		for _, c := range contributors {
			entry := c.current()
			pl, err := c.seg.PostingsAt(entry.PostingsOffset)
			if err != nil {
				abort()
				return Meta{}, err
			}
			block, err := c.seg.positions.ReadBlock(entry.PositionsOffset)
			if err != nil {
				abort()
				return Meta{}, err
			}
			posByDoc := make(map[uint32][]uint32, len(block))
			for _, dp := range block {
				posByDoc[dp.DocID] = dp.Positions
			}
			for i, docID := range pl.DocIDs {
				if c.seg.IsDeleted(docID) {
					continue
				}
				docIDs = append(docIDs, docID)
				termFreqs = append(termFreqs, pl.TermFreqs[i])
				docs = append(docs, DocPositions{DocID: docID, Positions: posByDoc[docID]})
			}
		}

		if len(docIDs) > 0 {
			sortTuplesByDocID(docIDs, termFreqs, docs)
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
			termCount++
			mergedDocs.AddMany(docIDs)
		}

		for _, c := range contributors {
			c.idx++
			if !c.exhausted() {
				heap.Push(&h, c)
			}
		}
	}

	if termCount == 0 {
		abort()
		fsys.RemoveAll(dir)
		return Meta{}, ErrMergeEmpty
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
		DocCount:   uint32(mergedDocs.GetCardinality()),
		TermCount:  termCount,
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

// ErrMergeEmpty is returned when every document of every input segment was
// tombstoned and the merge output would be empty.
var ErrMergeEmpty = fmt.Errorf("segment: merge produced no live documents")

// sortTuplesByDocID restores ascending docID order across contributions.
// Segment creation order usually implies docID order already, but a worker
// that was assigned a docID just before a flush may land it in the next
// segment, so the concatenation cannot be trusted blindly.
func sortTuplesByDocID(docIDs, termFreqs []uint32, docs []DocPositions) {
	sort.Sort(&tupleSorter{docIDs: docIDs, termFreqs: termFreqs, docs: docs})
}

type tupleSorter struct {
	docIDs    []uint32
	termFreqs []uint32
	docs      []DocPositions
}

func (t *tupleSorter) Len() int           { return len(t.docIDs) }
func (t *tupleSorter) Less(i, j int) bool { return t.docIDs[i] < t.docIDs[j] }
func (t *tupleSorter) Swap(i, j int) {
	t.docIDs[i], t.docIDs[j] = t.docIDs[j], t.docIDs[i]
	t.termFreqs[i], t.termFreqs[j] = t.termFreqs[j], t.termFreqs[i]
	t.docs[i], t.docs[j] = t.docs[j], t.docs[i]
}
