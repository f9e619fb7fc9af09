package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/lexgo/codec"
	"github.com/hupe1980/lexgo/internal/fs"
)

// PostingList is the decoded postings of one term in one segment: parallel
// docID and term-frequency arrays, docIDs strictly ascending.
type PostingList struct {
	DocIDs    []uint32
	TermFreqs []uint32
}

// Len returns the number of documents in the list.
func (p *PostingList) Len() int { return len(p.DocIDs) }

// SkipEntry indexes into a postings list: SkipDocID is docIDs[(i+1)*128-1]
// and DeltaOffset is the byte offset of that docID's delta within the
// delta-encoded region.
type SkipEntry struct {
	SkipDocID   uint32
	DeltaOffset uint32
}

// PostingsWriter appends postings lists to the inv file. Each list is
// reachable only through the offset recorded in the dictionary.
type PostingsWriter struct {
	fw *fileWriter
}

// NewPostingsWriter creates the inv file at path and writes its header.
func NewPostingsWriter(fsys fs.FileSystem, path string) (*PostingsWriter, error) {
	fw, err := newFileWriter(fsys, path, PostingsMagic)
	if err != nil {
		return nil, err
	}
	return &PostingsWriter{fw: fw}, nil
}

// Write appends one postings list and returns its file offset. docIDs must
// be strictly ascending and parallel to termFreqs.
func (w *PostingsWriter) Write(docIDs, termFreqs []uint32) (uint64, error) {
	if len(docIDs) == 0 {
		return 0, fmt.Errorf("segment: empty postings list")
	}
	if len(docIDs) != len(termFreqs) {
		return 0, fmt.Errorf("segment: %d docIDs but %d termFreqs", len(docIDs), len(termFreqs))
	}

	deltas, err := codec.Deltas(docIDs)
	if err != nil {
		return 0, formatErrf(w.fw.name, "postings docIDs: %v", err)
	}

	offset := uint64(w.fw.Offset())
	docCount := uint32(len(docIDs))
	skipCount := docCount / SkipInterval

	if err := w.fw.writeUvarint32(docCount); err != nil {
		return 0, err
	}
	if err := w.fw.writeUvarint32(skipCount); err != nil {
		return 0, err
	}

	// Byte offset of each delta within the delta region, for skip entries.
	deltaOffsets := make([]uint32, len(deltas))
	cur := uint32(0)
	for i, d := range deltas {
		deltaOffsets[i] = cur
		cur += uint32(codec.Uvarint32Size(d))
	}
	for i := uint32(0); i < skipCount; i++ {
		target := (i+1)*SkipInterval - 1
		if err := w.fw.writeUint32(docIDs[target]); err != nil {
			return 0, err
		}
		if err := w.fw.writeUint32(deltaOffsets[target]); err != nil {
			return 0, err
		}
	}

	for _, d := range deltas {
		if err := w.fw.writeUvarint32(d); err != nil {
			return 0, err
		}
	}
	for _, tf := range termFreqs {
		if err := w.fw.writeUvarint32(tf); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// Close appends the CRC footer and verifies the file.
func (w *PostingsWriter) Close() error { return w.fw.finalize(nil) }

// Abort discards the writer without finalizing the file.
func (w *PostingsWriter) Abort() { w.fw.abort() }

// PostingsReader provides random access to postings lists in a verified inv
// file.
type PostingsReader struct {
	f       fs.File
	name    string
	dataLen int64
}

// OpenPostingsReader verifies the CRC footer and header of the inv file at
// path and keeps it open for random-access reads.
func OpenPostingsReader(fsys fs.FileSystem, path string) (*PostingsReader, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("segment: opening %s: %w", path, err)
	}
	dataLen, err := verifyCRCFooter(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	r := io.NewSectionReader(f, 0, dataLen)
	if err := readHeader(r, path, PostingsMagic); err != nil {
		f.Close()
		return nil, err
	}
	return &PostingsReader{f: f, name: path, dataLen: dataLen}, nil
}

// Close releases the underlying file handle.
func (r *PostingsReader) Close() error { return r.f.Close() }

func (r *PostingsReader) sectionAt(offset uint64) (*bufio.Reader, error) {
	if int64(offset) < 6 || int64(offset) >= r.dataLen {
		return nil, formatErrf(r.name, "postings offset %d outside data region [6, %d)", offset, r.dataLen)
	}
	return bufio.NewReaderSize(io.NewSectionReader(r.f, int64(offset), r.dataLen-int64(offset)), 16<<10), nil
}

// Read decodes the postings list at offset.
func (r *PostingsReader) Read(offset uint64) (*PostingList, error) {
	br, err := r.sectionAt(offset)
	if err != nil {
		return nil, err
	}
	docCount, skipCount, err := r.readCounts(br)
	if err != nil {
		return nil, err
	}
	// Skip region: fixed-width entries.
	if skipCount > 0 {
		if _, err := br.Discard(int(skipCount) * 8); err != nil {
			return nil, formatErrf(r.name, "truncated skip region: %v", err)
		}
	}

	docIDs, err := codec.ReadDeltaUvarint32(br, int(docCount))
	if err != nil {
		return nil, r.wrapRead(err)
	}
	termFreqs := make([]uint32, docCount)
	for i := range termFreqs {
		tf, err := codec.ReadUvarint32(br)
		if err != nil {
			return nil, r.wrapRead(err)
		}
		termFreqs[i] = tf
	}
	return &PostingList{DocIDs: docIDs, TermFreqs: termFreqs}, nil
}

// ReadSkipEntries decodes only the skip entries of the list at offset.
func (r *PostingsReader) ReadSkipEntries(offset uint64) ([]SkipEntry, error) {
	br, err := r.sectionAt(offset)
	if err != nil {
		return nil, err
	}
	_, skipCount, err := r.readCounts(br)
	if err != nil {
		return nil, err
	}
	entries := make([]SkipEntry, skipCount)
	var buf [8]byte
	for i := range entries {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, formatErrf(r.name, "truncated skip entry %d: %v", i, err)
		}
		entries[i] = SkipEntry{
			SkipDocID:   binary.BigEndian.Uint32(buf[0:4]),
			DeltaOffset: binary.BigEndian.Uint32(buf[4:8]),
		}
	}
	return entries, nil
}

func (r *PostingsReader) readCounts(br *bufio.Reader) (docCount, skipCount uint32, err error) {
	docCount, err = codec.ReadUvarint32(br)
	if err != nil {
		return 0, 0, r.wrapRead(err)
	}
	skipCount, err = codec.ReadUvarint32(br)
	if err != nil {
		return 0, 0, r.wrapRead(err)
	}
	return docCount, skipCount, nil
}

func (r *PostingsReader) wrapRead(err error) error {
	if errors.Is(err, codec.ErrMalformedVarint) {
		return formatErrf(r.name, "malformed varint: %v", err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatErrf(r.name, "truncated postings list: %v", err)
	}
	return fmt.Errorf("segment: reading %s: %w", r.name, err)
}
