package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/lexgo/codec"
	"github.com/hupe1980/lexgo/internal/fs"
)

// DocPositions pairs a docID with the strictly ascending token positions of
// one term within that document.
type DocPositions struct {
	DocID     uint32
	Positions []uint32
}

// PositionsWriter appends per-term position blocks to the pos file.
type PositionsWriter struct {
	fw *fileWriter
}

// NewPositionsWriter creates the pos file at path and writes its header.
func NewPositionsWriter(fsys fs.FileSystem, path string) (*PositionsWriter, error) {
	fw, err := newFileWriter(fsys, path, PositionsMagic)
	if err != nil {
		return nil, err
	}
	return &PositionsWriter{fw: fw}, nil
}

// Write appends one term's position block and returns its file offset. The
// docs must be in ascending docID order; positions within each doc strictly
// ascending.
func (w *PositionsWriter) Write(docs []DocPositions) (uint64, error) {
	if len(docs) == 0 {
		return 0, fmt.Errorf("segment: empty position block")
	}
	offset := uint64(w.fw.Offset())
	if err := w.fw.writeUvarint32(uint32(len(docs))); err != nil {
		return 0, err
	}
	for _, doc := range docs {
		if len(doc.Positions) == 0 {
			return 0, fmt.Errorf("segment: doc %d has no positions", doc.DocID)
		}
		if err := w.fw.writeUvarint32(doc.DocID); err != nil {
			return 0, err
		}
		if err := w.fw.writeUvarint32(uint32(len(doc.Positions))); err != nil {
			return 0, err
		}
		if _, err := codec.WriteDeltaUvarint32(w.fw, doc.Positions); err != nil {
			if errors.Is(err, codec.ErrNonMonotonic) {
				return 0, formatErrf(w.fw.name, "positions of doc %d: %v", doc.DocID, err)
			}
			return 0, err
		}
	}
	return offset, nil
}

// Close appends the CRC footer and verifies the file.
func (w *PositionsWriter) Close() error { return w.fw.finalize(nil) }

// Abort discards the writer without finalizing the file.
func (w *PositionsWriter) Abort() { w.fw.abort() }

// PositionsReader provides random access to position blocks in a verified
// pos file.
type PositionsReader struct {
	f       fs.File
	name    string
	dataLen int64
}

// OpenPositionsReader verifies the CRC footer and header of the pos file at
// path and keeps it open for random-access reads.
func OpenPositionsReader(fsys fs.FileSystem, path string) (*PositionsReader, error) {
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
	if err := readHeader(r, path, PositionsMagic); err != nil {
		f.Close()
		return nil, err
	}
	return &PositionsReader{f: f, name: path, dataLen: dataLen}, nil
}

// Close releases the underlying file handle.
func (r *PositionsReader) Close() error { return r.f.Close() }

func (r *PositionsReader) sectionAt(offset uint64) (*bufio.Reader, error) {
	if int64(offset) < 6 || int64(offset) >= r.dataLen {
		return nil, formatErrf(r.name, "positions offset %d outside data region [6, %d)", offset, r.dataLen)
	}
	return bufio.NewReaderSize(io.NewSectionReader(r.f, int64(offset), r.dataLen-int64(offset)), 16<<10), nil
}

// ReadBlock decodes the whole position block at offset.
func (r *PositionsReader) ReadBlock(offset uint64) ([]DocPositions, error) {
	br, err := r.sectionAt(offset)
	if err != nil {
		return nil, err
	}
	docCount, err := codec.ReadUvarint32(br)
	if err != nil {
		return nil, r.wrapRead(err)
	}
	docs := make([]DocPositions, 0, docCount)
	for i := uint32(0); i < docCount; i++ {
		doc, err := r.readDoc(br)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ReadDoc scans the block at offset for docID and returns its positions,
// short-circuiting as soon as the block is exhausted or a later docID is
// seen. The second return value reports whether the doc was found.
func (r *PositionsReader) ReadDoc(offset uint64, docID uint32) ([]uint32, bool, error) {
	br, err := r.sectionAt(offset)
	if err != nil {
		return nil, false, err
	}
	docCount, err := codec.ReadUvarint32(br)
	if err != nil {
		return nil, false, r.wrapRead(err)
	}
	for i := uint32(0); i < docCount; i++ {
		id, err := codec.ReadUvarint32(br)
		if err != nil {
			return nil, false, r.wrapRead(err)
		}
		posCount, err := codec.ReadUvarint32(br)
		if err != nil {
			return nil, false, r.wrapRead(err)
		}
		if id == docID {
			positions, err := codec.ReadDeltaUvarint32(br, int(posCount))
			if err != nil {
				return nil, false, r.wrapRead(err)
			}
			return positions, true, nil
		}
		if id > docID {
			// Docs are in ascending order; the target cannot follow.
			return nil, false, nil
		}
		if err := skipDeltaValues(br, int(posCount)); err != nil {
			return nil, false, r.wrapRead(err)
		}
	}
	return nil, false, nil
}

func (r *PositionsReader) readDoc(br *bufio.Reader) (DocPositions, error) {
	id, err := codec.ReadUvarint32(br)
	if err != nil {
		return DocPositions{}, r.wrapRead(err)
	}
	posCount, err := codec.ReadUvarint32(br)
	if err != nil {
		return DocPositions{}, r.wrapRead(err)
	}
	positions, err := codec.ReadDeltaUvarint32(br, int(posCount))
	if err != nil {
		return DocPositions{}, r.wrapRead(err)
	}
	return DocPositions{DocID: id, Positions: positions}, nil
}

func skipDeltaValues(br *bufio.Reader, count int) error {
	for i := 0; i < count; i++ {
		if _, err := codec.ReadUvarint32(br); err != nil {
			return err
		}
	}
	return nil
}

func (r *PositionsReader) wrapRead(err error) error {
	if errors.Is(err, codec.ErrMalformedVarint) {
		return formatErrf(r.name, "malformed varint: %v", err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatErrf(r.name, "truncated position block: %v", err)
	}
	return fmt.Errorf("segment: reading %s: %w", r.name, err)
}
