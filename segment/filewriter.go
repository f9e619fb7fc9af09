package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/lexgo/codec"
	"github.com/hupe1980/lexgo/internal/fs"
)

// fileWriter is the shared write path of the three segment files: buffered
// appends with logical offset tracking, a patch hook for header fields that
// are only known at close, and the CRC footer protocol.
type fileWriter struct {
	fsys   fs.FileSystem
	f      fs.File
	name   string
	bw     *bufio.Writer
	off    int64
	closed bool
}

func newFileWriter(fsys fs.FileSystem, path string, magic uint32) (*fileWriter, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: creating %s: %w", path, err)
	}
	w := &fileWriter{fsys: fsys, f: f, name: path, bw: bufio.NewWriterSize(f, 64<<10)}
	if err := writeHeader(w, magic); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	w.off += int64(n)
	return n, err
}

func (w *fileWriter) WriteByte(b byte) error {
	if err := w.bw.WriteByte(b); err != nil {
		return err
	}
	w.off++
	return nil
}

// Offset returns the logical file offset of the next write.
func (w *fileWriter) Offset() int64 { return w.off }

func (w *fileWriter) writeUvarint32(v uint32) error {
	_, err := codec.WriteUvarint32(w, v)
	return err
}

func (w *fileWriter) writeUint32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func (w *fileWriter) writeUint64(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// finalize flushes buffered data, applies the optional header patch,
// appends the CRC-32 footer, fsyncs and self-verifies the result.
func (w *fileWriter) finalize(patch func(f fs.File) error) error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("segment: flushing %s: %w", w.name, err)
	}
	if patch != nil {
		if err := patch(w.f); err != nil {
			w.f.Close()
			return err
		}
	}

	crc, err := computeFileCRC(w.f, w.off)
	if err != nil {
		w.f.Close()
		return fmt.Errorf("segment: checksumming %s: %w", w.name, err)
	}
	if _, err := w.f.Seek(w.off, io.SeekStart); err != nil {
		w.f.Close()
		return err
	}
	var footer [crcLen]byte
	binary.BigEndian.PutUint32(footer[:], crc)
	if _, err := w.f.Write(footer[:]); err != nil {
		w.f.Close()
		return fmt.Errorf("segment: writing CRC footer of %s: %w", w.name, err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("segment: syncing %s: %w", w.name, err)
	}
	if _, err := verifyCRCFooter(w.f, w.name); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// abort closes the underlying file without finalizing it. The caller is
// expected to remove the partial file.
func (w *fileWriter) abort() {
	if !w.closed {
		w.closed = true
		w.f.Close()
	}
}
