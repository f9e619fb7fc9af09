// Package segment implements the on-disk segment format and its in-memory
// accumulator.
//
// A segment is an immutable triple of files plus a JSON descriptor and a
// tombstone set:
//
//	dict      term dictionary, sorted by term bytes
//	inv       postings lists with skip entries
//	pos       per-term position blocks
//	meta.json descriptor (id, level, counts, status)
//	del       tombstoned docIDs (roaring bitmap)
//
// Every binary file starts with a big-endian magic and a u16 format version
// and ends with a 4-byte big-endian CRC-32 (IEEE) over all preceding bytes.
// Writers append the footer on close and re-verify their own output;
// readers verify the footer before trusting any header field.
package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/lexgo/internal/fs"
)

const (
	// DictMagic identifies a dictionary file ("LSDI").
	DictMagic uint32 = 0x4C534449
	// PostingsMagic identifies a postings file ("LSPI").
	PostingsMagic uint32 = 0x4C535049
	// PositionsMagic identifies a positions file ("LSPS").
	PositionsMagic uint32 = 0x4C535053

	// FormatVersion is the current on-disk format version.
	FormatVersion uint16 = 1

	// SkipInterval is the number of documents between postings skip
	// entries.
	SkipInterval = 128

	crcLen = 4
)

// File names within a segment directory.
const (
	DictFileName      = "dict"
	PostingsFileName  = "inv"
	PositionsFileName = "pos"
	MetaFileName      = "meta.json"
	TombstoneFileName = "del"
)

// FormatError reports a structural violation in an index file: magic or
// version mismatch, CRC failure, malformed varint, ordering violation, or
// an offset outside the data region. The affected file must not be trusted.
type FormatError struct {
	File   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("segment: format error in %s: %s", e.File, e.Reason)
}

func formatErrf(file, format string, args ...any) error {
	return &FormatError{File: file, Reason: fmt.Sprintf(format, args...)}
}

// computeFileCRC computes the CRC-32 of the first length bytes of f.
func computeFileCRC(f fs.File, length int64) (uint32, error) {
	h := crc32.NewIEEE()
	r := io.NewSectionReader(f, 0, length)
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

// verifyCRCFooter checks the trailing CRC-32 of f against the preceding
// bytes and returns the length of the data region (file size minus footer).
func verifyCRCFooter(f fs.File, name string) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := st.Size()
	if size < crcLen {
		return 0, formatErrf(name, "file too short for CRC footer (%d bytes)", size)
	}
	dataLen := size - crcLen

	var footer [crcLen]byte
	if _, err := f.ReadAt(footer[:], dataLen); err != nil {
		return 0, err
	}
	want := binary.BigEndian.Uint32(footer[:])

	got, err := computeFileCRC(f, dataLen)
	if err != nil {
		return 0, err
	}
	if got != want {
		return 0, formatErrf(name, "CRC mismatch: computed 0x%08x, footer 0x%08x", got, want)
	}
	return dataLen, nil
}

// readHeader validates the magic and version at the start of r.
func readHeader(r io.Reader, name string, wantMagic uint32) error {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return formatErrf(name, "short header: %v", err)
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != wantMagic {
		return formatErrf(name, "bad magic 0x%08x, want 0x%08x", magic, wantMagic)
	}
	version := binary.BigEndian.Uint16(hdr[4:6])
	if version != FormatVersion {
		return formatErrf(name, "unsupported format version %d", version)
	}
	return nil
}

func writeHeader(w io.Writer, magic uint32) error {
	var hdr [6]byte
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint16(hdr[4:6], FormatVersion)
	_, err := w.Write(hdr[:])
	return err
}
