package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hupe1980/lexgo/codec"
	"github.com/hupe1980/lexgo/internal/fs"
)

// TermEntry is one dictionary record: a term and where its postings and
// positions live.
type TermEntry struct {
	Term            string
	DocFreq         uint32
	PostingsOffset  uint64
	PositionsOffset uint64
}

// DictionaryWriter streams dictionary entries in strictly ascending term
// order. The term count in the header is patched when the writer closes.
type DictionaryWriter struct {
	fw       *fileWriter
	count    uint32
	lastTerm string
	hasLast  bool
}

// NewDictionaryWriter creates the dict file at path and writes its header.
// The term count field is zero until Close patches it.
func NewDictionaryWriter(fsys fs.FileSystem, path string) (*DictionaryWriter, error) {
	fw, err := newFileWriter(fsys, path, DictMagic)
	if err != nil {
		return nil, err
	}
	// Term count placeholder, patched at close.
	if err := fw.writeUint32(0); err != nil {
		fw.abort()
		return nil, err
	}
	return &DictionaryWriter{fw: fw}, nil
}

// Add appends one term entry. Terms must arrive in strictly ascending byte
// order.
func (w *DictionaryWriter) Add(entry TermEntry) error {
	if entry.Term == "" {
		return fmt.Errorf("segment: empty dictionary term")
	}
	if w.hasLast && entry.Term <= w.lastTerm {
		return formatErrf(w.fw.name, "dictionary term %q not greater than previous %q", entry.Term, w.lastTerm)
	}
	termBytes := []byte(entry.Term)
	if err := w.fw.writeUvarint32(uint32(len(termBytes))); err != nil {
		return err
	}
	if _, err := w.fw.Write(termBytes); err != nil {
		return err
	}
	if err := w.fw.writeUvarint32(entry.DocFreq); err != nil {
		return err
	}
	if err := w.fw.writeUint64(entry.PostingsOffset); err != nil {
		return err
	}
	if err := w.fw.writeUint64(entry.PositionsOffset); err != nil {
		return err
	}
	w.lastTerm = entry.Term
	w.hasLast = true
	w.count++
	return nil
}

// Close patches the term count, appends the CRC footer and verifies the
// file.
func (w *DictionaryWriter) Close() error {
	count := w.count
	return w.fw.finalize(func(f fs.File) error {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], count)
		if _, err := f.Seek(6, io.SeekStart); err != nil {
			return err
		}
		_, err := f.Write(buf[:])
		return err
	})
}

// Abort discards the writer without finalizing the file.
func (w *DictionaryWriter) Abort() { w.fw.abort() }

// Dictionary is the fully loaded term dictionary of one segment, ordered by
// term bytes. Lookup is binary search; prefix enumeration is a range scan.
type Dictionary struct {
	entries []TermEntry
}

// OpenDictionary verifies the dict file at path and loads every entry.
func OpenDictionary(fsys fs.FileSystem, path string) (*Dictionary, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("segment: opening %s: %w", path, err)
	}
	defer f.Close()

	dataLen, err := verifyCRCFooter(f, path)
	if err != nil {
		return nil, err
	}

	r := bufio.NewReaderSize(io.NewSectionReader(f, 0, dataLen), 64<<10)
	if err := readHeader(r, path, DictMagic); err != nil {
		return nil, err
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, formatErrf(path, "short term count: %v", err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	entries := make([]TermEntry, 0, count)
	var prev string
	for i := uint32(0); i < count; i++ {
		entry, err := readTermEntry(r, path)
		if err != nil {
			return nil, err
		}
		if i > 0 && entry.Term <= prev {
			return nil, formatErrf(path, "dictionary term %q out of order after %q", entry.Term, prev)
		}
		prev = entry.Term
		entries = append(entries, entry)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, formatErrf(path, "trailing bytes after %d entries", count)
	}
	return &Dictionary{entries: entries}, nil
}

func readTermEntry(r *bufio.Reader, path string) (TermEntry, error) {
	termLen, err := codec.ReadUvarint32(r)
	if err != nil {
		return TermEntry{}, dictReadErr(path, err)
	}
	termBytes := make([]byte, termLen)
	if _, err := io.ReadFull(r, termBytes); err != nil {
		return TermEntry{}, formatErrf(path, "short term bytes: %v", err)
	}
	docFreq, err := codec.ReadUvarint32(r)
	if err != nil {
		return TermEntry{}, dictReadErr(path, err)
	}
	var offs [16]byte
	if _, err := io.ReadFull(r, offs[:]); err != nil {
		return TermEntry{}, formatErrf(path, "short offsets: %v", err)
	}
	return TermEntry{
		Term:            string(termBytes),
		DocFreq:         docFreq,
		PostingsOffset:  binary.BigEndian.Uint64(offs[0:8]),
		PositionsOffset: binary.BigEndian.Uint64(offs[8:16]),
	}, nil
}

func dictReadErr(path string, err error) error {
	if errors.Is(err, codec.ErrMalformedVarint) {
		return formatErrf(path, "malformed varint: %v", err)
	}
	return formatErrf(path, "truncated entry: %v", err)
}

// Len returns the number of terms.
func (d *Dictionary) Len() int { return len(d.entries) }

// Lookup returns the entry for term.
func (d *Dictionary) Lookup(term string) (TermEntry, bool) {
	i := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].Term >= term
	})
	if i < len(d.entries) && d.entries[i].Term == term {
		return d.entries[i], true
	}
	return TermEntry{}, false
}

// PrefixScan returns all entries whose term starts with prefix, in term
// order.
func (d *Dictionary) PrefixScan(prefix string) []TermEntry {
	start := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].Term >= prefix
	})
	var out []TermEntry
	for i := start; i < len(d.entries) && strings.HasPrefix(d.entries[i].Term, prefix); i++ {
		out = append(out, d.entries[i])
	}
	return out
}

// All returns every entry in term order. The returned slice is shared and
// must not be mutated.
func (d *Dictionary) All() []TermEntry { return d.entries }
