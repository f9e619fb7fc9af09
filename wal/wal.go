// Package wal provides the append-only write-ahead log of intended index
// mutations.
//
// Every mutation (add, delete, update) is logged and fsynced before it is
// applied, so a crash between the log append and the manifest publication
// can be repaired on restart by replaying the log. Replay is idempotent:
// entries whose effect is already visible in the document store are skipped
// by the recovery logic.
//
// The active log lives at current.wal. When it exceeds the rotation
// threshold it is sealed into a zstd-compressed rotated-<n>.wal.zst file
// and a fresh current.wal is started. A checkpoint truncates the active log
// and removes all rotated files.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/lexgo/codec"
	"github.com/hupe1980/lexgo/internal/fs"
)

// Op is the kind of mutation a WAL entry records.
type Op uint8

const (
	// OpAdd records a new document being indexed.
	OpAdd Op = 1
	// OpDelete records a document being removed.
	OpDelete Op = 2
	// OpUpdate records a document being replaced in place.
	OpUpdate Op = 3
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "ADD"
	case OpDelete:
		return "DELETE"
	case OpUpdate:
		return "UPDATE"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Entry is one logged mutation. The log deliberately records only the path
// and the file attributes observed at log time; docIDs are assigned during
// application, which keeps replay idempotent.
type Entry struct {
	Op        Op
	Timestamp time.Time
	Path      string
	Mtime     time.Time
	Size      int64
}

// CurrentFileName is the name of the active log file.
const CurrentFileName = "current.wal"

// DefaultRotateBytes is the size at which the active log is rotated.
const DefaultRotateBytes = 16 << 20

var rotatedRe = regexp.MustCompile(`^rotated-(\d+)\.wal\.zst$`)

// Options configures the WAL.
type Options struct {
	// RotateBytes is the rotation threshold for the active log.
	RotateBytes int64
}

// DefaultOptions returns the default WAL options.
var DefaultOptions = Options{
	RotateBytes: DefaultRotateBytes,
}

// WAL is a single-writer append-only log. Appends are serialized by an
// internal mutex; readers only exist during recovery.
type WAL struct {
	mu sync.Mutex

	fsys        fs.FileSystem
	dir         string
	rotateBytes int64

	f    fs.File
	bw   *bufio.Writer
	size int64
}

// Open opens (or creates) the WAL in dir.
func Open(fsys fs.FileSystem, dir string, optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RotateBytes <= 0 {
		opts.RotateBytes = DefaultRotateBytes
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: creating directory: %w", err)
	}

	w := &WAL{fsys: fsys, dir: dir, rotateBytes: opts.RotateBytes}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) openCurrent() error {
	path := filepath.Join(w.dir, CurrentFileName)
	f, err := w.fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: opening %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}
	w.f = f
	w.bw = bufio.NewWriter(f)
	w.size = st.Size()
	return nil
}

// Append encodes entry, writes it to the active log and fsyncs. Rotation
// happens before the append when the log has outgrown its threshold.
func (w *WAL) Append(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size >= w.rotateBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := encodeEntry(w.bw, entry)
	if err != nil {
		return fmt.Errorf("wal: encoding entry: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("wal: flushing entry: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wal: syncing: %w", err)
	}
	w.size += int64(n)
	return nil
}

// AppendBatch logs several entries with a single fsync at the end.
func (w *WAL) AppendBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size >= w.rotateBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	for _, entry := range entries {
		n, err := encodeEntry(w.bw, entry)
		if err != nil {
			return fmt.Errorf("wal: encoding entry: %w", err)
		}
		w.size += int64(n)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("wal: flushing batch: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wal: syncing: %w", err)
	}
	return nil
}

// Size returns the current size of the active log.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// rotateLocked seals the active log into a compressed rotated file and
// starts a fresh one.
func (w *WAL) rotateLocked() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}

	next := 0
	names, err := w.rotatedNamesLocked()
	if err != nil {
		return err
	}
	if len(names) > 0 {
		last := names[len(names)-1]
		m := rotatedRe.FindStringSubmatch(filepath.Base(last))
		n, _ := strconv.Atoi(m[1])
		next = n + 1
	}

	dstPath := filepath.Join(w.dir, fmt.Sprintf("rotated-%d.wal.zst", next))
	if err := w.compressCurrentLocked(dstPath); err != nil {
		return err
	}

	if err := w.f.Close(); err != nil {
		return err
	}
	if err := w.fsys.Truncate(filepath.Join(w.dir, CurrentFileName), 0); err != nil {
		return err
	}
	if err := fs.SyncDir(w.fsys, w.dir); err != nil {
		return err
	}
	return w.openCurrent()
}

func (w *WAL) compressCurrentLocked(dstPath string) error {
	tmp := dstPath + ".tmp"
	dst, err := w.fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	src := io.NewSectionReader(w.f, 0, w.size)
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		w.fsys.Remove(tmp)
		return fmt.Errorf("wal: compressing rotated log: %w", err)
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		w.fsys.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		w.fsys.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		w.fsys.Remove(tmp)
		return err
	}
	return w.fsys.Rename(tmp, dstPath)
}

func (w *WAL) rotatedNamesLocked() ([]string, error) {
	entries, err := w.fsys.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n    int
		path string
	}
	var files []numbered
	for _, e := range entries {
		m := rotatedRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		files = append(files, numbered{n: n, path: filepath.Join(w.dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// Replay invokes fn for every entry, oldest first: rotated files in
// rotation order, then the active log. A torn trailing record (the result
// of a crash mid-append) ends replay silently; any other decode failure is
// surfaced.
func (w *WAL) Replay(fn func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rotated, err := w.rotatedNamesLocked()
	if err != nil {
		return err
	}
	for _, path := range rotated {
		if err := w.replayRotated(path, fn); err != nil {
			return err
		}
	}

	if err := w.bw.Flush(); err != nil {
		return err
	}
	src := io.NewSectionReader(w.f, 0, w.size)
	return replayStream(bufio.NewReader(src), fn)
}

func (w *WAL) replayRotated(path string, fn func(Entry) error) error {
	f, err := w.fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("wal: opening rotated log %s: %w", path, err)
	}
	defer dec.Close()
	return replayStream(bufio.NewReader(dec), fn)
}

func replayStream(r *bufio.Reader, fn func(Entry) error) error {
	for {
		entry, err := decodeEntry(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Torn tail record from a crash mid-append.
				return nil
			}
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

// Checkpoint truncates the active log and removes rotated files. Called
// after the effects of all logged entries are durably published.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rotated, err := w.rotatedNamesLocked()
	if err != nil {
		return err
	}
	for _, path := range rotated {
		if err := w.fsys.Remove(path); err != nil {
			return err
		}
	}

	if err := w.f.Close(); err != nil {
		return err
	}
	if err := w.fsys.Truncate(filepath.Join(w.dir, CurrentFileName), 0); err != nil {
		return err
	}
	if err := fs.SyncDir(w.fsys, w.dir); err != nil {
		return err
	}
	return w.openCurrent()
}

// Close flushes and closes the active log.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// encodeEntry writes one record:
//
//	op u8 | timestamp i64 ms | pathLen varint | path bytes | mtime i64 ms | size i64
//
// Fixed-width integers are big-endian.
func encodeEntry(w *bufio.Writer, entry Entry) (int, error) {
	if entry.Op != OpAdd && entry.Op != OpDelete && entry.Op != OpUpdate {
		return 0, fmt.Errorf("invalid op %d", entry.Op)
	}
	n := 0
	if err := w.WriteByte(byte(entry.Op)); err != nil {
		return n, err
	}
	n++

	var i64 [8]byte
	binary.BigEndian.PutUint64(i64[:], uint64(entry.Timestamp.UnixMilli()))
	if _, err := w.Write(i64[:]); err != nil {
		return n, err
	}
	n += 8

	pathBytes := []byte(entry.Path)
	vn, err := codec.WriteUvarint32(w, uint32(len(pathBytes)))
	n += vn
	if err != nil {
		return n, err
	}
	if _, err := w.Write(pathBytes); err != nil {
		return n, err
	}
	n += len(pathBytes)

	binary.BigEndian.PutUint64(i64[:], uint64(entry.Mtime.UnixMilli()))
	if _, err := w.Write(i64[:]); err != nil {
		return n, err
	}
	n += 8

	binary.BigEndian.PutUint64(i64[:], uint64(entry.Size))
	if _, err := w.Write(i64[:]); err != nil {
		return n, err
	}
	n += 8
	return n, nil
}

func decodeEntry(r *bufio.Reader) (Entry, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Entry{}, err
	}
	if Op(op) != OpAdd && Op(op) != OpDelete && Op(op) != OpUpdate {
		return Entry{}, fmt.Errorf("wal: invalid op %d", op)
	}

	var i64 [8]byte
	if _, err := io.ReadFull(r, i64[:]); err != nil {
		return Entry{}, unexpectedEOF(err)
	}
	timestamp := time.UnixMilli(int64(binary.BigEndian.Uint64(i64[:]))).UTC()

	pathLen, err := codec.ReadUvarint32(r)
	if err != nil {
		return Entry{}, unexpectedEOF(err)
	}
	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return Entry{}, unexpectedEOF(err)
	}

	if _, err := io.ReadFull(r, i64[:]); err != nil {
		return Entry{}, unexpectedEOF(err)
	}
	mtime := time.UnixMilli(int64(binary.BigEndian.Uint64(i64[:]))).UTC()

	if _, err := io.ReadFull(r, i64[:]); err != nil {
		return Entry{}, unexpectedEOF(err)
	}
	size := int64(binary.BigEndian.Uint64(i64[:]))

	return Entry{
		Op:        Op(op),
		Timestamp: timestamp,
		Path:      string(pathBytes),
		Mtime:     mtime,
		Size:      size,
	}, nil
}

// unexpectedEOF normalizes a mid-record EOF so replay can distinguish a
// torn tail from a clean end of log.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
