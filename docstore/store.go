package docstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrDuplicatePath is returned by Insert when the path is already present.
var ErrDuplicatePath = errors.New("docstore: path already indexed")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    doc_id      INTEGER PRIMARY KEY,
    path        TEXT UNIQUE NOT NULL,
    filename    TEXT NOT NULL,
    extension   TEXT,
    size_bytes  INTEGER,
    mtime_ms    INTEGER,
    doc_type    TEXT,
    token_count INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_documents_filename ON documents(filename);
CREATE INDEX IF NOT EXISTS idx_documents_extension ON documents(extension);
CREATE INDEX IF NOT EXISTS idx_documents_mtime ON documents(mtime_ms);
CREATE INDEX IF NOT EXISTS idx_documents_size ON documents(size_bytes);
CREATE TABLE IF NOT EXISTS counters (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
INSERT OR IGNORE INTO counters(name, value) VALUES ('next_doc_id', 1);
`

// Store is the SQLite-backed document table.
type Store struct {
	db *sql.DB

	// idMu serializes docID allocation; SQLite serializes statements, but
	// the read-increment pair must be atomic at this layer too.
	idMu sync.Mutex
}

// Open opens (or creates) the document database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("docstore: opening %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY between the worker pool's
	// concurrent metadata writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// NextDocID allocates the next document identifier. IDs are monotone and
// never reused, even across restarts and deletions.
func (s *Store) NextDocID() (uint32, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id uint32
	if err := tx.QueryRow("SELECT value FROM counters WHERE name = 'next_doc_id'").Scan(&id); err != nil {
		return 0, err
	}
	if _, err := tx.Exec("UPDATE counters SET value = value + 1 WHERE name = 'next_doc_id'"); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Insert adds a new document. It fails with ErrDuplicatePath when the path
// is already present.
func (s *Store) Insert(doc Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents(doc_id, path, filename, extension, size_bytes, mtime_ms, doc_type, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID, doc.Path, doc.FileName(), doc.Extension,
		doc.SizeBytes, doc.Mtime.UnixMilli(), string(doc.Type), doc.TokenCount,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicatePath, doc.Path)
		}
		return fmt.Errorf("docstore: inserting %s: %w", doc.Path, err)
	}
	return nil
}

// Update replaces the mutable attributes of an existing document.
func (s *Store) Update(docID uint32, sizeBytes int64, mtime time.Time, tokenCount uint32) error {
	_, err := s.db.Exec(`
		UPDATE documents SET size_bytes = ?, mtime_ms = ?, token_count = ? WHERE doc_id = ?`,
		sizeBytes, mtime.UnixMilli(), tokenCount, docID,
	)
	if err != nil {
		return fmt.Errorf("docstore: updating doc %d: %w", docID, err)
	}
	return nil
}

const docColumns = "doc_id, path, extension, size_bytes, mtime_ms, doc_type, token_count"

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var mtimeMs int64
	var docType string
	err := row.Scan(&d.DocID, &d.Path, &d.Extension, &d.SizeBytes, &mtimeMs, &docType, &d.TokenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Mtime = time.UnixMilli(mtimeMs).UTC()
	d.Type = DocType(docType)
	return &d, nil
}

// FindByPath returns the document at path, or nil when absent.
func (s *Store) FindByPath(path string) (*Document, error) {
	row := s.db.QueryRow("SELECT "+docColumns+" FROM documents WHERE path = ?", path)
	return scanDocument(row)
}

// FindByID returns the document with docID, or nil when absent.
func (s *Store) FindByID(docID uint32) (*Document, error) {
	row := s.db.QueryRow("SELECT "+docColumns+" FROM documents WHERE doc_id = ?", docID)
	return scanDocument(row)
}

// DeleteByPath removes the row for path and returns its docID. The second
// return value reports whether a row was removed.
func (s *Store) DeleteByPath(path string) (uint32, bool, error) {
	var id uint32
	err := s.db.QueryRow("SELECT doc_id FROM documents WHERE path = ?", path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if _, err := s.db.Exec("DELETE FROM documents WHERE doc_id = ?", id); err != nil {
		return 0, false, fmt.Errorf("docstore: deleting %s: %w", path, err)
	}
	return id, true, nil
}

func (s *Store) queryDocIDs(query string, args ...any) ([]uint32, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FindDocIDsByExtension returns the docIDs of documents with the given
// extension, ordered by docID.
func (s *Store) FindDocIDsByExtension(ext string) ([]uint32, error) {
	return s.queryDocIDs(
		"SELECT doc_id FROM documents WHERE extension = ? ORDER BY doc_id",
		strings.ToLower(ext))
}

// FindDocIDsByType returns the docIDs of documents classified as docType.
func (s *Store) FindDocIDsByType(docType DocType) ([]uint32, error) {
	return s.queryDocIDs(
		"SELECT doc_id FROM documents WHERE doc_type = ? ORDER BY doc_id",
		string(docType))
}

// FindDocIDsByMtimeRange returns docIDs with from <= mtime <= to.
func (s *Store) FindDocIDsByMtimeRange(from, to time.Time) ([]uint32, error) {
	return s.queryDocIDs(
		"SELECT doc_id FROM documents WHERE mtime_ms >= ? AND mtime_ms <= ? ORDER BY doc_id",
		from.UnixMilli(), to.UnixMilli())
}

// FindDocIDsBySizeRange returns docIDs with min <= size <= max.
func (s *Store) FindDocIDsBySizeRange(min, max int64) ([]uint32, error) {
	return s.queryDocIDs(
		"SELECT doc_id FROM documents WHERE size_bytes >= ? AND size_bytes <= ? ORDER BY doc_id",
		min, max)
}

// FindDocIDsByPathPrefix returns docIDs whose path starts with prefix.
func (s *Store) FindDocIDsByPathPrefix(prefix string) ([]uint32, error) {
	pattern := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(prefix) + "%"
	return s.queryDocIDs(
		`SELECT doc_id FROM documents WHERE path LIKE ? ESCAPE '\' ORDER BY doc_id`,
		pattern)
}

// FindDocIDsByFileName returns docIDs whose base file name equals name.
func (s *Store) FindDocIDsByFileName(name string) ([]uint32, error) {
	return s.queryDocIDs(
		"SELECT doc_id FROM documents WHERE filename = ? ORDER BY doc_id",
		name)
}

// TotalDocCount returns the number of live documents.
func (s *Store) TotalDocCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

// AverageDocLength returns the mean token count over live documents, zero
// when the store is empty.
func (s *Store) AverageDocLength() (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow("SELECT AVG(token_count) FROM documents").Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// ForEach invokes fn for every live document, ordered by docID. Used by the
// incremental updater to diff the store against a fresh filesystem scan.
func (s *Store) ForEach(fn func(Document) error) error {
	rows, err := s.db.Query("SELECT " + docColumns + " FROM documents ORDER BY doc_id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var d Document
		var mtimeMs int64
		var docType string
		if err := rows.Scan(&d.DocID, &d.Path, &d.Extension, &d.SizeBytes, &mtimeMs, &docType, &d.TokenCount); err != nil {
			return err
		}
		d.Mtime = time.UnixMilli(mtimeMs).UTC()
		d.Type = DocType(docType)
		if err := fn(d); err != nil {
			return err
		}
	}
	return rows.Err()
}
