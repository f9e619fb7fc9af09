// Package docstore persists document metadata in a SQLite table.
//
// The store is the authority for docID assignment (monotone, never reused)
// and for every metadata lookup the query evaluator needs: path, extension,
// size, mtime, document type and token count. Rows exist only for live
// documents; deletion removes the row while the docID counter keeps
// advancing.
package docstore

import (
	"path/filepath"
	"strings"
	"time"
)

// DocType is the coarse classification of an indexed file.
type DocType string

const (
	TypeCode   DocType = "CODE"
	TypeNote   DocType = "NOTE"
	TypeDoc    DocType = "DOC"
	TypeData   DocType = "DATA"
	TypeConfig DocType = "CONFIG"
	TypeOther  DocType = "OTHER"
)

// ParseDocType maps a user-provided string onto a DocType.
func ParseDocType(s string) (DocType, bool) {
	switch DocType(strings.ToUpper(s)) {
	case TypeCode:
		return TypeCode, true
	case TypeNote:
		return TypeNote, true
	case TypeDoc:
		return TypeDoc, true
	case TypeData:
		return TypeData, true
	case TypeConfig:
		return TypeConfig, true
	case TypeOther:
		return TypeOther, true
	}
	return "", false
}

// Document is one indexed file's metadata record.
type Document struct {
	DocID      uint32
	Path       string
	Extension  string
	SizeBytes  int64
	Mtime      time.Time
	Type       DocType
	TokenCount uint32
}

// FileName returns the base name of the document's path.
func (d Document) FileName() string { return filepath.Base(d.Path) }

var codeExtensions = map[string]struct{}{
	"java": {}, "kt": {}, "py": {}, "js": {}, "ts": {}, "cpp": {}, "c": {},
	"h": {}, "hpp": {}, "rs": {}, "go": {}, "rb": {}, "php": {}, "swift": {},
	"cs": {}, "scala": {}, "groovy": {}, "sql": {}, "sh": {}, "bash": {},
	"zsh": {}, "ps1": {}, "vim": {}, "lua": {}, "perl": {}, "r": {},
	"matlab": {}, "dart": {}, "kotlin": {},
}

var configExtensions = map[string]struct{}{
	"json": {}, "xml": {}, "yaml": {}, "yml": {}, "toml": {}, "ini": {},
	"conf": {}, "cfg": {}, "properties": {}, "env": {}, "gradle": {},
	"maven": {}, "cmake": {}, "dockerfile": {}, "gitignore": {},
}

var docExtensions = map[string]struct{}{
	"md": {}, "txt": {}, "rst": {}, "adoc": {}, "org": {}, "wiki": {},
	"doc": {}, "docx": {}, "pdf": {}, "html": {}, "htm": {},
}

var dataExtensions = map[string]struct{}{
	"csv": {}, "tsv": {}, "xlsx": {}, "xls": {}, "db": {}, "sqlite": {},
	"parquet": {},
}

// Extension returns the lowercase extension of path without the dot; the
// whole lowercased file name when there is none.
func Extension(path string) string {
	name := filepath.Base(path)
	if i := strings.LastIndexByte(name, '.'); i >= 0 && i < len(name)-1 {
		return strings.ToLower(name[i+1:])
	}
	return strings.ToLower(name)
}

// InferDocType classifies a file by extension. Paths listed in notePaths
// override the extension-based classification.
func InferDocType(path, ext string, notePaths []string) DocType {
	for _, np := range notePaths {
		if np != "" && filepath.Clean(np) == filepath.Clean(path) {
			return TypeNote
		}
	}
	if _, ok := codeExtensions[ext]; ok {
		return TypeCode
	}
	if _, ok := configExtensions[ext]; ok {
		return TypeConfig
	}
	if _, ok := docExtensions[ext]; ok {
		return TypeDoc
	}
	if _, ok := dataExtensions[ext]; ok {
		return TypeData
	}
	return TypeOther
}
