package segment

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hupe1980/lexgo/internal/fs"
)

// Status is the lifecycle state of a segment.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusMerging Status = "MERGING"
	StatusDeleted Status = "DELETED"
)

// Meta is the JSON descriptor stored next to a segment's data files.
type Meta struct {
	SegmentID  uint64    `json:"segmentId"`
	DocCount   uint32    `json:"docCount"`
	TermCount  uint32    `json:"termCount"`
	SizeBytes  int64     `json:"sizeBytes"`
	Status     Status    `json:"status"`
	Level      int       `json:"level"`
	CreateTime time.Time `json:"createTime"`
}

// WriteMeta persists m atomically to path. CreateTime is normalized to UTC.
func WriteMeta(fsys fs.FileSystem, path string, m Meta) error {
	m.CreateTime = m.CreateTime.UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(fsys, path, data, 0o644)
}

// ReadMeta loads a segment descriptor from path.
func ReadMeta(fsys fs.FileSystem, path string) (Meta, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Meta{}, fmt.Errorf("segment: opening %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, formatErrf(path, "invalid meta descriptor: %v", err)
	}
	return m, nil
}
