package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tanmay3107/reverse-image-search/internal/faceindex"
)

// FileStore keeps face records in a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("records path is required")
	}
	return &FileStore{path: path}, nil
}

// Save writes the full record list through a temp file and rename.
func (s *FileStore) Save(_ context.Context, records []faceindex.Record) error {
	if records == nil {
		records = []faceindex.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create records dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write records temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace records file: %w", err)
	}
	return nil
}

// Load reads the record list; a missing file yields no records.
func (s *FileStore) Load(_ context.Context) ([]faceindex.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read records file %s: %w", s.path, err)
	}
	var records []faceindex.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse records file %s: %w", s.path, err)
	}
	return records, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() {}
