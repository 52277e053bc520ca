package facedb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the collection as a single JSON blob. Each recognition
// backend variant gets its own path so the two never cross-read.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() ([]KnownFace, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var faces []KnownFace
	if err := json.Unmarshal(data, &faces); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return faces, nil
}

func (s *FileStore) Save(faces []KnownFace) error {
	if faces == nil {
		faces = []KnownFace{}
	}
	data, err := json.MarshalIndent(faces, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing face database: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	// Write-then-rename so a crash mid-write cannot tear the blob.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}
