package prefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// FileStore keeps preferences in a single JSON document on disk. The whole
// document is rewritten on every Set through a temp file and a rename, so a
// crash mid-write leaves the previous document intact.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

// NewFileStore returns a store backed by the JSON file at path. The file and
// its parent directory are created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the location of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		// A corrupt document is replaced rather than blocking every write.
		s.values = make(map[string]string)
		s.loaded = true
	}

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.save(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// load must be called with the lock held.
func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.values = make(map[string]string)
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read preferences: %w", err)
	}

	values := make(map[string]string)
	if len(data) > 0 {
		if err := sonic.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, s.path, err)
		}
	}
	s.values = values
	s.loaded = true
	return nil
}

// save must be called with the lock held.
func (s *FileStore) save() error {
	data, err := sonic.ConfigStd.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode preferences: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("unable to create preferences directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("unable to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("unable to replace preferences: %w", err)
	}
	return nil
}
