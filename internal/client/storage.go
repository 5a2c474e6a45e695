package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Storage is one persistence tier for the session envelope. Load returns
// (nil, nil) when key is absent.
type Storage interface {
	Load(key string) ([]byte, error)
	Store(key string, data []byte) error
	Remove(key string) error
}

// MemoryStorage is the ephemeral tier: it lives as long as the process, like
// a browser tab's session storage.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (s *MemoryStorage) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStorage) Store(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// FileStorage is the durable tier: one file per key under dir, written
// atomically through a temp file and rename.
type FileStorage struct {
	dir string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStorage) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return data, nil
}

func (s *FileStorage) Store(key string, data []byte) error {
	target := s.path(key)
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *FileStorage) Remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
