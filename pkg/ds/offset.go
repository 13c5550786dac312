package ds

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// OffsetStore persists resume cursors keyed by feed key (for example
// "inbox:<userId>"). A cursor set must be durable before the consumer
// advances past the corresponding events: a crash between processing and Set
// may re-deliver, never lose.
type OffsetStore interface {
	Get(feedKey string) (string, bool, error)
	Set(feedKey, cursor string) error
}

// MemoryOffsetStore keeps cursors in process memory. Offsets are lost on
// restart; intended for tests and ephemeral pollers.
type MemoryOffsetStore struct {
	mu      sync.Mutex
	offsets map[string]string
}

// NewMemoryOffsetStore returns an empty volatile offset store.
func NewMemoryOffsetStore() *MemoryOffsetStore {
	return &MemoryOffsetStore{offsets: make(map[string]string)}
}

func (s *MemoryOffsetStore) Get(feedKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.offsets[feedKey]
	return cursor, ok, nil
}

func (s *MemoryOffsetStore) Set(feedKey, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[feedKey] = cursor
	return nil
}

// FileOffsetStore persists cursors as a single JSON document, loaded eagerly
// at construction and rewritten in full on every Set.
type FileOffsetStore struct {
	mu       sync.Mutex
	filePath string
	offsets  map[string]string
}

// NewFileOffsetStore loads (or initializes) the offset document at filePath.
// A corrupt document is treated as empty rather than failing startup; the
// worst case is re-delivery of already-processed events.
func NewFileOffsetStore(filePath string) (*FileOffsetStore, error) {
	store := &FileOffsetStore{
		filePath: filePath,
		offsets:  make(map[string]string),
	}

	raw, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offset file: %w", err)
	}
	if err := json.Unmarshal(raw, &store.offsets); err != nil {
		store.offsets = make(map[string]string)
	}
	return store, nil
}

func (s *FileOffsetStore) Get(feedKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.offsets[feedKey]
	return cursor, ok, nil
}

func (s *FileOffsetStore) Set(feedKey, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offsets[feedKey] = cursor

	raw, err := json.MarshalIndent(s.offsets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode offsets: %w", err)
	}

	// Write to a sibling temp file and rename so a crash mid-write leaves
	// the previous document intact.
	tmpPath := s.filePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create offset directory: %w", err)
	}
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("write offsets: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}
