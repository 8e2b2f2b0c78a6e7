// Package blob abstracts the document store the invoice workflow writes
// generated PDFs to.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store persists named binary documents. Put overwrites an existing name, so
// writers using deterministic names stay idempotent across retries.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (url string, err error)
}

// FilesystemStore writes documents below a root directory.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}

	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) Put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.root, filepath.Base(name))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing blob %q: %w", name, err)
	}

	return "file://" + path, nil
}

// MemoryStore keeps documents in memory, for tests.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

func (s *MemoryStore) Put(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[name] = data

	return "memory://" + name, nil
}

// Names returns the stored blob names in sorted order.
func (s *MemoryStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Get returns the stored document, or nil if the name is unknown.
func (s *MemoryStore) Get(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.blobs[name]
}
