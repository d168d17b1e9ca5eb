package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ArchiveStore = (*Memory)(nil)

// Memory is an in-memory ArchiveStore used by tests and ephemeral
// environments. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Write stores data at path.
func (m *Memory) Write(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = append([]byte(nil), data...)
	return nil
}

// Read returns the blob at path, or ErrNotFound if it does not exist.
func (m *Memory) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", driven.ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the blob at path. Deleting a missing blob is not an error.
func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

// DeleteMany removes all given paths, ignoring ones that never existed.
func (m *Memory) DeleteMany(_ context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, path := range paths {
		delete(m.blobs, path)
	}
	return nil
}

// ListPrefix returns all blob paths under the given prefix, sorted.
func (m *Memory) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for path := range m.blobs {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
