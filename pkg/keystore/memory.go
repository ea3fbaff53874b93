package keystore

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemoryStore provides an in-memory FileStore for tests and dry runs
type MemoryStore struct {
	mu      sync.RWMutex
	files   map[string][]byte
	private map[string]bool
	dirs    map[string]bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:   make(map[string][]byte),
		private: make(map[string]bool),
		dirs:    make(map[string]bool),
	}
}

func cleanPath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

func (m *MemoryStore) ReadText(ctx context.Context, p string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[cleanPath(p)]
	if !ok {
		return "", &ErrNotFound{Path: p}
	}
	return string(data), nil
}

func (m *MemoryStore) WriteText(ctx context.Context, p, content string) error {
	return m.put(p, []byte(content), false)
}

func (m *MemoryStore) WriteBytes(ctx context.Context, p string, data []byte) error {
	return m.put(p, data, false)
}

func (m *MemoryStore) WritePrivate(ctx context.Context, p string, data []byte) error {
	return m.put(p, data, true)
}

func (m *MemoryStore) put(p string, data []byte, private bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cleanPath(p)
	// Copy to prevent external mutation
	m.files[key] = append([]byte(nil), data...)
	m.private[key] = private
	return nil
}

func (m *MemoryStore) PathExists(ctx context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := cleanPath(p)
	if _, ok := m.files[key]; ok {
		return true, nil
	}
	return m.dirs[key], nil
}

func (m *MemoryStore) CreateDirectory(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[cleanPath(p)] = true
	return nil
}

func (m *MemoryStore) Join(elem ...string) string {
	return path.Join(elem...)
}

// Files lists the stored file paths in sorted order
func (m *MemoryStore) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.files))
	for k := range m.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsPrivate reports whether a file was written with WritePrivate
func (m *MemoryStore) IsPrivate(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.private[cleanPath(p)]
}
