package keystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore reads and writes key files on the local disk.
type LocalStore struct{}

// NewLocalStore creates a disk-backed store
func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func (s *LocalStore) ReadText(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &ErrNotFound{Path: path}
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func (s *LocalStore) WriteText(ctx context.Context, path, content string) error {
	return atomicWriteFile(path, []byte(content), 0o644)
}

func (s *LocalStore) WriteBytes(ctx context.Context, path string, data []byte) error {
	return atomicWriteFile(path, data, 0o644)
}

// WritePrivate writes data readable by the owner only.
func (s *LocalStore) WritePrivate(ctx context.Context, path string, data []byte) error {
	return atomicWriteFile(path, data, 0o600)
}

func (s *LocalStore) PathExists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

func (s *LocalStore) CreateDirectory(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

func (s *LocalStore) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// atomicWriteFile writes to a temp file in the target directory and renames
// it into place, so a crash never leaves a half-written key behind.
func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	// Windows refuses to rename over an existing file
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
