package strata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore implements Store using the local filesystem.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at the given directory.
// The directory must exist.
//
// Consistency: Immediate read-after-write on local filesystems.
func NewFS(root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	return &fsStore{root: abs}, nil
}

// NewFSFactory returns a StoreFactory for a filesystem store.
func NewFSFactory(root string) StoreFactory {
	return func() (Store, error) { return NewFS(root) }
}

func (f *fsStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(fullPath); err == nil {
		return ErrPathExists
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrPathExists
		}
		return err
	}

	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		// A half-written immutable object would shadow every retry.
		_ = os.Remove(fullPath)
		return err
	}
	return file.Close()
}

func (f *fsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (f *fsStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *fsStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	searchPath, err := f.safePathForPrefix(prefix)
	if err != nil {
		return nil, err
	}
	var paths []string

	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || isFSInternal(info.Name()) {
			return nil
		}
		relPath, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

func (f *fsStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return err
	}
	err = os.Remove(fullPath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *fsStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, errors.New("strata: negative range")
	}
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer(file)()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if offset >= size {
		return []byte{}, nil
	}
	length = min(length, size-offset)

	buf := make([]byte, length)
	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// isFSInternal reports whether name is a lock or temp file owned by the
// store itself.
func isFSInternal(name string) bool {
	return strings.HasSuffix(name, ".lock") || strings.HasPrefix(name, ".strata-cas-")
}

func (f *fsStore) safePathForFile(key string) (string, error) {
	cleaned, ok := CleanKey(key)
	if !ok {
		return "", ErrInvalidPath
	}
	fullPath := filepath.Join(f.root, filepath.FromSlash(cleaned))

	rel, err := filepath.Rel(f.root, fullPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return fullPath, nil
}

func (f *fsStore) safePathForPrefix(prefix string) (string, error) {
	cleaned, ok := cleanPrefix(prefix)
	if !ok {
		return "", ErrInvalidPath
	}
	if cleaned == "" {
		return f.root, nil
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore implements Store using an in-memory map.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an in-memory Store.
//
// Consistency: Immediate.
// Memory is safe for concurrent use.
func NewMemory() Store {
	return &memoryStore{
		data: make(map[string][]byte),
	}
}

// NewMemoryFactory returns a StoreFactory for a fresh in-memory store.
func NewMemoryFactory() StoreFactory {
	return func() (Store, error) { return NewMemory(), nil }
}

func (m *memoryStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, valid := CleanKey(key)
	if !valid {
		return ErrInvalidPath
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[normalized]; exists {
		return ErrPathExists
	}

	m.data[normalized] = data
	return nil
}

func (m *memoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, valid := CleanKey(key)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[normalized]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (m *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	normalized, valid := CleanKey(key)
	if !valid {
		return false, ErrInvalidPath
	}

	m.mu.RLock()
	_, exists := m.data[normalized]
	m.mu.RUnlock()

	return exists, nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, valid := cleanPrefix(prefix)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var paths []string
	for path := range m.data {
		if strings.HasPrefix(path, normalized) {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, valid := CleanKey(key)
	if !valid {
		return ErrInvalidPath
	}

	m.mu.Lock()
	delete(m.data, normalized)
	m.mu.Unlock()

	return nil
}

func (m *memoryStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, errors.New("strata: negative range")
	}
	normalized, valid := CleanKey(key)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.data[normalized]
	if !exists {
		return nil, ErrNotFound
	}
	size := int64(len(data))
	if offset >= size {
		return []byte{}, nil
	}
	end := min(offset+length, size)
	return bytes.Clone(data[offset:end]), nil
}

// CompareAndSwap atomically replaces the content at key. See
// ConditionalWriter for semantics.
func (m *memoryStore) CompareAndSwap(ctx context.Context, key, expected, replacement string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, valid := CleanKey(key)
	if !valid {
		return ErrInvalidPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.data[normalized]
	switch {
	case !exists && expected == "":
	case !exists:
		return ErrSnapshotConflict
	case expected == "" || string(current) != expected:
		return ErrSnapshotConflict
	}
	m.data[normalized] = []byte(replacement)
	return nil
}

// -----------------------------------------------------------------------------
// Key normalization
// -----------------------------------------------------------------------------

// CleanKey normalizes an object key to its relative slash-separated form.
// It reports false for empty keys and keys that escape the store root.
func CleanKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(key)))
	cleaned = strings.TrimLeft(cleaned, "/")

	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}

	return cleaned, true
}

func cleanPrefix(prefix string) (string, bool) {
	if prefix == "" {
		return "", true
	}
	trailing := strings.HasSuffix(prefix, "/")

	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(prefix)))
	cleaned = strings.TrimLeft(cleaned, "/")

	if cleaned == "." || cleaned == "" {
		return "", true
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if trailing {
		cleaned += "/"
	}
	return cleaned, true
}
