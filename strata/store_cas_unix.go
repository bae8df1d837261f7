//go:build unix

package strata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// CompareAndSwap atomically replaces the content at key if and only if
// the current content matches expected. See ConditionalWriter for semantics.
//
// Uses flock advisory locking with a companion .lock file and temp-file+rename
// for atomic writes under the lock. Unix-only (syscall.Flock).
func (f *fsStore) CompareAndSwap(ctx context.Context, key, expected, replacement string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	lockPath := fullPath + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("strata: open lock file: %w", err)
	}
	defer closer(lockFile)()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("strata: flock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	current, err := os.ReadFile(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	fileExists := err == nil

	switch {
	case !fileExists && expected == "":
	case !fileExists, expected == "":
		return ErrSnapshotConflict
	case string(current) != expected:
		return ErrSnapshotConflict
	}

	tmp, err := os.CreateTemp(dir, ".strata-cas-*")
	if err != nil {
		return fmt.Errorf("strata: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(replacement); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return nil
}
