// Package testutil provides scratch-space helpers for the examples.
package testutil

import (
	"fmt"
	"os"
)

// TempDir creates a scratch directory named after an example. The returned
// cleanup removes the directory and everything below it; its errors are
// ignored.
//
// Usage:
//
//	dir, cleanup, err := testutil.TempDir("virtual-refs")
//	if err != nil {
//		return err
//	}
//	defer cleanup()
func TempDir(name string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "strata-"+name+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
