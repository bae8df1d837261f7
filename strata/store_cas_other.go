//go:build !unix

package strata

import (
	"context"
	"fmt"
)

// CompareAndSwap is not supported on non-Unix platforms.
// The filesystem implementation requires advisory file locking (flock).
func (f *fsStore) CompareAndSwap(_ context.Context, _, _, _ string) error {
	return fmt.Errorf("strata: filesystem CompareAndSwap requires Unix flock: %w", ErrConditionalWriteUnsupported)
}
