// Package strata provides a versioned storage engine for chunked,
// multi-dimensional array datasets laid out the Zarr v3 way.
//
// A Dataset is a session over an immutable snapshot: it stages structural
// edits (groups, arrays, attributes) and chunk references, and Flush folds
// them into a new immutable snapshot. Chunk payloads are inline bytes, blobs
// in the backing Store, or virtual references into foreign objects.
// A Repository adds named branches updated with compare-and-swap.
package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the underlying object storage system.
//
// Implementations may target filesystems, S3, or other object stores.
// Keys are relative slash-separated paths. Objects are immutable once
// written; the only mutable objects are branch pointers, which are updated
// through ConditionalWriter.
type Store interface {
	// Put writes data to the given key. Returns ErrPathExists if the key is taken.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get retrieves data from the given key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the key if it exists.
	Delete(ctx context.Context, key string) error

	// ReadRange reads length bytes starting at offset. It must be a true
	// partial read. Ranges past EOF are clamped; an offset beyond EOF
	// yields an empty slice.
	ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
}

// ConditionalWriter is implemented by stores that can atomically replace
// small objects. Branch pointers require it.
type ConditionalWriter interface {
	// CompareAndSwap replaces the content at key with replacement if and
	// only if the current content equals expected. An empty expected value
	// means the key must not exist yet. Returns ErrSnapshotConflict on mismatch.
	CompareAndSwap(ctx context.Context, key, expected, replacement string) error
}

// StoreFactory creates a Store.
type StoreFactory func() (Store, error)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested key, node, or chunk does not exist.
	ErrNotFound = errNotFound{}

	// ErrNodeNotFound indicates a path is absent from the effective view,
	// or is not a node of the expected type. It also matches ErrNotFound.
	ErrNodeNotFound = errNodeNotFound{}

	// ErrPathExists indicates an attempt to overwrite an immutable object.
	ErrPathExists = errPathExists{}

	// ErrAlreadyExists indicates a node already occupies a path.
	ErrAlreadyExists = errors.New("node already exists")

	// ErrInvalidPath indicates a malformed node path or storage key, or a
	// node whose parent is not a group.
	ErrInvalidPath = errors.New("invalid path")

	// ErrRankMismatch indicates chunk indices whose length differs from the
	// array rank.
	ErrRankMismatch = errors.New("chunk indices rank mismatch")

	// ErrInvalidArrayMetadata indicates inconsistent array metadata.
	ErrInvalidArrayMetadata = errors.New("invalid array metadata")

	// ErrInvalidLocation indicates a malformed virtual chunk location.
	ErrInvalidLocation = errors.New("invalid virtual chunk location")

	// ErrInvalidPayload indicates a chunk payload whose length or offset
	// cannot be addressed as a signed 64-bit byte position.
	ErrInvalidPayload = errors.New("invalid chunk payload")

	// ErrBackend indicates an I/O or auth failure of the storage medium.
	ErrBackend = errors.New("storage backend failure")

	// ErrSnapshotConflict is returned by ConditionalWriter when the current
	// content does not match the expected value.
	ErrSnapshotConflict = errors.New("snapshot conflict")

	// ErrConflict indicates another writer advanced the branch since the
	// session was opened. Re-open and re-apply.
	ErrConflict = errors.New("branch conflict")

	// ErrChecksumMismatch indicates a stored chunk blob failed verification.
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")

	// ErrRepositoryExists indicates a repository is already initialized.
	ErrRepositoryExists = errors.New("repository already exists")

	// ErrRepositoryNotFound indicates no repository exists in the store.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrConditionalWriteUnsupported indicates a store without
	// ConditionalWriter was used where branch updates are required.
	ErrConditionalWriteUnsupported = errors.New("store does not support conditional writes")
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errNodeNotFound struct{}

func (errNodeNotFound) Error() string { return "node not found" }

func (errNodeNotFound) Is(target error) bool { return target == ErrNotFound }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

// LocationError describes a virtual chunk location that could not be parsed
// or resolved. It matches ErrInvalidLocation.
type LocationError struct {
	Location string
	Reason   string
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("strata: invalid virtual chunk location %q: %s", e.Location, e.Reason)
}

// Is reports whether target is ErrInvalidLocation.
func (e *LocationError) Is(target error) bool { return target == ErrInvalidLocation }

// BackendError wraps a failure of the underlying storage medium with the
// operation and key that failed. It matches ErrBackend and unwraps to the
// original error.
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("strata: backend %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is reports whether target is ErrBackend.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// backendError classifies a store error. Contract errors pass through
// unchanged; everything else becomes a *BackendError.
func backendError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPathExists),
		errors.Is(err, ErrSnapshotConflict),
		errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrBackend),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &BackendError{Op: op, Key: key, Err: err}
}
