// Package zarr exposes a strata Dataset through the Zarr v3 key/value
// protocol, so Zarr clients can read and write a versioned dataset as if it
// were a plain store.
//
// Keys follow the Zarr v3 layout: "zarr.json" is the root group,
// "<path>/zarr.json" the metadata of the node at /<path>, and
// "<array>/c/<i>/<j>/..." the chunk of <array> at those coordinates. Only
// the "/" chunk key separator is understood.
package zarr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pithecene-io/strata/strata"
)

// AccessMode selects whether a Store accepts mutations.
type AccessMode int

const (
	// ReadOnly rejects every mutation with ErrAccessDenied.
	ReadOnly AccessMode = iota
	// ReadWrite allows mutations and commits.
	ReadWrite
)

func (m AccessMode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

var (
	// ErrAccessDenied is returned by mutations on a ReadOnly store.
	ErrAccessDenied = errors.New("zarr: access denied")

	// ErrInvalidKey indicates a key that is neither a metadata key nor a
	// chunk key.
	ErrInvalidKey = errors.New("zarr: invalid key")

	// ErrInvalidMetadata indicates a zarr.json document that cannot be
	// decoded.
	ErrInvalidMetadata = errors.New("zarr: invalid metadata document")
)

const metadataFile = "zarr.json"

// Store adapts a Dataset session to Zarr keys. Like the Dataset it wraps,
// a Store is not safe for concurrent use.
type Store struct {
	ds   *strata.Dataset
	mode AccessMode
}

// NewStore wraps an open Dataset.
func NewStore(ds *strata.Dataset, mode AccessMode) *Store {
	return &Store{ds: ds, mode: mode}
}

// FromRepository checks out branch and wraps the resulting session.
// Commit then moves the branch.
func FromRepository(ctx context.Context, repo *strata.Repository, mode AccessMode, branch string) (*Store, error) {
	if branch == "" {
		branch = repo.DefaultBranch()
	}
	ds, err := repo.Checkout(ctx, branch)
	if err != nil {
		return nil, err
	}
	return NewStore(ds, mode), nil
}

// Dataset returns the wrapped session.
func (s *Store) Dataset() *strata.Dataset { return s.ds }

// Mode returns the access mode.
func (s *Store) Mode() AccessMode { return s.mode }

func (s *Store) writable(op, key string) error {
	if s.mode != ReadWrite {
		return fmt.Errorf("zarr: %s %s: %w", op, key, ErrAccessDenied)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Key parsing
// -----------------------------------------------------------------------------

// parsedKey is either a metadata key (coords nil) or a chunk key.
type parsedKey struct {
	path   strata.Path
	coords strata.ChunkIndices
}

func (k parsedKey) isChunk() bool { return k.coords != nil }

func parseKey(key string) (parsedKey, error) {
	segs := strings.Split(key, "/")
	if slices.Contains(segs, "") {
		return parsedKey{}, fmt.Errorf("zarr: key %q: %w", key, ErrInvalidKey)
	}

	if segs[len(segs)-1] == metadataFile {
		p, err := strata.NewPath("/" + strings.Join(segs[:len(segs)-1], "/"))
		if err != nil {
			return parsedKey{}, fmt.Errorf("zarr: key %q: %w", key, ErrInvalidKey)
		}
		return parsedKey{path: p}, nil
	}

	// Trailing numeric segments are coordinates; the one before them must
	// be the "c" marker.
	i := len(segs)
	for i > 0 && isIndex(segs[i-1]) {
		i--
	}
	if i < 2 || segs[i-1] != "c" {
		return parsedKey{}, fmt.Errorf("zarr: key %q: %w", key, ErrInvalidKey)
	}
	coords := make(strata.ChunkIndices, 0, len(segs)-i)
	for _, seg := range segs[i:] {
		v, err := strconv.ParseUint(seg, 10, 64)
		if err != nil {
			return parsedKey{}, fmt.Errorf("zarr: key %q: %w", key, ErrInvalidKey)
		}
		coords = append(coords, v)
	}
	p, err := strata.NewPath("/" + strings.Join(segs[:i-1], "/"))
	if err != nil {
		return parsedKey{}, fmt.Errorf("zarr: key %q: %w", key, ErrInvalidKey)
	}
	return parsedKey{path: p, coords: coords}, nil
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// metadataKey is the zarr.json key of the node at p.
func metadataKey(p strata.Path) string {
	if p.IsRoot() {
		return metadataFile
	}
	return strings.TrimPrefix(string(p), "/") + "/" + metadataFile
}

// chunkKey is the key of the chunk of array p at idx.
func chunkKey(p strata.Path, idx strata.ChunkIndices) string {
	var b strings.Builder
	b.WriteString(strings.TrimPrefix(string(p), "/"))
	b.WriteString("/c")
	for _, v := range idx {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Get returns the selected bytes of the value at key. Missing nodes and
// unwritten chunks return strata.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string, rng strata.ByteRange) ([]byte, error) {
	k, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	if k.isChunk() {
		data, err := s.ds.GetChunk(ctx, k.path, k.coords, rng)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, fmt.Errorf("zarr: get %s: %w", key, strata.ErrNotFound)
		}
		return data, nil
	}

	n, err := s.ds.GetNode(ctx, k.path)
	if err != nil {
		return nil, err
	}
	doc, err := encodeNode(n)
	if err != nil {
		return nil, fmt.Errorf("zarr: get %s: %w", key, err)
	}
	return rng.Slice(doc), nil
}

// Exists reports whether key holds a value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	k, err := parseKey(key)
	if err != nil {
		return false, err
	}
	if k.isChunk() {
		p, err := s.ds.GetChunkRef(ctx, k.path, k.coords)
		if errors.Is(err, strata.ErrNotFound) {
			return false, nil
		}
		return p != nil, err
	}
	_, err = s.ds.GetNode(ctx, k.path)
	if errors.Is(err, strata.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListPrefix returns every key beginning with prefix, in lexical order.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	nodes, err := s.ds.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for n := range nodes {
		if k := metadataKey(n.Path); strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
		if !n.IsArray() {
			continue
		}
		refs, err := s.ds.ListChunks(ctx, n.Path)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if k := chunkKey(n.Path, ref.Indices); strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// Set stores value at key. A zarr.json value creates or updates the node;
// a chunk value is staged inline.
//
// Setting metadata of a different node type than the existing node at that
// path fails with strata.ErrAlreadyExists.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.writable("set", key); err != nil {
		return err
	}
	k, err := parseKey(key)
	if err != nil {
		return err
	}
	if k.isChunk() {
		return s.ds.SetChunk(ctx, k.path, k.coords, value)
	}

	doc, err := decodeMetadata(value)
	if err != nil {
		return fmt.Errorf("zarr: set %s: %w", key, err)
	}
	existing, err := s.ds.GetNode(ctx, k.path)
	switch {
	case errors.Is(err, strata.ErrNodeNotFound):
		if doc.Array == nil {
			err = s.ds.AddGroup(ctx, k.path)
		} else {
			err = s.ds.AddArray(ctx, k.path, *doc.Array)
		}
	case err != nil:
	case existing.IsArray() != (doc.Array != nil):
		err = fmt.Errorf("zarr: set %s: node is a %s: %w", key, existing.Type, strata.ErrAlreadyExists)
	case doc.Array != nil:
		err = s.ds.UpdateArray(ctx, k.path, *doc.Array)
	}
	if err != nil {
		return err
	}
	return s.ds.SetUserAttributes(ctx, k.path, doc.Attributes)
}

// SetVirtualRef stages a reference to bytes held outside the repository
// as the chunk at key.
func (s *Store) SetVirtualRef(ctx context.Context, key string, ref strata.VirtualPayload) error {
	if err := s.writable("set virtual ref", key); err != nil {
		return err
	}
	k, err := parseKey(key)
	if err != nil {
		return err
	}
	if !k.isChunk() {
		return fmt.Errorf("zarr: set virtual ref %s: not a chunk key: %w", key, ErrInvalidKey)
	}
	return s.ds.SetChunkRef(ctx, k.path, k.coords, ref)
}

// Delete removes the value at key. Deleting a zarr.json removes the node,
// and for groups everything below it.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.writable("delete", key); err != nil {
		return err
	}
	k, err := parseKey(key)
	if err != nil {
		return err
	}
	if k.isChunk() {
		return s.ds.SetChunkRef(ctx, k.path, k.coords, nil)
	}
	n, err := s.ds.GetNode(ctx, k.path)
	if err != nil {
		return err
	}
	if n.IsArray() {
		return s.ds.DeleteArray(ctx, k.path)
	}
	return s.ds.DeleteGroup(ctx, k.path)
}

// Commit flushes staged changes with msg and returns the new snapshot.
func (s *Store) Commit(ctx context.Context, msg string) (strata.SnapshotID, error) {
	if err := s.writable("commit", ""); err != nil {
		return strata.SnapshotID{}, err
	}
	return s.ds.FlushWithMessage(ctx, msg)
}
