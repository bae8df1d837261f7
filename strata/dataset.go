package strata

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"

	"go.uber.org/zap"
)

// -----------------------------------------------------------------------------
// Dataset session
// -----------------------------------------------------------------------------

// Dataset is a session over one version of a dataset. It reads the base
// snapshot lazily, stages edits in memory, and folds them into a new
// immutable snapshot on Flush.
//
// A Dataset exclusively owns its staged changes and is not safe for
// concurrent use. Sessions may share a Store and a VirtualResolver.
type Dataset struct {
	store  Store
	cfg    datasetConfig
	log    *zap.Logger
	branch string

	baseID    SnapshotID
	base      *snapshot
	manifests map[ManifestID]manifest
	changes   *changeSet
}

// Create starts a session over an empty dataset. The first Flush writes a
// snapshot with no parent.
func Create(store Store, opts ...Option) (*Dataset, error) {
	cfg, err := buildDatasetConfig(opts)
	if err != nil {
		return nil, err
	}
	return newDataset(store, cfg, SnapshotID{}, "")
}

// Update starts a session at the given snapshot. The snapshot is read on
// first use; a missing snapshot surfaces as ErrNotFound from that call.
func Update(store Store, id SnapshotID, opts ...Option) (*Dataset, error) {
	if id.IsZero() {
		return nil, errors.New("strata: update requires a snapshot id")
	}
	cfg, err := buildDatasetConfig(opts)
	if err != nil {
		return nil, err
	}
	return newDataset(store, cfg, id, "")
}

func newDataset(store Store, cfg datasetConfig, base SnapshotID, branch string) (*Dataset, error) {
	if store == nil {
		return nil, errors.New("strata: store is required")
	}
	d := &Dataset{
		store:     store,
		cfg:       cfg,
		log:       cfg.logger,
		branch:    branch,
		baseID:    base,
		manifests: make(map[ManifestID]manifest),
		changes:   newChangeSet(),
	}
	if base.IsZero() {
		d.base = &snapshot{nodes: make(map[Path]Node)}
	}
	return d, nil
}

// SnapshotID returns the base version of the session: the snapshot it was
// opened at, or the one written by the last successful Flush. It is zero
// for a created session that was never flushed.
func (d *Dataset) SnapshotID() SnapshotID { return d.baseID }

// Branch returns the branch the session commits to, or "" when detached.
func (d *Dataset) Branch() string { return d.branch }

// HasUncommittedChanges reports whether anything is staged.
func (d *Dataset) HasUncommittedChanges() bool { return !d.changes.isEmpty() }

// loadBase reads the base snapshot once.
func (d *Dataset) loadBase(ctx context.Context) (*snapshot, error) {
	if d.base != nil {
		return d.base, nil
	}
	s, err := readSnapshot(ctx, d.store, d.baseID)
	if err != nil {
		return nil, err
	}
	d.base = s
	return s, nil
}

// loadManifest reads a manifest once per session.
func (d *Dataset) loadManifest(ctx context.Context, id ManifestID) (manifest, error) {
	if m, ok := d.manifests[id]; ok {
		return m, nil
	}
	m, err := readManifest(ctx, d.store, id)
	if err != nil {
		return nil, err
	}
	d.manifests[id] = m
	return m, nil
}

// -----------------------------------------------------------------------------
// Node lookup
// -----------------------------------------------------------------------------

// lookup resolves path in the effective view. fresh reports whether the
// node was added in this session. Every Path-taking method goes through
// lookup, so a path that is not normalized never reaches staged state.
func (d *Dataset) lookup(ctx context.Context, path Path) (n Node, fresh bool, err error) {
	if err := path.Validate(); err != nil {
		return Node{}, false, err
	}
	base, err := d.loadBase(ctx)
	if err != nil {
		return Node{}, false, err
	}
	if added, ok := d.changes.newNodes[path]; ok {
		return *added, true, nil
	}
	if _, gone := d.changes.deleted[path]; gone {
		return Node{}, false, ErrNodeNotFound
	}
	bn, ok := base.nodes[path]
	if !ok {
		return Node{}, false, ErrNodeNotFound
	}
	return d.changes.apply(bn), false, nil
}

// GetNode returns the node at path as seen by this session.
func (d *Dataset) GetNode(ctx context.Context, path Path) (Node, error) {
	n, _, err := d.lookup(ctx, path)
	if err != nil {
		return Node{}, fmt.Errorf("strata: get node %s: %w", path, err)
	}
	return n.clone(), nil
}

// ListNodes returns every node in the effective view. The returned sequence
// is derived from the session's state each time it is ranged over, so it
// reflects edits staged in between. Nodes are yielded in path order.
func (d *Dataset) ListNodes(ctx context.Context) (iter.Seq[Node], error) {
	if _, err := d.loadBase(ctx); err != nil {
		return nil, fmt.Errorf("strata: list nodes: %w", err)
	}
	return func(yield func(Node) bool) {
		for _, n := range d.effectiveNodes() {
			if !yield(n.clone()) {
				return
			}
		}
	}, nil
}

// effectiveNodes materializes base plus staged changes, sorted by path.
// The base must be loaded.
func (d *Dataset) effectiveNodes() []Node {
	out := make([]Node, 0, len(d.base.nodes)+len(d.changes.newNodes))
	for path, n := range d.base.nodes {
		if _, gone := d.changes.deleted[path]; gone {
			continue
		}
		if _, shadowed := d.changes.newNodes[path]; shadowed {
			continue
		}
		out = append(out, d.changes.apply(n))
	}
	for _, n := range d.changes.newNodes {
		out = append(out, *n)
	}
	slices.SortFunc(out, func(a, b Node) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return out
}

// -----------------------------------------------------------------------------
// Structural edits
// -----------------------------------------------------------------------------

// checkParent requires the parent of a new non-root node to be a group.
func (d *Dataset) checkParent(ctx context.Context, path Path) error {
	if path.IsRoot() {
		return nil
	}
	parent, _, err := d.lookup(ctx, path.Parent())
	if errors.Is(err, ErrNodeNotFound) {
		return fmt.Errorf("parent %s does not exist: %w", path.Parent(), ErrInvalidPath)
	}
	if err != nil {
		return err
	}
	if !parent.IsGroup() {
		return fmt.Errorf("parent %s is not a group: %w", path.Parent(), ErrInvalidPath)
	}
	return nil
}

func (d *Dataset) checkFree(ctx context.Context, path Path) error {
	_, _, err := d.lookup(ctx, path)
	switch {
	case err == nil:
		return ErrAlreadyExists
	case errors.Is(err, ErrNodeNotFound):
		return nil
	default:
		return err
	}
}

// AddGroup stages a new group at path.
func (d *Dataset) AddGroup(ctx context.Context, path Path) error {
	if err := d.checkFree(ctx, path); err != nil {
		return fmt.Errorf("strata: add group %s: %w", path, err)
	}
	if err := d.checkParent(ctx, path); err != nil {
		return fmt.Errorf("strata: add group %s: %w", path, err)
	}
	d.changes.addNode(Node{Path: path, Type: NodeTypeGroup})
	return nil
}

// AddArray stages a new array at path.
func (d *Dataset) AddArray(ctx context.Context, path Path, meta ZarrArrayMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if path.IsRoot() {
		return fmt.Errorf("strata: add array %s: root must be a group: %w", path, ErrInvalidPath)
	}
	if err := d.checkFree(ctx, path); err != nil {
		return fmt.Errorf("strata: add array %s: %w", path, err)
	}
	if err := d.checkParent(ctx, path); err != nil {
		return fmt.Errorf("strata: add array %s: %w", path, err)
	}
	d.changes.addNode(Node{Path: path, Type: NodeTypeArray, Array: meta.Clone()})
	return nil
}

// UpdateArray replaces the metadata of an existing array. The rank may not
// change, since staged and committed chunk coordinates depend on it.
func (d *Dataset) UpdateArray(ctx context.Context, path Path, meta ZarrArrayMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	n, err := d.array(ctx, path)
	if err != nil {
		return fmt.Errorf("strata: update array %s: %w", path, err)
	}
	if n.Array.Rank() != meta.Rank() {
		return fmt.Errorf("strata: update array %s: rank %d to %d: %w",
			path, n.Array.Rank(), meta.Rank(), ErrRankMismatch)
	}
	d.changes.setMeta(path, meta.Clone())
	return nil
}

// DeleteGroup removes a group and everything below it. The root group
// always exists, so deleting it removes only its descendants.
func (d *Dataset) DeleteGroup(ctx context.Context, path Path) error {
	n, _, err := d.lookup(ctx, path)
	if err == nil && !n.IsGroup() {
		err = ErrNodeNotFound
	}
	if err != nil {
		return fmt.Errorf("strata: delete group %s: %w", path, err)
	}
	for _, child := range d.effectiveNodes() {
		if path.IsAncestorOf(child.Path) {
			d.deleteNode(child.Path)
		}
	}
	if !path.IsRoot() {
		d.deleteNode(path)
	}
	return nil
}

// DeleteArray removes an array and its chunks.
func (d *Dataset) DeleteArray(ctx context.Context, path Path) error {
	if _, err := d.array(ctx, path); err != nil {
		return fmt.Errorf("strata: delete array %s: %w", path, err)
	}
	d.deleteNode(path)
	return nil
}

func (d *Dataset) deleteNode(path Path) {
	_, inBase := d.base.nodes[path]
	d.changes.deleteNode(path, inBase)
}

// SetUserAttributes replaces the user attributes of a node wholesale. nil
// clears them.
func (d *Dataset) SetUserAttributes(ctx context.Context, path Path, attrs []byte) error {
	if _, _, err := d.lookup(ctx, path); err != nil {
		return fmt.Errorf("strata: set user attributes %s: %w", path, err)
	}
	d.changes.setAttrs(path, slices.Clone(attrs))
	return nil
}

// array resolves path to an array node.
func (d *Dataset) array(ctx context.Context, path Path) (Node, error) {
	n, _, err := d.lookup(ctx, path)
	if err != nil {
		return Node{}, err
	}
	if !n.IsArray() {
		return Node{}, fmt.Errorf("%s is a group: %w", path, ErrNodeNotFound)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Chunk references
// -----------------------------------------------------------------------------

// SetChunkRef stages a chunk payload. A nil payload deletes the chunk.
// Virtual locations are validated here so a malformed reference never
// reaches a snapshot.
func (d *Dataset) SetChunkRef(ctx context.Context, path Path, idx ChunkIndices, payload ChunkPayload) error {
	n, err := d.array(ctx, path)
	if err != nil {
		return fmt.Errorf("strata: set chunk %s %v: %w", path, idx, err)
	}
	if len(idx) != n.Array.Rank() {
		return fmt.Errorf("strata: set chunk %s %v: rank %d: %w", path, idx, n.Array.Rank(), ErrRankMismatch)
	}
	switch p := payload.(type) {
	case nil:
	case InlinePayload:
	case StoredPayload:
		if p.Length > math.MaxInt64 {
			return fmt.Errorf("strata: set chunk %s %v: length %d out of range: %w", path, idx, p.Length, ErrInvalidPayload)
		}
	case VirtualPayload:
		if err := p.Location.validate(); err != nil {
			return fmt.Errorf("strata: set chunk %s %v: %w", path, idx, err)
		}
		if p.Offset > math.MaxInt64 || p.Length > math.MaxInt64-p.Offset {
			return fmt.Errorf("strata: set chunk %s %v: window [%d, +%d) out of range: %w",
				path, idx, p.Offset, p.Length, ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("strata: set chunk %s %v: unknown payload %T", path, idx, payload)
	}
	if payload != nil {
		payload = clonePayload(payload)
	}
	d.changes.setChunk(path, idx, payload)
	return nil
}

// SetChunk stages data as an inline chunk. Chunks larger than the inline
// threshold are written to the store on Flush.
func (d *Dataset) SetChunk(ctx context.Context, path Path, idx ChunkIndices, data []byte) error {
	return d.SetChunkRef(ctx, path, idx, InlinePayload{Data: data})
}

// GetChunkRef returns the payload of a chunk, or nil if it was never written.
func (d *Dataset) GetChunkRef(ctx context.Context, path Path, idx ChunkIndices) (ChunkPayload, error) {
	p, err := d.chunkRef(ctx, path, idx)
	if err != nil {
		return nil, fmt.Errorf("strata: get chunk %s %v: %w", path, idx, err)
	}
	if p == nil {
		return nil, nil
	}
	return clonePayload(p), nil
}

func (d *Dataset) chunkRef(ctx context.Context, path Path, idx ChunkIndices) (ChunkPayload, error) {
	n, fresh, err := d.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	if !n.IsArray() {
		return nil, fmt.Errorf("%s is a group: %w", path, ErrNodeNotFound)
	}
	if len(idx) != n.Array.Rank() {
		return nil, fmt.Errorf("rank %d: %w", n.Array.Rank(), ErrRankMismatch)
	}
	if ch, ok := d.changes.chunk(path, idx); ok {
		return ch.payload, nil
	}
	if fresh || n.manifest.IsZero() {
		return nil, nil
	}
	m, err := d.loadManifest(ctx, n.manifest)
	if err != nil {
		return nil, err
	}
	return m[coordsKey(idx)], nil
}

// ListChunks returns every written chunk of an array in coordinate order.
func (d *Dataset) ListChunks(ctx context.Context, path Path) ([]ChunkRef, error) {
	m, err := d.arrayManifest(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("strata: list chunks %s: %w", path, err)
	}
	return m.refs()
}

// arrayManifest returns the effective manifest of an array: its base
// manifest with staged chunk changes applied. The result is a fresh map.
func (d *Dataset) arrayManifest(ctx context.Context, path Path) (manifest, error) {
	n, fresh, err := d.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	if !n.IsArray() {
		return nil, fmt.Errorf("%s is a group: %w", path, ErrNodeNotFound)
	}
	out := make(manifest)
	if !fresh && !n.manifest.IsZero() {
		base, err := d.loadManifest(ctx, n.manifest)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, base)
	}
	for key, ch := range d.changes.chunks[path] {
		if ch.payload == nil {
			delete(out, key)
			continue
		}
		out[key] = ch.payload
	}
	return out, nil
}
