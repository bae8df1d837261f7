package strata

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// flushResult is what a successful flush installs into the session.
type flushResult struct {
	snap      *snapshot
	manifests map[ManifestID]manifest
	written   int
	promoted  int
}

// Flush commits the staged changes as a new snapshot and returns its id.
// See FlushWithMessage.
func (d *Dataset) Flush(ctx context.Context) (SnapshotID, error) {
	return d.FlushWithMessage(ctx, "")
}

// FlushWithMessage commits the staged changes as a new snapshot whose
// parent is the session's base, recording msg.
//
// Inline chunks staged in this session that exceed the inline threshold
// are written to chunks/<id> first; then every changed manifest; then the
// snapshot body. A branch-bound session finally moves its branch from the
// base to the new snapshot with compare-and-swap, returning ErrConflict if
// another writer moved it first.
//
// The session changes only after every write succeeds: on any error,
// including cancellation, the base and staged changes are untouched and
// Flush may be retried. Objects written by a failed flush are unreferenced.
func (d *Dataset) FlushWithMessage(ctx context.Context, msg string) (SnapshotID, error) {
	if err := ctx.Err(); err != nil {
		return SnapshotID{}, err
	}
	if _, err := d.loadBase(ctx); err != nil {
		return SnapshotID{}, fmt.Errorf("strata: flush: %w", err)
	}

	res, err := d.materialize(ctx, msg)
	if err != nil {
		return SnapshotID{}, fmt.Errorf("strata: flush: %w", err)
	}

	if d.branch != "" {
		if err := d.advanceBranch(ctx, res.snap.ID); err != nil {
			return SnapshotID{}, err
		}
	}

	d.log.Info("snapshot committed",
		zap.Stringer("snapshot", res.snap.ID),
		zap.Stringer("parent", res.snap.ParentID),
		zap.String("branch", d.branch),
		zap.Int("nodes", len(res.snap.nodes)),
		zap.Int("manifests_written", res.written),
		zap.Int("chunks_promoted", res.promoted),
	)

	d.baseID = res.snap.ID
	d.base = res.snap
	d.manifests = res.manifests
	d.changes = newChangeSet()
	return res.snap.ID, nil
}

// materialize writes blobs, manifests and the snapshot body for base plus
// staged changes. It does not modify the session.
func (d *Dataset) materialize(ctx context.Context, msg string) (*flushResult, error) {
	nodes := d.effectiveNodes()
	res := &flushResult{manifests: make(map[ManifestID]manifest)}

	for i := range nodes {
		n := &nodes[i]
		if !n.IsArray() {
			n.manifest = ManifestID{}
			continue
		}
		_, fresh := d.changes.newNodes[n.Path]
		staged := d.changes.chunks[n.Path]

		if !fresh && len(staged) == 0 {
			// Unchanged chunk set: share the parent's manifest file.
			if m, ok := d.manifests[n.manifest]; ok {
				res.manifests[n.manifest] = m
			}
			continue
		}

		m, err := d.arrayManifest(ctx, n.Path)
		if err != nil {
			return nil, err
		}
		for key, ch := range staged {
			if ch.payload == nil {
				continue
			}
			promoted, ok, err := d.promote(ctx, ch.payload)
			if err != nil {
				return nil, fmt.Errorf("write chunk %s %v: %w", n.Path, ch.indices, err)
			}
			if ok {
				m[key] = promoted
				res.promoted++
			}
		}

		if len(m) == 0 {
			n.manifest = ManifestID{}
			continue
		}
		id, err := writeManifest(ctx, d.store, m)
		if err != nil {
			return nil, err
		}
		n.manifest = id
		res.manifests[id] = m
		res.written++
	}

	snap := &snapshot{
		SnapshotMetadata: SnapshotMetadata{
			ID:        NewSnapshotID(),
			ParentID:  d.baseID,
			CreatedAt: now(),
			Message:   msg,
		},
		nodes: make(map[Path]Node, len(nodes)),
	}
	for _, n := range nodes {
		snap.nodes[n.Path] = n.clone()
	}
	if err := writeSnapshot(ctx, d.store, snap, nodes, d.cfg.compressor); err != nil {
		return nil, err
	}
	res.snap = snap
	return res, nil
}

// promote writes an inline payload above the inline threshold to the store
// and returns the stored payload replacing it.
func (d *Dataset) promote(ctx context.Context, p ChunkPayload) (ChunkPayload, bool, error) {
	in, ok := p.(InlinePayload)
	if !ok || d.cfg.inlineThreshold == 0 || len(in.Data) <= d.cfg.inlineThreshold {
		return nil, false, nil
	}
	id := NewChunkID()
	key := chunkKey(id)
	if err := d.store.Put(ctx, key, bytes.NewReader(in.Data)); err != nil {
		return nil, false, backendError("put", key, err)
	}
	d.log.Debug("chunk promoted", zap.Stringer("chunk", id), zap.Int("bytes", len(in.Data)))
	return StoredPayload{ID: id, Length: uint64(len(in.Data)), Checksum: checksum(in.Data)}, true, nil
}

// advanceBranch moves the session's branch from its base to next.
func (d *Dataset) advanceBranch(ctx context.Context, next SnapshotID) error {
	cw, ok := d.store.(ConditionalWriter)
	if !ok {
		return fmt.Errorf("strata: flush branch %s: %w", d.branch, ErrConditionalWriteUnsupported)
	}
	key := branchKey(d.branch)
	err := cw.CompareAndSwap(ctx, key, d.baseID.String(), next.String())
	if errors.Is(err, ErrSnapshotConflict) {
		d.log.Warn("branch moved by another writer",
			zap.String("branch", d.branch),
			zap.Stringer("expected", d.baseID),
			zap.Stringer("snapshot", next),
		)
		return fmt.Errorf("strata: flush branch %s: %w", d.branch, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("strata: flush branch %s: %w", d.branch, backendError("compare_and_swap", key, err))
	}
	return nil
}
