package strata

import "slices"

// chunkChange is a staged chunk write. A nil payload deletes the chunk.
type chunkChange struct {
	indices ChunkIndices
	payload ChunkPayload
}

// changeSet is the uncommitted delta of a session. Lookups consult the
// change set before the base snapshot.
type changeSet struct {
	// newNodes holds nodes added in this session. Their chunks never fall
	// back to the base snapshot, even when a node of the same path existed
	// there and was deleted.
	newNodes map[Path]*Node

	// deleted holds base snapshot paths removed in this session.
	deleted map[Path]struct{}

	// updatedMeta and updatedAttrs hold edits to base snapshot nodes.
	// Presence in updatedAttrs means changed; a nil value clears.
	updatedMeta  map[Path]*ZarrArrayMetadata
	updatedAttrs map[Path][]byte

	chunks map[Path]map[string]chunkChange
}

func newChangeSet() *changeSet {
	return &changeSet{
		newNodes:     make(map[Path]*Node),
		deleted:      make(map[Path]struct{}),
		updatedMeta:  make(map[Path]*ZarrArrayMetadata),
		updatedAttrs: make(map[Path][]byte),
		chunks:       make(map[Path]map[string]chunkChange),
	}
}

func (c *changeSet) isEmpty() bool {
	return len(c.newNodes) == 0 && len(c.deleted) == 0 &&
		len(c.updatedMeta) == 0 && len(c.updatedAttrs) == 0 && len(c.chunks) == 0
}

func (c *changeSet) addNode(n Node) {
	c.newNodes[n.Path] = &n
}

// deleteNode removes path from the effective view. inBase reports whether
// the path exists in the base snapshot.
func (c *changeSet) deleteNode(path Path, inBase bool) {
	delete(c.newNodes, path)
	delete(c.updatedMeta, path)
	delete(c.updatedAttrs, path)
	delete(c.chunks, path)
	if inBase {
		c.deleted[path] = struct{}{}
	}
}

func (c *changeSet) setAttrs(path Path, attrs []byte) {
	if n, ok := c.newNodes[path]; ok {
		n.UserAttributes = attrs
		return
	}
	c.updatedAttrs[path] = attrs
}

func (c *changeSet) setMeta(path Path, meta *ZarrArrayMetadata) {
	if n, ok := c.newNodes[path]; ok {
		n.Array = meta
		return
	}
	c.updatedMeta[path] = meta
}

func (c *changeSet) setChunk(path Path, idx ChunkIndices, p ChunkPayload) {
	m, ok := c.chunks[path]
	if !ok {
		m = make(map[string]chunkChange)
		c.chunks[path] = m
	}
	m[coordsKey(idx)] = chunkChange{indices: slices.Clone(idx), payload: p}
}

// chunk returns the staged change for a chunk, if any.
func (c *changeSet) chunk(path Path, idx ChunkIndices) (chunkChange, bool) {
	ch, ok := c.chunks[path][coordsKey(idx)]
	return ch, ok
}

// apply overlays the staged node edits on a base node.
func (c *changeSet) apply(n Node) Node {
	if meta, ok := c.updatedMeta[n.Path]; ok {
		n.Array = meta
	}
	if attrs, ok := c.updatedAttrs[n.Path]; ok {
		n.UserAttributes = attrs
	}
	return n
}
