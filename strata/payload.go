package strata

import (
	"fmt"
	"slices"
)

// ChunkPayload is where a chunk's bytes live. It is a closed set: the only
// implementations are InlinePayload, StoredPayload and VirtualPayload.
type ChunkPayload interface {
	// Len returns the authoritative chunk length in bytes.
	Len() uint64

	isChunkPayload()
}

// InlinePayload carries the chunk bytes inside the manifest.
type InlinePayload struct {
	Data []byte
}

// StoredPayload refers to a blob written by the engine at chunks/<ID>.
type StoredPayload struct {
	ID     ChunkID
	Length uint64
	// Checksum is the hex BLAKE3 digest of the blob; empty when unknown.
	Checksum string
}

// VirtualPayload refers to Length bytes at Offset inside a foreign object.
type VirtualPayload struct {
	Location VirtualChunkLocation
	Offset   uint64
	Length   uint64
}

func (p InlinePayload) Len() uint64  { return uint64(len(p.Data)) }
func (p StoredPayload) Len() uint64  { return p.Length }
func (p VirtualPayload) Len() uint64 { return p.Length }

func (InlinePayload) isChunkPayload()  {}
func (StoredPayload) isChunkPayload()  {}
func (VirtualPayload) isChunkPayload() {}

func (p InlinePayload) String() string { return fmt.Sprintf("inline(%d bytes)", len(p.Data)) }

func (p StoredPayload) String() string {
	return fmt.Sprintf("stored(%s, %d bytes)", p.ID, p.Length)
}

func (p VirtualPayload) String() string {
	return fmt.Sprintf("virtual(%s @%d+%d)", p.Location, p.Offset, p.Length)
}

// clonePayload returns a payload that shares no memory with p.
func clonePayload(p ChunkPayload) ChunkPayload {
	if in, ok := p.(InlinePayload); ok {
		return InlinePayload{Data: slices.Clone(in.Data)}
	}
	return p
}

// ChunkIndices are the coordinates of a chunk in an array's chunk grid.
type ChunkIndices []uint64

// ChunkRef pairs chunk coordinates with their payload.
type ChunkRef struct {
	Indices ChunkIndices
	Payload ChunkPayload
}
