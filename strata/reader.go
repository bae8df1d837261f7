package strata

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// ChunkReader is a deferred read of one chunk's bytes. It captures the
// payload at the time it was created; Bytes performs the I/O.
type ChunkReader struct {
	payload  ChunkPayload
	rng      ByteRange
	store    Store
	resolver *VirtualResolver
}

// Payload returns the payload the reader resolves.
func (r *ChunkReader) Payload() ChunkPayload { return r.payload }

// Bytes fetches the selected bytes of the chunk.
//
// Inline payloads are sliced in memory. Stored payloads are read from
// chunks/<id>; whole-chunk reads verify the checksum. Virtual payloads are
// read from the store serving their location, restricted to the payload
// window.
func (r *ChunkReader) Bytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch p := r.payload.(type) {
	case InlinePayload:
		return r.rng.Slice(p.Data), nil
	case StoredPayload:
		return r.readStored(ctx, p)
	case VirtualPayload:
		start, n := r.rng.Window(p.Offset, p.Length)
		if n == 0 {
			return []byte{}, nil
		}
		return r.resolver.Read(ctx, p.Location, start, n)
	default:
		return nil, fmt.Errorf("strata: unknown chunk payload %T", r.payload)
	}
}

func (r *ChunkReader) readStored(ctx context.Context, p StoredPayload) ([]byte, error) {
	key := chunkKey(p.ID)
	start, n := r.rng.Window(0, p.Length)
	if n == 0 {
		return []byte{}, nil
	}
	data, err := r.store.ReadRange(ctx, key, int64(start), int64(n))
	if err != nil {
		return nil, fmt.Errorf("strata: read chunk %s: %w", p.ID, backendError("read_range", key, err))
	}
	if uint64(len(data)) != n {
		return nil, fmt.Errorf("strata: read chunk %s: short read %d of %d: %w", p.ID, len(data), n, ErrChecksumMismatch)
	}
	if p.Checksum != "" && n == p.Length {
		if sum := checksum(data); sum != p.Checksum {
			return nil, fmt.Errorf("strata: read chunk %s: got %s, want %s: %w", p.ID, sum, p.Checksum, ErrChecksumMismatch)
		}
	}
	return data, nil
}

// checksum returns the hex BLAKE3 digest of data.
func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GetChunkReader prepares a read of a chunk. It returns nil when the chunk
// was never written.
func (d *Dataset) GetChunkReader(ctx context.Context, path Path, idx ChunkIndices, rng ByteRange) (*ChunkReader, error) {
	p, err := d.chunkRef(ctx, path, idx)
	if err != nil {
		return nil, fmt.Errorf("strata: get chunk %s %v: %w", path, idx, err)
	}
	if p == nil {
		return nil, nil
	}
	return &ChunkReader{payload: clonePayload(p), rng: rng, store: d.store, resolver: d.cfg.resolver}, nil
}

// GetChunk reads the selected bytes of a chunk. It returns nil, nil when
// the chunk was never written.
func (d *Dataset) GetChunk(ctx context.Context, path Path, idx ChunkIndices, rng ByteRange) ([]byte, error) {
	r, err := d.GetChunkReader(ctx, path, idx, rng)
	if err != nil || r == nil {
		return nil, err
	}
	return r.Bytes(ctx)
}
