package strata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// manifest maps chunk coordinates of one array to their payloads. Keys are
// produced by coordsKey.
type manifest map[string]ChunkPayload

// coordsKey renders chunk indices as a compact map key, e.g. "0,0,1".
func coordsKey(idx ChunkIndices) string {
	var b strings.Builder
	for i, v := range idx {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}

func parseCoordsKey(s string) (ChunkIndices, error) {
	if s == "" {
		return ChunkIndices{}, nil
	}
	parts := strings.Split(s, ",")
	idx := make(ChunkIndices, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("strata: chunk coordinates %q: %w", s, err)
		}
		idx[i] = v
	}
	return idx, nil
}

// refs returns the manifest entries ordered by coordinates.
func (m manifest) refs() ([]ChunkRef, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	out := make([]ChunkRef, 0, len(keys))
	for _, k := range keys {
		idx, err := parseCoordsKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, ChunkRef{Indices: idx, Payload: m[k]})
	}
	slices.SortFunc(out, func(a, b ChunkRef) int { return slices.Compare(a.Indices, b.Indices) })
	return out, nil
}

// -----------------------------------------------------------------------------
// Parquet encoding
// -----------------------------------------------------------------------------

const (
	payloadInline  int32 = 1
	payloadStored  int32 = 2
	payloadVirtual int32 = 3
)

// manifestRow is one chunk reference in a manifest file.
type manifestRow struct {
	Coords   string `parquet:"coords"`
	Kind     int32  `parquet:"kind"`
	Inline   []byte `parquet:"inline,optional"`
	ChunkID  []byte `parquet:"chunk_id,optional"`
	Location string `parquet:"location,optional"`
	Offset   int64  `parquet:"offset"`
	Length   int64  `parquet:"length"`
	Checksum string `parquet:"checksum,optional"`
}

func encodeManifest(m manifest) ([]byte, error) {
	refs, err := m.refs()
	if err != nil {
		return nil, err
	}
	rows := make([]manifestRow, 0, len(refs))
	for _, ref := range refs {
		row := manifestRow{Coords: coordsKey(ref.Indices)}
		switch p := ref.Payload.(type) {
		case InlinePayload:
			row.Kind = payloadInline
			row.Inline = p.Data
			row.Length = int64(len(p.Data))
		case StoredPayload:
			row.Kind = payloadStored
			row.ChunkID = p.ID[:]
			row.Length = int64(p.Length)
			row.Checksum = p.Checksum
		case VirtualPayload:
			row.Kind = payloadVirtual
			row.Location = p.Location.String()
			row.Offset = int64(p.Offset)
			row.Length = int64(p.Length)
		default:
			return nil, fmt.Errorf("strata: unknown chunk payload %T", ref.Payload)
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows, parquet.Compression(&parquet.Zstd)); err != nil {
		return nil, fmt.Errorf("strata: encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeManifest(data []byte) (manifest, error) {
	rows, err := parquet.Read[manifestRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("strata: decode manifest: %w", err)
	}
	m := make(manifest, len(rows))
	for _, row := range rows {
		var p ChunkPayload
		switch row.Kind {
		case payloadInline:
			data := row.Inline
			if data == nil {
				data = []byte{}
			}
			p = InlinePayload{Data: data}
		case payloadStored:
			if len(row.ChunkID) != len(ChunkID{}) {
				return nil, fmt.Errorf("strata: decode manifest: chunk id of %d bytes", len(row.ChunkID))
			}
			p = StoredPayload{ID: ChunkID(row.ChunkID), Length: uint64(row.Length), Checksum: row.Checksum}
		case payloadVirtual:
			loc, err := ParseVirtualChunkLocation(row.Location)
			if err != nil {
				return nil, fmt.Errorf("strata: decode manifest: %w", err)
			}
			p = VirtualPayload{Location: loc, Offset: uint64(row.Offset), Length: uint64(row.Length)}
		default:
			return nil, fmt.Errorf("strata: decode manifest: unknown payload kind %d", row.Kind)
		}
		m[row.Coords] = p
	}
	return m, nil
}

// writeManifest persists m under a fresh ManifestID.
func writeManifest(ctx context.Context, store Store, m manifest) (ManifestID, error) {
	data, err := encodeManifest(m)
	if err != nil {
		return ManifestID{}, err
	}
	id := NewManifestID()
	key := manifestKey(id)
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return ManifestID{}, fmt.Errorf("strata: write manifest: %w", backendError("put", key, err))
	}
	return id, nil
}

// readManifest loads a manifest file. The zero id is the empty manifest.
func readManifest(ctx context.Context, store Store, id ManifestID) (manifest, error) {
	if id.IsZero() {
		return manifest{}, nil
	}
	key := manifestKey(id)
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("strata: read manifest %s: %w", id, backendError("get", key, err))
	}
	defer closer(rc)()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("strata: read manifest %s: %w", id, backendError("get", key, err))
	}
	return decodeManifest(data)
}
