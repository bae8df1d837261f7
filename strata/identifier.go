package strata

import (
	"bytes"
	"encoding/base32"
	"fmt"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Identifiers
// -----------------------------------------------------------------------------

// crockford is the Crockford base32 alphabet used to print identifiers.
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// idLen is the printed length of a 16-byte identifier.
var idLen = crockford.EncodedLen(16)

// SnapshotID identifies an immutable snapshot. Freshly generated IDs are
// unique for all practical purposes.
type SnapshotID [16]byte

// ChunkID identifies a chunk blob stored by the engine.
type ChunkID [16]byte

// ManifestID identifies a chunk manifest. The zero value means "no manifest".
type ManifestID [16]byte

// NewSnapshotID returns a fresh random snapshot identifier.
func NewSnapshotID() SnapshotID { return SnapshotID(uuid.New()) }

// NewChunkID returns a fresh random chunk identifier.
func NewChunkID() ChunkID { return ChunkID(uuid.New()) }

// NewManifestID returns a fresh random manifest identifier.
func NewManifestID() ManifestID { return ManifestID(uuid.New()) }

func (id SnapshotID) String() string { return crockford.EncodeToString(id[:]) }
func (id ChunkID) String() string    { return crockford.EncodeToString(id[:]) }
func (id ManifestID) String() string { return crockford.EncodeToString(id[:]) }

// IsZero reports whether id is the zero identifier.
func (id SnapshotID) IsZero() bool { return id == SnapshotID{} }

// IsZero reports whether id is the zero identifier.
func (id ChunkID) IsZero() bool { return id == ChunkID{} }

// IsZero reports whether id is the zero identifier.
func (id ManifestID) IsZero() bool { return id == ManifestID{} }

// Compare orders identifiers by their raw bytes.
func (id SnapshotID) Compare(other SnapshotID) int { return bytes.Compare(id[:], other[:]) }

// Compare orders identifiers by their raw bytes.
func (id ChunkID) Compare(other ChunkID) int { return bytes.Compare(id[:], other[:]) }

// Compare orders identifiers by their raw bytes.
func (id ManifestID) Compare(other ManifestID) int { return bytes.Compare(id[:], other[:]) }

func (id SnapshotID) MarshalText() ([]byte, error) { return marshalID(id) }
func (id ChunkID) MarshalText() ([]byte, error)    { return marshalID(id) }
func (id ManifestID) MarshalText() ([]byte, error) { return marshalID(id) }

func (id *SnapshotID) UnmarshalText(b []byte) error { return unmarshalID((*[16]byte)(id), b) }
func (id *ChunkID) UnmarshalText(b []byte) error    { return unmarshalID((*[16]byte)(id), b) }
func (id *ManifestID) UnmarshalText(b []byte) error { return unmarshalID((*[16]byte)(id), b) }

// ParseSnapshotID decodes the printed form of a snapshot identifier.
func ParseSnapshotID(s string) (SnapshotID, error) {
	var id SnapshotID
	if s == "" {
		return id, fmt.Errorf("strata: empty snapshot id")
	}
	err := unmarshalID((*[16]byte)(&id), []byte(s))
	return id, err
}

// ParseChunkID decodes the printed form of a chunk identifier.
func ParseChunkID(s string) (ChunkID, error) {
	var id ChunkID
	if s == "" {
		return id, fmt.Errorf("strata: empty chunk id")
	}
	err := unmarshalID((*[16]byte)(&id), []byte(s))
	return id, err
}

// ParseManifestID decodes the printed form of a manifest identifier.
func ParseManifestID(s string) (ManifestID, error) {
	var id ManifestID
	if s == "" {
		return id, fmt.Errorf("strata: empty manifest id")
	}
	err := unmarshalID((*[16]byte)(&id), []byte(s))
	return id, err
}

// marshalID prints zero identifiers as the empty string so optional
// references (parent snapshot, manifest) serialize compactly.
func marshalID[T ~[16]byte](id T) ([]byte, error) {
	if id == (T{}) {
		return []byte{}, nil
	}
	raw := [16]byte(id)
	return []byte(crockford.EncodeToString(raw[:])), nil
}

func unmarshalID(dst *[16]byte, b []byte) error {
	if len(b) == 0 {
		*dst = [16]byte{}
		return nil
	}
	if len(b) != idLen {
		return fmt.Errorf("strata: invalid identifier %q", b)
	}
	raw, err := crockford.DecodeString(string(bytes.ToUpper(b)))
	if err != nil || len(raw) != 16 {
		return fmt.Errorf("strata: invalid identifier %q", b)
	}
	copy(dst[:], raw)
	return nil
}

// snapshotKey, manifestKey and chunkKey name the immutable objects of a
// repository within its Store.
func snapshotKey(id SnapshotID) string { return "snapshots/" + id.String() }
func manifestKey(id ManifestID) string { return "manifests/" + id.String() }
func chunkKey(id ChunkID) string       { return "chunks/" + id.String() }
func branchKey(name string) string     { return "branches/" + name }
