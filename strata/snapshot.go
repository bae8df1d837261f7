package strata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// now stamps new snapshots.
var now = func() time.Time { return time.Now().UTC() }

const (
	snapshotSchemaName    = "strata-snapshot"
	snapshotFormatVersion = "1.0.0"
)

// SnapshotMetadata describes a committed version.
type SnapshotMetadata struct {
	ID        SnapshotID
	ParentID  SnapshotID
	CreatedAt time.Time
	Message   string
}

// HasParent reports whether the snapshot has a predecessor.
func (m SnapshotMetadata) HasParent() bool { return !m.ParentID.IsZero() }

// snapshot is the decoded body of snapshots/<id>.
type snapshot struct {
	SnapshotMetadata
	nodes map[Path]Node
}

// snapshotFile is the persisted layout of a snapshot body.
type snapshotFile struct {
	SchemaName    string       `json:"schema_name"`
	FormatVersion string       `json:"format_version"`
	ID            SnapshotID   `json:"id"`
	ParentID      SnapshotID   `json:"parent_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Message       string       `json:"message,omitempty"`
	Nodes         []nodeRecord `json:"nodes"`
}

type nodeRecord struct {
	Path           Path         `json:"path"`
	Type           NodeType     `json:"type"`
	UserAttributes []byte       `json:"user_attributes,omitempty"`
	Array          *arrayRecord `json:"array,omitempty"`
	Manifest       ManifestID   `json:"manifest,omitempty"`
}

type arrayRecord struct {
	Shape               []uint64             `json:"shape"`
	DataType            DataType             `json:"data_type"`
	ChunkShape          []uint64             `json:"chunk_shape"`
	ChunkKeyEncoding    ChunkKeyEncoding     `json:"chunk_key_encoding"`
	FillValue           jsoniter.RawMessage  `json:"fill_value"`
	Codecs              []Codec              `json:"codecs,omitempty"`
	StorageTransformers []StorageTransformer `json:"storage_transformers,omitempty"`
	DimensionNames      []*string            `json:"dimension_names,omitempty"`
}

func toArrayRecord(m *ZarrArrayMetadata) (*arrayRecord, error) {
	fill, err := m.FillValue.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return &arrayRecord{
		Shape:               m.Shape,
		DataType:            m.DataType,
		ChunkShape:          m.ChunkShape,
		ChunkKeyEncoding:    m.ChunkKeyEncoding,
		FillValue:           fill,
		Codecs:              m.Codecs,
		StorageTransformers: m.StorageTransformers,
		DimensionNames:      m.DimensionNames,
	}, nil
}

func (r *arrayRecord) metadata() (*ZarrArrayMetadata, error) {
	fill, err := ParseFillValue(r.DataType, r.FillValue)
	if err != nil {
		return nil, err
	}
	return &ZarrArrayMetadata{
		Shape:               r.Shape,
		DataType:            r.DataType,
		ChunkShape:          r.ChunkShape,
		ChunkKeyEncoding:    r.ChunkKeyEncoding,
		FillValue:           fill,
		Codecs:              r.Codecs,
		StorageTransformers: r.StorageTransformers,
		DimensionNames:      r.DimensionNames,
	}, nil
}

func encodeSnapshot(s *snapshot, nodes []Node, c Compressor) ([]byte, error) {
	file := snapshotFile{
		SchemaName:    snapshotSchemaName,
		FormatVersion: snapshotFormatVersion,
		ID:            s.ID,
		ParentID:      s.ParentID,
		CreatedAt:     s.CreatedAt,
		Message:       s.Message,
		Nodes:         make([]nodeRecord, 0, len(nodes)),
	}
	for _, n := range nodes {
		rec := nodeRecord{Path: n.Path, Type: n.Type, UserAttributes: n.UserAttributes, Manifest: n.manifest}
		if n.Array != nil {
			ar, err := toArrayRecord(n.Array)
			if err != nil {
				return nil, err
			}
			rec.Array = ar
		}
		file.Nodes = append(file.Nodes, rec)
	}

	var buf bytes.Buffer
	w, err := c.Compress(&buf)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(w).Encode(&file); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(r io.Reader) (*snapshot, error) {
	rc, err := decompressAny(r)
	if err != nil {
		return nil, err
	}
	defer closer(rc)()

	var file snapshotFile
	if err := json.NewDecoder(rc).Decode(&file); err != nil {
		return nil, err
	}
	if file.SchemaName != snapshotSchemaName {
		return nil, fmt.Errorf("unexpected schema %q", file.SchemaName)
	}

	s := &snapshot{
		SnapshotMetadata: SnapshotMetadata{
			ID:        file.ID,
			ParentID:  file.ParentID,
			CreatedAt: file.CreatedAt,
			Message:   file.Message,
		},
		nodes: make(map[Path]Node, len(file.Nodes)),
	}
	for _, rec := range file.Nodes {
		n := Node{Path: rec.Path, Type: rec.Type, UserAttributes: rec.UserAttributes, manifest: rec.Manifest}
		if rec.Array != nil {
			meta, err := rec.Array.metadata()
			if err != nil {
				return nil, err
			}
			n.Array = meta
		}
		s.nodes[n.Path] = n
	}
	return s, nil
}

// writeSnapshot persists a snapshot body. Snapshot keys are never reused,
// so the write fails with ErrPathExists rather than overwrite.
func writeSnapshot(ctx context.Context, store Store, s *snapshot, nodes []Node, c Compressor) error {
	data, err := encodeSnapshot(s, nodes, c)
	if err != nil {
		return fmt.Errorf("strata: encode snapshot %s: %w", s.ID, err)
	}
	key := snapshotKey(s.ID)
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("strata: write snapshot %s: %w", s.ID, backendError("put", key, err))
	}
	return nil
}

func readSnapshot(ctx context.Context, store Store, id SnapshotID) (*snapshot, error) {
	key := snapshotKey(id)
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("strata: read snapshot %s: %w", id, backendError("get", key, err))
	}
	defer closer(rc)()
	s, err := decodeSnapshot(rc)
	if err != nil {
		return nil, fmt.Errorf("strata: decode snapshot %s: %w", id, err)
	}
	if s.ID != id {
		return nil, fmt.Errorf("strata: snapshot %s records id %s", id, s.ID)
	}
	return s, nil
}
