package zarr

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/pithecene-io/strata/strata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const zarrFormat = 3

// -----------------------------------------------------------------------------
// zarr.json documents
// -----------------------------------------------------------------------------

type chunkGrid struct {
	Name          string             `json:"name"`
	Configuration chunkGridConfigDoc `json:"configuration"`
}

type chunkGridConfigDoc struct {
	ChunkShape []uint64 `json:"chunk_shape"`
}

type keyEncodingDoc struct {
	Name          string            `json:"name"`
	Configuration map[string]string `json:"configuration,omitempty"`
}

// groupDoc is the zarr.json of a group.
type groupDoc struct {
	ZarrFormat int                 `json:"zarr_format"`
	NodeType   string              `json:"node_type"`
	Attributes jsoniter.RawMessage `json:"attributes,omitempty"`
}

// arrayDoc is the zarr.json of an array. Field order follows the Zarr v3
// documents written by common clients.
type arrayDoc struct {
	ZarrFormat          int                         `json:"zarr_format"`
	NodeType            string                      `json:"node_type"`
	Attributes          jsoniter.RawMessage         `json:"attributes,omitempty"`
	Shape               []uint64                    `json:"shape"`
	DataType            strata.DataType             `json:"data_type"`
	ChunkGrid           chunkGrid                   `json:"chunk_grid"`
	ChunkKeyEncoding    keyEncodingDoc              `json:"chunk_key_encoding"`
	FillValue           jsoniter.RawMessage         `json:"fill_value"`
	Codecs              []strata.Codec              `json:"codecs,omitempty"`
	StorageTransformers []strata.StorageTransformer `json:"storage_transformers,omitempty"`
	DimensionNames      []*string                   `json:"dimension_names,omitempty"`
}

// encodeNode renders the zarr.json document of a node.
func encodeNode(n strata.Node) ([]byte, error) {
	if n.IsGroup() {
		return json.Marshal(groupDoc{
			ZarrFormat: zarrFormat,
			NodeType:   "group",
			Attributes: n.UserAttributes,
		})
	}

	m := n.Array
	fill, err := m.FillValue.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(arrayDoc{
		ZarrFormat: zarrFormat,
		NodeType:   "array",
		Attributes: n.UserAttributes,
		Shape:      m.Shape,
		DataType:   m.DataType,
		ChunkGrid: chunkGrid{
			Name:          "regular",
			Configuration: chunkGridConfigDoc{ChunkShape: m.ChunkShape},
		},
		ChunkKeyEncoding:    encodeKeyEncoding(m.ChunkKeyEncoding),
		FillValue:           fill,
		Codecs:              m.Codecs,
		StorageTransformers: m.StorageTransformers,
		DimensionNames:      m.DimensionNames,
	})
}

func encodeKeyEncoding(e strata.ChunkKeyEncoding) keyEncodingDoc {
	switch e {
	case strata.ChunkKeyDot:
		return keyEncodingDoc{Name: "default", Configuration: map[string]string{"separator": "."}}
	case strata.ChunkKeyV2:
		return keyEncodingDoc{Name: "v2", Configuration: map[string]string{"separator": "."}}
	default:
		return keyEncodingDoc{Name: "default", Configuration: map[string]string{"separator": "/"}}
	}
}

func decodeKeyEncoding(d keyEncodingDoc) (strata.ChunkKeyEncoding, error) {
	sep := d.Configuration["separator"]
	switch {
	case d.Name == "default" && (sep == "/" || sep == ""):
		return strata.ChunkKeySlash, nil
	case d.Name == "default" && sep == ".":
		return strata.ChunkKeyDot, nil
	case d.Name == "v2":
		return strata.ChunkKeyV2, nil
	}
	return 0, fmt.Errorf("chunk key encoding %q with separator %q: %w", d.Name, sep, ErrInvalidMetadata)
}

// metadataDoc is a decoded zarr.json: a group when Array is nil.
type metadataDoc struct {
	Attributes []byte
	Array      *strata.ZarrArrayMetadata
}

func decodeMetadata(data []byte) (metadataDoc, error) {
	var head struct {
		ZarrFormat int    `json:"zarr_format"`
		NodeType   string `json:"node_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return metadataDoc{}, fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
	}
	if head.ZarrFormat != zarrFormat {
		return metadataDoc{}, fmt.Errorf("zarr_format %d: %w", head.ZarrFormat, ErrInvalidMetadata)
	}

	switch head.NodeType {
	case "group":
		var g groupDoc
		if err := json.Unmarshal(data, &g); err != nil {
			return metadataDoc{}, fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
		}
		return metadataDoc{Attributes: attributes(g.Attributes)}, nil
	case "array":
		var a arrayDoc
		if err := json.Unmarshal(data, &a); err != nil {
			return metadataDoc{}, fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
		}
		if a.ChunkGrid.Name != "regular" {
			return metadataDoc{}, fmt.Errorf("chunk grid %q: %w", a.ChunkGrid.Name, ErrInvalidMetadata)
		}
		enc, err := decodeKeyEncoding(a.ChunkKeyEncoding)
		if err != nil {
			return metadataDoc{}, err
		}
		fill, err := strata.ParseFillValue(a.DataType, a.FillValue)
		if err != nil {
			return metadataDoc{}, err
		}
		meta := &strata.ZarrArrayMetadata{
			Shape:               a.Shape,
			DataType:            a.DataType,
			ChunkShape:          a.ChunkGrid.Configuration.ChunkShape,
			ChunkKeyEncoding:    enc,
			FillValue:           fill,
			Codecs:              a.Codecs,
			StorageTransformers: a.StorageTransformers,
			DimensionNames:      a.DimensionNames,
		}
		if err := meta.Validate(); err != nil {
			return metadataDoc{}, err
		}
		return metadataDoc{Attributes: attributes(a.Attributes), Array: meta}, nil
	default:
		return metadataDoc{}, fmt.Errorf("node_type %q: %w", head.NodeType, ErrInvalidMetadata)
	}
}

// attributes treats an explicit null like an absent field.
func attributes(raw jsoniter.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}
