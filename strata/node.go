package strata

import (
	"bytes"
	"fmt"
	"slices"
)

// NodeType distinguishes groups from arrays.
type NodeType int

const (
	// NodeTypeGroup is a container of other nodes.
	NodeTypeGroup NodeType = iota
	// NodeTypeArray is a chunked array.
	NodeTypeArray
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeGroup:
		return "group"
	case NodeTypeArray:
		return "array"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

func (t NodeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *NodeType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "group":
		*t = NodeTypeGroup
	case "array":
		*t = NodeTypeArray
	default:
		return fmt.Errorf("strata: unknown node type %q", b)
	}
	return nil
}

// Node is a group or array in a dataset's hierarchy.
type Node struct {
	Path Path
	Type NodeType
	// UserAttributes is an opaque document; nil means none.
	UserAttributes []byte
	// Array is set for array nodes only.
	Array *ZarrArrayMetadata

	manifest ManifestID
}

// IsGroup reports whether n is a group.
func (n Node) IsGroup() bool { return n.Type == NodeTypeGroup }

// IsArray reports whether n is an array.
func (n Node) IsArray() bool { return n.Type == NodeTypeArray }

func (n Node) clone() Node {
	c := n
	c.UserAttributes = slices.Clone(n.UserAttributes)
	c.Array = n.Array.Clone()
	return c
}

// Equal reports whether two nodes have the same path, type, attributes
// and array shape information. Manifest placement is ignored.
func (n Node) Equal(o Node) bool {
	if n.Path != o.Path || n.Type != o.Type || !bytes.Equal(n.UserAttributes, o.UserAttributes) {
		return false
	}
	if (n.Array == nil) != (o.Array == nil) {
		return false
	}
	if n.Array == nil {
		return true
	}
	a, b := n.Array, o.Array
	return slices.Equal(a.Shape, b.Shape) &&
		a.DataType == b.DataType &&
		slices.Equal(a.ChunkShape, b.ChunkShape) &&
		a.ChunkKeyEncoding == b.ChunkKeyEncoding &&
		a.FillValue.Equal(b.FillValue)
}
