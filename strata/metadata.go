package strata

import (
	"encoding/hex"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------
// Data types
// -----------------------------------------------------------------------------

// DataType names the element type of an array, using Zarr v3 spellings.
type DataType string

// Data types understood by the engine. Raw bit types are spelled "r<N>"
// where N is a multiple of 8; see RawBits.
const (
	Bool       DataType = "bool"
	Int8       DataType = "int8"
	Int16      DataType = "int16"
	Int32      DataType = "int32"
	Int64      DataType = "int64"
	Uint8      DataType = "uint8"
	Uint16     DataType = "uint16"
	Uint32     DataType = "uint32"
	Uint64     DataType = "uint64"
	Float16    DataType = "float16"
	Float32    DataType = "float32"
	Float64    DataType = "float64"
	Complex64  DataType = "complex64"
	Complex128 DataType = "complex128"
)

// RawBits returns the raw data type of n bits.
func RawBits(n int) DataType { return DataType("r" + strconv.Itoa(n)) }

func (d DataType) String() string { return string(d) }

// rawBits returns N for "r<N>" types.
func (d DataType) rawBits() (int, bool) {
	s, ok := strings.CutPrefix(string(d), "r")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n%8 != 0 {
		return 0, false
	}
	return n, true
}

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case Bool, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64,
		Float16, Float32, Float64, Complex64, Complex128:
		return true
	}
	_, ok := d.rawBits()
	return ok
}

type fillKind int

const (
	fillBool fillKind = iota
	fillInt
	fillUint
	fillFloat
	fillComplex
	fillRaw
)

func (d DataType) fillKind() fillKind {
	switch d {
	case Bool:
		return fillBool
	case Int8, Int16, Int32, Int64:
		return fillInt
	case Uint8, Uint16, Uint32, Uint64:
		return fillUint
	case Float16, Float32, Float64:
		return fillFloat
	case Complex64, Complex128:
		return fillComplex
	}
	return fillRaw
}

// -----------------------------------------------------------------------------
// Fill values
// -----------------------------------------------------------------------------

// FillValue is the value of unwritten array elements, typed by the array's
// DataType.
type FillValue struct {
	dataType DataType
	b        bool
	i        int64
	u        uint64
	re, im   float64
	raw      []byte
}

// FillBool returns a bool fill value.
func FillBool(v bool) FillValue { return FillValue{dataType: Bool, b: v} }

// FillInt returns a signed integer fill value of the given type.
func FillInt(dt DataType, v int64) FillValue { return FillValue{dataType: dt, i: v} }

// FillUint returns an unsigned integer fill value of the given type.
func FillUint(dt DataType, v uint64) FillValue { return FillValue{dataType: dt, u: v} }

// FillFloat returns a floating point fill value of the given type.
func FillFloat(dt DataType, v float64) FillValue { return FillValue{dataType: dt, re: v} }

// FillComplex returns a complex fill value of the given type.
func FillComplex(dt DataType, re, im float64) FillValue {
	return FillValue{dataType: dt, re: re, im: im}
}

// FillRaw returns a raw-bits fill value.
func FillRaw(dt DataType, b []byte) FillValue {
	return FillValue{dataType: dt, raw: slices.Clone(b)}
}

// DataType returns the type the fill value was built for.
func (f FillValue) DataType() DataType { return f.dataType }

// Bool returns the value of a bool fill value.
func (f FillValue) Bool() bool { return f.b }

// Int returns the value of a signed integer fill value.
func (f FillValue) Int() int64 { return f.i }

// Uint returns the value of an unsigned integer fill value.
func (f FillValue) Uint() uint64 { return f.u }

// Float returns the value (or real part) of a floating point fill value.
func (f FillValue) Float() float64 { return f.re }

// Imag returns the imaginary part of a complex fill value.
func (f FillValue) Imag() float64 { return f.im }

// Raw returns the bytes of a raw fill value.
func (f FillValue) Raw() []byte { return slices.Clone(f.raw) }

// Equal reports whether two fill values hold the same typed value.
// NaN equals NaN.
func (f FillValue) Equal(o FillValue) bool {
	if f.dataType != o.dataType {
		return false
	}
	feq := func(a, b float64) bool { return a == b || (math.IsNaN(a) && math.IsNaN(b)) }
	switch f.dataType.fillKind() {
	case fillBool:
		return f.b == o.b
	case fillInt:
		return f.i == o.i
	case fillUint:
		return f.u == o.u
	case fillFloat:
		return feq(f.re, o.re)
	case fillComplex:
		return feq(f.re, o.re) && feq(f.im, o.im)
	default:
		return slices.Equal(f.raw, o.raw)
	}
}

// MarshalJSON encodes the fill value in Zarr v3 form: numbers, booleans,
// "NaN"/"Infinity"/"-Infinity" for non-finite floats, [re, im] pairs for
// complex types and byte arrays for raw types.
func (f FillValue) MarshalJSON() ([]byte, error) {
	if f.dataType == "" {
		return []byte("null"), nil
	}
	switch f.dataType.fillKind() {
	case fillBool:
		return json.Marshal(f.b)
	case fillInt:
		return json.Marshal(f.i)
	case fillUint:
		return json.Marshal(f.u)
	case fillFloat:
		return json.Marshal(floatJSON(f.re))
	case fillComplex:
		return json.Marshal([]any{floatJSON(f.re), floatJSON(f.im)})
	default:
		ints := make([]int, len(f.raw))
		for i, b := range f.raw {
			ints[i] = int(b)
		}
		return json.Marshal(ints)
	}
}

func floatJSON(v float64) any {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	return v
}

// ParseFillValue decodes a Zarr v3 fill value for the given data type.
// A JSON null decodes to the zero FillValue.
func ParseFillValue(dt DataType, data []byte) (FillValue, error) {
	if len(data) == 0 || string(data) == "null" {
		return FillValue{}, nil
	}
	if !dt.Valid() {
		return FillValue{}, fmt.Errorf("strata: unknown data type %q: %w", dt, ErrInvalidArrayMetadata)
	}
	bad := func(err error) (FillValue, error) {
		return FillValue{}, fmt.Errorf("strata: fill value %s for %s: %v: %w", data, dt, err, ErrInvalidArrayMetadata)
	}
	switch dt.fillKind() {
	case fillBool:
		var v bool
		if err := json.Unmarshal(data, &v); err != nil {
			return bad(err)
		}
		return FillBool(v), nil
	case fillInt:
		var v int64
		if err := json.Unmarshal(data, &v); err != nil {
			return bad(err)
		}
		return FillInt(dt, v), nil
	case fillUint:
		var v uint64
		if err := json.Unmarshal(data, &v); err != nil {
			return bad(err)
		}
		return FillUint(dt, v), nil
	case fillFloat:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return bad(err)
		}
		re, err := parseFloatJSON(dt, v)
		if err != nil {
			return bad(err)
		}
		return FillFloat(dt, re), nil
	case fillComplex:
		var parts []any
		if err := json.Unmarshal(data, &parts); err != nil {
			return bad(err)
		}
		if len(parts) != 2 {
			return bad(fmt.Errorf("want [re, im]"))
		}
		re, err := parseFloatJSON(dt, parts[0])
		if err != nil {
			return bad(err)
		}
		im, err := parseFloatJSON(dt, parts[1])
		if err != nil {
			return bad(err)
		}
		return FillComplex(dt, re, im), nil
	default:
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return bad(err)
		}
		n, _ := dt.rawBits()
		if len(ints) != n/8 {
			return bad(fmt.Errorf("want %d bytes, got %d", n/8, len(ints)))
		}
		raw := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return bad(fmt.Errorf("byte %d out of range", v))
			}
			raw[i] = byte(v)
		}
		return FillValue{dataType: dt, raw: raw}, nil
	}
}

func parseFloatJSON(dt DataType, v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		switch x {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		// Hex strings carry the exact bit pattern.
		if h, ok := strings.CutPrefix(x, "0x"); ok {
			b, err := hex.DecodeString(h)
			if err != nil {
				return 0, err
			}
			var bits uint64
			for _, c := range b {
				bits = bits<<8 | uint64(c)
			}
			switch {
			case len(b) == 8:
				return math.Float64frombits(bits), nil
			case len(b) == 4:
				return float64(math.Float32frombits(uint32(bits))), nil
			}
			return 0, fmt.Errorf("unsupported hex width for %s", dt)
		}
	}
	return 0, fmt.Errorf("unsupported float encoding %v", v)
}

// -----------------------------------------------------------------------------
// Array metadata
// -----------------------------------------------------------------------------

// ChunkKeyEncoding selects how chunk coordinates are spelled in keys.
type ChunkKeyEncoding int

const (
	// ChunkKeySlash spells chunk keys "c/0/1/2".
	ChunkKeySlash ChunkKeyEncoding = iota
	// ChunkKeyDot spells chunk keys "c.0.1.2".
	ChunkKeyDot
	// ChunkKeyV2 spells chunk keys "0.1.2".
	ChunkKeyV2
)

func (e ChunkKeyEncoding) String() string {
	switch e {
	case ChunkKeySlash:
		return "slash"
	case ChunkKeyDot:
		return "dot"
	case ChunkKeyV2:
		return "v2"
	}
	return "unknown(" + strconv.Itoa(int(e)) + ")"
}

func (e ChunkKeyEncoding) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *ChunkKeyEncoding) UnmarshalText(b []byte) error {
	switch string(b) {
	case "slash":
		*e = ChunkKeySlash
	case "dot":
		*e = ChunkKeyDot
	case "v2":
		*e = ChunkKeyV2
	default:
		return fmt.Errorf("strata: unknown chunk key encoding %q: %w", b, ErrInvalidArrayMetadata)
	}
	return nil
}

// Codec is one entry of an array's codec pipeline. The engine stores codec
// configuration without interpreting it.
type Codec struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// StorageTransformer is one entry of an array's storage transformer chain.
type StorageTransformer struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// ZarrArrayMetadata describes an array node.
type ZarrArrayMetadata struct {
	Shape               []uint64
	DataType            DataType
	ChunkShape          []uint64
	ChunkKeyEncoding    ChunkKeyEncoding
	FillValue           FillValue
	Codecs              []Codec
	StorageTransformers []StorageTransformer
	// DimensionNames is nil when the array has no names; individual
	// entries may be nil for unnamed dimensions.
	DimensionNames []*string
}

// Rank returns the number of dimensions.
func (m *ZarrArrayMetadata) Rank() int { return len(m.Shape) }

// Validate checks the structural invariants of the metadata.
func (m *ZarrArrayMetadata) Validate() error {
	if !m.DataType.Valid() {
		return fmt.Errorf("strata: unknown data type %q: %w", m.DataType, ErrInvalidArrayMetadata)
	}
	if len(m.ChunkShape) != len(m.Shape) {
		return fmt.Errorf("strata: chunk shape rank %d differs from shape rank %d: %w",
			len(m.ChunkShape), len(m.Shape), ErrInvalidArrayMetadata)
	}
	for i, c := range m.ChunkShape {
		if c == 0 {
			return fmt.Errorf("strata: chunk dimension %d is zero: %w", i, ErrInvalidArrayMetadata)
		}
	}
	if m.DimensionNames != nil && len(m.DimensionNames) != len(m.Shape) {
		return fmt.Errorf("strata: %d dimension names for rank %d: %w",
			len(m.DimensionNames), len(m.Shape), ErrInvalidArrayMetadata)
	}
	if m.FillValue.dataType != "" && m.FillValue.dataType != m.DataType {
		return fmt.Errorf("strata: fill value type %s differs from data type %s: %w",
			m.FillValue.dataType, m.DataType, ErrInvalidArrayMetadata)
	}
	switch m.ChunkKeyEncoding {
	case ChunkKeySlash, ChunkKeyDot, ChunkKeyV2:
	default:
		return fmt.Errorf("strata: chunk key encoding %d: %w", m.ChunkKeyEncoding, ErrInvalidArrayMetadata)
	}
	return nil
}

// Clone returns a deep copy.
func (m *ZarrArrayMetadata) Clone() *ZarrArrayMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Shape = slices.Clone(m.Shape)
	c.ChunkShape = slices.Clone(m.ChunkShape)
	c.FillValue.raw = slices.Clone(m.FillValue.raw)
	c.Codecs = cloneCodecs(m.Codecs)
	if m.StorageTransformers != nil {
		c.StorageTransformers = make([]StorageTransformer, len(m.StorageTransformers))
		for i, t := range m.StorageTransformers {
			c.StorageTransformers[i] = StorageTransformer{Name: t.Name, Configuration: maps.Clone(t.Configuration)}
		}
	}
	if m.DimensionNames != nil {
		c.DimensionNames = make([]*string, len(m.DimensionNames))
		for i, n := range m.DimensionNames {
			if n != nil {
				s := *n
				c.DimensionNames[i] = &s
			}
		}
	}
	return &c
}

func cloneCodecs(in []Codec) []Codec {
	if in == nil {
		return nil
	}
	out := make([]Codec, len(in))
	for i, c := range in {
		out[i] = Codec{Name: c.Name, Configuration: maps.Clone(c.Configuration)}
	}
	return out
}

// DimensionNames builds a DimensionNames slice; empty strings become
// unnamed dimensions.
func DimensionNames(names ...string) []*string {
	out := make([]*string, len(names))
	for i, n := range names {
		if n != "" {
			out[i] = &names[i]
		}
	}
	return out
}
