package strata

import (
	"strconv"
	"strings"
)

// Location schemes understood by the engine.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
)

// VirtualChunkLocation is the parsed form of a virtual chunk URL such as
// "s3://bucket/path/to/object" or "file:///abs/path".
//
// Root is the bucket for object-store schemes and empty for "file". Key is
// the object key within Root; for "file" it is the absolute path.
type VirtualChunkLocation struct {
	Scheme string
	Root   string
	Key    string
}

// ParseVirtualChunkLocation parses and canonicalizes a location URL.
// Repeated slashes in the path are collapsed. Only the "file" and "s3"
// schemes are recognized; anything else is a *LocationError.
func ParseVirtualChunkLocation(raw string) (VirtualChunkLocation, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return VirtualChunkLocation{}, &LocationError{Location: raw, Reason: "missing scheme"}
	}
	scheme = strings.ToLower(scheme)
	if !knownScheme(scheme) {
		return VirtualChunkLocation{}, &LocationError{Location: raw, Reason: "unrecognized scheme " + strconv.Quote(scheme)}
	}

	if scheme == SchemeFile {
		// file://localhost/abs and file:///abs are the same location.
		rest = strings.TrimPrefix(rest, "localhost")
		if !strings.HasPrefix(rest, "/") {
			return VirtualChunkLocation{}, &LocationError{Location: raw, Reason: "file location must be an absolute path"}
		}
		segs := splitSegments(rest)
		if len(segs) == 0 {
			return VirtualChunkLocation{}, &LocationError{Location: raw, Reason: "empty file path"}
		}
		return VirtualChunkLocation{Scheme: scheme, Key: "/" + strings.Join(segs, "/")}, nil
	}

	root, path, _ := strings.Cut(rest, "/")
	if root == "" {
		return VirtualChunkLocation{}, &LocationError{Location: raw, Reason: "empty bucket"}
	}
	segs := splitSegments(path)
	if len(segs) == 0 {
		return VirtualChunkLocation{}, &LocationError{Location: raw, Reason: "empty object key"}
	}
	return VirtualChunkLocation{Scheme: scheme, Root: root, Key: strings.Join(segs, "/")}, nil
}

// MustParseVirtualChunkLocation is ParseVirtualChunkLocation for literals.
func MustParseVirtualChunkLocation(raw string) VirtualChunkLocation {
	loc, err := ParseVirtualChunkLocation(raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// String returns the canonical URL form.
func (l VirtualChunkLocation) String() string {
	if l.Scheme == SchemeFile {
		return "file://" + l.Key
	}
	return l.Scheme + "://" + l.Root + "/" + l.Key
}

// objectKey is the key to read within the store that serves l.Root.
func (l VirtualChunkLocation) objectKey() string {
	return strings.TrimPrefix(l.Key, "/")
}

func (l VirtualChunkLocation) validate() error {
	if l.Scheme == "" {
		return &LocationError{Location: l.String(), Reason: "missing scheme"}
	}
	if !knownScheme(l.Scheme) {
		return &LocationError{Location: l.String(), Reason: "unrecognized scheme " + strconv.Quote(l.Scheme)}
	}
	if l.Key == "" || l.Key == "/" {
		return &LocationError{Location: l.String(), Reason: "empty object key"}
	}
	if l.Scheme != SchemeFile && l.Root == "" {
		return &LocationError{Location: l.String(), Reason: "empty bucket"}
	}
	return nil
}

func splitSegments(p string) []string {
	var segs []string
	for seg := range strings.SplitSeq(p, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

func knownScheme(s string) bool {
	return s == SchemeFile || s == SchemeS3
}
