package strata

import (
	"fmt"
	"strings"
)

// Path is an absolute, normalized hierarchy path such as "/group1/array1".
// The root is "/".
type Path string

// RootPath is the root of the node hierarchy.
const RootPath Path = "/"

// NewPath validates and normalizes s. It requires a leading "/", collapses
// repeated separators, drops a trailing separator, and rejects "." and ".."
// segments.
func NewPath(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("strata: path %q must be absolute: %w", s, ErrInvalidPath)
	}
	var segs []string
	for seg := range strings.SplitSeq(s, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return "", fmt.Errorf("strata: path %q contains %q: %w", s, seg, ErrInvalidPath)
		}
		segs = append(segs, seg)
	}
	return Path("/" + strings.Join(segs, "/")), nil
}

// MustPath is NewPath for literals; it panics on invalid input.
func MustPath(s string) Path {
	p, err := NewPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string { return string(p) }

// Validate reports whether p is already in the form NewPath produces.
// A Path built by conversion from a string, such as "group1" or "/g/",
// fails with ErrInvalidPath.
func (p Path) Validate() error {
	q, err := NewPath(string(p))
	if err != nil {
		return err
	}
	if q != p {
		return fmt.Errorf("strata: path %q is not normalized (want %q): %w", string(p), string(q), ErrInvalidPath)
	}
	return nil
}

// IsRoot reports whether p is the hierarchy root.
func (p Path) IsRoot() bool { return p == RootPath }

// Parent returns the enclosing path. The parent of the root is the root.
func (p Path) Parent() Path {
	i := strings.LastIndexByte(string(p), '/')
	if i <= 0 {
		return RootPath
	}
	return p[:i]
}

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	i := strings.LastIndexByte(string(p), '/')
	return string(p[i+1:])
}

// IsAncestorOf reports whether other lies strictly below p.
func (p Path) IsAncestorOf(other Path) bool {
	if p == other {
		return false
	}
	if p.IsRoot() {
		return true
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}

// Join appends a relative segment sequence to p.
func (p Path) Join(rel string) (Path, error) {
	if p.IsRoot() {
		return NewPath("/" + rel)
	}
	return NewPath(string(p) + "/" + rel)
}
