package strata

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// storeCases runs a test against every in-process Store implementation.
func storeCases(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{
		"fs":     fs,
		"memory": NewMemory(),
	}
}

// -----------------------------------------------------------------------------
// Immutability
// -----------------------------------------------------------------------------

func TestStore_Put_ErrPathExists(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			if err := store.Put(ctx, "test/file.txt", bytes.NewReader([]byte("hello"))); err != nil {
				t.Fatalf("first Put failed: %v", err)
			}
			err := store.Put(ctx, "test/file.txt", bytes.NewReader([]byte("world")))
			if !errors.Is(err, ErrPathExists) {
				t.Errorf("expected ErrPathExists, got: %v", err)
			}

			rc, err := store.Get(ctx, "test/file.txt")
			if err != nil {
				t.Fatal(err)
			}
			defer closer(rc)()
			got, _ := io.ReadAll(rc)
			if string(got) != "hello" {
				t.Errorf("content changed to %q", got)
			}
		})
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(t.Context(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got: %v", err)
			}
			ok, err := store.Exists(t.Context(), "missing")
			if err != nil || ok {
				t.Errorf("Exists(missing) = %v, %v", ok, err)
			}
		})
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", ".", "..", "../escape", "a/../../escape"} {
				err := store.Put(t.Context(), key, bytes.NewReader(nil))
				if !errors.Is(err, ErrInvalidPath) {
					t.Errorf("Put(%q) err = %v, want ErrInvalidPath", key, err)
				}
			}
		})
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			if err := store.Put(ctx, "k", bytes.NewReader([]byte("v"))); err != nil {
				t.Fatal(err)
			}
			for range 2 {
				if err := store.Delete(ctx, "k"); err != nil {
					t.Fatalf("Delete: %v", err)
				}
			}
			if ok, _ := store.Exists(ctx, "k"); ok {
				t.Error("key still exists after Delete")
			}
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, k := range []string{"snapshots/b", "snapshots/a", "chunks/c"} {
				if err := store.Put(ctx, k, bytes.NewReader([]byte(k))); err != nil {
					t.Fatal(err)
				}
			}
			got, err := store.List(ctx, "snapshots/")
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"snapshots/a", "snapshots/b"}
			if !slices.Equal(got, want) {
				t.Errorf("List = %v, want %v", got, want)
			}
			empty, err := store.List(ctx, "branches/")
			if err != nil || len(empty) != 0 {
				t.Errorf("List(branches/) = %v, %v", empty, err)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Range reads
// -----------------------------------------------------------------------------

func TestStore_ReadRange(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			if err := store.Put(ctx, "obj", bytes.NewReader([]byte("second0000"))); err != nil {
				t.Fatal(err)
			}
			tests := []struct {
				offset, length int64
				want           string
			}{
				{1, 5, "econd"},
				{0, 10, "second0000"},
				{6, 100, "0000"},
				{10, 5, ""},
				{50, 5, ""},
				{3, 0, ""},
			}
			for _, tt := range tests {
				got, err := store.ReadRange(ctx, "obj", tt.offset, tt.length)
				if err != nil {
					t.Errorf("ReadRange(%d, %d): %v", tt.offset, tt.length, err)
					continue
				}
				if string(got) != tt.want {
					t.Errorf("ReadRange(%d, %d) = %q, want %q", tt.offset, tt.length, got, tt.want)
				}
			}

			if _, err := store.ReadRange(ctx, "obj", -1, 2); err == nil {
				t.Error("negative offset should fail")
			}
			if _, err := store.ReadRange(ctx, "nope", 0, 1); !errors.Is(err, ErrNotFound) {
				t.Errorf("ReadRange(nope) err = %v, want ErrNotFound", err)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Compare-and-swap
// -----------------------------------------------------------------------------

func TestStore_CompareAndSwap(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			cw, ok := store.(ConditionalWriter)
			if !ok {
				t.Fatalf("%s store does not implement ConditionalWriter", name)
			}

			if err := cw.CompareAndSwap(ctx, "branches/main", "", "A"); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := cw.CompareAndSwap(ctx, "branches/main", "", "B"); !errors.Is(err, ErrSnapshotConflict) {
				t.Errorf("create over existing: %v, want ErrSnapshotConflict", err)
			}
			if err := cw.CompareAndSwap(ctx, "branches/main", "X", "B"); !errors.Is(err, ErrSnapshotConflict) {
				t.Errorf("stale expected: %v, want ErrSnapshotConflict", err)
			}
			if err := cw.CompareAndSwap(ctx, "branches/other", "A", "B"); !errors.Is(err, ErrSnapshotConflict) {
				t.Errorf("missing key: %v, want ErrSnapshotConflict", err)
			}
			if err := cw.CompareAndSwap(ctx, "branches/main", "A", "B"); err != nil {
				t.Fatalf("swap: %v", err)
			}

			rc, err := store.Get(ctx, "branches/main")
			if err != nil {
				t.Fatal(err)
			}
			defer closer(rc)()
			got, _ := io.ReadAll(rc)
			if string(got) != "B" {
				t.Errorf("content = %q, want B", got)
			}

			keys, err := store.List(ctx, "branches/")
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(keys, []string{"branches/main"}) {
				t.Errorf("List(branches/) = %v; lock files must not be listed", keys)
			}
		})
	}
}

func TestFSStore_RootedAtSlash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-1")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewFS("/")
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.ReadRange(t.Context(), filepath.ToSlash(path), 1, 3)
	if err != nil {
		t.Fatalf("ReadRange through root store: %v", err)
	}
	if string(got) != "irs" {
		t.Errorf("got %q, want irs", got)
	}
}

func TestFSStore_NewFS_Missing(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("NewFS on a missing directory should fail")
	}
}
