package bolt

import (
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/pithecene-io/strata/strata"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(nil, filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	ctx := t.Context()
	s := openTemp(t)

	if err := s.Put(ctx, "chunks/a", bytes.NewReader([]byte("second0000"))); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "chunks/a", bytes.NewReader([]byte("x"))); !errors.Is(err, strata.ErrPathExists) {
		t.Errorf("overwrite: %v", err)
	}
	if err := s.Put(ctx, "../escape", bytes.NewReader(nil)); !errors.Is(err, strata.ErrInvalidPath) {
		t.Errorf("escaping key: %v", err)
	}
	if _, err := s.Get(ctx, "chunks/missing"); !errors.Is(err, strata.ErrNotFound) {
		t.Errorf("Get(missing): %v", err)
	}

	got, err := s.ReadRange(ctx, "chunks/a", 1, 5)
	if err != nil || string(got) != "econd" {
		t.Errorf("ReadRange(1, 5) = %q, %v", got, err)
	}
	got, err = s.ReadRange(ctx, "chunks/a", 20, 5)
	if err != nil || len(got) != 0 {
		t.Errorf("ReadRange past end = %q, %v", got, err)
	}

	if err := s.Put(ctx, "chunks/b", bytes.NewReader(nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "snapshots/s", bytes.NewReader(nil)); err != nil {
		t.Fatal(err)
	}
	keys, err := s.List(ctx, "chunks/")
	if err != nil || !slices.Equal(keys, []string{"chunks/a", "chunks/b"}) {
		t.Errorf("List = %v, %v", keys, err)
	}

	for range 2 {
		if err := s.Delete(ctx, "chunks/a"); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := s.Exists(ctx, "chunks/a"); ok {
		t.Error("key exists after Delete")
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := t.Context()
	s := openTemp(t)

	if err := s.CompareAndSwap(ctx, "branches/main", "", "A"); err != nil {
		t.Fatal(err)
	}
	if err := s.CompareAndSwap(ctx, "branches/main", "", "B"); !errors.Is(err, strata.ErrSnapshotConflict) {
		t.Errorf("create over existing: %v", err)
	}
	if err := s.CompareAndSwap(ctx, "branches/main", "Z", "B"); !errors.Is(err, strata.ErrSnapshotConflict) {
		t.Errorf("stale expected: %v", err)
	}
	if err := s.CompareAndSwap(ctx, "branches/main", "A", "B"); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadRange(ctx, "branches/main", 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "B" {
		t.Errorf("content = %q", got)
	}
}

func TestStore_RepositoryPersistsAcrossReopen(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "repo.db")

	s, err := Open(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	repo, err := strata.InitRepository(ctx, s, true)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := repo.Checkout(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.AddGroup(ctx, strata.MustPath("/kept")); err != nil {
		t.Fatal(err)
	}
	id, err := ds.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Factory(nil, path)()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.(*Store).Close() }()
	repo, err = strata.OpenRepository(ctx, reopened)
	if err != nil {
		t.Fatal(err)
	}
	if tip, _ := repo.BranchTip(ctx, "main"); tip != id {
		t.Errorf("tip after reopen = %s, want %s", tip, id)
	}
	ds, err = repo.Checkout(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ds.GetNode(ctx, strata.MustPath("/kept")); err != nil {
		t.Errorf("node lost across reopen: %v", err)
	}
}
