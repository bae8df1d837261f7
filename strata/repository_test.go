package strata

import (
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitRepository(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			repo, err := InitRepository(ctx, store, false)
			if err != nil {
				t.Fatalf("InitRepository: %v", err)
			}
			if repo.DefaultBranch() != DefaultBranch {
				t.Errorf("default branch = %q", repo.DefaultBranch())
			}
			branches, err := repo.Branches(ctx)
			if err != nil || !slices.Equal(branches, []string{"main"}) {
				t.Fatalf("Branches = %v, %v", branches, err)
			}

			ds, err := repo.Checkout(ctx, "main")
			if err != nil {
				t.Fatal(err)
			}
			if got := nodePaths(t, ds); !slices.Equal(got, []Path{RootPath}) {
				t.Errorf("initial nodes = %v, want only the root group", got)
			}
			meta, err := repo.Snapshot(ctx, ds.SnapshotID())
			if err != nil {
				t.Fatal(err)
			}
			if meta.HasParent() || meta.Message != "Repository initialized" {
				t.Errorf("initial snapshot = %+v", meta)
			}

			if _, err := InitRepository(ctx, store, false); !errors.Is(err, ErrRepositoryExists) {
				t.Errorf("second init without createIfAbsent: %v", err)
			}
			again, err := InitRepository(ctx, store, true)
			if err != nil {
				t.Fatalf("init with createIfAbsent on existing: %v", err)
			}
			tip, _ := again.BranchTip(ctx, "main")
			if tip != ds.SnapshotID() {
				t.Errorf("reopening moved the branch: %s != %s", tip, ds.SnapshotID())
			}
		})
	}
}

func TestOpenRepository_NotFound(t *testing.T) {
	if _, err := OpenRepository(t.Context(), NewMemory()); !errors.Is(err, ErrRepositoryNotFound) {
		t.Errorf("OpenRepository on empty store: %v", err)
	}
}

func TestRepository_RequiresConditionalWrites(t *testing.T) {
	_, err := InitRepository(t.Context(), struct{ Store }{NewMemory()}, true)
	if !errors.Is(err, ErrConditionalWriteUnsupported) {
		t.Errorf("InitRepository over a plain Store: %v", err)
	}
}

func TestRepository_WithDefaultBranch(t *testing.T) {
	ctx := t.Context()
	repo, err := InitRepository(ctx, NewMemory(), true, WithDefaultBranch("trunk"))
	if err != nil {
		t.Fatal(err)
	}
	if names, _ := repo.Branches(ctx); !slices.Equal(names, []string{"trunk"}) {
		t.Errorf("branches = %v", names)
	}
	if _, err := InitRepository(ctx, NewMemory(), true, WithDefaultBranch("bad/name")); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("invalid default branch: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Branch commits
// -----------------------------------------------------------------------------

func TestRepository_CheckoutFlushMovesBranch(t *testing.T) {
	ctx := t.Context()
	core, logs := observer.New(zap.InfoLevel)
	repo, err := InitRepository(ctx, NewMemory(), true, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	ds := mustCheckout(t, repo, "main")
	if ds.Branch() != "main" {
		t.Errorf("Branch() = %q", ds.Branch())
	}
	if err := ds.AddGroup(ctx, MustPath("/g")); err != nil {
		t.Fatal(err)
	}
	id, err := ds.FlushWithMessage(ctx, "add g")
	if err != nil {
		t.Fatal(err)
	}
	tip, err := repo.BranchTip(ctx, "main")
	if err != nil || tip != id {
		t.Errorf("BranchTip = %s, %v; want %s", tip, err, id)
	}

	if n := logs.FilterMessage("snapshot committed").Len(); n != 2 {
		t.Errorf("logged %d commits, want 2 (init and flush)", n)
	}
	entry := logs.FilterMessage("snapshot committed").All()[1]
	if entry.ContextMap()["branch"] != "main" {
		t.Errorf("commit log fields = %v", entry.ContextMap())
	}
}

func TestRepository_ConcurrentCheckoutsConflict(t *testing.T) {
	ctx := t.Context()
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo, err := InitRepository(ctx, store, true)
	if err != nil {
		t.Fatal(err)
	}
	first := mustCheckout(t, repo, "main")
	second := mustCheckout(t, repo, "main")
	if err := first.AddGroup(ctx, MustPath("/first")); err != nil {
		t.Fatal(err)
	}
	if err := second.AddGroup(ctx, MustPath("/second")); err != nil {
		t.Fatal(err)
	}

	winner, err := first.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	base := second.SnapshotID()
	if _, err := second.Flush(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("losing flush: %v, want ErrConflict", err)
	}
	if second.SnapshotID() != base || !second.HasUncommittedChanges() {
		t.Error("losing flush changed its session")
	}
	if tip, _ := repo.BranchTip(ctx, "main"); tip != winner {
		t.Errorf("tip = %s, want winner %s", tip, winner)
	}

	// Retrying from the new tip succeeds.
	retry := mustCheckout(t, repo, "main")
	if err := retry.AddGroup(ctx, MustPath("/second")); err != nil {
		t.Fatal(err)
	}
	if _, err := retry.Flush(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := nodePaths(t, retry); !slices.Equal(got, []Path{"/", "/first", "/second"}) {
		t.Errorf("nodes after retry = %v", got)
	}
}

func TestRepository_CASFailureIsBackendError(t *testing.T) {
	ctx := t.Context()
	fault := newFaultStore(NewMemory())
	repo, err := InitRepository(ctx, fault, true)
	if err != nil {
		t.Fatal(err)
	}
	ds := mustCheckout(t, repo, "main")
	if err := ds.AddGroup(ctx, MustPath("/g")); err != nil {
		t.Fatal(err)
	}
	injected := errors.New("throttled")
	fault.SetCASError(injected)
	if _, err := ds.Flush(ctx); !errors.Is(err, ErrBackend) || !errors.Is(err, injected) {
		t.Errorf("flush with failing CAS: %v", err)
	}
}

func TestRepository_DetachedDatasetDoesNotMoveBranch(t *testing.T) {
	ctx := t.Context()
	repo := mustInit(t, NewMemory())
	tip := mustTip(t, repo, "main")
	ds, err := repo.Dataset(ctx, tip)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.AddGroup(ctx, MustPath("/side")); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if now := mustTip(t, repo, "main"); now != tip {
		t.Error("detached flush moved main")
	}
	if _, err := repo.Dataset(ctx, NewSnapshotID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Dataset at unknown snapshot: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Branches and ancestry
// -----------------------------------------------------------------------------

func TestRepository_Branches(t *testing.T) {
	ctx := t.Context()
	repo := mustInit(t, NewMemory())
	tip := mustTip(t, repo, "main")

	if err := repo.CreateBranch(ctx, "dev", tip); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateBranch(ctx, "dev", tip); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate branch: %v", err)
	}
	if err := repo.CreateBranch(ctx, "ghost", NewSnapshotID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("branch at unknown snapshot: %v", err)
	}
	for _, bad := range []string{"", ".hidden", "x.lock", "a/b", "sp ace"} {
		if err := repo.CreateBranch(ctx, bad, tip); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("CreateBranch(%q): %v", bad, err)
		}
	}
	names, err := repo.Branches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"dev", "main"}) {
		t.Errorf("Branches = %v", names)
	}
	if _, err := repo.BranchTip(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("BranchTip(nope): %v", err)
	}

	// Branches advance independently.
	dev := mustCheckout(t, repo, "dev")
	if err := dev.AddGroup(ctx, MustPath("/dev-only")); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	trunk := mustCheckout(t, repo, "main")
	if _, err := trunk.GetNode(ctx, MustPath("/dev-only")); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("main sees dev's node: %v", err)
	}
}

func TestRepository_Ancestry(t *testing.T) {
	ctx := t.Context()
	repo := mustInit(t, NewMemory())
	ds := mustCheckout(t, repo, "main")
	initial := ds.SnapshotID()

	want := []SnapshotID{initial}
	for _, msg := range []string{"one", "two"} {
		if err := ds.SetUserAttributes(ctx, RootPath, []byte(`{"step":"`+msg+`"}`)); err != nil {
			t.Fatal(err)
		}
		id, err := ds.FlushWithMessage(ctx, msg)
		if err != nil {
			t.Fatal(err)
		}
		want = append([]SnapshotID{id}, want...)
	}

	tip := mustTip(t, repo, "main")
	history, err := repo.Ancestry(ctx, tip)
	if err != nil {
		t.Fatal(err)
	}
	var got []SnapshotID
	for _, m := range history {
		got = append(got, m.ID)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("Ancestry = %v, want %v", got, want)
	}
	if history[0].Message != "two" || history[1].Message != "one" {
		t.Errorf("messages = %q, %q", history[0].Message, history[1].Message)
	}
	if history[0].ParentID != history[1].ID || history[2].HasParent() {
		t.Error("parent links broken")
	}
	if history[0].CreatedAt.Before(history[2].CreatedAt) {
		t.Error("newer snapshot has an older timestamp")
	}
}

func mustTip(t *testing.T, repo *Repository, branch string) SnapshotID {
	t.Helper()
	tip, err := repo.BranchTip(t.Context(), branch)
	if err != nil {
		t.Fatalf("BranchTip(%s): %v", branch, err)
	}
	return tip
}
