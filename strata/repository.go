package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// -----------------------------------------------------------------------------
// Repository
// -----------------------------------------------------------------------------

// Repository is a Store holding snapshots plus named branches. Each branch
// is a small object branches/<name> containing the printed id of its tip,
// moved only with compare-and-swap.
type Repository struct {
	store Store
	cfg   repositoryConfig
	log   *zap.Logger
}

// InitRepository opens the repository in store, creating it when absent.
//
// A new repository gets an initial snapshot holding only the root group and
// a default branch pointing at it. If a repository already exists, it is
// opened when createIfAbsent is true and ErrRepositoryExists is returned
// otherwise.
func InitRepository(ctx context.Context, store Store, createIfAbsent bool, opts ...Option) (*Repository, error) {
	r, err := newRepository(store, opts)
	if err != nil {
		return nil, err
	}
	exists, err := r.exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		if !createIfAbsent {
			return nil, ErrRepositoryExists
		}
		r.log.Debug("repository opened")
		return r, nil
	}
	err = r.create(ctx)
	if errors.Is(err, ErrRepositoryExists) && createIfAbsent {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// OpenRepository opens an existing repository. It returns
// ErrRepositoryNotFound when store holds no branches.
func OpenRepository(ctx context.Context, store Store, opts ...Option) (*Repository, error) {
	r, err := newRepository(store, opts)
	if err != nil {
		return nil, err
	}
	exists, err := r.exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRepositoryNotFound
	}
	return r, nil
}

func newRepository(store Store, opts []Option) (*Repository, error) {
	if store == nil {
		return nil, errors.New("strata: store is required")
	}
	if _, ok := store.(ConditionalWriter); !ok {
		return nil, fmt.Errorf("strata: repository: %w", ErrConditionalWriteUnsupported)
	}
	cfg, err := buildRepositoryConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Repository{store: store, cfg: cfg, log: cfg.dataset.logger}, nil
}

func (r *Repository) exists(ctx context.Context) (bool, error) {
	names, err := r.Branches(ctx)
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// create writes the initial snapshot and the default branch.
func (r *Repository) create(ctx context.Context) error {
	ds, err := newDataset(r.store, r.cfg.dataset, SnapshotID{}, "")
	if err != nil {
		return err
	}
	if err := ds.AddGroup(ctx, RootPath); err != nil {
		return err
	}
	id, err := ds.FlushWithMessage(ctx, "Repository initialized")
	if err != nil {
		return err
	}
	if err := r.CreateBranch(ctx, r.cfg.defaultBranch, id); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Another process initialized concurrently; its branch wins.
			return ErrRepositoryExists
		}
		return err
	}
	r.log.Info("repository initialized",
		zap.String("branch", r.cfg.defaultBranch),
		zap.Stringer("snapshot", id),
	)
	return nil
}

// Store returns the backing store.
func (r *Repository) Store() Store { return r.store }

// DefaultBranch returns the branch created at initialization.
func (r *Repository) DefaultBranch() string { return r.cfg.defaultBranch }

// Checkout starts a session at the tip of branch. Flushing the session
// moves the branch.
func (r *Repository) Checkout(ctx context.Context, branch string) (*Dataset, error) {
	tip, err := r.BranchTip(ctx, branch)
	if err != nil {
		return nil, err
	}
	return newDataset(r.store, r.cfg.dataset, tip, branch)
}

// Dataset starts a detached session at a snapshot. Flushing it writes new
// snapshots without moving any branch.
func (r *Repository) Dataset(ctx context.Context, id SnapshotID) (*Dataset, error) {
	if _, err := r.Snapshot(ctx, id); err != nil {
		return nil, err
	}
	return newDataset(r.store, r.cfg.dataset, id, "")
}

// BranchTip returns the snapshot a branch points at.
func (r *Repository) BranchTip(ctx context.Context, branch string) (SnapshotID, error) {
	if err := validateBranchName(branch); err != nil {
		return SnapshotID{}, err
	}
	key := branchKey(branch)
	rc, err := r.store.Get(ctx, key)
	if err != nil {
		return SnapshotID{}, fmt.Errorf("strata: branch %s: %w", branch, backendError("get", key, err))
	}
	defer closer(rc)()
	data, err := io.ReadAll(rc)
	if err != nil {
		return SnapshotID{}, fmt.Errorf("strata: branch %s: %w", branch, backendError("get", key, err))
	}
	id, err := ParseSnapshotID(strings.TrimSpace(string(data)))
	if err != nil {
		return SnapshotID{}, fmt.Errorf("strata: branch %s: %w", branch, err)
	}
	return id, nil
}

// CreateBranch points a new branch at an existing snapshot. It returns
// ErrAlreadyExists if the branch exists.
func (r *Repository) CreateBranch(ctx context.Context, branch string, at SnapshotID) error {
	if err := validateBranchName(branch); err != nil {
		return err
	}
	if _, err := r.Snapshot(ctx, at); err != nil {
		return err
	}
	cw := r.store.(ConditionalWriter)
	key := branchKey(branch)
	err := cw.CompareAndSwap(ctx, key, "", at.String())
	if errors.Is(err, ErrSnapshotConflict) {
		return fmt.Errorf("strata: create branch %s: %w", branch, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("strata: create branch %s: %w", branch, backendError("compare_and_swap", key, err))
	}
	r.log.Info("branch created", zap.String("branch", branch), zap.Stringer("snapshot", at))
	return nil
}

// Branches lists branch names in lexical order.
func (r *Repository) Branches(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, "branches/")
	if err != nil {
		return nil, fmt.Errorf("strata: list branches: %w", backendError("list", "branches/", err))
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name, ok := strings.CutPrefix(k, "branches/")
		if !ok || validateBranchName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Snapshot returns the metadata of a committed snapshot.
func (r *Repository) Snapshot(ctx context.Context, id SnapshotID) (SnapshotMetadata, error) {
	s, err := readSnapshot(ctx, r.store, id)
	if err != nil {
		return SnapshotMetadata{}, err
	}
	return s.SnapshotMetadata, nil
}

// Ancestry walks the lineage of a snapshot from id back to the first
// version, newest first.
func (r *Repository) Ancestry(ctx context.Context, id SnapshotID) ([]SnapshotMetadata, error) {
	var out []SnapshotMetadata
	seen := make(map[SnapshotID]struct{})
	for cur := id; !cur.IsZero(); {
		if _, loop := seen[cur]; loop {
			return nil, fmt.Errorf("strata: ancestry of %s: cycle at %s", id, cur)
		}
		seen[cur] = struct{}{}
		meta, err := r.Snapshot(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("strata: ancestry of %s: %w", id, err)
		}
		out = append(out, meta)
		cur = meta.ParentID
	}
	return out, nil
}

// validateBranchName accepts names of letters, digits, '-', '_' and '.',
// not starting with '.' and not ending in ".lock".
func validateBranchName(name string) error {
	if name == "" || len(name) > 255 || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("strata: branch name %q: %w", name, ErrInvalidPath)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return fmt.Errorf("strata: branch name %q: %w", name, ErrInvalidPath)
		}
	}
	return nil
}
