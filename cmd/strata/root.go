package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pithecene-io/strata/internal/config"
	"github.com/pithecene-io/strata/internal/logging"
	"github.com/pithecene-io/strata/strata"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string

	cfg    *config.Config
	logger *zap.Logger
	store  strata.Store
	opts   []strata.Option
	close  func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "strata",
		Short:        "Inspect and edit versioned array repositories",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $STRATA_CONFIG)")

	root.AddCommand(
		newInitCmd(a),
		newBranchesCmd(a),
		newBranchCmd(a),
		newLogCmd(a),
		newNodesCmd(a),
		newChunkCmd(a),
	)
	return root
}

// execute runs root and then releases the backend. cobra skips post-run
// hooks when a command fails, so the release happens here instead.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if cerr := a.teardown(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) setup(ctx context.Context) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	a.logger, err = logging.New(a.cfg.Logging.Level)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store, a.opts, a.close = b.store, b.opts, b.close
	return nil
}

func (a *app) teardown() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.close == nil {
		return nil
	}
	closeFn := a.close
	a.close = nil
	return closeFn()
}

// open opens the configured repository.
func (a *app) open(ctx context.Context) (*strata.Repository, error) {
	return strata.OpenRepository(ctx, a.store, a.opts...)
}

// checkout returns a session on the tip of branch, or of the default
// branch when branch is empty.
func (a *app) checkout(ctx context.Context, branch string) (*strata.Dataset, error) {
	repo, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = repo.DefaultBranch()
	}
	return repo.Checkout(ctx, branch)
}

// session returns a detached session at snapshot when it is set, and a
// branch session otherwise.
func (a *app) session(ctx context.Context, branch, snapshot string) (*strata.Dataset, error) {
	if snapshot == "" {
		return a.checkout(ctx, branch)
	}
	id, err := strata.ParseSnapshotID(snapshot)
	if err != nil {
		return nil, err
	}
	repo, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	return repo.Dataset(ctx, id)
}
