package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/strata/strata"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the repository if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := strata.InitRepository(ctx, a.store, true, a.opts...)
			if err != nil {
				return err
			}
			tip, err := repo.BranchTip(ctx, repo.DefaultBranch())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", repo.DefaultBranch(), tip)
			return nil
		},
	}
}

func newBranchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List branches and their tips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := a.open(ctx)
			if err != nil {
				return err
			}
			names, err := repo.Branches(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				tip, err := repo.BranchTip(ctx, name)
				if err != nil {
					return err
				}
				mark := " "
				if name == repo.DefaultBranch() {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", mark, name, tip)
			}
			return nil
		},
	}
}

func newBranchCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "branch NAME",
		Short: "Create a branch at a snapshot (default: tip of the default branch)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := a.open(ctx)
			if err != nil {
				return err
			}
			var id strata.SnapshotID
			if at != "" {
				id, err = strata.ParseSnapshotID(at)
			} else {
				id, err = repo.BranchTip(ctx, repo.DefaultBranch())
			}
			if err != nil {
				return err
			}
			if err := repo.CreateBranch(ctx, args[0], id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], id)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "snapshot id of the new branch tip")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log [BRANCH]",
		Short: "Show the snapshot history of a branch, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := a.open(ctx)
			if err != nil {
				return err
			}
			branch := repo.DefaultBranch()
			if len(args) == 1 {
				branch = args[0]
			}
			tip, err := repo.BranchTip(ctx, branch)
			if err != nil {
				return err
			}
			history, err := repo.Ancestry(ctx, tip)
			if err != nil {
				return err
			}
			if limit > 0 && len(history) > limit {
				history = history[:limit]
			}
			for _, m := range history {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", m.ID, m.CreatedAt.UTC().Format(time.RFC3339), m.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many snapshots")
	return cmd
}

func newNodesCmd(a *app) *cobra.Command {
	var branch, snapshot string
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the groups and arrays of a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ds, err := a.session(ctx, branch, snapshot)
			if err != nil {
				return err
			}
			nodes, err := ds.ListNodes(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for n := range nodes {
				if !n.IsArray() {
					fmt.Fprintf(out, "%-5s %s\n", n.Type, n.Path)
					continue
				}
				fmt.Fprintf(out, "%-5s %s %s shape=%v chunks=%v\n",
					n.Type, n.Path, n.Array.DataType, n.Array.Shape, n.Array.ChunkShape)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to read (default: the default branch)")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "snapshot id to read instead of a branch")
	return cmd
}
