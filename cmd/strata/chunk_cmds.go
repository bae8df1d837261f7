package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/strata/strata"
)

func newChunkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Read and reference array chunks",
	}
	cmd.AddCommand(newChunkGetCmd(a), newChunkListCmd(a), newChunkSetVirtualCmd(a))
	return cmd
}

func newChunkGetCmd(a *app) *cobra.Command {
	var branch, snapshot, rng string
	cmd := &cobra.Command{
		Use:   "get ARRAY COORDS",
		Short: "Write the bytes of one chunk to stdout",
		Long: `Write the bytes of one chunk to stdout.

COORDS are comma separated chunk indices, e.g. 0,1,0. --range selects part
of the chunk: "a:b" for bytes [a, b), "a:" from a, ":b" up to b.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, idx, err := parseChunkArgs(args[0], args[1])
			if err != nil {
				return err
			}
			r, err := parseRange(rng)
			if err != nil {
				return err
			}
			ds, err := a.session(ctx, branch, snapshot)
			if err != nil {
				return err
			}
			data, err := ds.GetChunk(ctx, path, idx, r)
			if err != nil {
				return err
			}
			if data == nil {
				return fmt.Errorf("chunk %s %s: %w", path, args[1], strata.ErrNotFound)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to read (default: the default branch)")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "snapshot id to read instead of a branch")
	cmd.Flags().StringVar(&rng, "range", "", "byte range within the chunk")
	return cmd
}

func newChunkListCmd(a *app) *cobra.Command {
	var branch, snapshot string
	cmd := &cobra.Command{
		Use:   "ls ARRAY",
		Short: "List the written chunks of an array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := strata.NewPath(args[0])
			if err != nil {
				return err
			}
			ds, err := a.session(ctx, branch, snapshot)
			if err != nil {
				return err
			}
			refs, err := ds.ListChunks(ctx, path)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", formatIndices(ref.Indices), ref.Payload)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to read (default: the default branch)")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "snapshot id to read instead of a branch")
	return cmd
}

func newChunkSetVirtualCmd(a *app) *cobra.Command {
	var (
		branch  string
		message string
		offset  uint64
		length  uint64
	)
	cmd := &cobra.Command{
		Use:   "set-virtual ARRAY COORDS LOCATION",
		Short: "Point a chunk at bytes of an external object and commit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, idx, err := parseChunkArgs(args[0], args[1])
			if err != nil {
				return err
			}
			loc, err := strata.ParseVirtualChunkLocation(args[2])
			if err != nil {
				return err
			}
			if length == 0 {
				return errors.New("--length is required")
			}
			ds, err := a.checkout(ctx, branch)
			if err != nil {
				return err
			}
			ref := strata.VirtualPayload{Location: loc, Offset: offset, Length: length}
			if err := ds.SetChunkRef(ctx, path, idx, ref); err != nil {
				return err
			}
			if message == "" {
				message = fmt.Sprintf("set %s %s to %s", path, args[1], loc)
			}
			id, err := ds.FlushWithMessage(ctx, message)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to commit to (default: the default branch)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset of the chunk in the object")
	cmd.Flags().Uint64Var(&length, "length", 0, "byte length of the chunk")
	return cmd
}

func parseChunkArgs(array, coords string) (strata.Path, strata.ChunkIndices, error) {
	path, err := strata.NewPath(array)
	if err != nil {
		return "", nil, err
	}
	idx, err := parseIndices(coords)
	if err != nil {
		return "", nil, err
	}
	return path, idx, nil
}

// parseIndices parses "0,1,2". An empty string is the single chunk of a
// zero-dimensional array.
func parseIndices(s string) (strata.ChunkIndices, error) {
	idx := strata.ChunkIndices{}
	if s == "" {
		return idx, nil
	}
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk coordinates %q: %w", s, err)
		}
		idx = append(idx, v)
	}
	return idx, nil
}

func formatIndices(idx strata.ChunkIndices) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ",")
}

// parseRange parses "a:b", "a:", ":b" or "" (everything).
func parseRange(s string) (strata.ByteRange, error) {
	if s == "" {
		return strata.AllBytes(), nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return strata.ByteRange{}, fmt.Errorf("byte range %q: want start:end", s)
	}
	parse := func(v string) (uint64, error) {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("byte range %q: %w", s, err)
		}
		return n, nil
	}
	switch {
	case lo == "" && hi == "":
		return strata.AllBytes(), nil
	case hi == "":
		start, err := parse(lo)
		return strata.FromOffset(start), err
	case lo == "":
		end, err := parse(hi)
		return strata.ToOffset(end), err
	}
	start, err := parse(lo)
	if err != nil {
		return strata.ByteRange{}, err
	}
	end, err := parse(hi)
	if err != nil {
		return strata.ByteRange{}, err
	}
	if end < start {
		return strata.ByteRange{}, fmt.Errorf("byte range %q: end before start", s)
	}
	return strata.Bounded(start, end), nil
}
