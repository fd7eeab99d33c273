package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Ning0612/ddb/internal/catalog"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/progress"
)

func addEntryCommands(root *cobra.Command, opts *options) {
	root.AddCommand(
		initCommand(opts),
		addCommand(opts),
		removeCommand(opts),
		listCommand(opts),
		infoCommand(opts),
		moveCommand(opts),
		deltaCommand(opts),
	)
}

func printEntries(w io.Writer, entries []domain.Entry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%-10s %10s  %s\n", e.Type, sizeOf(e), e.Path); err != nil {
			return err
		}
	}
	return nil
}

func sizeOf(e domain.Entry) string {
	if e.IsDir() {
		return "-"
	}
	return progress.FormatBytes(e.Size)
}

func initCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init [directory]",
		Short: "Turn a directory into a catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if len(args) == 1 {
				dir = args[0]
			}
			c, err := catalog.Init(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer c.Close()
			return opts.print(cmd, map[string]string{"root": c.Root()}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, "Initialized empty catalog in", filepath.Join(c.Root(), catalog.MarkerDir))
				return err
			})
		},
	}
}

func addCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Index files and directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			entries, err := c.Add(cmd.Context(), args...)
			if err != nil {
				return err
			}
			return opts.print(cmd, entries, func(w io.Writer) error {
				for _, e := range entries {
					if _, err := fmt.Fprintln(w, "A", e.Path); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func removeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <path>...",
		Aliases: []string{"remove"},
		Short:   "Drop paths from the index",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			removed := []string{}
			for _, p := range args {
				paths, err := c.Remove(cmd.Context(), p)
				if err != nil {
					return err
				}
				removed = append(removed, paths...)
			}
			return opts.print(cmd, removed, func(w io.Writer) error {
				for _, p := range removed {
					if _, err := fmt.Fprintln(w, "D", p); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func listCommand(opts *options) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:     "ls [path]",
		Aliases: []string{"list"},
		Short:   "List indexed entries",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			entries, err := c.List(cmd.Context(), target, recursive)
			if err != nil {
				return err
			}
			return opts.print(cmd, entries, func(w io.Writer) error {
				return printEntries(w, entries)
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list whole subtrees")
	return cmd
}

func infoCommand(opts *options) *cobra.Command {
	var info catalog.InfoOptions
	cmd := &cobra.Command{
		Use:   "info <path>...",
		Short: "Classify files without indexing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := []domain.Entry{}
			for _, p := range args {
				found, err := catalog.Info(cmd.Context(), p, info)
				if err != nil {
					return err
				}
				entries = append(entries, found...)
			}
			return opts.print(cmd, entries, nil)
		},
	}
	cmd.Flags().BoolVar(&info.WithHash, "hash", false, "compute content digests")
	cmd.Flags().BoolVarP(&info.Recursive, "recursive", "r", false, "describe whole subtrees")
	return cmd
}

func moveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "mv <source> <destination>",
		Aliases: []string{"move"},
		Short:   "Rename an entry and its subtree",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			e, err := c.MoveEntry(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return opts.print(cmd, e, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s -> %s\n", args[0], e.Path)
				return err
			})
		},
	}
}

func deltaCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delta <source> [target]",
		Short: "Show the changes that turn source into target",
		Long:  "Show the changes that turn the source catalog into the target catalog. The target defaults to --dir.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := opts.dir
			if len(args) == 2 {
				target = args[1]
			}
			src, err := catalog.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			tgt, err := catalog.Open(ctx, target)
			if err != nil {
				return err
			}
			defer tgt.Close()

			d, err := catalog.Delta(ctx, src, tgt)
			if err != nil {
				return err
			}
			return opts.print(cmd, d, func(w io.Writer) error {
				for _, r := range d.Removes {
					if _, err := fmt.Fprintln(w, "D", r.Path); err != nil {
						return err
					}
				}
				for _, a := range d.Adds {
					if _, err := fmt.Fprintln(w, "A", a.Path); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
