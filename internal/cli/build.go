package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ning0612/ddb/internal/catalog"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/progress"
	"github.com/Ning0612/ddb/internal/render"
)

func addBuildCommands(root *cobra.Command, opts *options) {
	root.AddCommand(
		buildCommand(opts),
		buildableCommand(opts),
		thumbnailCommand(opts),
		tileCommand(opts),
		versionCommand(opts),
	)
}

func buildCommand(opts *options) *cobra.Command {
	var force, quiet bool
	cmd := &cobra.Command{
		Use:   "build [path]",
		Short: "Derive EPT and tile outputs of buildable entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			bo := catalog.BuildOptions{Force: force}
			if len(args) == 1 {
				bo.Target = args[0]
			}
			if !quiet {
				bo.Reporter = progress.NewWriterReporter(cmd.ErrOrStderr())
			}
			builds, err := c.Build(cmd.Context(), bo)
			if err != nil {
				return err
			}
			return opts.print(cmd, builds, func(w io.Writer) error {
				for _, b := range builds {
					if _, err := fmt.Fprintf(w, "%-6s %s -> %s\n", b.Kind, b.Path, b.Output); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild outputs that are up to date")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not report progress")
	return cmd
}

func buildableCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "buildable <path>",
		Short: "Tell whether an entry has a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ok, err := c.IsBuildable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]bool{"buildable": ok}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, ok)
				return err
			})
		},
	}
}

func thumbnailCommand(opts *options) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "thumbnail <image> <output.jpg>",
		Short: "Render a JPEG thumbnail of an image or raster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return render.New(opts.rt).ThumbnailToFile(cmd.Context(), args[0], size, args[1])
		},
	}
	cmd.Flags().IntVarP(&size, "size", "s", 0, "longest side in pixels, the configured size when 0")
	return cmd
}

func tileCommand(opts *options) *cobra.Command {
	var (
		size int
		tms  bool
	)
	cmd := &cobra.Command{
		Use:   "tile <geotiff> <z> <x> <y> <output.png>",
		Short: "Render one web mercator tile of a georeferenced raster",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			var zxy [3]int
			for i, a := range args[1:4] {
				n, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("invalid tile coordinate %q", a)
				}
				zxy[i] = n
			}
			cfg := opts.rt.Config.Tile
			if size == 0 {
				size = cfg.Size
			}
			if !cmd.Flags().Changed("tms") {
				tms = cfg.TMS
			}
			return render.New(opts.rt).TileToFile(cmd.Context(), args[0], zxy[0], zxy[1], zxy[2], size, tms, args[4])
		},
	}
	cmd.Flags().IntVarP(&size, "size", "s", 0, "tile size in pixels, the configured size when 0")
	cmd.Flags().BoolVar(&tms, "tms", false, "y counts from the south")
	return cmd
}

func versionCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := engine.Version()
			return opts.print(cmd, map[string]string{"version": v}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, "ddb", v)
				return err
			})
		},
	}
}
