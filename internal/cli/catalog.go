package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ning0612/ddb/internal/catalog"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/meta"
)

func addCatalogCommands(root *cobra.Command, opts *options) {
	root.AddCommand(
		tagCommand(opts),
		passwordCommand(opts),
		stampCommand(opts),
		chattrCommand(opts),
		stacCommand(opts),
	)
}

func tagCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tag [tag]",
		Short: "Print or set the dataset tag",
		Long:  "Print the dataset tag, or set it to [registry/]namespace/dataset.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if len(args) == 1 {
				if err := c.SetTag(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			tag, err := c.GetTag(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]string{"tag": tag}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, tag)
				return err
			})
		},
	}
}

func passwordCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage catalog passwords",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "append <password>",
			Short: "Add a password",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				return cat.AppendPassword(c.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "verify [password]",
			Short: "Check a password; a catalog without passwords accepts none",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				password := ""
				if len(args) == 1 {
					password = args[0]
				}
				ok, err := cat.VerifyPassword(c.Context(), password)
				if err != nil {
					return err
				}
				return opts.print(c, map[string]bool{"valid": ok}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, ok)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every password",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				n, err := cat.ClearPasswords(c.Context())
				if err != nil {
					return err
				}
				return opts.print(c, map[string]int{"removed": n}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, n)
					return err
				})
			},
		},
	)
	return cmd
}

func stampCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stamp",
		Short: "Print the integrity stamp of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := c.Stamp(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd, s, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, s.Checksum)
				return err
			})
		},
	}
}

func chattrCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chattr [name=value]...",
		Short: "Print or change catalog attributes",
		Long:  "Print the catalog attributes, or change them. Values are JSON, e.g. public=true.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			var attrs domain.Attributes
			if len(args) == 0 {
				attrs, err = c.Attributes(cmd.Context())
			} else {
				changes := make(map[string]domain.Value, len(args))
				for _, a := range args {
					name, raw, ok := strings.Cut(a, "=")
					if !ok || name == "" {
						return fmt.Errorf("expected name=value, got %q", a)
					}
					v, err := meta.ParseValue("chattr", raw)
					if err != nil {
						return err
					}
					changes[name] = v
				}
				attrs, err = c.ChangeAttributes(cmd.Context(), changes)
			}
			if err != nil {
				return err
			}
			return opts.print(cmd, attrs, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "public: %v\nentries: %d\nlast update: %s\n",
					attrs.Public, attrs.Entries, attrs.LastUpdate.Format("2006-01-02 15:04:05"))
				return err
			})
		},
	}
}

func stacCommand(opts *options) *cobra.Command {
	var stac catalog.StacOptions
	cmd := &cobra.Command{
		Use:   "stac [path]",
		Short: "Print the STAC collection, or the item of one entry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			so := stac
			if len(args) == 1 {
				so.EntryPath = args[0]
			}
			doc, err := c.Stac(cmd.Context(), so)
			if err != nil {
				return err
			}
			if OutputFormat(opts.format) == YAML {
				return writeYAML(cmd.OutOrStdout(), rawJSON(doc))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc)
			return err
		},
	}
	cmd.Flags().StringVar(&stac.CollectionURL, "collection-url", "", "public URL of the dataset, derived from the tag by default")
	cmd.Flags().StringVar(&stac.CollectionID, "id", "", "collection id, derived from the tag by default")
	cmd.Flags().StringVar(&stac.RegistryURL, "registry-url", "", "registry URL, derived from the tag by default")
	return cmd
}

// rawJSON is an already encoded JSON document.
type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) {
	return []byte(r), nil
}
