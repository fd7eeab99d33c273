package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ning0612/ddb/internal/domain"
)

func addMetaCommands(root *cobra.Command, opts *options) {
	var path string
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Manage catalog and entry metadata",
		Long: `Manage metadata records. Keys ending in "s" are plural and hold a list
written with add; other keys hold one record written with set. Without
--path records belong to the catalog itself.`,
	}
	cmd.PersistentFlags().StringVarP(&path, "path", "p", "", "entry the record belongs to")

	printMeta := func(c *cobra.Command, m domain.Meta) error {
		return opts.print(c, m, func(w io.Writer) error {
			data, err := json.Marshal(m.Data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%s %s\n", m.ID, data)
			return err
		})
	}
	printCount := func(c *cobra.Command, n int) error {
		return opts.print(c, map[string]int{"removed": n}, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, n)
			return err
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <key> <data>",
			Short: "Append a record to a plural key",
			Args:  cobra.ExactArgs(2),
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				m, err := cat.MetaAdd(c.Context(), args[0], args[1], path)
				if err != nil {
					return err
				}
				return printMeta(c, m)
			},
		},
		&cobra.Command{
			Use:   "set <key> <data>",
			Short: "Replace the record of a singular key",
			Args:  cobra.ExactArgs(2),
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				m, err := cat.MetaSet(c.Context(), args[0], args[1], path)
				if err != nil {
					return err
				}
				return printMeta(c, m)
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print the records of a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				res, err := cat.MetaGet(c.Context(), args[0], path)
				if err != nil {
					return err
				}
				return opts.print(c, res, func(w io.Writer) error {
					for _, m := range res.Records {
						data, err := json.Marshal(m.Data)
						if err != nil {
							return err
						}
						if _, err := fmt.Fprintf(w, "%s %s\n", m.ID, data); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rm <id>",
			Short: "Delete one record by id",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				n, err := cat.MetaRemove(c.Context(), args[0])
				if err != nil {
					return err
				}
				return printCount(c, n)
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Delete every record of a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				n, err := cat.MetaUnset(c.Context(), args[0], path)
				if err != nil {
					return err
				}
				return printCount(c, n)
			},
		},
		&cobra.Command{
			Use:   "ls",
			Short: "List keys with their record counts",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				cat, err := opts.open(c)
				if err != nil {
					return err
				}
				defer cat.Close()
				list, err := cat.MetaList(c.Context(), path)
				if err != nil {
					return err
				}
				return opts.print(c, list, func(w io.Writer) error {
					for _, s := range list {
						scope := s.Path
						if scope == "" {
							scope = "(catalog)"
						}
						if _, err := fmt.Fprintf(w, "%-20s %5s  %s\n", s.Key, strconv.Itoa(s.Count), scope); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	)
	root.AddCommand(cmd)
}
