package main

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// newItemsCmd builds the `libctl items` command: list the items of a
// library so operators can find upload targets.
func newItemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items <library-name>",
		Short: "List the items of a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()

			lib, err := c.meta.FindLibrary(ctx, args[0])
			if err != nil {
				return err
			}

			items, err := c.meta.ListItems(ctx, lib.ID)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.ID,
					item.Name,
					item.ContentVersion,
					humanize.IBytes(uint64(item.Size)), //nolint:gosec // sizes are non-negative
				})
			}

			printTable(os.Stdout, []string{"ID", "NAME", "VERSION", "SIZE"}, rows)

			return nil
		},
	}

	return cmd
}
