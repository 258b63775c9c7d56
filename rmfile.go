package main

import (
	"github.com/spf13/cobra"

	"github.com/mnieminen/libctl/internal/itemref"
)

// newRmFileCmd builds the `libctl rm-file` command: remove a named file
// from a library item. One update session is opened and completed per
// removal.
func newRmFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm-file <library/item | item-id> <file-name>",
		Short: "Remove a file from a library item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := itemref.Parse(args[0])
			if err != nil {
				return err
			}

			c, err := newClients()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()

			item, err := c.resolver.Resolve(ctx, ref)
			if err != nil {
				return err
			}

			if err := c.newOrchestrator().RemoveFile(ctx, item, args[1]); err != nil {
				return err
			}

			statusf("removed %s from %s\n", args[1], args[0])

			return nil
		},
	}

	return cmd
}
