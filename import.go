package main

import (
	"github.com/spf13/cobra"

	"github.com/mnieminen/libctl/internal/itemref"
)

// newImportCmd builds the `libctl import` command: register a server-side
// fetch from a web URI and wait for it to finish.
func newImportCmd() *cobra.Command {
	var flagName string

	cmd := &cobra.Command{
		Use:   "import <library/item | item-id> <url>",
		Short: "Import a file into a library item from a URL",
		Long: `Import registers an http(s) source with the item's update session and
waits until the server finishes fetching it.`,
		Args: cobra.ExactArgs(2),
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

			if err := c.newOrchestrator().ImportFile(ctx, item, flagName, args[1]); err != nil {
				return err
			}

			statusf("imported %s into %s\n", args[1], args[0])

			return nil
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "remote file name (default: URL base name)")

	return cmd
}
