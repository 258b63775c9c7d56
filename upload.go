package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnieminen/libctl/internal/itemref"
	"github.com/mnieminen/libctl/internal/libops"
	"github.com/mnieminen/libctl/internal/vapi"
)

// newUploadCmd builds the `libctl upload` command: push (or pull, with an
// explicit source type) one file into a library item through an update
// session.
func newUploadCmd() *cobra.Command {
	var (
		flagName string
		flagType string
	)

	cmd := &cobra.Command{
		Use:   "upload <library/item | item-id> <source>",
		Short: "Upload a file into a library item",
		Long: `Upload adds one file to a library item. Local paths and ds: locators are
pushed from this machine; http(s) sources are fetched by the server. Use
--type to override the inferred direction.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			override, err := parseSourceType(flagType)
			if err != nil {
				return err
			}

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

			orch := c.newOrchestrator()

			progress := newProgressPrinter(sourceSize(args[1], override))
			orch.OnProgress = progress.update
			defer progress.finish()

			if err := orch.UploadFile(ctx, item, flagName, args[1], override); err != nil {
				return err
			}

			statusf("uploaded %s to %s\n", args[1], args[0])

			return nil
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "remote file name (default: source base name)")
	cmd.Flags().StringVar(&flagType, "type", "", "source type override: push or pull")

	return cmd
}

// parseSourceType maps the --type flag to a source type override.
// Empty means "infer from the locator".
func parseSourceType(s string) (vapi.SourceType, error) {
	switch s {
	case "":
		return "", nil
	case "push":
		return vapi.SourcePush, nil
	case "pull":
		return vapi.SourcePull, nil
	default:
		return "", fmt.Errorf("invalid --type %q: want push or pull", s)
	}
}

// sourceSize returns the size of a local source for progress display, or 0
// when the locator does not resolve to a readable local file. The scheme
// prefix is stripped the same way the transfer itself strips it, so
// "file://" sources report their real size.
func sourceSize(locator string, override vapi.SourceType) int64 {
	spec, err := libops.BuildTransferSpec(locator, override)
	if err != nil || spec.SourceType != vapi.SourcePush || spec.Protocol == libops.ProtocolDatastore {
		return 0
	}

	info, err := os.Stat(spec.Endpoint)
	if err != nil {
		return 0
	}

	return info.Size()
}
