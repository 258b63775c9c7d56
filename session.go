package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnieminen/libctl/internal/vapi"
)

// newSessionCmd builds the `libctl session` command group for inspecting
// and reclaiming journaled update sessions left behind by a crash.
func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and reclaim journaled update sessions",
	}

	cmd.AddCommand(newSessionLsCmd())
	cmd.AddCommand(newSessionRmCmd())

	return cmd
}

// newSessionLsCmd lists journaled sessions with their current server-side
// state, so orphans (still ACTIVE with no owning process) stand out.
func newSessionLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List journaled update sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()

			recs, err := c.journal.List(ctx)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(recs))
			for _, rec := range recs {
				state := "DEFUNCT"

				info, getErr := c.meta.GetSession(ctx, rec.SessionID)
				switch {
				case getErr == nil:
					state = string(info.State)
				case !errors.Is(getErr, vapi.ErrNotFound):
					return getErr
				}

				rows = append(rows, []string{
					rec.SessionID,
					rec.ItemName,
					state,
					rec.CreatedAt.Format("2006-01-02 15:04"),
				})
			}

			printTable(os.Stdout, []string{"SESSION", "ITEM", "STATE", "OPENED"}, rows)

			return nil
		},
	}
}

// newSessionRmCmd deletes a journaled session server-side and drops it from
// the journal. A session already gone server-side still clears locally.
func newSessionRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <session-id>",
		Short: "Delete a journaled update session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()
			sessionID := args[0]

			if err := c.meta.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, vapi.ErrNotFound) {
				return err
			}

			if err := c.journal.Remove(ctx, sessionID); err != nil {
				return err
			}

			statusf("session %s deleted\n", sessionID)

			return nil
		},
	}
}
