// ABOUTME: quota command group: show and reset an identity's daily usage
// ABOUTME: Reset requires the administrator password and is audited with the actor

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewQuotaCommand creates the quota command group.
func NewQuotaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reset daily quotas",
	}
	cmd.AddCommand(newQuotaStatusCommand(rootOpts))
	cmd.AddCommand(newQuotaResetCommand(rootOpts))
	return cmd
}

func newQuotaStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <email>",
		Short: "Show today's usage for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := rootOpts.console(a, false)
			if err != nil {
				return err
			}
			st, err := c.QuotaStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(map[string]any{
					"identity":  args[0],
					"day":       st.Day,
					"used":      st.Used,
					"remaining": st.Remaining,
					"limit":     st.Limit,
					"reset_at":  st.ResetAt,
				})
			}
			out.field("Day", st.Day)
			out.field("Used", fmt.Sprintf("%d of %d", st.Used, st.Limit))
			out.field("Remaining", st.Remaining)
			out.field("Resets", st.ResetAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newQuotaResetCommand(rootOpts *RootOptions) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "reset <email>",
		Short: "Reset today's usage for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := rootOpts.console(a, true)
			if err != nil {
				return err
			}
			if err := c.ResetQuota(cmd.Context(), args[0], actor); err != nil {
				return WrapExitError(ExitFailure, "resetting quota", err)
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(map[string]any{"identity": args[0], "reset": true})
			}
			out.ok("Reset today's quota for %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "admin", "administrator recorded in the audit trail")
	return cmd
}
