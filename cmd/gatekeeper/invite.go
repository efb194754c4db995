// ABOUTME: invite command group: list, add, revoke and restore invitees
// ABOUTME: Edits require the administrator password and reload the served list

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/benedictkwok/cover-letter-assistant/internal/invite"
)

// NewInviteCommand creates the invite command group.
func NewInviteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Manage the invitation list",
	}
	cmd.AddCommand(newInviteListCommand(rootOpts))
	cmd.AddCommand(newInviteAddCommand(rootOpts))
	cmd.AddCommand(newInviteStatusCommand(rootOpts, "revoke", "Revoke an invitation; existing sessions stop working", invite.StatusRevoked))
	cmd.AddCommand(newInviteStatusCommand(rootOpts, "restore", "Reactivate a revoked invitation", invite.StatusActive))
	return cmd
}

type inviteRow struct {
	Identity    string `json:"identity"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	AccessLevel string `json:"access_level"`
	InvitedDate string `json:"invited_date,omitempty"`
}

func newInviteListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List invitees",
		Args:  cobra.NoArgs,
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

			rows := make([]inviteRow, 0)
			for _, inv := range c.Invitees() {
				row := inviteRow{
					Identity:    inv.Key,
					Name:        inv.Name,
					Status:      string(inv.Status),
					AccessLevel: string(inv.AccessLevel),
				}
				if !inv.InvitedAt.IsZero() {
					row.InvitedDate = inv.InvitedAt.Format(invite.DateLayout)
				}
				rows = append(rows, row)
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(rows)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tNAME\tSTATUS\tACCESS\tINVITED")
			for _, r := range rows {
				status := r.Status
				if status == string(invite.StatusRevoked) {
					status = color.RedString(status)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Identity, r.Name, status, r.AccessLevel, r.InvitedDate)
			}
			return tw.Flush()
		},
	}
}

func newInviteAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name  string
		admin bool
		notes string
	)
	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Invite an identity (re-adding replaces the entry)",
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

			level := invite.AccessUser
			if admin {
				level = invite.AccessAdmin
			}
			inv := invite.Invitee{
				Key:         args[0],
				Name:        name,
				Status:      invite.StatusActive,
				AccessLevel: level,
				Notes:       notes,
			}
			if err := c.AddInvitee(cmd.Context(), inv); err != nil {
				return WrapExitError(ExitFailure, "adding invitee", err)
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(map[string]any{"identity": args[0], "access_level": level, "invitees": a.rt.Registry().Len()})
			}
			out.ok("Invited %s (%s)", args[0], level)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator access")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes kept in the invitation file")
	return cmd
}

func newInviteStatusCommand(rootOpts *RootOptions, use, short string, status invite.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
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

			if status == invite.StatusRevoked {
				err = c.RevokeInvitee(cmd.Context(), args[0])
			} else {
				err = c.RestoreInvitee(cmd.Context(), args[0])
			}
			if err != nil {
				return WrapExitError(ExitFailure, use+" invitee", err)
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(map[string]any{"identity": args[0], "status": status})
			}
			out.ok("%s is now %s", args[0], status)
			return nil
		},
	}
}
