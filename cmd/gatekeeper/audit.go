// ABOUTME: audit command group: recent events and aggregate statistics
// ABOUTME: Reads the SQLite audit trail through the admin console

package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
	"github.com/benedictkwok/cover-letter-assistant/internal/store"
)

// NewAuditCommand creates the audit command group.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the security audit trail",
	}
	cmd.AddCommand(newAuditTailCommand(rootOpts))
	cmd.AddCommand(newAuditStatsCommand(rootOpts))
	return cmd
}

func newAuditTailCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit     int
		since     time.Duration
		who       string
		eventType string
		outcome   string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "List recent audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.AuditFilter{Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				f.Since = &t
			}
			if who != "" {
				key := identity.Normalize(who)
				f.Identity = &key
			}
			if eventType != "" {
				et := audit.EventType(eventType)
				f.Type = &et
			}
			if outcome != "" {
				oc := audit.Outcome(outcome)
				f.Outcome = &oc
			}

			a, err := rootOpts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := rootOpts.console(a, false)
			if err != nil {
				return err
			}
			events, err := c.RecentEvents(cmd.Context(), f)
			if err != nil {
				return err
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(events)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEVENT\tIDENTITY\tOUTCOME\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.DateTime),
					e.Type,
					e.Identity,
					colorOutcome(e.Outcome),
					formatDetail(e.Detail),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events to show (max 1000)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 24h)")
	cmd.Flags().StringVar(&who, "identity", "", "filter by identity")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type (e.g. rate_limited)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (allowed|denied|error)")
	return cmd
}

func colorOutcome(o audit.Outcome) string {
	switch o {
	case audit.OutcomeAllowed:
		return color.GreenString(string(o))
	case audit.OutcomeDenied:
		return color.YellowString(string(o))
	default:
		return color.RedString(string(o))
	}
}

func formatDetail(d map[string]any) string {
	if len(d) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return strings.Join(parts, " ")
}

func newAuditStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize logins, uploads, rate limiting and today's usage",
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
			st, err := c.Stats(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(st)
			}
			out.field("Since", st.Since.Local().Format(time.DateTime))
			out.field("Invitees", fmt.Sprintf("%d (%d active, %d admin)", st.Invitees, st.Active, st.Admins))
			if st.Audit != nil {
				out.field("Auth attempts", st.Audit.TotalAuthAttempts)
				out.field("Logins ok", st.Audit.SuccessfulLogins)
				out.field("Logins failed", st.Audit.FailedLogins)
				out.field("Uploads", st.Audit.FileSubmissions)
				out.field("Rate limited", st.Audit.RateLimitViolations)
				out.field("Identities", st.Audit.UniqueIdentities)
			}
			if st.UsageKnown {
				out.field("Used today", fmt.Sprintf("%d by %d identities (%s)", st.Usage.Actions, st.Usage.Identities, st.Usage.Day))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window to summarize")
	return cmd
}
