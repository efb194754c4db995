// ABOUTME: Root cobra command, global flags, and shared runtime setup
// ABOUTME: Every subcommand loads the config, builds a logger, and opens the gateway the same way

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/benedictkwok/cover-letter-assistant/internal/admin"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/gateway"
	"github.com/benedictkwok/cover-letter-assistant/internal/invite"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath    string
	Format        string // "json" | "text"
	AdminPassword string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for gatekeeper.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Invitation gate for the cover-letter assistant",
		Long:          "Admits invited identities, enforces rate limits and the daily quota, and keeps the security audit trail.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", getConfigPath(), "config file path")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.AdminPassword, "admin-password", os.Getenv("GATE_ADMIN_PASSWORD"), "administrator password (default $GATE_ADMIN_PASSWORD)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewCheckConfigCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewAuthorizeCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewInviteCommand(opts))
	cmd.AddCommand(NewQuotaCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewHashPasswordCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *outputFormatter {
	return &outputFormatter{format: o.Format, w: cmd.OutOrStdout()}
}

// loadConfig loads the config file; configuration errors exit with ExitCommandError.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	return cfg, nil
}

// app bundles what one command invocation works with.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	rt     *gateway.Runtime
}

func (s *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.rt.Close(ctx); err != nil {
		s.logger.Warn("shutdown incomplete", "error", err)
	}
}

// open loads the config and builds the gateway runtime.
func (o *RootOptions) open(cmd *cobra.Command, m *metrics.Metrics) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	rt, err := gateway.Open(cmd.Context(), cfg, logger, m)
	if err != nil {
		if config.IsConfigurationError(err) {
			return nil, WrapExitError(ExitCommandError, "starting gateway", err)
		}
		return nil, fmt.Errorf("starting gateway: %w", err)
	}
	return &app{cfg: cfg, logger: logger, rt: rt}, nil
}

// console builds the administrative console over an open session. When
// requireAuth is set the admin password must match admin.password_hash.
func (o *RootOptions) console(s *app, requireAuth bool) (*admin.Console, error) {
	var file *invite.FileSource
	if s.cfg.Invitations.Path != "" {
		file = invite.NewFileSource(s.cfg.Invitations.Path)
	}
	c, err := admin.NewConsole(admin.Config{
		PasswordHash: s.cfg.Admin.PasswordHash,
		Registry:     s.rt.Registry(),
		File:         file,
		Source:       invite.SourceFromConfig(s.cfg.Invitations),
		Reloader:     s.rt.Gateway,
		Quota:        s.rt.Quota(),
		Audit:        s.rt.Store,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}
	if requireAuth {
		if err := c.Authenticate(o.AdminPassword); err != nil {
			return nil, WrapExitError(ExitFailure, "admin authentication", err)
		}
	}
	return c, nil
}
