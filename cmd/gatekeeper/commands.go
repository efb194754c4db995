// ABOUTME: init, check-config, login, authorize, submit and hash-password commands
// ABOUTME: Thin wrappers that open the gateway and report the decision

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/benedictkwok/cover-letter-assistant/internal/admin"
	"github.com/benedictkwok/cover-letter-assistant/internal/gateway"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
	"github.com/benedictkwok/cover-letter-assistant/internal/invite"
)

const configTemplate = `# gatekeeper configuration
auth:
  session_secret: %q
  session_lifetime: "24h"

invitations:
  path: %q

rate_limits:
  auth:   {cap: 5,  window: "15m"}
  upload: {cap: 10, window: "60m"}

quota:
  daily_limit: 5
  time_zone: "UTC"

database:
  path: %q

audit:
  log_path: %q

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  addr: "127.0.0.1:9100"
`

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		force    bool
		adminKey string
		dataDir  string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a new config file with a random session secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, rootOpts, dataDir, adminKey, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&adminKey, "admin", "", "email of the first administrator to invite")
	cmd.Flags().StringVar(&dataDir, "data-dir", getDataPath(), "directory for the database, invitation list and audit log")
	return cmd
}

func runInit(cmd *cobra.Command, opts *RootOptions, dataDir, adminKey string, force bool) error {
	out := opts.formatter(cmd)

	if _, err := os.Stat(opts.ConfigPath); err == nil && !force {
		return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("config already exists at %s (use --force to overwrite)", opts.ConfigPath)}
	}

	secret, err := generateSecret(48)
	if err != nil {
		return err
	}

	invitesPath := filepath.Join(dataDir, "invited_users.yaml")
	content := fmt.Sprintf(configTemplate,
		secret,
		invitesPath,
		filepath.Join(dataDir, "gate.db"),
		filepath.Join(dataDir, "security_audit.log"),
	)

	if err := os.MkdirAll(filepath.Dir(opts.ConfigPath), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(opts.ConfigPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if adminKey != "" {
		key, err := identity.Validate(adminKey)
		if err != nil {
			return WrapExitError(ExitCommandError, "admin identity", err)
		}
		if err := invite.NewFileSource(invitesPath).Put(invite.Invitee{
			Key:         key,
			Name:        "Administrator",
			AccessLevel: invite.AccessAdmin,
			InvitedAt:   time.Now(),
		}); err != nil {
			return fmt.Errorf("writing invitation list: %w", err)
		}
	} else if _, err := os.Stat(invitesPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(invitesPath, []byte("invited_users: {}\n"), 0600); err != nil {
			return fmt.Errorf("writing invitation list: %w", err)
		}
	}

	if out.isJSON() {
		return out.json(map[string]string{"config": opts.ConfigPath, "invitations": invitesPath})
	}
	out.ok("Wrote %s", opts.ConfigPath)
	out.field("Invitations", invitesPath)
	if adminKey == "" {
		out.warn("No invitees yet; add one with: gatekeeper invite add <email>")
	}
	out.warn("Set admin.password_hash using: gatekeeper hash-password")
	return nil
}

func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewCheckConfigCommand creates the check-config command.
func NewCheckConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and the invitation list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(cmd.Context(), cmd, rootOpts)
		},
	}
}

type configSummary struct {
	Config      string            `json:"config"`
	Invitations string            `json:"invitations"`
	Invitees    int               `json:"invitees"`
	DailyLimit  int               `json:"daily_limit"`
	TimeZone    string            `json:"time_zone"`
	RateLimits  map[string]string `json:"rate_limits"`
	Redis       bool              `json:"redis"`
	AdminSet    bool              `json:"admin_password_set"`
}

func runCheckConfig(ctx context.Context, cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	src := invite.SourceFromConfig(cfg.Invitations)
	registry := invite.NewRegistry(nil)
	if err := registry.Reload(ctx, src); err != nil {
		return WrapExitError(ExitCommandError, "invitation list", err)
	}

	sum := configSummary{
		Config:      opts.ConfigPath,
		Invitations: src.Name(),
		Invitees:    registry.Len(),
		DailyLimit:  cfg.Quota.DailyLimit,
		TimeZone:    cfg.Quota.TimeZone,
		RateLimits:  map[string]string{},
		Redis:       cfg.Redis.URL != "",
		AdminSet:    cfg.Admin.PasswordHash != "",
	}
	for action, rl := range cfg.RateLimits {
		sum.RateLimits[action] = fmt.Sprintf("%d per %s", rl.Cap, rl.Window)
	}

	out := opts.formatter(cmd)
	if out.isJSON() {
		return out.json(sum)
	}
	out.ok("Configuration is valid")
	out.field("Config", sum.Config)
	out.field("Invitations", sum.Invitations)
	out.field("Invitees", sum.Invitees)
	out.field("Daily limit", fmt.Sprintf("%d (%s)", sum.DailyLimit, sum.TimeZone))
	actions := make([]string, 0, len(sum.RateLimits))
	for a := range sum.RateLimits {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		out.field("Rate "+a, sum.RateLimits[a])
	}
	if !sum.AdminSet {
		out.warn("admin.password_hash is not set; administrative commands are disabled")
	}
	return nil
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log an invited identity in and print its session credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.rt.Login(cmd.Context(), gateway.LoginRequest{Identity: args[0], RemoteAddr: remote})
			if err != nil {
				return WrapExitError(ExitFailure, "login denied", err)
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(map[string]any{
					"identity":   s.Identity,
					"credential": s.Credential,
					"issued_at":  s.IssuedAt,
					"expires_at": s.ExpiresAt,
				})
			}
			out.ok("Logged in as %s", s.Identity)
			out.field("Expires", s.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintln(cmd.OutOrStdout(), s.Credential)
			return nil
		},
	}
	cmd.Flags().StringVar(&remote, "remote-addr", "", "client address recorded in the audit trail")
	return cmd
}

// NewAuthorizeCommand creates the authorize command.
func NewAuthorizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize <credential>",
		Short: "Consume one unit of the session identity's daily quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.rt.Authorize(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "not authorized", err)
			}

			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(g)
			}
			out.ok("Authorized %s", g.Identity)
			out.field("Remaining today", fmt.Sprintf("%d of %d", g.Remaining, g.Limit))
			return nil
		},
	}
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <credential> <filename>",
		Short: "Check whether a document upload is accepted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.rt.Submit(cmd.Context(), args[0], args[1]); err != nil {
				return WrapExitError(ExitFailure, "upload rejected", err)
			}
			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(map[string]any{"accepted": true, "filename": filepath.Base(args[1])})
			}
			out.ok("Accepted %s", filepath.Base(args[1]))
			return nil
		},
	}
}

// NewHashPasswordCommand creates the hash-password command.
func NewHashPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for admin.password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading password: %w", err)
			}
			hash, err := admin.HashPassword(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return WrapExitError(ExitCommandError, "hashing password", err)
			}
			out := rootOpts.formatter(cmd)
			if out.isJSON() {
				return out.json(map[string]string{"password_hash": hash})
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
