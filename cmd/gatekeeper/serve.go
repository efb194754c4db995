// ABOUTME: serve command: runs the gate daemon with metrics, health, reload and pruning
// ABOUTME: SIGHUP reloads the invitation list; a ticker prunes expired rate buckets

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Minute
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gate daemon",
		Long: `Run the gate daemon.

Loads the invitation list, serves /health and Prometheus metrics when
metrics.enabled is set, reloads invitations on SIGHUP, and prunes expired
rate-limit buckets once a minute.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	m := metrics.New()
	a, err := opts.open(cmd, m)
	if err != nil {
		return err
	}
	defer a.Close()

	green := color.New(color.FgGreen)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", opts.ConfigPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Database:  %s\n", a.cfg.Database.Path)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Invitees:  %d\n", a.rt.Registry().Len())
	if a.cfg.Redis.URL != "" {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Counters:  redis\n")
	}
	if a.cfg.Metrics.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Metrics:   http://%s%s\n", a.cfg.Metrics.Addr, a.cfg.Metrics.Path)
	}
	fmt.Fprintln(out)

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.cfg.Metrics.Enabled {
		srv = &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           newHTTPHandler(a, m),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	a.logger.Info("gatekeeper serving", "metrics", a.cfg.Metrics.Enabled)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down")
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("metrics server shutdown", "error", err)
				}
			}
			return nil

		case err := <-serveErr:
			return fmt.Errorf("metrics server: %w", err)

		case <-hup:
			if err := a.rt.Reload(ctx); err != nil {
				a.logger.Error("reload failed, keeping current invitation list", "error", err)
				continue
			}
			a.logger.Info("invitation list reloaded", "invitees", a.rt.Registry().Len())

		case <-ticker.C:
			n, err := a.rt.Limiter().Prune(ctx)
			if err != nil {
				a.logger.Warn("pruning rate buckets failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Debug("pruned rate buckets", "count", n)
			}
		}
	}
}

// newHTTPHandler serves /health and the metrics endpoint.
func newHTTPHandler(a *app, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.rt.Store.Ping(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
