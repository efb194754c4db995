// ABOUTME: Entry point for gatekeeper, the invitation gate operator CLI
// ABOUTME: Runs the serve daemon and the administrative subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

// Version is set at build time.
var version = "dev"

const banner = `
             _       _
  __ _  __ _| |_ ___| | _____  ___ _ __   ___ _ __
 / _' |/ _' | __/ _ \ |/ / _ \/ _ \ '_ \ / _ \ '__|
| (_| | (_| | ||  __/   <  __/  __/ |_) |  __/ |
 \__, |\__,_|\__\___|_|\_\___|\___| .__/ \___|_|
 |___/                            |_|
`

// getConfigPath returns the default config file path.
// Priority: GATE_CONFIG env var > XDG_CONFIG_HOME/gatekeeper/config.yaml > ~/.config/gatekeeper/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gatekeeper", "config.yaml")
}

// getDataPath returns the default directory for the database and invitation file.
// Priority: XDG_DATA_HOME/gatekeeper > ~/.local/share/gatekeeper
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "gatekeeper")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}
