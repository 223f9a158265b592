// Package cmd provides the CLI commands for the surftrail daemon.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surftrail/surftrail/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "surftrail",
	Short: "surftrail - browser activity telemetry daemon",
	Long: `surftrail correlates browser window and tab events into a session
hierarchy (global, window, tab, domain) and reports it to a collection API.

It listens locally for a browser extension over WebSocket, persists sessions
across restarts, and masks visits according to server-provided host rules.

Quick start:
  1. Create a config file: surftrail.yaml (api.base_url and api.token)
  2. Run: surftrail start

Configuration:
  Config is loaded from surftrail.yaml in the current directory,
  $HOME/.surftrail/, or /etc/surftrail/.

  Environment variables can override config values with the SURFTRAIL_ prefix.
  Example: SURFTRAIL_API_TOKEN=abc123

Commands:
  start       Start the daemon
  stop        Stop the running daemon
  reset       Reset to clean state (remove local session data)
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./surftrail.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
