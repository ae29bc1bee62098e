// Package main provides the CLI entry point for agentd, a local-first
// personal AI agent daemon: a tool-use loop gated by an explicit human
// approval workflow, with a session log and an event channel for a local
// UI to subscribe to.
//
// # Basic Usage
//
// Start the daemon:
//
//	agentd serve --config agentd.yaml
//
// Check configuration and workspace health:
//
//	agentd doctor --config agentd.yaml
//
// Issue a bearer token for a local UI client:
//
//	agentd token issue --scope read --scope write
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "agentd - a local-first personal AI agent daemon",
		Long: `agentd runs a tool-use agent loop against a sandboxed workspace,
gating every side-effecting tool call (exec.run, email.send) behind an
explicit human approval before it ever executes.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildTokenCmd(),
	)

	return rootCmd
}
