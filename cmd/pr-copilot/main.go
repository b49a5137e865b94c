// Package main provides the CLI entry point for pr-copilot, a conversational
// agent that answers questions about pull-request analytics data.
//
// Basic usage:
//
//	pr-copilot chat --config pr-copilot.yaml
//	pr-copilot ask "how many PRs merged last week?"
//	pr-copilot tools
//
// Environment variables referenced from the config file (via ${VAR}
// expansion) typically include OPENAI_API_KEY, ANTHROPIC_API_KEY, and the
// database password.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pr-copilot",
		Short: "pr-copilot - conversational PR analytics agent",
		Long: `pr-copilot answers natural-language questions about pull-request
analytics stored in Postgres, using an LLM with gated SQL tools.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildAskCmd(),
		buildToolsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pr-copilot %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
