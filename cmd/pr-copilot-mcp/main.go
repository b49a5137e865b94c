// Package main provides the standalone pr-copilot tool server. It exposes
// the PR analytics tools over stdio JSON-RPC so any MCP-capable client can
// use them.
//
// Usage:
//
//	pr-copilot-mcp --config pr-copilot.yaml
//
// Logs go to stderr; stdout carries only protocol messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lakshit-hivel/pr-copilot/internal/config"
	"github.com/lakshit-hivel/pr-copilot/internal/mcp"
	"github.com/lakshit-hivel/pr-copilot/internal/observability"
	"github.com/lakshit-hivel/pr-copilot/internal/sqlgate"
	"github.com/lakshit-hivel/pr-copilot/internal/tools/insight"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "pr-copilot-mcp",
		Short:        "Serve PR analytics tools over stdio JSON-RPC",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	var cfg *config.Config
	var err error
	if strings.TrimSpace(configPath) == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlgate.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	exec := sqlgate.NewExecutor(db, cfg.Database.Schema, cfg.Database.QueryTimeout, logger, nil)

	srv := mcp.NewServer("pr-copilot-insight", version)
	for _, tool := range insight.All(exec) {
		srv.Register(tool)
	}

	logger.Info("tool server ready", "schema", cfg.Database.Schema)
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
