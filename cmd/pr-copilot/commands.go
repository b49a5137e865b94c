package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
	"github.com/lakshit-hivel/pr-copilot/internal/config"
	"github.com/lakshit-hivel/pr-copilot/internal/mcp"
	"github.com/lakshit-hivel/pr-copilot/internal/observability"
	"github.com/lakshit-hivel/pr-copilot/internal/providers"
	"github.com/lakshit-hivel/pr-copilot/internal/sessions"
	"github.com/lakshit-hivel/pr-copilot/internal/sqlgate"
	"github.com/lakshit-hivel/pr-copilot/internal/tools/insight"
)

// exitWords end the chat REPL.
var exitWords = map[string]bool{"exit": true, "quit": true, "bye": true}

// runtime bundles everything a command needs to talk to the agent.
type runtime struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator *agent.Orchestrator
	registry     *agent.ToolRegistry
	closers      []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("cleanup failed", "error", err)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildRuntime assembles the full agent stack: logger, metrics, database,
// local tools, remote tool servers, provider, and orchestrator.
func buildRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	rt := &runtime{cfg: cfg, logger: logger}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
		rt.closers = append(rt.closers, srv.Close)
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	db, err := sqlgate.Open(ctx, cfg.Database)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	rt.closers = append(rt.closers, db.Close)

	exec := sqlgate.NewExecutor(db, cfg.Database.Schema, cfg.Database.QueryTimeout, logger, metrics)

	registry := agent.NewToolRegistry()
	for _, tool := range insight.All(exec) {
		registry.Register(tool)
	}
	rt.registry = registry

	for _, srvCfg := range cfg.MCP.Servers {
		client, err := mcp.NewClient(mcp.FromConfig(srvCfg))
		if err != nil {
			logger.Warn("skipping tool server", "server", srvCfg.Name, "error", err)
			continue
		}
		if err := client.Connect(ctx); err != nil {
			logger.Warn("tool server unreachable", "server", srvCfg.Name, "error", err)
			continue
		}
		rt.closers = append(rt.closers, client.Close)
		attached := mcp.AttachTools(registry, client)
		logger.Info("attached tool server", "server", srvCfg.Name, "tools", attached)
	}

	provider, err := providers.New(cfg.LLM)
	if err != nil {
		rt.Close()
		return nil, err
	}

	model := providers.DefaultModel(cfg.LLM)
	compactor := agent.NewCompactor(provider, model, cfg.Agent.MessageBudget, logger)
	store := sessions.NewMemoryStore()

	rt.orchestrator = agent.NewOrchestrator(provider, registry, store, compactor, &agent.TurnConfig{
		MaxRounds:       cfg.Agent.MaxRounds,
		Model:           model,
		SystemDirective: cfg.Agent.SystemDirective,
		TurnTimeout:     cfg.Agent.TurnTimeout,
		ToolTimeout:     cfg.Agent.ToolTimeout,
	}, logger, metrics)

	return rt, nil
}

func buildChatCmd() *cobra.Command {
	var configPath string
	var threadID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if threadID == "" {
				threadID = uuid.NewString()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "pr-copilot ready. Ask about your pull requests (exit/quit/bye to leave).")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if exitWords[strings.ToLower(line)] {
					fmt.Fprintln(out, "Goodbye!")
					break
				}

				if err := streamTurn(cmd.Context(), rt.orchestrator, threadID, line, out); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread ID to resume (default: new thread)")
	return cmd
}

func streamTurn(ctx context.Context, orchestrator *agent.Orchestrator, threadID, input string, out io.Writer) error {
	chunks, err := orchestrator.Run(ctx, threadID, input)
	if err != nil {
		return err
	}

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return chunk.Error
		case chunk.Text != "":
			fmt.Fprint(out, chunk.Text)
		case chunk.ToolCall != nil:
			fmt.Fprintf(out, "\n[running %s]\n", chunk.ToolCall.Name)
		case chunk.Done:
			fmt.Fprintln(out)
		}
	}
	return nil
}

func buildAskCmd() *cobra.Command {
	var configPath string
	var threadID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := buildRuntime(ctx, configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if threadID == "" {
				threadID = uuid.NewString()
			}

			answer, err := rt.orchestrator.RunTurn(ctx, threadID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread ID to resume (default: new thread)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall turn timeout")
	return cmd
}

func buildToolsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			tools := rt.registry.AsLLMTools()
			if len(tools) == 0 {
				fmt.Fprintln(out, "No tools registered.")
				return nil
			}
			fmt.Fprintln(out, "Tools:")
			for _, tool := range tools {
				fmt.Fprintf(out, "  - %s: %s\n", tool.Name(), tool.Description())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
