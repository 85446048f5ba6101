// Package main provides the CLI entry point for agentcore, a
// browser-embeddable, provider-agnostic LLM agent runtime.
//
// # Basic Usage
//
// Run a single prompt to completion and print the transcript:
//
//	agentcore prompt --model claude-sonnet-4-5 "summarize this repository"
//
// Start an interactive chat loop:
//
//	agentcore chat --model claude-sonnet-4-5
//
// List the models available from the configured providers:
//
//	agentcore models
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: path to configuration file
//   - ANTHROPIC_API_KEY / ANTHROPIC_OAUTH_TOKEN: Anthropic credentials
package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/streamforge/agentcore/internal/agent"
	"github.com/streamforge/agentcore/internal/artifact"
	"github.com/streamforge/agentcore/internal/catalog"
	"github.com/streamforge/agentcore/internal/config"
	"github.com/streamforge/agentcore/internal/observability"
	"github.com/streamforge/agentcore/internal/provider"
	"github.com/streamforge/agentcore/internal/session"
	"github.com/streamforge/agentcore/internal/transport"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - provider-agnostic LLM agent runtime",
		Long: `agentcore drives a single agent loop against any configured model
provider, streaming assistant turns and dispatching tool calls until the
conversation reaches a stopping point.

Supported wire protocols: Anthropic Messages, OpenAI Completions/Responses, Google Generative
Documentation: https://github.com/streamforge/agentcore`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("AGENTCORE_CONFIG"), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildPromptCmd(&configPath),
		buildChatCmd(&configPath),
		buildModelsCmd(),
	)
	return rootCmd
}

// loadRuntime wires a Config, structured logger, model/provider registry,
// transport, and tool registry into one Agent ready to accept prompts.
func loadRuntime(configPath, modelID, relayEndpoint string) (*agent.Agent, *observability.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	model, err := resolveModel(cfg, modelID)
	if err != nil {
		return nil, nil, err
	}

	var tr transport.Transport
	if relayEndpoint != "" {
		tr = transport.NewRelayTransport(relayEndpoint, nil)
	} else {
		registry := provider.NewRegistry(map[canonical.API]provider.Adapter{
			canonical.APIAnthropicMessages: &provider.AnthropicAdapter{},
		})
		tr = transport.NewDirectTransport(registry)
	}

	store := artifact.NewStore()
	tools, err := agent.NewRegistry(
		&agent.ArtifactWriteTool{Store: store},
		&agent.ArtifactReadTool{Store: store},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build tool registry: %w", err)
	}

	a := agent.New(tr, tools, model, canonical.ThinkingOff, "")
	return a, logger, nil
}

// resolveModel looks up modelID in the catalog (falling back to the
// configured default provider's default model) and translates the catalog
// entry into the canonical.Model descriptor an adapter expects, layering in
// any per-provider base URL override from config.
func resolveModel(cfg *config.Config, modelID string) (canonical.Model, error) {
	if strings.TrimSpace(modelID) == "" {
		providerCfg, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
		if ok && providerCfg.DefaultModel != "" {
			modelID = providerCfg.DefaultModel
		}
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "claude-sonnet-4-5"
	}

	cm, ok := catalog.Get(modelID)
	if !ok {
		return canonical.Model{}, fmt.Errorf("unknown model %q", modelID)
	}

	m := canonical.Model{
		ID:            cm.ID,
		Name:          cm.Name,
		Provider:      string(cm.Provider),
		API:           apiForProvider(cm.Provider),
		Reasoning:     cm.HasCapability(catalog.CapReasoning),
		ContextWindow: cm.ContextWindow,
		MaxTokens:     cm.MaxOutputTokens,
	}
	if providerCfg, ok := cfg.LLM.Providers[string(cm.Provider)]; ok {
		m.BaseURL = providerCfg.BaseURL
	}
	return m, nil
}

// apiForProvider maps a catalog provider onto the wire protocol it speaks.
// Providers that don't yet have an adapter still resolve to their natural
// protocol family so Registry.Resolve reports a clear "no adapter
// registered" error rather than an silently wrong one.
func apiForProvider(p catalog.Provider) canonical.API {
	switch p {
	case catalog.ProviderAnthropic, catalog.ProviderBedrock:
		return canonical.APIAnthropicMessages
	case catalog.ProviderGoogle, catalog.ProviderVertex:
		return canonical.APIGoogleGenerative
	default:
		return canonical.APIOpenAICompletions
	}
}

func buildPromptCmd(configPath *string) *cobra.Command {
	var modelID string
	var relayEndpoint string

	cmd := &cobra.Command{
		Use:   "prompt [message]",
		Short: "Run one prompt to completion and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadRuntime(*configPath, modelID, relayEndpoint)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			unsubscribe := streamToWriter(a, out)
			defer unsubscribe()

			if err := a.Prompt(ctx, canonical.UserMessage{Text: args[0]}); err != nil {
				logger.Error(ctx, "prompt failed", "error", err)
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model ID from the catalog (default: configured default)")
	cmd.Flags().StringVar(&relayEndpoint, "relay", "", "Relay HTTP endpoint to stream through instead of calling the provider directly")
	return cmd
}

func buildChatCmd(configPath *string) *cobra.Command {
	var modelID string
	var relayEndpoint string
	var sessionDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive chat loop against the configured model",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadRuntime(*configPath, modelID, relayEndpoint)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var log *session.Log
			if sessionDir != "" {
				if err := os.MkdirAll(sessionDir, 0o755); err != nil {
					return fmt.Errorf("create session dir: %w", err)
				}
				path := sessionDir + "/" + uuid.NewString() + ".jsonl"
				log, err = session.Create(path, session.Header{
					Type: session.EntryHeader,
					ID:   uuid.NewString(),
					Cwd:  ".",
				})
				if err != nil {
					return fmt.Errorf("create session log: %w", err)
				}
				defer log.Close()
			}

			out := cmd.OutOrStdout()
			unsubscribe := streamToWriter(a, out)
			defer unsubscribe()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return nil
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/exit" || line == "/quit" {
					return nil
				}

				msg := canonical.UserMessage{Text: line}
				if err := a.Prompt(ctx, msg); err != nil {
					logger.Error(ctx, "prompt failed", "error", err)
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintln(out)
				if log != nil {
					_ = log.AppendMessage(canonical.Message{Role: canonical.MessageRoleUser, User: &msg})
				}
			}
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model ID from the catalog (default: configured default)")
	cmd.Flags().StringVar(&relayEndpoint, "relay", "", "Relay HTTP endpoint to stream through instead of calling the provider directly")
	cmd.Flags().StringVar(&sessionDir, "session-dir", "", "Directory to persist a JSONL session log into (disabled if empty)")
	return cmd
}

func buildModelsCmd() *cobra.Command {
	var providerFilter string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *catalog.Filter
			if providerFilter != "" {
				filter = &catalog.Filter{Providers: []catalog.Provider{catalog.Provider(providerFilter)}}
			}
			out := cmd.OutOrStdout()
			for _, m := range catalog.List(filter) {
				fmt.Fprintf(out, "%-28s %-12s %s\n", m.ID, m.Provider, m.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerFilter, "provider", "", "Restrict listing to one provider")
	return cmd
}

// streamToWriter subscribes to an Agent's events and renders assistant text
// deltas and tool activity to w as they arrive. The returned func
// unsubscribes.
func streamToWriter(a *agent.Agent, w io.Writer) func() {
	ch, unsubscribe := a.Subscribe()
	go func() {
		for ev := range ch {
			switch ev.Type {
			case agent.EventMessageUpdate:
				// Partial deltas are surfaced via message_update snapshots;
				// nothing finer-grained is needed for a line-buffered CLI.
			case agent.EventToolExecutionStart:
				fmt.Fprintf(w, "\n[tool] %s(%s)\n", ev.ToolName, string(ev.Args))
			case agent.EventToolExecutionEnd:
				fmt.Fprintf(w, "[tool result] %s\n", ev.Result)
			case agent.EventMessageEnd:
				if ev.Message == nil {
					continue
				}
				for _, block := range ev.Message.Content {
					if block.Type == canonical.BlockText {
						fmt.Fprint(w, block.Text)
					}
				}
			}
		}
	}()
	return unsubscribe
}
