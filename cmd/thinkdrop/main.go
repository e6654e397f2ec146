package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/agent"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/cascade"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/config"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/embedding"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/llm"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/orchestrator"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/router"
)

var version = "0.4.0"

var (
	// Global flags
	configPath string
	verbose    bool
	sessionID  string
	asJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "thinkdrop",
	Short: "ThinkDrop - local assistant orchestration core",
	Long: `ThinkDrop routes natural-language utterances to the right capability:
a staged memory-search fast path answers what recent context already
knows, an entity-aware router classifies the rest, and a workflow engine
drives the agents the decision calls for. Everything runs locally.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = ".thinkdrop/config.yaml"
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(logging.Options{
			Level:   cfg.Logging.Level,
			LogFile: cfg.Logging.LogFile,
			JSON:    cfg.Logging.JSON,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		runtimeConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var runtimeConfig *config.Config

var askCmd = &cobra.Command{
	Use:   "ask [utterance]",
	Short: "Process one utterance end to end",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		utterance := strings.Join(args, " ")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orch, cleanup, err := buildOrchestrator(ctx, runtimeConfig)
		if err != nil {
			return err
		}
		defer cleanup()

		payload := map[string]interface{}{"text": utterance}
		if sessionID != "" {
			payload["session_id"] = sessionID
		}

		resp, err := orch.Ask(ctx, payload)
		if err != nil {
			return err
		}

		if asJSON {
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Println(resp.Response)
		if verbose && resp.PrimaryIntent != "" {
			fmt.Fprintf(os.Stderr, "intent=%s steps=%d\n", resp.PrimaryIntent, resp.StepsExecuted)
		}
		return nil
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, cleanup, err := buildOrchestrator(ctx, runtimeConfig)
		if err != nil {
			return err
		}
		defer cleanup()

		descriptors, err := registryRef.List()
		if err != nil {
			return err
		}
		if len(descriptors) == 0 {
			fmt.Println("no agents registered")
			return nil
		}
		for _, d := range descriptors {
			line := fmt.Sprintf("%-22s %-9s %s", d.Name, d.Shape(), d.Description)
			if len(d.Dependencies) > 0 {
				line += fmt.Sprintf(" (deps: %s)", strings.Join(d.Dependencies, ", "))
			}
			fmt.Println(strings.TrimRight(line, " "))
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("thinkdrop %s\n", version)
	},
}

// registryRef is kept so subcommands can reach the registry built by
// buildOrchestrator without re-plumbing every dependency.
var registryRef *agent.Registry

// buildOrchestrator wires the full collaborator graph from config. The
// returned cleanup closes everything that holds a file handle.
func buildOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, func(), error) {
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		logging.Get(logging.CategoryBoot).Warnw("embedding engine unavailable, semantic scoring disabled", "error", err)
		engine = nil
	}

	completer := llm.NewHTTPClient(llm.HTTPConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.GetLLMTimeout(),
	})

	var store memory.Store
	var closers []func()
	if engine != nil && cfg.Memory.DBPath != "" {
		if err := os.MkdirAll(dirOf(cfg.Memory.DBPath), 0o755); err == nil {
			s, err := memory.NewSQLiteStore(cfg.Memory.DBPath, engine)
			if err != nil {
				logging.Get(logging.CategoryBoot).Warnw("memory store unavailable, running without persistence", "error", err)
			} else {
				store = s
				closers = append(closers, func() { s.Close() })
			}
		}
	}

	var catalog *agent.Catalog
	if cfg.Agents.CatalogPath != "" {
		if err := os.MkdirAll(dirOf(cfg.Agents.CatalogPath), 0o755); err == nil {
			c, err := agent.OpenCatalog(cfg.Agents.CatalogPath)
			if err != nil {
				// ConfigurationError policy: degrade to memory-only.
				logging.Get(logging.CategoryBoot).Warnw("agent catalog unavailable, memory-only mode", "error", err)
			} else {
				catalog = c
			}
		}
	}

	registry := agent.NewRegistry(agent.Options{
		Catalog: catalog,
		Timeout: cfg.GetLLMTimeout(),
	})
	registryRef = registry
	closers = append(closers, func() { registry.Close() })

	if cfg.Agents.WatchDir != "" {
		if w, err := agent.NewWatcher(registry, cfg.Agents.WatchDir); err != nil {
			logging.Get(logging.CategoryBoot).Warnw("agent source watcher unavailable", "error", err)
		} else {
			closers = append(closers, func() { w.Close() })
		}
	}

	var extractor router.EntityExtractor
	if cfg.Embedding.NEREndpoint != "" {
		extractor = router.NewHTTPExtractor(cfg.Embedding.NEREndpoint)
	}

	rt := router.New(router.Config{
		ConfidenceFloor:      cfg.Router.ConfidenceFloor,
		ShortConfidenceFloor: cfg.Router.ShortConfidenceFloor,
		ShortTokenLimit:      cfg.Router.ShortTokenLimit,
		MinMargin:            cfg.Router.MinMargin,
		StoreTieDelta:        cfg.Router.StoreTieDelta,
		SemanticBoostFloor:   router.DefaultConfig().SemanticBoostFloor,
		SemanticBoostWeight:  router.DefaultConfig().SemanticBoostWeight,
	}, extractor, engine)

	var casc *cascade.Cascade
	if store != nil && engine != nil {
		casc = cascade.New(cfg, engine, store, completer)
	}

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Router:   rt,
		Registry: registry,
		Cascade:  casc,
		Store:    store,
		LLM:      completer,
	})

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := orch.Initialize(initCtx); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return orch, cleanup, nil
}

func dirOf(path string) string {
	return filepath.Dir(path)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default .thinkdrop/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	askCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id for memory scoping")
	askCmd.Flags().BoolVar(&asJSON, "json", false, "emit the full response as JSON")

	rootCmd.AddCommand(askCmd, agentsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
