package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/config"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show paths and a configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("chat2purchase %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:   %s\n", paths.Config)
			fmt.Printf("Data:     %s\n", paths.Data)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:   error loading: %v\n", err)
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Println("Config:   not found (using defaults)")
			}

			fmt.Printf("Server:   port=%d bind=%s rate=%.1f/s burst=%d\n",
				cfg.Server.Port, cfg.Server.Bind, cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)

			registry := llm.NewRegistryFromConfig(cfg.Model, log)
			providers := registry.List()
			if len(providers) > 0 {
				fmt.Printf("Model:    %s via %s (extraction %s)\n",
					cfg.Model.Model, strings.Join(providers, ", "), cfg.Model.ExtractionModel)
			} else {
				fmt.Println("Model:    (no provider key found, offline assistant)")
			}
			fmt.Printf("Agent:    maxIterations=%d timeout=%ds retries=%d detector=%s extractor=%s\n",
				cfg.Agent.MaxIterations, cfg.Agent.TurnTimeoutSeconds, cfg.Agent.MaxRetries,
				cfg.Agent.Detector, cfg.Agent.Extractor)

			dsn := cfg.Catalog.DSN
			if cfg.Catalog.Driver == "sqlite" && dsn == "" {
				dsn = paths.Database()
			}
			if cfg.Catalog.Driver == "postgres" {
				dsn = "(postgres dsn set)"
			}
			fmt.Printf("Catalog:  driver=%s %s limit=%d/%d\n",
				cfg.Catalog.Driver, dsn, cfg.Catalog.DefaultLimit, cfg.Catalog.MaxLimit)
			fmt.Printf("Session:  store=%s maxTurns=%d idle=%dm maxSessions=%d\n",
				cfg.Session.Store, cfg.Session.MaxTurns, cfg.Session.IdleMinutes, cfg.Session.MaxSessions)
			if cfg.Tracing.Enabled {
				fmt.Printf("Tracing:  %s sample=%.2f\n", cfg.Tracing.Endpoint, cfg.Tracing.SampleRate)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
