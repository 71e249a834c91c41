package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/agent"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/gateway"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/spf13/cobra"
)

const sweepInterval = time.Minute

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if logLevel == "" {
				log = logging.NewConsole(cfg.Logging.Level, cfg.Logging.ConsoleStyle)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			idle := time.Duration(cfg.Session.IdleMinutes) * time.Minute
			go agent.NewSweeper(a.sessions, idle, sweepInterval, a.hooks, log).Run(ctx)

			srv := gateway.New(cfg.Server, log,
				gateway.WithHooks(a.hooks),
				gateway.WithOrchestrator(a.orchestrator, a.turnTimeout()),
			)
			if a.offline {
				log.Warn().Msg("replies come from the offline assistant; set OPENAI_API_KEY or ANTHROPIC_API_KEY for a real model")
			}

			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: loopback, lan or custom (overrides config)")
	return cmd
}
