package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one chat turn to the agent and print the reply",
		Long: `Send one chat turn to the agent and print the reply.

History only carries over between invocations with session.store set to
"sqlite" or "redis".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.orchestrator.SendChatTurn(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printTurn(os.Stdout, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id to continue")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full turn result as JSON")
	return cmd
}

func printTurn(w io.Writer, r domain.AgentTurnResult) {
	fmt.Fprintln(w, r.Message)
	if r.Aborted {
		fmt.Fprintf(w, "\n(turn aborted: %s after %d iteration(s))\n", r.AbortReason, r.Iterations)
	}
	if len(r.CartActions) == 0 {
		return
	}
	fmt.Fprintln(w, "\nCart actions:")
	for _, act := range r.CartActions {
		switch {
		case act.Kind == domain.CartClear:
			fmt.Fprintln(w, "  - clear")
		case act.Product != nil:
			fmt.Fprintf(w, "  - %s %s ($%.2f) x%d\n", act.Kind, act.Product.Name, act.Product.Price, max(act.Quantity, 1))
		default:
			fmt.Fprintf(w, "  - %s #%d x%d\n", act.Kind, act.ProductID, max(act.Quantity, 1))
		}
	}
}
