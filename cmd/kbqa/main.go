package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloo-solutions/kbqa/internal/cli"
	"github.com/cloo-solutions/kbqa/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbqa",
		Short: "kbqa CLI - ask questions against a knowledge base",
		Long: `kbqa CLI asks cited questions against a kbqa server and manages
sessions and documents.

Environment variables:
  KBQA_API_KEY   API key for authentication (optional if the server has none)
  KBQA_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.BindEnv(rootCmd.PersistentFlags(), "api-key", "KBQA_API_KEY")
	cli.BindEnv(rootCmd.PersistentFlags(), "api-url", "KBQA_API_URL")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.SessionCmd())
	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.ChunksCmd())
	rootCmd.AddCommand(client.AuthCmd())

	if handled, err := cli.HandleHelpJSON(rootCmd, os.Args[1:], os.Stdout); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	// Ctrl-C abandons an in-flight turn; the server sees the disconnect.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
