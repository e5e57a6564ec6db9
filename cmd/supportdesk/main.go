package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/supportdesk/internal/cli"
	"github.com/cloo-solutions/supportdesk/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "supportdesk",
		Short: "Supportdesk CLI - ask the support assistant from a terminal",
		Long: `Supportdesk CLI talks to a running supportdeskd over HTTP.

Environment variables:
  SUPPORTDESK_API_URL       API base URL (default: http://localhost:8080)
  SUPPORTDESK_ADMIN_TOKEN   Bearer token sent with every request (optional)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.HistoryCmd())
	rootCmd.AddCommand(client.FeedbackCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
