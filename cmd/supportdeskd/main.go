package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/supportdesk/internal/cli"
	"github.com/cloo-solutions/supportdesk/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "supportdeskd",
		Short: "Supportdesk daemon and operator CLI",
		Long:  "Supportdesk daemon for running the answer API, applying migrations and managing answer profiles",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.NormalizeCmd())
	rootCmd.AddCommand(admin.ProfileCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
