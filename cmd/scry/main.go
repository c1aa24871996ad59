package main

import (
	"fmt"
	"os"

	"github.com/scrylabs/scry/internal/cli"
	"github.com/scrylabs/scry/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "scry",
		Short: "Scry CLI - Hybrid search from the terminal",
		Long: `Scry CLI queries a scry server from the terminal.

Environment variables:
  SCRY_SERVER_URL   Server base URL (default: http://localhost:8080)
  SCRY_OWNER_SCOPE  Default owner scope for searches`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("server", "", "Server base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.HealthCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
