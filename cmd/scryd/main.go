package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrylabs/scry/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scryd",
		Short: "Scry search daemon",
		Long:  "Scry daemon for serving hybrid search and maintaining the embedding index",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.BackfillCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
