// Package cmd implements the partsflow command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "partsflow",
	Short: "Conversational auto parts assistant",
	Long: `partsflow runs the conversational session engine for the auto parts
assistant: per-session state machine, catalog drill-down, hybrid retrieval
and quota enforcement, exposed over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.partsflow/config.yaml)")
}

// Execute runs the CLI.
func Execute() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
