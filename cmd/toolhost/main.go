package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &hostOptions{}

	rootCmd := &cobra.Command{
		Use:   "toolhost",
		Short: "Serves tools over the Model Context Protocol",
		Long: `toolhost exposes the demo tools (roll_dice, add and web_search when
TAVILY_API_KEY is set) to MCP clients.

Examples:
  toolhost serve stdio
  toolhost serve http --listen :8000
  toolhost serve http --listen :8001 --proxy http://localhost:8000/mcp`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "INFO", "Log level: ERROR|WARNING|INFO|DEBUG")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text|json")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	return rootCmd
}
